package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"ptpsync/pkg/exchange"
)

func main() {
	if err := mainErr(); err != nil {
		log.Print(err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 1 when the client ran out of attempts and 2 for anything fatal.
func exitCode(err error) int {
	if errors.Is(err, exchange.ErrExhausted) {
		return 1
	}
	return 2
}

// minSessionTTL keeps the expiry timer's accuracy below the ttl.
const minSessionTTL = 20 * time.Millisecond

type Config struct {
	ep         string
	network    string
	clientID   int
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	out        string
	sessionTTL time.Duration
	maxSamples int
	maxSpread  float64
}

func (c *Config) validate() error {
	switch {
	case c.clientID < math.MinInt32 || c.clientID > math.MaxInt32:
		return fmt.Errorf("client id %d does not fit in 32 bits", c.clientID)
	case c.timeout < time.Microsecond:
		return fmt.Errorf("timeout must be at least 1µs, got %v", c.timeout)
	case c.retries < 1:
		return fmt.Errorf("retries must be at least 1, got %d", c.retries)
	case c.retryDelay < 0:
		return fmt.Errorf("retry delay must not be negative, got %v", c.retryDelay)
	case c.sessionTTL < 0:
		return fmt.Errorf("session ttl must not be negative, got %v", c.sessionTTL)
	case c.sessionTTL > 0 && c.sessionTTL < minSessionTTL:
		return fmt.Errorf("session ttl must be 0 or at least %v, got %v", minSessionTTL, c.sessionTTL)
	}
	return nil
}

func mainErr() error {
	conf := Config{
		network: "udp",
	}
	var serve bool
	flag.BoolVar(&serve, "serve", false, "server mode")
	flag.StringVar(&conf.ep, "ep", ":8888", "endpoint to connect to or local endpoint in server mode")
	flag.IntVar(&conf.clientID, "id", os.Getpid(), "client id")
	flag.DurationVar(&conf.timeout, "timeout", 5*time.Second, "time to wait for each response")
	flag.IntVar(&conf.retries, "retries", exchange.DefaultRetries, "maximum number of synchronization attempts")
	flag.DurationVar(&conf.retryDelay, "retry-delay", exchange.DefaultRetryDelay, "pause between failed attempts")
	flag.StringVar(&conf.out, "out", "ptp_result.txt", "file the result is written to (empty to disable)")
	flag.DurationVar(&conf.sessionTTL, "session-ttl", 0, "abandon a session whose delay request does not arrive in time (server mode, 0 to disable)")
	flag.IntVar(&conf.maxSamples, "max-samples", 1000, "number of session durations kept for statistics (server mode)")
	flag.Float64Var(&conf.maxSpread, "max-spread", 3, "max spread of session durations to be considered valid (after max-samples), as a factor of the standard deviation")

	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := conf.validate(); err != nil {
		return err
	}

	if serve {
		return Server(conf)
	}

	return Client(conf)
}
