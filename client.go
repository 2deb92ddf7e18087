package main

import (
	"log"
	"os"

	"ptpsync/pkg/exchange"
	"ptpsync/pkg/socket"
)

func Client(conf Config) error {
	conn, err := socket.Dial(conf.network, conf.ep, conf.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("client %d synchronizing with %s", conf.clientID, conf.ep)

	c := exchange.New(conn, int32(conf.clientID))
	c.Retries = conf.retries
	c.RetryDelay = conf.retryDelay
	c.Log = log.Default()

	sinks := multiSink{consoleSink{os.Stdout}}
	if conf.out != "" {
		sinks = append(sinks, fileSink{conf.out})
	}
	c.Sink = sinks

	res, err := c.Synchronize()
	if err != nil {
		return err
	}
	log.Printf("synchronization completed in %d attempt(s)", res.Attempt)
	return nil
}
