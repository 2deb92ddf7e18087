package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/ddirect/container/ttlmap"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"ptpsync/pkg/message"
	"ptpsync/pkg/session"
	"ptpsync/pkg/socket"
	"ptpsync/pkg/stats"
)

// serverPollInterval bounds each receive so the receiver notices shutdown.
const serverPollInterval = 250 * time.Millisecond

func Server(conf Config) error {
	conn, err := socket.Listen(conf.network, conf.ep, serverPollInterval)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	return newServer(conn, conf, log.Default()).serve(ctx)
}

// expiryAccuracy is always below ttl for any ttl of at least 2ns.
func expiryAccuracy(ttl time.Duration) time.Duration {
	return min(max(ttl/10, time.Millisecond), ttl/2)
}

type server struct {
	conn      *socket.Conn
	send      func([]byte, unix.Sockaddr) error
	receive   func(done <-chan struct{}) <-chan socket.Datagram
	ctl       *session.Controller
	durations *stats.Window[time.Duration]
	ttl       time.Duration
	log       *log.Logger
}

func newServer(conn *socket.Conn, conf Config, logger *log.Logger) *server {
	return &server{
		conn: conn,
		send: conn.SendTo,
		receive: func(done <-chan struct{}) <-chan socket.Datagram {
			return socket.NewAsyncReceiver(conn, 16, done)
		},
		ctl:       session.New(message.Now),
		durations: stats.New[time.Duration](conf.maxSamples, conf.maxSpread),
		ttl:       conf.sessionTTL,
		log:       logger,
	}
}

func (s *server) serve(ctx context.Context) error {
	if localAddr, err := s.conn.LocalAddr(); err == nil {
		s.log.Printf("listening on %s", socket.AddrToString(localAddr))
	}

	// without a ttl nothing is ever stored, so nothing expires
	ttl := s.ttl
	if ttl <= 0 {
		ttl = time.Hour
	}
	pending, expired := ttlmap.New[string, int32](ttl, expiryAccuracy(ttl))

	recvCh := s.receive(ctx.Done())

	for {
		select {
		case <-ctx.Done():
			return nil

		case sessions := <-expired:
			for entry := range sessions {
				id, err := uuid.Parse(entry.Key())
				if err != nil {
					continue
				}
				if abandoned, ok := s.ctl.Expire(id); ok {
					s.log.Printf("session %s with client %d abandoned after %v", abandoned.ID, abandoned.ClientID, s.ttl)
				}
			}

		case dg, ok := <-recvCh:
			if !ok {
				return nil
			}
			if dg.Error != nil {
				s.log.Print(dg.Error)
				continue
			}

			out := s.handle(dg.Data, dg.From)
			if s.ttl > 0 && (out.Event == session.Admitted || out.Event == session.Readmitted) {
				entry, _ := pending.GetOrCreate(out.Session.ID.String())
				entry.Value = out.Session.ClientID
			}
		}
	}
}

// handle runs one datagram through the session controller, logs the outcome and sends the reply.
func (s *server) handle(data []byte, from unix.Sockaddr) session.Outcome {
	peer := socket.AddrToString(from)
	out := s.ctl.Handle(data, from)

	if out.Event == session.Malformed {
		s.log.Printf("discarding datagram from %s: %v", peer, out.Err)
		return out
	}
	s.log.Printf("message from %s: %s", peer, out.Request)

	switch out.Event {
	case session.Rejected:
		s.log.Printf("server busy with client %d - rejecting client %d", out.Session.ClientID, out.Request.ClientID)
	case session.Admitted:
		s.log.Printf("client %d admitted, session %s, T2 (server sync response): %s", out.Session.ClientID, out.Session.ID, out.Reply.Timestamp)
	case session.Readmitted:
		s.log.Printf("client %d re-admitted, session %s, T2 (server sync response): %s", out.Session.ClientID, out.Session.ID, out.Reply.Timestamp)
	case session.Completed:
		d := time.Duration(out.Reply.Timestamp - out.Session.Admitted)
		s.durations.Add(d)
		s.log.Printf("T4 (server delay response): %s", out.Reply.Timestamp)
		s.log.Printf("synchronization with client %d completed at %s in %v (mean %v, stddev %v over %d sessions)",
			out.Session.ClientID, out.Reply.Timestamp.Time().UTC().Format(time.RFC3339Nano), d,
			s.durations.Mean(), s.durations.StdDev(), s.durations.Len())
	case session.UnmatchedDelay:
		s.log.Printf("delay request from client %d without a session in progress, T4 (server delay response): %s", out.Request.ClientID, out.Reply.Timestamp)
	case session.Unexpected:
		s.log.Printf("unexpected %s from client %d, ignored", out.Request.Kind, out.Request.ClientID)
	}

	if out.Reply != nil {
		if err := s.send(message.Encode(*out.Reply), from); err != nil {
			s.log.Print(err)
		}
	}
	return out
}
