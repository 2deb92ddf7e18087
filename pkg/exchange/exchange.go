// Package exchange drives the client side of a four-timestamp synchronization exchange:
// SyncRequest/SyncResponse followed by DelayRequest/DelayResponse, retried as a whole on
// any failure.
package exchange

import (
	"errors"
	"fmt"
	"log"
	"time"

	"ptpsync/pkg/message"
	"ptpsync/pkg/offset"
	"ptpsync/pkg/socket"
)

const (
	DefaultRetries    = 5
	DefaultRetryDelay = 2 * time.Second
)

var (
	ErrServerBusy        = errors.New("server busy")
	ErrUnexpectedMessage = errors.New("unexpected message")
	ErrSendFailure       = errors.New("send failure")
	ErrReceiveFailure    = errors.New("receive failure")
	ErrExhausted         = errors.New("synchronization failed")
)

type State int

const (
	Idle State = iota
	SentSync
	AwaitingSyncResponse
	SentDelay
	AwaitingDelayResponse
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SentSync:
		return "sending sync request"
	case AwaitingSyncResponse:
		return "awaiting sync response"
	case SentDelay:
		return "sending delay request"
	case AwaitingDelayResponse:
		return "awaiting delay response"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is a connected datagram channel. Recv must return an error matching
// socket.ErrTimeout when no datagram arrives within its bound.
type Transport interface {
	Send(b []byte) error
	Recv(b []byte) (int, error)
}

type Clock interface {
	Now() message.Timestamp
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() message.Timestamp { return message.Now() }
func (systemClock) Sleep(d time.Duration)  { time.Sleep(d) }

// Record holds the timestamps of one attempt: T1 and T3 from the local clock, T2 and T4
// as stamped by the server.
type Record struct {
	T1, T2, T3, T4 message.Timestamp
}

type Result struct {
	ClientID int32
	Attempt  int
	Record   Record
	Offset   offset.Result
}

// Sink receives the result of a successful synchronization.
type Sink interface {
	Report(Result) error
}

type AttemptError struct {
	Attempt int
	State   State // state in which the attempt failed
	Err     error
}

func (e *AttemptError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("attempt %d: %s: %v", e.Attempt, e.State, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}

type Client struct {
	ID         int32
	Retries    int
	RetryDelay time.Duration
	Clock      Clock
	Sink       Sink
	Log        *log.Logger // nil: silent

	tr    Transport
	state State
	buf   []byte
}

func New(tr Transport, id int32) *Client {
	return &Client{
		ID:         id,
		Retries:    DefaultRetries,
		RetryDelay: DefaultRetryDelay,
		Clock:      systemClock{},
		tr:         tr,
		buf:        make([]byte, 2*message.Size),
	}
}

func (c *Client) logf(format string, v ...any) {
	if c.Log != nil {
		c.Log.Printf(format, v...)
	}
}

func (c *Client) State() State {
	return c.state
}

// RunAttempt performs one full exchange starting from Idle. On failure the returned
// record is empty and the error is an *AttemptError.
func (c *Client) RunAttempt() (rec Record, err error) {
	c.state = Idle
	defer func() {
		if err != nil {
			err = &AttemptError{State: c.state, Err: err}
			c.state = Failed
			rec = Record{}
		}
	}()

	c.state = SentSync
	if rec.T1, err = c.send(message.SyncRequest); err != nil {
		return
	}
	c.logf("T1 (client sync request): %s", rec.T1)

	c.state = AwaitingSyncResponse
	if rec.T2, err = c.await(message.SyncResponse); err != nil {
		return
	}
	c.logf("T2 (server sync response): %s", rec.T2)

	c.state = SentDelay
	if rec.T3, err = c.send(message.DelayRequest); err != nil {
		return
	}
	c.logf("T3 (client delay request): %s", rec.T3)

	c.state = AwaitingDelayResponse
	if rec.T4, err = c.await(message.DelayResponse); err != nil {
		return
	}
	c.logf("T4 (server delay response): %s", rec.T4)

	c.state = Completed
	return rec, nil
}

func (c *Client) send(kind message.Kind) (message.Timestamp, error) {
	ts := c.Clock.Now()
	buf := message.Append(c.buf[:0], message.Message{Kind: kind, Timestamp: ts, ClientID: c.ID})
	if err := c.tr.Send(buf); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSendFailure, err)
	}
	return ts, nil
}

func (c *Client) await(want message.Kind) (message.Timestamp, error) {
	n, err := c.tr.Recv(c.buf[:cap(c.buf)])
	switch {
	case errors.Is(err, socket.ErrTimeout):
		return 0, err
	case err != nil:
		return 0, fmt.Errorf("%w: %w", ErrReceiveFailure, err)
	}

	m, err := message.Decode(c.buf[:n])
	if err != nil {
		return 0, err
	}
	switch {
	case m.Kind == message.Busy:
		return 0, ErrServerBusy
	case m.Kind != want:
		return 0, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedMessage, m.Kind, want)
	case m.ClientID != c.ID:
		return 0, fmt.Errorf("%w: %s for client %d", ErrUnexpectedMessage, m.Kind, m.ClientID)
	}
	return m.Timestamp, nil
}

// Synchronize repeats RunAttempt until one completes or Retries attempts have failed,
// sleeping RetryDelay between failures. A setup failure of the transport aborts at once.
func (c *Client) Synchronize() (Result, error) {
	for attempt := 1; attempt <= c.Retries; attempt++ {
		c.logf("synchronization attempt %d/%d", attempt, c.Retries)

		rec, err := c.RunAttempt()
		if err == nil {
			res := Result{
				ClientID: c.ID,
				Attempt:  attempt,
				Record:   rec,
				Offset:   offset.Compute(rec.T1, rec.T2, rec.T3, rec.T4),
			}
			if c.Sink != nil {
				if err := c.Sink.Report(res); err != nil {
					c.logf("report result: %v", err)
				}
			}
			return res, nil
		}

		var ae *AttemptError
		if errors.As(err, &ae) {
			ae.Attempt = attempt
		}
		if errors.Is(err, socket.ErrSetup) {
			return Result{}, err
		}
		c.logf("%v", err)

		if attempt < c.Retries {
			c.Clock.Sleep(c.RetryDelay)
		}
	}
	return Result{}, fmt.Errorf("%w after %d attempts", ErrExhausted, c.Retries)
}
