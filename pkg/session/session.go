// Package session implements the server's admission control: at most one client is in the
// middle of an exchange, and requests from any other client are answered with Busy until
// that exchange completes.
//
// A Controller is not safe for concurrent use; the server feeds it one datagram at a time.
package session

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"ptpsync/pkg/message"
)

// Session is the client currently being served. The other fields are meaningful only while
// Busy is set.
type Session struct {
	Busy     bool
	ClientID int32
	Addr     unix.Sockaddr
	ID       uuid.UUID         // fresh on every admission
	Admitted message.Timestamp // server time of the latest admission
}

type Event int

const (
	Malformed      Event = iota // undecodable datagram, no reply
	Rejected                    // foreign client while busy, Busy reply
	Admitted                    // SyncRequest accepted, new session
	Readmitted                  // SyncRequest from the active client
	Completed                   // DelayRequest from the active client, session cleared
	UnmatchedDelay              // DelayRequest with no session in progress
	Unexpected                  // kind the server does not handle, no reply
)

func (e Event) String() string {
	switch e {
	case Malformed:
		return "malformed"
	case Rejected:
		return "rejected"
	case Admitted:
		return "admitted"
	case Readmitted:
		return "readmitted"
	case Completed:
		return "completed"
	case UnmatchedDelay:
		return "unmatched delay request"
	case Unexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

type Outcome struct {
	Event   Event
	Request message.Message
	Reply   *message.Message // nil when nothing is sent back
	Session Session          // the session the datagram was handled against
	Err     error            // decode error for Malformed
}

type Controller struct {
	session Session
	now     func() message.Timestamp
}

// New returns an idle controller; now stamps every reply.
func New(now func() message.Timestamp) *Controller {
	if now == nil {
		now = message.Now
	}
	return &Controller{now: now}
}

func (c *Controller) Session() Session {
	return c.session
}

func (c *Controller) reply(kind message.Kind, to message.Message) *message.Message {
	return &message.Message{
		Kind:      kind,
		Timestamp: c.now(),
		ClientID:  to.ClientID,
	}
}

// Handle applies one inbound datagram from the given sender and returns what to send back.
// State changes are applied before the reply is sent and are not rolled back if sending fails.
func (c *Controller) Handle(data []byte, from unix.Sockaddr) Outcome {
	req, err := message.Decode(data)
	if err != nil {
		return Outcome{Event: Malformed, Session: c.session, Err: err}
	}

	if c.session.Busy && req.ClientID != c.session.ClientID {
		return Outcome{
			Event:   Rejected,
			Request: req,
			Reply:   c.reply(message.Busy, req),
			Session: c.session,
		}
	}

	switch req.Kind {
	case message.SyncRequest:
		ev := Admitted
		if c.session.Busy {
			ev = Readmitted
		}
		reply := c.reply(message.SyncResponse, req)
		c.session = Session{
			Busy:     true,
			ClientID: req.ClientID,
			Addr:     from,
			ID:       uuid.New(),
			Admitted: reply.Timestamp,
		}
		return Outcome{Event: ev, Request: req, Reply: reply, Session: c.session}

	case message.DelayRequest:
		ev := UnmatchedDelay
		if c.session.Busy {
			ev = Completed
		}
		finished := c.session
		c.session = Session{}
		return Outcome{
			Event:   ev,
			Request: req,
			Reply:   c.reply(message.DelayResponse, req),
			Session: finished,
		}

	default:
		return Outcome{Event: Unexpected, Request: req, Session: c.session}
	}
}

// Expire clears the session if id still names the active one. It reports the session that
// was cleared.
func (c *Controller) Expire(id uuid.UUID) (Session, bool) {
	if !c.session.Busy || c.session.ID != id {
		return Session{}, false
	}
	expired := c.session
	c.session = Session{}
	return expired, true
}
