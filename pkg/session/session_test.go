package session_test

import (
	"testing"

	"ptpsync/pkg/message"
	"ptpsync/pkg/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

var (
	addrA = &unix.SockaddrInet4{Port: 40001, Addr: [4]byte{10, 0, 0, 1}}
	addrB = &unix.SockaddrInet4{Port: 40002, Addr: [4]byte{10, 0, 0, 2}}
)

const (
	clientA int32 = 101
	clientB int32 = 202
)

func newController() *session.Controller {
	var clock message.Timestamp
	return session.New(func() message.Timestamp {
		clock += 1000
		return clock
	})
}

func datagram(kind message.Kind, id int32) []byte {
	return message.Encode(message.Message{Kind: kind, Timestamp: 7, ClientID: id})
}

func TestAdmitAndComplete(t *testing.T) {
	c := newController()

	out := c.Handle(datagram(message.SyncRequest, clientA), addrA)
	assert.Equal(t, session.Admitted, out.Event)
	require.NotNil(t, out.Reply)
	assert.Equal(t, message.SyncResponse, out.Reply.Kind)
	assert.Equal(t, clientA, out.Reply.ClientID)
	assert.Equal(t, message.Timestamp(1000), out.Reply.Timestamp)

	s := c.Session()
	assert.True(t, s.Busy)
	assert.Equal(t, clientA, s.ClientID)
	assert.Equal(t, addrA, s.Addr)
	assert.Equal(t, message.Timestamp(1000), s.Admitted)

	out = c.Handle(datagram(message.DelayRequest, clientA), addrA)
	assert.Equal(t, session.Completed, out.Event)
	require.NotNil(t, out.Reply)
	assert.Equal(t, message.DelayResponse, out.Reply.Kind)
	assert.Equal(t, clientA, out.Reply.ClientID)
	assert.Equal(t, s.ID, out.Session.ID)
	assert.False(t, c.Session().Busy)

	// a new client is admitted right away
	out = c.Handle(datagram(message.SyncRequest, clientB), addrB)
	assert.Equal(t, session.Admitted, out.Event)
	assert.Equal(t, clientB, c.Session().ClientID)
}

func TestRejectForeignClientWhileBusy(t *testing.T) {
	c := newController()
	c.Handle(datagram(message.SyncRequest, clientA), addrA)
	before := c.Session()

	for _, kind := range []message.Kind{message.SyncRequest, message.DelayRequest, message.DelayResponse} {
		out := c.Handle(datagram(kind, clientB), addrB)
		assert.Equal(t, session.Rejected, out.Event, kind)
		require.NotNil(t, out.Reply)
		assert.Equal(t, message.Busy, out.Reply.Kind)
		assert.Equal(t, clientB, out.Reply.ClientID)
		assert.NotZero(t, out.Reply.Timestamp)
		assert.Equal(t, before, c.Session())
	}
}

func TestReadmitSameClient(t *testing.T) {
	c := newController()
	first := c.Handle(datagram(message.SyncRequest, clientA), addrA).Session

	out := c.Handle(datagram(message.SyncRequest, clientA), addrA)
	assert.Equal(t, session.Readmitted, out.Event)
	require.NotNil(t, out.Reply)
	assert.Equal(t, message.SyncResponse, out.Reply.Kind)
	assert.Greater(t, out.Reply.Timestamp, first.Admitted)
	assert.True(t, c.Session().Busy)
	assert.NotEqual(t, first.ID, c.Session().ID)
}

func TestDelayRequestWithoutSession(t *testing.T) {
	c := newController()
	out := c.Handle(datagram(message.DelayRequest, clientB), addrB)
	assert.Equal(t, session.UnmatchedDelay, out.Event)
	require.NotNil(t, out.Reply)
	assert.Equal(t, message.DelayResponse, out.Reply.Kind)
	assert.False(t, c.Session().Busy)
}

func TestMalformedIsDiscarded(t *testing.T) {
	c := newController()
	c.Handle(datagram(message.SyncRequest, clientA), addrA)
	before := c.Session()

	short := datagram(message.DelayRequest, clientA)[:message.Size-1]
	out := c.Handle(short, addrA)
	assert.Equal(t, session.Malformed, out.Event)
	assert.ErrorIs(t, out.Err, message.ErrMalformed)
	assert.Nil(t, out.Reply)
	assert.Equal(t, before, c.Session())
}

func TestUnexpectedKinds(t *testing.T) {
	c := newController()
	for _, kind := range []message.Kind{message.SyncResponse, message.DelayResponse, message.Busy} {
		out := c.Handle(datagram(kind, clientA), addrA)
		assert.Equal(t, session.Unexpected, out.Event)
		assert.Nil(t, out.Reply)
		assert.False(t, c.Session().Busy)
	}
}

func TestExpire(t *testing.T) {
	c := newController()
	first := c.Handle(datagram(message.SyncRequest, clientA), addrA).Session
	second := c.Handle(datagram(message.SyncRequest, clientA), addrA).Session

	_, ok := c.Expire(first.ID)
	assert.False(t, ok, "stale admission must not clear the session")
	assert.True(t, c.Session().Busy)

	_, ok = c.Expire(uuid.New())
	assert.False(t, ok)

	expired, ok := c.Expire(second.ID)
	assert.True(t, ok)
	assert.Equal(t, clientA, expired.ClientID)
	assert.False(t, c.Session().Busy)

	out := c.Handle(datagram(message.SyncRequest, clientB), addrB)
	assert.Equal(t, session.Admitted, out.Event)
}
