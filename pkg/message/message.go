package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

type Kind uint32

const (
	SyncRequest Kind = iota + 1
	SyncResponse
	DelayRequest
	DelayResponse
	Busy
)

func (k Kind) String() string {
	switch k {
	case SyncRequest:
		return "SYNC_REQUEST"
	case SyncResponse:
		return "SYNC_RESPONSE"
	case DelayRequest:
		return "DELAY_REQUEST"
	case DelayResponse:
		return "DELAY_RESPONSE"
	case Busy:
		return "BUSY"
	default:
		return fmt.Sprintf("KIND(%d)", uint32(k))
	}
}

func (k Kind) Valid() bool {
	return k >= SyncRequest && k <= Busy
}

type Timestamp int64 // unix time in nanoseconds - differences can be cast directly to time.Duration

func Now() Timestamp {
	return FromTime(time.Now())
}

func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

func (ts Timestamp) Time() time.Time {
	return time.Unix(0, int64(ts))
}

// Split returns whole seconds and the non-negative nanosecond remainder.
func (ts Timestamp) Split() (sec int64, nsec uint32) {
	sec = int64(ts) / 1e9
	rem := int64(ts) % 1e9
	if rem < 0 {
		sec--
		rem += 1e9
	}
	return sec, uint32(rem)
}

// String formats ts as seconds.microseconds.
func (ts Timestamp) String() string {
	sec, nsec := ts.Split()
	return fmt.Sprintf("%d.%06d", sec, nsec/1000)
}

type Message struct {
	Kind      Kind
	Timestamp Timestamp
	ClientID  int32
}

func (m Message) String() string {
	return fmt.Sprintf("%s id=%d ts=%s", m.Kind, m.ClientID, m.Timestamp)
}

// wire is the on-the-wire layout; all fields are big endian.
type wire struct {
	Kind     uint32
	Sec      int64
	Nsec     uint32
	ClientID int32
}

var Size = binary.Size(wire{})

var ErrMalformed = errors.New("malformed message")

// Every Timestamp, including the int64 extremes, splits into seconds within
// [minSec, maxSec]; the nanoseconds at either end are limited further by join.
const (
	minSec          = math.MinInt64/int64(time.Second) - 1
	maxSec          = math.MaxInt64 / int64(time.Second)
	minNsecAtMinSec = math.MinInt64%int64(time.Second) + int64(time.Second)
	maxNsecAtMaxSec = math.MaxInt64 % int64(time.Second)
)

// join is the inverse of Timestamp.Split; it fails when the value does not fit in a Timestamp.
func join(sec int64, nsec uint32) (Timestamp, bool) {
	switch {
	case sec < minSec || sec > maxSec:
		return 0, false
	case sec == minSec && int64(nsec) < minNsecAtMinSec:
		return 0, false
	case sec == maxSec && int64(nsec) > maxNsecAtMaxSec:
		return 0, false
	case sec < 0:
		return Timestamp((sec+1)*int64(time.Second) + int64(nsec) - int64(time.Second)), true
	default:
		return Timestamp(sec*int64(time.Second) + int64(nsec)), true
	}
}

func Encode(m Message) []byte {
	return Append(make([]byte, 0, Size), m)
}

func Append(buf []byte, m Message) []byte {
	sec, nsec := m.Timestamp.Split()
	w := wire{
		Kind:     uint32(m.Kind),
		Sec:      sec,
		Nsec:     nsec,
		ClientID: m.ClientID,
	}
	// fixed-size fields only: binary.Append cannot fail here
	buf, _ = binary.Append(buf, binary.BigEndian, &w)
	return buf
}

func Decode(buf []byte) (Message, error) {
	if len(buf) != Size {
		return Message{}, fmt.Errorf("%w: %d bytes, want %d", ErrMalformed, len(buf), Size)
	}
	var w wire
	if _, err := binary.Decode(buf, binary.BigEndian, &w); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if w.Nsec >= 1e9 {
		return Message{}, fmt.Errorf("%w: nanoseconds out of range (%d)", ErrMalformed, w.Nsec)
	}
	ts, ok := join(w.Sec, w.Nsec)
	if !ok {
		return Message{}, fmt.Errorf("%w: time %d.%09d out of range", ErrMalformed, w.Sec, w.Nsec)
	}
	m := Message{
		Kind:      Kind(w.Kind),
		Timestamp: ts,
		ClientID:  w.ClientID,
	}
	if !m.Kind.Valid() {
		return Message{}, fmt.Errorf("%w: unknown kind %d", ErrMalformed, w.Kind)
	}
	return m, nil
}
