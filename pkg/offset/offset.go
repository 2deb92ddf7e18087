// Package offset computes the clock offset between a client and a server from the four
// timestamps of one exchange.
//
// The formula is ((t2 - t1) + (t3 - t4)) / 2, where t2 and t4 are server stamps of two
// client-to-server requests sent at t1 and t3. This deviates from the textbook two-way
// estimate, which pairs a client-to-server leg with a server-to-client leg: here both legs
// run in the same direction, so the server clock offset largely cancels and the value mostly
// reflects the difference between the two one-way delays. It is kept as is so results stay
// comparable with existing deployments of the protocol.
package offset

import (
	"time"

	"ptpsync/pkg/message"
)

type Status int

const (
	Synchronized Status = iota
	Lags                // client clock is behind the server
	Leads               // client clock is ahead of the server
)

func (s Status) String() string {
	switch s {
	case Lags:
		return "lags"
	case Leads:
		return "leads"
	default:
		return "synchronized"
	}
}

type Result struct {
	Forward time.Duration // t2 - t1
	Reverse time.Duration // t3 - t4
	Offset  time.Duration // (Forward + Reverse) / 2, truncated toward zero
}

func Compute(t1, t2, t3, t4 message.Timestamp) Result {
	forward := time.Duration(t2 - t1)
	reverse := time.Duration(t3 - t4)
	return Result{
		Forward: forward,
		Reverse: reverse,
		Offset:  (forward + reverse) / 2,
	}
}

func (r Result) Status() Status {
	switch {
	case r.Offset > 0:
		return Lags
	case r.Offset < 0:
		return Leads
	default:
		return Synchronized
	}
}

// Micros is the offset in whole microseconds, truncated toward zero.
func (r Result) Micros() int64 {
	return r.Offset.Microseconds()
}
