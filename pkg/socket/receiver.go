package socket

import (
	"errors"

	"golang.org/x/sys/unix"
)

type Datagram struct {
	Data  []byte
	From  unix.Sockaddr
	Error error
}

// NewAsyncReceiver reads datagrams from c on a separate goroutine until done is closed.
// Receive timeouts are only used to notice done and are not reported.
func NewAsyncReceiver(c *Conn, chDepth int, done <-chan struct{}) <-chan Datagram {
	ch := make(chan Datagram, chDepth)
	go func() {
		defer close(ch)
		buf := make([]byte, recvBufSize)
		for {
			n, from, err := c.RecvFrom(buf)
			if errors.Is(err, ErrTimeout) {
				select {
				case <-done:
					return
				default:
					continue
				}
			}
			dg := Datagram{From: from, Error: err}
			if err == nil {
				dg.Data = append([]byte(nil), buf[:n]...)
			}
			select {
			case ch <- dg:
			case <-done:
				return
			}
		}
	}()
	return ch
}
