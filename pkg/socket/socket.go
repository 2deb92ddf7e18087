package socket

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrSetup   = errors.New("socket setup")
	ErrTimeout = errors.New("receive timed out")
)

// recvBufSize is larger than any valid message so oversized datagrams are seen at their real length.
const recvBufSize = 512

func Addr(x *net.UDPAddr) unix.Sockaddr {
	if ip4 := x.IP.To4(); ip4 != nil || x.IP == nil {
		res := &unix.SockaddrInet4{
			Port: x.Port,
		}
		copy(res.Addr[:], ip4)
		return res
	}
	res := &unix.SockaddrInet6{
		Port: x.Port,
	}
	copy(res.Addr[:], x.IP.To16())
	return res
}

func AddrToString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip, v.Port)
	case *unix.SockaddrUnix:
		return v.Name
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

func family(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// Conn is a datagram socket with a bounded receive.
type Conn struct {
	fd int
}

func open(network, ep string, timeout time.Duration) (*Conn, unix.Sockaddr, error) {
	addr, err := net.ResolveUDPAddr(network, ep)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: resolve addr: %w", ErrSetup, err)
	}
	sa := Addr(addr)

	fd, err := unix.Socket(family(sa), unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: socket: %w", ErrSetup, err)
	}
	c := &Conn{fd: fd}

	if timeout > 0 {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			c.Close()
			return nil, nil, fmt.Errorf("%w: setsockopt SO_RCVTIMEO: %w", ErrSetup, err)
		}
	}
	return c, sa, nil
}

// Dial returns a socket connected to ep; every receive waits at most timeout.
func Dial(network, ep string, timeout time.Duration) (*Conn, error) {
	c, remoteAddr, err := open(network, ep, timeout)
	if err != nil {
		return nil, err
	}
	if err = unix.Connect(c.fd, remoteAddr); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: connect: %w", ErrSetup, err)
	}
	return c, nil
}

// Listen returns a socket bound to ep. A non-zero pollInterval bounds every receive so a
// reader can periodically check for shutdown.
func Listen(network, ep string, pollInterval time.Duration) (*Conn, error) {
	c, localAddr, err := open(network, ep, pollInterval)
	if err != nil {
		return nil, err
	}
	if err = unix.SetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: setsockopt SO_REUSEADDR: %w", ErrSetup, err)
	}
	if err = unix.Bind(c.fd, localAddr); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: bind: %w", ErrSetup, err)
	}
	return c, nil
}

func (c *Conn) LocalAddr() (unix.Sockaddr, error) {
	sa, err := unix.Getsockname(c.fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return sa, nil
}

func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// Send writes b to the connected peer.
func (c *Conn) Send(b []byte) error {
	if _, err := unix.Write(c.fd, b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Conn) SendTo(b []byte, to unix.Sockaddr) error {
	if err := unix.Sendto(c.fd, b, 0, to); err != nil {
		return fmt.Errorf("sendto %s: %w", AddrToString(to), err)
	}
	return nil
}

// Recv reads one datagram from the connected peer, returning ErrTimeout when nothing
// arrives within the receive timeout.
func (c *Conn) Recv(b []byte) (int, error) {
	n, _, err := c.RecvFrom(b)
	return n, err
}

func (c *Conn) RecvFrom(b []byte) (int, unix.Sockaddr, error) {
	for {
		n, from, err := unix.Recvfrom(c.fd, b, 0)
		switch {
		case err == nil:
			return n, from, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return 0, nil, ErrTimeout
		default:
			return 0, nil, fmt.Errorf("recvfrom: %w", err)
		}
	}
}
