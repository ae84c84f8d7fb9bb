//go:build linux

package reactor

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Conn.Read/Write in place of EAGAIN/EWOULDBLOCK,
// so callers can tell "no data right now" apart from a real I/O error.
var ErrWouldBlock = errors.New("reactor: operation would block")

// Conn is the non-blocking socket capability set the engine drives.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Fd() int
	TakeSocketError() error
	Close() error
}

// fdConn wraps a raw, non-blocking file descriptor. Reads and writes go
// straight to the kernel via unix.Read/unix.Write instead of net.Conn, so
// that this package's own epoll instance is the sole owner of the fd's
// readiness state.
type fdConn struct {
	fd int
}

// NewConn adopts an already-created, already-non-blocking fd.
func NewConn(fd int) Conn {
	return &fdConn{fd: fd}
}

func (c *fdConn) Fd() int { return c.fd }

func (c *fdConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (c *fdConn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

// TakeSocketError reads and clears SO_ERROR. Call it on the first
// post-connect writable edge to distinguish a completed connect(2)
// from one that failed asynchronously.
func (c *fdConn) TakeSocketError() error {
	errno, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return syscall.Errno(errno)
	}
	return nil
}

func (c *fdConn) Close() error {
	return unix.Close(c.fd)
}

// Listener is the non-blocking accept() capability set.
type Listener struct {
	fd int
}

// ListenTCP creates a non-blocking, listening TCP socket bound to addr.
func ListenTCP(addr *net.TCPAddr) (*Listener, error) {
	domain := unix.AF_INET
	sa := &unix.SockaddrInet4{Port: addr.Port}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "reactor: SO_REUSEADDR")
	}
	if domain == unix.AF_INET6 {
		var sa6 unix.SockaddrInet6
		sa6.Port = addr.Port
		copy(sa6.Addr[:], addr.IP.To16())
		if err := unix.Bind(fd, &sa6); err != nil {
			unix.Close(fd)
			return nil, errors.Wrap(err, "reactor: bind")
		}
	} else {
		copy(sa.Addr[:], ip4)
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return nil, errors.Wrap(err, "reactor: bind")
		}
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "reactor: listen")
	}
	return &Listener{fd: fd}, nil
}

func (l *Listener) Fd() int { return l.fd }

// Accept mirrors the Accepted capability set: Ok(Some(sock)) / Ok(None) /
// Err(_) collapse into (conn, true, nil) / (nil, false, nil) / (nil,
// false, err).
func (l *Listener) Accept() (Conn, bool, error) {
	nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &fdConn{fd: nfd}, true, nil
}

func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// DialTCP opens a non-blocking TCP connection. connect(2) typically
// returns EINPROGRESS immediately; the caller is responsible for
// registering the returned Conn writable to observe connection
// completion.
func DialTCP(addr *net.TCPAddr) (Conn, error) {
	domain := unix.AF_INET
	ip4 := addr.IP.To4()
	if ip4 == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "reactor: socket")
	}
	var connErr error
	if domain == unix.AF_INET6 {
		var sa unix.SockaddrInet6
		sa.Port = addr.Port
		copy(sa.Addr[:], addr.IP.To16())
		connErr = unix.Connect(fd, &sa)
	} else {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		connErr = unix.Connect(fd, sa)
	}
	if connErr != nil && connErr != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, errors.Wrap(connErr, "reactor: connect")
	}
	return &fdConn{fd: fd}, nil
}
