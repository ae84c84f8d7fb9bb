//go:build linux

package accept_test

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/rotorstream/accept"
	"github.com/xtaci/rotorstream/reactor"
	"github.com/xtaci/rotorstream/stream"
)

type echoByteHandler struct{}

func (echoByteHandler) Create(t *stream.Transport, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Of[struct{}](echoByteHandler{}, stream.Bytes(1))
}

func (h echoByteHandler) BytesRead(t *stream.Transport, n int, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	b := append([]byte(nil), t.Input()[:n]...)
	t.Consume(n)
	t.Write(b)
	return stream.Of[struct{}](h, stream.Bytes(1))
}

func (h echoByteHandler) BytesFlushed(t *stream.Transport, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Of[struct{}](h, stream.Bytes(1))
}
func (h echoByteHandler) Timeout(t *stream.Transport, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Of[struct{}](h, stream.Bytes(1))
}
func (h echoByteHandler) Wakeup(t *stream.Transport, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Of[struct{}](h, stream.Bytes(1))
}
func (h echoByteHandler) Exception(t *stream.Transport, exc *stream.Exception, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Done[struct{}]()
}

func TestAcceptSpawnsEchoStream(t *testing.T) {
	re, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	go re.Run()
	t.Cleanup(func() { re.Close() })

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19345}
	lis, err := reactor.ListenTCP(addr)
	if err != nil {
		t.Fatalf("ListenTCP: %v", err)
	}

	spawn := func(re *reactor.Reactor, conn reactor.Conn) error {
		_, err := stream.New[struct{}](re, conn, echoByteHandler{}, struct{}{}, nil)
		return err
	}
	if _, err := accept.Listen(re, lis, spawn, nil); err != nil {
		t.Fatalf("accept.Listen: %v", err)
	}

	conn, err := net.DialTimeout("tcp", "127.0.0.1:19345", 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if buf[0] != 'x' {
		t.Fatalf("unexpected echo: %q", buf)
	}
}
