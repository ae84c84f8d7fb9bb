//go:build linux

package persistent_test

import (
	"net"
	"testing"
	"time"

	"github.com/xtaci/rotorstream/persistent"
	"github.com/xtaci/rotorstream/reactor"
	"github.com/xtaci/rotorstream/stream"
)

type pingHandler struct {
	created chan struct{}
}

func (h *pingHandler) Create(t *stream.Transport, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	select {
	case h.created <- struct{}{}:
	default:
	}
	return stream.Of[struct{}](h, stream.Bytes(1))
}
func (h *pingHandler) BytesRead(t *stream.Transport, n int, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	t.Consume(n)
	return stream.Of[struct{}](h, stream.Bytes(1))
}
func (h *pingHandler) BytesFlushed(t *stream.Transport, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Of[struct{}](h, stream.Bytes(1))
}
func (h *pingHandler) Timeout(t *stream.Transport, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Of[struct{}](h, stream.Bytes(1))
}
func (h *pingHandler) Wakeup(t *stream.Transport, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Of[struct{}](h, stream.Bytes(1))
}
func (h *pingHandler) Exception(t *stream.Transport, exc *stream.Exception, s *stream.Scope[struct{}]) stream.Intent[struct{}] {
	return stream.Done[struct{}]()
}

// TestPersistentReconnectsAfterRefusedFirstAttempt dials against a port
// with no listener yet, then starts listening shortly after — exercising
// the connect-failure -> sleep -> reconnect path.
func TestPersistentReconnectsAfterRefusedFirstAttempt(t *testing.T) {
	re, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	go re.Run()
	t.Cleanup(func() { re.Close() })

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19346}
	created := make(chan struct{}, 1)
	newHandler := func() stream.Handler[struct{}] { return &pingHandler{created: created} }

	persistent.Connect[struct{}](re, addr, newHandler, struct{}{}, nil)

	// No listener yet: the first attempt must fail and retry after
	// persistent.ReconnectTimeout rather than giving up.
	time.Sleep(50 * time.Millisecond)
	select {
	case <-created:
		t.Fatalf("handler created before any listener existed")
	default:
	}

	lis, err := net.Listen("tcp", "127.0.0.1:19346")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()
	go func() {
		conn, err := lis.Accept()
		if err == nil {
			defer conn.Close()
			buf := make([]byte, 1)
			conn.Read(buf)
		}
	}()

	select {
	case <-created:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reconnect to succeed")
	}
}
