//go:build linux

package reactor_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xtaci/rotorstream/reactor"
)

// echoOnce is a minimal reactor.Machine: on the first readable event it
// reads once, writes back what it read, then asks to be done.
type echoOnce struct {
	re   *reactor.Reactor
	tok  reactor.Token
	conn reactor.Conn
	done chan []byte
}

func (e *echoOnce) Ready(events reactor.EventSet) reactor.Result {
	if !events.Readable {
		return reactor.ResultContinue(e)
	}
	buf := make([]byte, 64)
	n, err := e.conn.Read(buf)
	if err != nil {
		return reactor.ResultError(err)
	}
	e.conn.Write(buf[:n])
	e.done <- append([]byte(nil), buf[:n]...)
	return reactor.ResultDone()
}
func (e *echoOnce) Timeout() reactor.Result { return reactor.ResultContinue(e) }
func (e *echoOnce) Wakeup() reactor.Result  { return reactor.ResultContinue(e) }

func TestReactorDispatchesReadableEvents(t *testing.T) {
	re, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	go re.Run()
	defer re.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	conn := reactor.NewConn(fds[0])
	e := &echoOnce{re: re, conn: conn, done: make(chan []byte, 1)}
	tok, err := re.Register(conn, reactor.EventSet{Readable: true}, reactor.Edge, e, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	e.tok = tok

	if _, err := unix.Write(fds[1], []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case got := <-e.done:
		if string(got) != "ping" {
			t.Fatalf("unexpected echoed payload: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatch")
	}
}

func TestReactorWakeInvokesWakeup(t *testing.T) {
	re, err := reactor.New()
	if err != nil {
		t.Fatalf("reactor.New: %v", err)
	}
	go re.Run()
	defer re.Close()

	woken := make(chan struct{}, 1)
	m := &wakeupMachine{woken: woken}
	tok := re.RegisterTimer(m, nil)

	re.Wake(tok)

	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Wakeup dispatch")
	}
}

type wakeupMachine struct {
	woken chan struct{}
}

func (m *wakeupMachine) Ready(events reactor.EventSet) reactor.Result { return reactor.ResultContinue(m) }
func (m *wakeupMachine) Timeout() reactor.Result                      { return reactor.ResultContinue(m) }
func (m *wakeupMachine) Wakeup() reactor.Result {
	m.woken <- struct{}{}
	return reactor.ResultContinue(m)
}
