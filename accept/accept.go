// Package accept implements the listening-socket multiplexer: one
// reactor.Machine per bound port that spawns a new Stream machine for
// every accepted connection.
package accept

import (
	"log"

	"github.com/xtaci/rotorstream/reactor"
)

// Spawner builds the reactor.Machine (and, for Stream-based handlers,
// registers it) for a freshly accepted connection. A non-nil error
// closes the accepted connection and logs the failure instead of
// registering it.
type Spawner func(re *reactor.Reactor, conn reactor.Conn) error

// Accept is the listening half of the multiplexer: a single
// reactor.Machine bound to a listening socket's token. It never itself
// reads or writes application bytes — every accepted connection becomes
// its own independently scheduled Stream.
type Accept struct {
	re   *reactor.Reactor
	lis  *reactor.Listener
	spawn Spawner
	log  *log.Logger
}

// Listen registers an already-listening socket lis with re
// (level-triggered, readable) and returns its token. New connections are handed to spawn as they arrive.
func Listen(re *reactor.Reactor, lis *reactor.Listener, spawn Spawner, logger *log.Logger) (reactor.Token, error) {
	a := &Accept{re: re, lis: lis, spawn: spawn, log: logger}
	return re.Register(listenerConn{lis}, reactor.EventSet{Readable: true}, reactor.Level, a, nil)
}

// Ready implements reactor.Machine. A listening socket is level-triggered
// because accept(2) must be retried until it returns EAGAIN — a single
// edge can represent more than one pending connection.
func (a *Accept) Ready(events reactor.EventSet) reactor.Result {
	for {
		conn, ok, err := a.lis.Accept()
		if err != nil {
			// A single failed accept() doesn't end the Accept machine;
			// log it and wait for the next readable edge instead of
			// retrying in a tight loop.
			if a.log != nil {
				a.log.Printf("accept: %v", err)
			}
			return reactor.ResultContinue(a)
		}
		if !ok {
			return reactor.ResultContinue(a)
		}
		if err := a.spawn(a.re, conn); err != nil {
			conn.Close()
			if a.log != nil {
				a.log.Printf("accept: spawn refused connection: %v", err)
			}
		}
	}
}

// Timeout implements reactor.Machine. A listening socket never arms a
// timer, so this is never actually called.
func (a *Accept) Timeout() reactor.Result { return reactor.ResultContinue(a) }

// Wakeup implements reactor.Machine. A listening socket is never woken
// externally, so this is never actually called.
func (a *Accept) Wakeup() reactor.Result { return reactor.ResultContinue(a) }

// listenerConn adapts *reactor.Listener to reactor.Conn so it can share
// Register with connection sockets; Read/Write/TakeSocketError are never
// called on a listening descriptor.
type listenerConn struct{ l *reactor.Listener }

func (c listenerConn) Read(p []byte) (int, error)  { return 0, reactor.ErrWouldBlock }
func (c listenerConn) Write(p []byte) (int, error) { return 0, reactor.ErrWouldBlock }
func (c listenerConn) Fd() int                     { return c.l.Fd() }
func (c listenerConn) TakeSocketError() error       { return nil }
func (c listenerConn) Close() error                 { return c.l.Close() }
