// Package persistent implements an auto-reconnecting client connection:
// a Persistent machine that dials out, drives an underlying stream.Stream
// once connected, and on any termination funnels back to a reconnect
// sleep instead of tearing down for good.
package persistent

import (
	"log"
	"net"
	"time"

	"github.com/xtaci/rotorstream/reactor"
	"github.com/xtaci/rotorstream/stream"
)

// ReconnectTimeout is how long Persistent waits after a failed or
// dropped connection before dialing again.
const ReconnectTimeout = 200 * time.Millisecond

// ConnectTimeout is how long Persistent waits for connect(2) to
// complete before abandoning the attempt.
const ConnectTimeout = 1000 * time.Millisecond

type fsmState int

const (
	fsmConnecting fsmState = iota
	fsmEstablished
	fsmSleeping
)

// HandlerFactory builds a fresh Handler for each new connection attempt,
// since a Handler's internal parsing state can't be reused across
// reconnects, so a fresh Handler is built from scratch on every attempt.
type HandlerFactory[C any] func() stream.Handler[C]

// Persistent is the reactor.Machine for an auto-reconnecting client.
type Persistent[C any] struct {
	re         *reactor.Reactor
	addr       *net.TCPAddr
	newHandler HandlerFactory[C]
	ctx        C
	logger     *log.Logger

	tok      reactor.Token
	state    fsmState
	deadline time.Time
	inner    *stream.Stream[C]
}

// Connect allocates a token, dials addr immediately, and registers the
// resulting Persistent machine with re.
func Connect[C any](re *reactor.Reactor, addr *net.TCPAddr, newHandler HandlerFactory[C], ctx C, logger *log.Logger) reactor.Token {
	p := &Persistent[C]{re: re, addr: addr, newHandler: newHandler, ctx: ctx, logger: logger}
	p.tok = re.RegisterTimer(p, nil)
	p.beginConnect()
	return p.tok
}

func (p *Persistent[C]) logf(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func (p *Persistent[C]) beginConnect() {
	conn, err := reactor.DialTCP(p.addr)
	if err != nil {
		p.logf("persistent: connect to %v failed: %v", p.addr, err)
		p.sleep()
		return
	}
	// Level-triggered: an already-writable socket (connect() completed
	// synchronously) must still report one readiness event.
	if err := p.re.AttachSocket(p.tok, conn, reactor.EventSet{Writable: true}, reactor.Level); err != nil {
		conn.Close()
		p.sleep()
		return
	}
	p.state = fsmConnecting
	p.deadline = p.re.Now().Add(ConnectTimeout)
	p.re.Arm(p.tok, p.deadline)
}

func (p *Persistent[C]) sleep() {
	p.state = fsmSleeping
	p.inner = nil
	p.deadline = p.re.Now().Add(ReconnectTimeout)
	p.re.Arm(p.tok, p.deadline)
}

// Ready implements reactor.Machine.
func (p *Persistent[C]) Ready(events reactor.EventSet) reactor.Result {
	switch p.state {
	case fsmConnecting:
		if events.HangUp {
			p.logf("persistent: connection to %v closed immediately", p.addr)
			p.re.DetachSocket(p.tok)
			p.sleep()
			return reactor.ResultContinue(p)
		}
		if !events.Writable {
			return reactor.ResultContinue(p) // spurious
		}
		return p.establish()
	case fsmEstablished:
		return p.afterInner(p.inner.Ready(events))
	default: // fsmSleeping: spurious event on a socket-less token
		return reactor.ResultContinue(p)
	}
}

func (p *Persistent[C]) establish() reactor.Result {
	conn := p.currentConn()
	if err := conn.TakeSocketError(); err != nil {
		p.logf("persistent: connect to %v failed: %v", p.addr, err)
		p.re.DetachSocket(p.tok)
		p.sleep()
		return reactor.ResultContinue(p)
	}
	handler := p.newHandler()
	inner, err := stream.Attach(p.re, p.tok, conn, handler, p.ctx)
	if err != nil {
		p.logf("persistent: error creating stream for %v: %v", p.addr, err)
		p.re.DetachSocket(p.tok)
		p.sleep()
		return reactor.ResultContinue(p)
	}
	p.inner = inner
	p.state = fsmEstablished
	return reactor.ResultContinue(p)
}

// currentConn re-derives the connecting socket from the reactor's own
// bookkeeping rather than caching a second reference to it.
func (p *Persistent[C]) currentConn() reactor.Conn {
	return p.re.ConnOf(p.tok)
}

func (p *Persistent[C]) afterInner(res reactor.Result) reactor.Result {
	switch res.Action {
	case reactor.Continue:
		return reactor.ResultContinue(p)
	case reactor.Done:
		p.logf("persistent: connection to %v stopped by protocol", p.addr)
		p.re.DetachSocket(p.tok)
		p.sleep()
		return reactor.ResultContinue(p)
	default: // reactor.Error
		p.logf("persistent: connection to %v failed: %v", p.addr, res.Err)
		p.re.DetachSocket(p.tok)
		p.sleep()
		return reactor.ResultContinue(p)
	}
}

// Timeout implements reactor.Machine.
func (p *Persistent[C]) Timeout() reactor.Result {
	switch p.state {
	case fsmConnecting:
		if !p.re.Now().Before(p.deadline) {
			p.logf("persistent: timeout establishing connection to %v", p.addr)
			p.re.DetachSocket(p.tok)
			p.sleep()
		}
		return reactor.ResultContinue(p)
	case fsmEstablished:
		return p.afterInner(p.inner.Timeout())
	default: // fsmSleeping
		if !p.re.Now().Before(p.deadline) {
			p.beginConnect()
		}
		return reactor.ResultContinue(p)
	}
}

// Wakeup implements reactor.Machine.
func (p *Persistent[C]) Wakeup() reactor.Result {
	if p.state == fsmEstablished {
		return p.afterInner(p.inner.Wakeup())
	}
	return reactor.ResultContinue(p) // spurious
}
