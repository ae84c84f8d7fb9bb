package stream

import (
	"net"
	"time"

	"github.com/xtaci/rotorstream/reactor"
)

// Dial opens a single non-blocking connection to addr and drives it
// through the connect-then-establish sequence once, with no retry —
// the one-shot counterpart to package persistent's auto-reconnecting
// Connect. onConnectError, if non-nil, is invoked from the reactor
// goroutine if the connection fails, times out, or its Create callback
// stops it before a Stream takes over.
func Dial[C any](re *reactor.Reactor, addr *net.TCPAddr, connectTimeout time.Duration, handler Handler[C], ctx C, onConnectError func(error)) (reactor.Token, error) {
	conn, err := reactor.DialTCP(addr)
	if err != nil {
		return 0, err
	}
	w := &dialWaiter[C]{re: re, conn: conn, handler: handler, ctx: ctx, onConnectError: onConnectError}
	tok, err := re.Register(conn, reactor.EventSet{Writable: true}, reactor.Level, w, nil)
	if err != nil {
		conn.Close()
		return 0, err
	}
	w.tok = tok
	re.Arm(tok, re.Now().Add(connectTimeout))
	return tok, nil
}

// dialWaiter is the minimal reactor.Machine that waits out a connect(2)
// in progress before handing off to a real Stream.
type dialWaiter[C any] struct {
	re              *reactor.Reactor
	tok             reactor.Token
	conn            reactor.Conn
	handler         Handler[C]
	ctx             C
	onConnectError  func(error)
}

func (w *dialWaiter[C]) Ready(events reactor.EventSet) reactor.Result {
	if events.HangUp {
		return w.fail(ErrEndOfStream)
	}
	if !events.Writable {
		return reactor.ResultContinue(w)
	}
	if err := w.conn.TakeSocketError(); err != nil {
		return w.fail(err)
	}
	s, err := Attach(w.re, w.tok, w.conn, w.handler, w.ctx)
	if err != nil {
		return w.fail(err)
	}
	return reactor.ResultContinue(s)
}

func (w *dialWaiter[C]) Timeout() reactor.Result {
	return w.fail(ErrConnectTimeout)
}

func (w *dialWaiter[C]) Wakeup() reactor.Result { return reactor.ResultContinue(w) }

func (w *dialWaiter[C]) fail(err error) reactor.Result {
	if w.onConnectError != nil {
		w.onConnectError(err)
	}
	return reactor.ResultError(err)
}
