// Package stream implements the single-connection engine at the heart of
// this module: the drive loop that turns raw socket readiness into the
// Bytes/Delimiter/Flush/Sleep wake conditions a Handler declares via
// Intent.
package stream

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/xtaci/rotorstream/reactor"
)

const readChunk = 16 * 1024

// rateRecheckInterval is how soon a rate-limited stream is given another
// chance to drain once it has been throttled mid-write.
const rateRecheckInterval = 20 * time.Millisecond

// Options configures optional behavior of a Stream beyond the bare
// Handler contract.
type Options struct {
	// RateLimiter, if set, shapes outgoing bytes: drainWrites never
	// writes more than the limiter currently allows in one pass instead
	// of writing to exhaustion unconditionally.
	RateLimiter *rate.Limiter
}

// Stream is the concrete reactor.Machine for one connection. C is the
// user context type threaded through every Handler callback via Scope.
type Stream[C any] struct {
	transport *Transport
	handler   Handler[C]
	scope     *Scope[C]
	opts      Options

	re  *reactor.Reactor
	tok reactor.Token

	connected bool
	exp       Expectation

	// handlerDeadline is the deadline the handler actually asked for via
	// Intent.WithDeadline, kept separately from whatever is currently
	// armed on the reactor so a rate-limiter recheck can borrow the
	// single per-token timer slot without losing track of it.
	handlerDeadline *time.Time
	rateThrottled   bool
}

// New registers a freshly accepted, already-connected socket with re and
// returns its token. done is invoked by the reactor on termination,
// exactly as the caller passed it through. If Create stops the stream
// immediately instead of installing a continuing Intent, the socket is
// torn down and that outcome is returned as an error rather than a live
// token.
func New[C any](re *reactor.Reactor, conn reactor.Conn, handler Handler[C], ctx C, done reactor.TerminationFunc) (reactor.Token, error) {
	return NewWithOptions(re, conn, handler, ctx, done, Options{})
}

// NewWithOptions is New with explicit Options (e.g. a RateLimiter).
func NewWithOptions[C any](re *reactor.Reactor, conn reactor.Conn, handler Handler[C], ctx C, done reactor.TerminationFunc, opts Options) (reactor.Token, error) {
	s := newStream(re, conn, true, handler, ctx, opts)
	tok, err := re.Register(conn, reactor.EventSet{Readable: true, Writable: true}, reactor.Edge, s, done)
	if err != nil {
		return 0, err
	}
	s.tok = tok
	if err := s.create(); err != nil {
		re.Deregister(tok, err)
		return 0, err
	}
	return tok, nil
}

// Attach takes over an already-attached, already-writable-confirmed
// socket at tok (the caller must have taken and cleared its socket error
// first) and reregisters it edge-triggered for ongoing read/write
// interest. This is the shape Persistent needs to move from connecting
// to established on the same logical slot instead of allocating a new
// one. As with New, a Create that stops the stream immediately tears the
// registration down and surfaces that as an error.
func Attach[C any](re *reactor.Reactor, tok reactor.Token, conn reactor.Conn, handler Handler[C], ctx C) (*Stream[C], error) {
	return AttachWithOptions(re, tok, conn, handler, ctx, Options{})
}

// AttachWithOptions is Attach with explicit Options.
func AttachWithOptions[C any](re *reactor.Reactor, tok reactor.Token, conn reactor.Conn, handler Handler[C], ctx C, opts Options) (*Stream[C], error) {
	s := newStream(re, conn, true, handler, ctx, opts)
	s.tok = tok
	if err := re.Reregister(tok, reactor.EventSet{Readable: true, Writable: true}, reactor.Edge); err != nil {
		return nil, err
	}
	if err := s.create(); err != nil {
		re.Deregister(tok, err)
		return nil, err
	}
	return s, nil
}

func newStream[C any](re *reactor.Reactor, conn reactor.Conn, connected bool, handler Handler[C], ctx C, opts Options) *Stream[C] {
	return &Stream[C]{
		transport: newTransport(conn),
		handler:   handler,
		scope:     &Scope[C]{Context: ctx, clock: re},
		opts:      opts,
		re:        re,
		connected: connected,
	}
}

// create runs the Handler's Create callback and, if it stops the stream
// immediately instead of installing a continuing Intent, reports why —
// a Done Create surfaces ErrProtocolStop, an Error Create surfaces its
// error — so the caller never hands back a live registration driven by
// a stale pre-Create handler against a zero-value Expectation.
func (s *Stream[C]) create() error {
	res := s.applyIntent(s.handler.Create(s.transport, s.scope))
	switch res.Action {
	case reactor.Done:
		return ErrProtocolStop
	case reactor.Error:
		return res.Err
	default:
		return nil
	}
}

func (s *Stream[C]) applyIntent(i Intent[C]) reactor.Result {
	switch i.action {
	case intentDone:
		s.drainWrites() // best-effort final flush
		return reactor.ResultDone()
	case intentError:
		return reactor.ResultError(i.err)
	default:
		s.handler = i.state
		s.exp = i.expectation
		s.handlerDeadline = i.deadline
		s.rateThrottled = false
		if i.deadline != nil {
			s.re.Arm(s.tok, *i.deadline)
		} else {
			s.re.Disarm(s.tok)
		}
		return reactor.ResultContinue(s)
	}
}

// drainWrites writes the output buffer to exhaustion or until the socket
// would block, giving writes priority over reads within one reactor
// callback. When opts.RateLimiter is set, it also stops
// early once the limiter has no tokens left for this pass and arms a
// short timer so the stream gets another chance to drain soon, shaping
// outgoing bytes instead of writing to exhaustion unconditionally.
func (s *Stream[C]) drainWrites() *Exception {
	out := s.transport.Out
	lim := s.opts.RateLimiter
	s.rateThrottled = false
	for out.Len() > 0 {
		chunk := out.Len()
		if lim != nil {
			if burst := lim.Burst(); burst > 0 && chunk > burst {
				chunk = burst
			}
			if !lim.AllowN(s.re.Now(), chunk) {
				s.rateThrottled = true
				s.armRateRecheck()
				return nil
			}
		}
		n, err := s.transport.conn.Write(out.Bytes()[:chunk])
		if n > 0 {
			out.Consume(n)
		}
		if err != nil {
			if errors.Is(err, reactor.ErrWouldBlock) {
				return nil
			}
			out.RemoveRange()
			return newException(ExceptionWriteError, err)
		}
		if n == 0 {
			// Zero bytes accepted with no error on a non-empty buffer:
			// retrying would spin forever, so this is fatal rather than
			// a would-block suspend.
			out.RemoveRange()
			return newException(ExceptionWriteError, ErrWriteZero)
		}
	}
	return nil
}

// armRateRecheck schedules a near-term timeout so a write throttled by
// opts.RateLimiter is retried even if no new socket event arrives. It
// never schedules past the handler's own deadline, since Timeout tells
// the two apart by comparing the fire time against handlerDeadline, not
// by a second timer slot.
func (s *Stream[C]) armRateRecheck() {
	at := s.re.Now().Add(rateRecheckInterval)
	if s.handlerDeadline != nil && s.handlerDeadline.Before(at) {
		at = *s.handlerDeadline
	}
	s.re.Arm(s.tok, at)
}

// Ready implements reactor.Machine.
func (s *Stream[C]) Ready(events reactor.EventSet) reactor.Result {
	if !s.connected {
		if !events.Writable {
			return reactor.ResultContinue(s)
		}
		if err := s.transport.conn.TakeSocketError(); err != nil {
			return s.drive1(s.handler.Exception(s.transport, newException(ExceptionConnectError, err), s.scope))
		}
		s.connected = true
	}
	return s.drive()
}

// Timeout implements reactor.Machine. A fire is only forwarded to the
// handler once the deadline it actually asked for has elapsed; a fire
// scheduled early by armRateRecheck instead retries the throttled drain
// and, if still not done, re-arms rather than reporting a timeout the
// handler never requested.
func (s *Stream[C]) Timeout() reactor.Result {
	if s.rateThrottled && (s.handlerDeadline == nil || s.re.Now().Before(*s.handlerDeadline)) {
		return s.drive()
	}
	return s.drive1(s.handler.Timeout(s.transport, s.scope))
}

// Wakeup implements reactor.Machine.
func (s *Stream[C]) Wakeup() reactor.Result {
	return s.drive1(s.handler.Wakeup(s.transport, s.scope))
}

// drive1 installs i and, if the stream is still running afterward,
// resumes drive so any progress the new Expectation makes possible
// against already-buffered data isn't deferred to the next dispatch.
func (s *Stream[C]) drive1(i Intent[C]) reactor.Result {
	res := s.applyIntent(i)
	if res.Action != reactor.Continue {
		return res
	}
	return s.drive()
}

// drive repeats drain-write and expectation-check until the stream can
// make no further progress without another reactor event: a read that
// would block, an unsatisfied Bytes/Delimiter/Flush wait, or Sleep.
// Every Handler callback installs a new Intent that loops back to the
// top of this same pass instead of returning straight to the reactor,
// so bytes already sitting in the input buffer, or an output buffer
// that has already drained below its Flush threshold, are never
// stranded waiting for a socket event that may never arrive.
func (s *Stream[C]) drive() reactor.Result {
	for {
		wasThrottled := s.rateThrottled
		if exc := s.drainWrites(); exc != nil {
			// Write faults are fatal: the stream ends with exc as its
			// termination cause, with no further Handler callback.
			return reactor.ResultError(exc)
		}
		if wasThrottled && !s.rateThrottled {
			if s.handlerDeadline != nil {
				s.re.Arm(s.tok, *s.handlerDeadline)
			} else {
				s.re.Disarm(s.tok)
			}
		}

		switch s.exp.Kind {
		case ExpectFlush:
			if s.transport.Out.Len() > s.exp.N {
				return reactor.ResultContinue(s)
			}
			res := s.applyIntent(s.handler.BytesFlushed(s.transport, s.scope))
			if res.Action != reactor.Continue {
				return res
			}
			continue
		case ExpectSleep:
			return reactor.ResultContinue(s)
		}

		// A match against already-buffered input is checked before the
		// max-bytes abort, so a second message that has already arrived
		// behind the delimiter is delivered instead of misreported as
		// LimitReached just because the buffer has since grown past max.
		buf := s.transport.Input()
		if n := s.exp.find(buf); n >= 0 {
			res := s.applyIntent(s.handler.BytesRead(s.transport, n, s.scope))
			if res.Action != reactor.Continue {
				return res
			}
			continue
		}
		if s.exp.exceeded(buf) {
			res := s.applyIntent(s.handler.Exception(s.transport, newException(ExceptionLimitReached, ErrLimitReached), s.scope))
			if res.Action != reactor.Continue {
				return res
			}
			continue
		}

		n, err := s.transport.In.ReadFrom(s.transport.conn)
		if err != nil {
			if errors.Is(err, reactor.ErrWouldBlock) {
				return reactor.ResultContinue(s)
			}
			res := s.applyIntent(s.handler.Exception(s.transport, newException(ExceptionReadError, err), s.scope))
			if res.Action != reactor.Continue {
				return res
			}
			continue
		}
		if n == 0 {
			res := s.applyIntent(s.handler.Exception(s.transport, newException(ExceptionEndOfStream, ErrEndOfStream), s.scope))
			if res.Action != reactor.Continue {
				return res
			}
			continue
		}
	}
}
