package stream

import "time"

// Handler is the protocol-level callback set a connection is driven by.
// C is the caller-supplied context type threaded through Scope; the
// handler's own evolving state is carried by value as the state field of
// the Intent each callback returns, rather than by a second type
// parameter, since Go cannot express "this method's return type is this
// same generic interface, possibly instantiated with a different
// concrete implementation" any more directly than that.
type Handler[C any] interface {
	// Create is called once, immediately after the stream is registered
	// (or reconnected, for Persistent), before any bytes have been read.
	Create(t *Transport, s *Scope[C]) Intent[C]
	// BytesRead is called once the previously requested Expectation is
	// satisfied; n is the exact count for Bytes, or the match start
	// offset of Pattern for Delimiter (the delimiter itself is not
	// included — add len(Pattern) to consume it too).
	BytesRead(t *Transport, n int, s *Scope[C]) Intent[C]
	// BytesFlushed is called once an ExpectFlush threshold is reached.
	BytesFlushed(t *Transport, s *Scope[C]) Intent[C]
	// Timeout is called when the armed deadline elapses with no
	// intervening I/O event satisfying the expectation.
	Timeout(t *Transport, s *Scope[C]) Intent[C]
	// Wakeup is called when another goroutine calls Reactor.Wake with
	// this stream's token.
	Wakeup(t *Transport, s *Scope[C]) Intent[C]
	// Exception is called for a recoverable I/O failure; returning
	// another non-terminal Intent keeps the stream alive (e.g. to flush
	// a final message before closing deliberately).
	Exception(t *Transport, exc *Exception, s *Scope[C]) Intent[C]
}

type intentAction int

const (
	intentContinue intentAction = iota
	intentDone
	intentError
)

// Intent is the return value of every Handler callback: the next state
// to install, the condition to wait for, and an optional absolute
// deadline.
type Intent[C any] struct {
	state       Handler[C]
	expectation Expectation
	deadline    *time.Time
	action      intentAction
	err         error
}

// Of builds a continuing Intent: wait for expectation, waking no later
// than deadline if one is set via WithDeadline.
func Of[C any](state Handler[C], expectation Expectation) Intent[C] {
	return Intent[C]{state: state, expectation: expectation, action: intentContinue}
}

// WithDeadline attaches an absolute wake time to a continuing Intent,
// returning it unchanged if it is already Done or Error.
func (i Intent[C]) WithDeadline(at time.Time) Intent[C] {
	if i.action != intentContinue {
		return i
	}
	d := at
	i.deadline = &d
	return i
}

// Done terminates the stream cleanly: pending output is written once as
// far as the socket accepts without blocking (anything left is dropped),
// then the socket is closed with no error surfaced.
func Done[C any]() Intent[C] {
	return Intent[C]{action: intentDone}
}

// Error terminates the stream immediately, skipping any pending flush,
// and surfaces err as the termination cause.
func Error[C any](err error) Intent[C] {
	return Intent[C]{action: intentError, err: err}
}

// State returns the handler to install for the next callback, and
// whether the Intent continues the stream at all.
func (i Intent[C]) State() (Handler[C], bool) {
	return i.state, i.action == intentContinue
}
