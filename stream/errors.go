package stream

import "github.com/pkg/errors"

// ErrProtocolStop is the error New and Attach return (and pass to the
// termination callback) when a Handler's Create callback returns a Done
// intent, abandoning the connection before any bytes are exchanged.
var ErrProtocolStop = errors.New("stream: protocol stop")

// ErrLimitReached is the exception delivered when an ExpectDelimiter
// expectation's MaxBytes threshold is exceeded without a match.
var ErrLimitReached = errors.New("stream: delimiter search exceeded limit")

// ErrEndOfStream is the exception delivered when the peer closes its
// write half (a zero-byte read) while the handler still expects bytes.
var ErrEndOfStream = errors.New("stream: end of stream")

// ErrConnectTimeout is returned when Dial's connect deadline elapses
// before the socket becomes writable.
var ErrConnectTimeout = errors.New("stream: connect timeout")

// ErrWriteZero is the error reported when a write to the socket accepts
// zero bytes without returning an error for a non-empty output buffer.
// Retrying would spin forever, so this is fatal.
var ErrWriteZero = errors.New("stream: write accepted zero bytes")

// ExceptionKind classifies the errors the engine reports. EndOfStream,
// LimitReached, ReadError and ConnectError are passed to a Handler's
// Exception callback; WriteError is fatal and ends the stream with the
// Exception as its termination cause.
type ExceptionKind int

const (
	ExceptionEndOfStream ExceptionKind = iota
	ExceptionLimitReached
	ExceptionReadError
	ExceptionWriteError
	ExceptionConnectError
)

// Exception pairs a classified cause with the underlying error, so a
// Handler can pattern-match on Kind without string-sniffing err.
type Exception struct {
	Kind ExceptionKind
	Err  error
}

func (e *Exception) Error() string { return e.Err.Error() }
func (e *Exception) Unwrap() error { return e.Err }

func newException(kind ExceptionKind, err error) *Exception {
	return &Exception{Kind: kind, Err: err}
}
