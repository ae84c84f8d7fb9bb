package stream

import "bytes"

// ExpectationKind tags the four wake conditions a Handler can ask the
// engine to wait for between callbacks.
type ExpectationKind int

const (
	// ExpectBytes fires BytesRead once at least N bytes sit in the input
	// buffer.
	ExpectBytes ExpectationKind = iota
	// ExpectDelimiter fires BytesRead once Pattern is found at or after
	// Offset, or aborts with ErrLimitReached once MaxBytes is exceeded
	// without a match.
	ExpectDelimiter
	// ExpectFlush fires BytesFlushed once the output buffer has drained to
	// at most N bytes outstanding.
	ExpectFlush
	// ExpectSleep fires Timeout with no I/O condition attached; this is
	// the only kind that's a pure deadline wait.
	ExpectSleep
)

// Expectation is the immutable wake condition attached to every Intent
// that doesn't terminate the stream.
type Expectation struct {
	Kind     ExpectationKind
	N        int    // Bytes: exact threshold. Flush: max outstanding bytes.
	Offset   int    // Delimiter: search start offset into the input buffer.
	Pattern  []byte // Delimiter: byte sequence to search for.
	MaxBytes int    // Delimiter: abort threshold.
}

// Bytes builds an Expectation satisfied once N unconsumed bytes are
// available.
func Bytes(n int) Expectation {
	return Expectation{Kind: ExpectBytes, N: n}
}

// Delimiter builds an Expectation satisfied once pattern is found starting
// at or after offset, aborting with ErrLimitReached if the input buffer
// grows past maxBytes without a match.
func Delimiter(offset int, pattern []byte, maxBytes int) Expectation {
	return Expectation{Kind: ExpectDelimiter, Offset: offset, Pattern: pattern, MaxBytes: maxBytes}
}

// Flush builds an Expectation satisfied once at most n bytes remain
// unflushed in the output buffer.
func Flush(n int) Expectation {
	return Expectation{Kind: ExpectFlush, N: n}
}

// Sleep builds a pure-deadline Expectation; the caller must also set a
// deadline on the Intent, since Sleep alone never wakes the stream.
func Sleep() Expectation {
	return Expectation{Kind: ExpectSleep}
}

// find reports the count (ExpectBytes) or match start offset
// (ExpectDelimiter) that satisfies this expectation given buf, or -1 if
// it isn't satisfied yet. For ExpectDelimiter, the returned k is the
// start of Pattern within buf — buf[k:k+len(Pattern)] == Pattern — not
// the position past it; a Handler that wants the delimiter included in
// what it consumes adds len(Pattern) itself.
func (e Expectation) find(buf []byte) int {
	switch e.Kind {
	case ExpectBytes:
		if len(buf) >= e.N {
			return e.N
		}
		return -1
	case ExpectDelimiter:
		if e.Offset > len(buf) {
			return -1
		}
		idx := bytes.Index(buf[e.Offset:], e.Pattern)
		if idx < 0 {
			return -1
		}
		return e.Offset + idx
	default:
		return -1
	}
}

// exceeded reports whether buf has grown past this expectation's abort
// threshold without being satisfied (ExpectDelimiter only).
func (e Expectation) exceeded(buf []byte) bool {
	return e.Kind == ExpectDelimiter && e.MaxBytes > 0 && len(buf) > e.MaxBytes
}
