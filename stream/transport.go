package stream

import (
	"time"

	"github.com/xtaci/rotorstream/buf"
	"github.com/xtaci/rotorstream/reactor"
)

// Transport is the facade a Handler uses to inspect input and queue
// output; it never touches the socket directly. The engine owns the
// actual read/write syscalls and hands the same Transport back on every
// callback.
type Transport struct {
	conn reactor.Conn
	In   *buf.Buf
	Out  *buf.Buf
}

func newTransport(conn reactor.Conn) *Transport {
	return &Transport{conn: conn, In: buf.New(), Out: buf.New()}
}

// Input returns the unconsumed bytes currently available to read. A
// Handler inspects this, decides how much it understood, and calls
// Consume with that count — the engine never advances In on the
// Handler's behalf.
func (t *Transport) Input() []byte { return t.In.Bytes() }

// Consume discards the first n bytes of Input, e.g. after a BytesRead
// callback has parsed a complete frame.
func (t *Transport) Consume(n int) { t.In.Consume(n) }

// Write appends p to the output buffer; actual socket writes happen
// inside the engine's drive loop, not synchronously here.
func (t *Transport) Write(p []byte) { t.Out.Append(p) }

// Outstanding reports how many bytes are still queued to be written.
func (t *Transport) Outstanding() int { return t.Out.Len() }

// Scope bundles the facilities a Handler needs beyond Transport: access
// to the reactor's clock for computing deadlines, and the user-supplied
// context value threaded through every callback.
type Scope[C any] struct {
	Context C
	clock   reactor.Clock
}

// Now returns the reactor's current time, for building relative
// deadlines with After.
func (s *Scope[C]) Now() time.Time { return s.clock.Now() }

// After returns a deadline d from now.
func (s *Scope[C]) After(d time.Duration) time.Time { return s.clock.Now().Add(d) }
