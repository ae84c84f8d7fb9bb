// Package metrics provides lightweight counters for the engine and a
// periodic CSV logger for them, modeled as a ticker-driven CSV writer.
package metrics

import (
	"strconv"
	"sync/atomic"
)

// Counters are per-reactor totals that a Handler bumps (the stream engine
// itself does not update them); every field is accessed only via atomic ops so it's safe to read
// from a logger goroutine while the reactor goroutine keeps writing.
type Counters struct {
	StreamsOpened  int64
	StreamsClosed  int64
	BytesRead      int64
	BytesWritten   int64
	Timeouts       int64
	Exceptions     int64
}

func (c *Counters) AddStreamsOpened(n int64) { atomic.AddInt64(&c.StreamsOpened, n) }
func (c *Counters) AddStreamsClosed(n int64) { atomic.AddInt64(&c.StreamsClosed, n) }
func (c *Counters) AddBytesRead(n int64)     { atomic.AddInt64(&c.BytesRead, n) }
func (c *Counters) AddBytesWritten(n int64)  { atomic.AddInt64(&c.BytesWritten, n) }
func (c *Counters) AddTimeouts(n int64)      { atomic.AddInt64(&c.Timeouts, n) }
func (c *Counters) AddExceptions(n int64)    { atomic.AddInt64(&c.Exceptions, n) }

// Header returns the CSV column names matching Snapshot's field order.
func (c *Counters) Header() []string {
	return []string{"StreamsOpened", "StreamsClosed", "BytesRead", "BytesWritten", "Timeouts", "Exceptions"}
}

// Snapshot reads every counter atomically and formats it as a CSV row,
// in the same field order as Header.
func (c *Counters) Snapshot() []string {
	return []string{
		itoa(atomic.LoadInt64(&c.StreamsOpened)),
		itoa(atomic.LoadInt64(&c.StreamsClosed)),
		itoa(atomic.LoadInt64(&c.BytesRead)),
		itoa(atomic.LoadInt64(&c.BytesWritten)),
		itoa(atomic.LoadInt64(&c.Timeouts)),
		itoa(atomic.LoadInt64(&c.Exceptions)),
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
