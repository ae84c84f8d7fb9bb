package metrics

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// CSVLogger periodically appends a Counters snapshot to a rotating CSV
// file: the path's filename component is itself a time.Format pattern,
// so "stats-20060102.csv" rotates to a new file every day without any
// extra bookkeeping.
type CSVLogger struct {
	path     string
	interval time.Duration
	counters *Counters
	logger   *log.Logger
	stop     chan struct{}
}

// NewCSVLogger builds a logger that writes a row every interval. Call
// Run to start it; call Stop to end it.
func NewCSVLogger(path string, interval time.Duration, counters *Counters, logger *log.Logger) *CSVLogger {
	return &CSVLogger{path: path, interval: interval, counters: counters, logger: logger, stop: make(chan struct{})}
}

// Run blocks, writing one row every interval until Stop is called. It is
// meant to be launched in its own goroutine.
func (l *CSVLogger) Run() {
	if l.path == "" || l.interval <= 0 {
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.writeRow()
		}
	}
}

// Stop ends a running Run loop.
func (l *CSVLogger) Stop() { close(l.stop) }

func (l *CSVLogger) writeRow() {
	logdir, logfile := filepath.Split(l.path)
	name := logdir + time.Now().Format(logfile)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		l.logf("metrics: %v", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, l.counters.Header()...)); err != nil {
			l.logf("metrics: %v", err)
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, l.counters.Snapshot()...)); err != nil {
		l.logf("metrics: %v", err)
	}
	w.Flush()
}

func (l *CSVLogger) logf(format string, args ...interface{}) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}
