package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCountersSnapshot(t *testing.T) {
	var c Counters
	c.AddStreamsOpened(3)
	c.AddBytesRead(100)
	c.AddExceptions(1)

	row := c.Snapshot()
	header := c.Header()
	if len(row) != len(header) {
		t.Fatalf("row/header length mismatch: %d vs %d", len(row), len(header))
	}
	if row[0] != "3" || row[2] != "100" || row[5] != "1" {
		t.Fatalf("unexpected snapshot: %v", row)
	}
}

func TestCSVLoggerWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	var c Counters
	c.AddStreamsOpened(1)

	path := filepath.Join(dir, "stats-2006.csv")
	l := NewCSVLogger(path, 10*time.Millisecond, &c, nil)
	go l.Run()
	defer l.Stop()

	time.Sleep(50 * time.Millisecond)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one rotated CSV file, found none")
	}
}
