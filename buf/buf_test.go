package buf

import (
	"bytes"
	"strings"
	"testing"
)

func TestAppendAndConsume(t *testing.T) {
	b := New()
	b.Append([]byte("hello "))
	b.Append([]byte("world"))
	if b.Len() != 11 {
		t.Fatalf("expected len 11, got %d", b.Len())
	}
	if string(b.Bytes()) != "hello world" {
		t.Fatalf("unexpected contents: %q", b.Bytes())
	}
	b.Consume(6)
	if string(b.Bytes()) != "world" {
		t.Fatalf("unexpected contents after consume: %q", b.Bytes())
	}
}

func TestSlice(t *testing.T) {
	b := New()
	b.Append([]byte("0123456789"))
	b.Consume(2)
	if string(b.Slice(1, 4)) != "345" {
		t.Fatalf("unexpected slice: %q", b.Slice(1, 4))
	}
}

func TestReadFromReadsOnce(t *testing.T) {
	b := New()
	r := strings.NewReader("payload")
	n, err := b.ReadFrom(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 || b.Len() != 7 {
		t.Fatalf("expected to read 7 bytes, got n=%d len=%d", n, b.Len())
	}
}

func TestWriteToConsumesWritten(t *testing.T) {
	b := New()
	b.Append([]byte("abc"))
	var out bytes.Buffer
	n, err := b.WriteTo(&out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || b.Len() != 0 {
		t.Fatalf("expected full drain, got n=%d remaining=%d", n, b.Len())
	}
	if out.String() != "abc" {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestRemoveRange(t *testing.T) {
	b := New()
	b.Append([]byte("garbage"))
	b.RemoveRange()
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer after RemoveRange, got len %d", b.Len())
	}
}

func TestConsumePanicsOnOverrun(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on over-consumption")
		}
	}()
	b := New()
	b.Append([]byte("x"))
	b.Consume(2)
}

func TestGrowthReclaimsConsumedPrefix(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		b.Append(bytes.Repeat([]byte{'a'}, 1000))
		b.Consume(1000)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", b.Len())
	}
	if cap(b.data) > 2*minGrow {
		t.Fatalf("expected consumed prefix to be reclaimed, cap=%d", cap(b.data))
	}
}
