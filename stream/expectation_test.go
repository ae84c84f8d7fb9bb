package stream

import "testing"

func TestExpectationDelimiterFindReturnsMatchStart(t *testing.T) {
	exp := Delimiter(0, []byte("\r\n\r\n"), 4096)
	buf := []byte("GET / HTTP/1.1\r\n\r\nbody")

	k := exp.find(buf)
	if k < 0 {
		t.Fatalf("expected a match, got -1")
	}
	want := len("GET / HTTP/1.1")
	if k != want {
		t.Fatalf("find returned %d, want match-start offset %d", k, want)
	}
	if got := string(buf[k : k+len(exp.Pattern)]); got != "\r\n\r\n" {
		t.Fatalf("buf[k:k+len(pattern)] = %q, want the delimiter itself", got)
	}
}

func TestExpectationBytesFindReturnsExactCount(t *testing.T) {
	exp := Bytes(5)
	if n := exp.find([]byte("1234")); n != -1 {
		t.Fatalf("expected -1 for a short buffer, got %d", n)
	}
	if n := exp.find([]byte("12345extra")); n != 5 {
		t.Fatalf("expected 5, got %d", n)
	}
}

func TestExpectationExceededOnlyAppliesToDelimiter(t *testing.T) {
	exp := Delimiter(0, []byte("\n"), 4)
	if !exp.exceeded([]byte("12345")) {
		t.Fatalf("expected exceeded once the buffer grows past MaxBytes without a match")
	}
	if exp.exceeded([]byte("1234")) {
		t.Fatalf("did not expect exceeded at exactly MaxBytes")
	}
	if Bytes(4).exceeded([]byte("12345")) {
		t.Fatalf("exceeded must never fire for ExpectBytes")
	}
}
