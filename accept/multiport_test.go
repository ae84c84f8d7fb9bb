package accept

import "testing"

func TestParsePortRangeSinglePort(t *testing.T) {
	pr, err := ParsePortRange("0.0.0.0:7000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.Host != "0.0.0.0" || pr.Min != 7000 || pr.Max != 7000 {
		t.Fatalf("unexpected result: %+v", pr)
	}
}

func TestParsePortRangeSpan(t *testing.T) {
	pr, err := ParsePortRange("example.com:7000-7009")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.Host != "example.com" || pr.Min != 7000 || pr.Max != 7009 {
		t.Fatalf("unexpected result: %+v", pr)
	}
}

func TestParsePortRangeInvalid(t *testing.T) {
	cases := []string{"nocolon", "host:0", "host:70000", "host:7009-7000"}
	for _, c := range cases {
		if _, err := ParsePortRange(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}
