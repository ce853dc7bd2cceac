package id

import "testing"

func TestNodeIdStringRoundTrip(t *testing.T) {
	n := New("host1", 40010, 7)
	if got, want := n.String(), "nid://host1:40010/"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	parsed, err := Parse(n.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Host != n.Host || parsed.Port != n.Port {
		t.Fatalf("Parse() = %+v, want host/port of %+v", parsed, n)
	}
}

func TestProcessIdStringRoundTrip(t *testing.T) {
	p := ProcessId{Node: New("host1", 40010, 0), Local: 42}
	if got, want := p.String(), "pid://host1:40010/42/"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	parsed, err := ParsePid(p.String())
	if err != nil {
		t.Fatalf("ParsePid: %v", err)
	}
	if parsed != (ProcessId{Node: New("host1", 40010, 0), Local: 42}) {
		t.Fatalf("ParsePid() = %+v, want %+v", parsed, p)
	}
}

func TestNodeIdEquality(t *testing.T) {
	a := New("host1", 40010, 1)
	b := New("host1", 40011, 1)
	if a == b {
		t.Fatalf("nodes with different ports must differ")
	}
	c := New("host1", 40010, 1)
	if a != c {
		t.Fatalf("identical triples must be equal")
	}
}
