package skitter

import "testing"

// TestMatcherCompleteness is Testable Property 3: for any sequence of
// tokens belonging to a single invocation of an arity-k operation, Add
// reports Ready exactly when k distinct port indices have been
// supplied, and the returned args vector is ordered by port index.
func TestMatcherCompleteness(t *testing.T) {
	m := NewMatcher()
	inv := Invocation("inv-1")

	if r := m.Add(Token{Invocation: inv, PortIndex: 1, Value: "b"}, 3); r.Ready {
		t.Fatal("expected not ready after 1 of 3 ports")
	}
	if r := m.Add(Token{Invocation: inv, PortIndex: 0, Value: "a"}, 3); r.Ready {
		t.Fatal("expected not ready after 2 of 3 ports")
	}

	r := m.Add(Token{Invocation: inv, PortIndex: 2, Value: "c"}, 3)
	if !r.Ready {
		t.Fatal("expected ready after all 3 ports supplied")
	}

	want := []interface{}{"a", "b", "c"}
	if len(r.Args) != len(want) {
		t.Fatalf("expected args %v, got %v", want, r.Args)
	}
	for i := range want {
		if r.Args[i] != want[i] {
			t.Fatalf("expected args ordered by port index %v, got %v", want, r.Args)
		}
	}
}

func TestMatcherIndependentInvocations(t *testing.T) {
	m := NewMatcher()

	r1 := m.Add(Token{Invocation: "a", PortIndex: 0, Value: 1}, 2)
	r2 := m.Add(Token{Invocation: "b", PortIndex: 0, Value: 2}, 2)
	if r1.Ready || r2.Ready {
		t.Fatal("neither invocation should be ready with only one port each")
	}

	r1 = m.Add(Token{Invocation: "a", PortIndex: 1, Value: 10}, 2)
	if !r1.Ready || r1.Args[0] != 1 || r1.Args[1] != 10 {
		t.Fatalf("expected invocation a ready with [1 10], got %+v", r1)
	}

	r2 = m.Add(Token{Invocation: "b", PortIndex: 1, Value: 20}, 2)
	if !r2.Ready || r2.Args[0] != 2 || r2.Args[1] != 20 {
		t.Fatalf("expected invocation b ready with [2 20], got %+v", r2)
	}
}

func TestMatcherDuplicateTokenOverwrites(t *testing.T) {
	m := NewMatcher()
	inv := Invocation("inv")

	m.Add(Token{Invocation: inv, PortIndex: 0, Value: "first"}, 2)
	m.Add(Token{Invocation: inv, PortIndex: 0, Value: "second"}, 2)
	r := m.Add(Token{Invocation: inv, PortIndex: 1, Value: "b"}, 2)

	if !r.Ready || r.Args[0] != "second" {
		t.Fatalf("expected the second arrival on port 0 to win, got %+v", r)
	}
}
