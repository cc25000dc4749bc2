package skitter

import (
	"math/rand"
	"testing"
)

func TestNewOperationRejectsDuplicatePorts(t *testing.T) {
	_, err := NewOperation("dup", []string{"a", "a"}, nil, nil, "")
	if err == nil {
		t.Fatal("expected DefinitionError for duplicate in-port names")
	}
	if _, ok := err.(*DefinitionError); !ok {
		t.Fatalf("expected *DefinitionError, got %T", err)
	}
}

func TestOperationPortIndexing(t *testing.T) {
	op, err := NewOperation("op", []string{"a", "b"}, []string{"x"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	if idx, ok := op.InPortIndex("b"); !ok || idx != 1 {
		t.Fatalf("expected in-port b at index 1, got %d, %v", idx, ok)
	}
	if name, ok := op.IndexToInPort(0); !ok || name != "a" {
		t.Fatalf("expected index 0 to be in-port a, got %q, %v", name, ok)
	}
	if _, ok := op.InPortIndex("nope"); ok {
		t.Fatal("expected unknown port to resolve to false")
	}
}

func TestOperationCallMissingCallback(t *testing.T) {
	op, err := NewOperation("op", []string{"a"}, nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := op.Call("react", 1, nil, nil, nil); err == nil {
		t.Fatal("expected StrategyError calling an unregistered callback")
	}

	res := op.CallIfExists("react", 1, nil, nil, nil)
	if res.Value != nil || len(res.Emit) != 0 {
		t.Fatalf("expected no-op result from CallIfExists, got %+v", res)
	}
}

// TestCallbackInfoDynamicAgreement is Testable Property 1: a callback's
// declared CallbackInfo must agree with a dynamic trace over 100
// random (state, config, args) inputs.
func TestCallbackInfoDynamicAgreement(t *testing.T) {
	op, err := NewOperation("traced", []string{"v"}, []string{"out"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	declared := CallbackInfo{ReadsState: true, WritesState: true, Emits: true}
	op.RegisterCallback("react", 1, declared, func(c *Call) interface{} {
		state := c.ReadState()
		v, _ := c.Args()[0].(int)
		next := 0
		if n, ok := state.(int); ok {
			next = n + v
		} else {
			next = v
		}
		c.WriteState(next)
		c.Emit("out", []interface{}{next})
		return next
	})

	rng := rand.New(rand.NewSource(1))

	var observed CallbackInfo
	for i := 0; i < 100; i++ {
		_, trace, err := op.CallTraced("react", 1, rng.Int(), nil, []interface{}{rng.Int()})
		if err != nil {
			t.Fatal(err)
		}
		observed.ReadsState = observed.ReadsState || trace.ReadsState
		observed.WritesState = observed.WritesState || trace.WritesState
		observed.Emits = observed.Emits || trace.Emits
	}

	if observed != declared {
		t.Fatalf("declared CallbackInfo %+v disagrees with observed trace %+v", declared, observed)
	}
}

func TestCallbackInfoDynamicAgreementDetectsOverclaim(t *testing.T) {
	op, err := NewOperation("overclaim", []string{"v"}, nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	// Declares writes_state but the body never calls write_state/write_field.
	op.RegisterCallback("react", 1, CallbackInfo{WritesState: true}, func(c *Call) interface{} {
		return c.Args()[0]
	})

	_, trace, err := op.CallTraced("react", 1, nil, nil, []interface{}{1})
	if err != nil {
		t.Fatal(err)
	}
	if trace.WritesState {
		t.Fatal("expected observed trace to show no write_state call")
	}
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	op, err := NewOperation("a", nil, nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.Register(op); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(op); err == nil {
		t.Fatal("expected error re-registering the same operation name")
	}

	if _, err := reg.Lookup("a"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Lookup("missing"); err == nil {
		t.Fatal("expected DefinitionError for unknown operation name")
	}
}
