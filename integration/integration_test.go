// Package integration exercises spec.md §8's end-to-end scenarios
// (E1-E4) against the shipped skitter runtime, the worked-example
// operations in the operations package, and the reference strategies in
// the strategies package — the same way builder_test.go in the teacher
// repo deployed a real Stream rather than unit-testing vertex.go alone.
package integration_test

import (
	"sort"
	"testing"
	"time"

	skitter "github.com/skitter-run/skitter"
	"github.com/skitter-run/skitter/operations"
	"github.com/skitter-run/skitter/skittertest"
	"github.com/skitter-run/skitter/strategies"
)

const waitTimeout = 2 * time.Second

func newTestRuntime(t *testing.T) *skitter.Runtime {
	t.Helper()

	reg := skitter.NewRegistry()
	strategyReg := skitter.NewStrategyRegistry()
	strategyReg.Register("broadcast", strategies.Broadcast{})
	strategyReg.Register("keyed", strategies.Keyed{})
	strategyReg.Register("matched", strategies.Matched{})

	cluster := skitter.NewCluster("n1", skitter.ModeLocal)
	return skitter.NewRuntime("n1", reg, strategyReg, cluster, nil, nil)
}

func mustRegister(t *testing.T, rt *skitter.Runtime, op *skitter.Operation) {
	t.Helper()
	if err := rt.Registry().Register(op); err != nil {
		t.Fatal(err)
	}
}

// TestAverage is scenario E1: feeding [10, 20, 30] through Average
// (Broadcast strategy) must produce emissions [10.0, 15.0, 20.0].
func TestAverage(t *testing.T) {
	rt := newTestRuntime(t)

	avg, err := operations.NewAverage()
	if err != nil {
		t.Fatal(err)
	}
	sinkOp, collector := skittertest.NewCollector("sink")

	mustRegister(t, rt, avg)
	mustRegister(t, rt, sinkOp)

	w := skitter.NewWorkflow("w").
		AddOperation(&skitter.OperationNode{
			Name: "avg", OperationName: "average", Strategy: "broadcast",
			Links: map[string][]skitter.Destination{"current": {{Node: "sink", Port: "value"}}},
		}).
		AddOperation(&skitter.OperationNode{Name: "sink", OperationName: "sink", Strategy: "broadcast"})

	m, err := rt.Deploy(w)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	for _, v := range []float64{10, 20, 30} {
		if err := m.Deliver("avg", "value", v); err != nil {
			t.Fatal(err)
		}
	}

	got := collector.WaitForCount(3, waitTimeout)
	want := []float64{10.0, 15.0, 20.0}
	if len(got) != len(want) {
		t.Fatalf("expected %d emissions, got %v", len(want), got)
	}
	for i, w := range want {
		if got[i].(float64) != w {
			t.Fatalf("expected emission %d to be %v, got %v", i, want, got)
		}
	}
}

// TestPrint is scenario E2: Print forwards each input unchanged to its
// single out-port after printing "label: v".
func TestPrint(t *testing.T) {
	rt := newTestRuntime(t)

	printOp, err := operations.NewPrint()
	if err != nil {
		t.Fatal(err)
	}
	sinkOp, collector := skittertest.NewCollector("sink")

	mustRegister(t, rt, printOp)
	mustRegister(t, rt, sinkOp)

	w := skitter.NewWorkflow("w").
		AddOperation(&skitter.OperationNode{
			Name: "p", OperationName: "print", Strategy: "broadcast", Args: "L",
			Links: map[string][]skitter.Destination{"_": {{Node: "sink", Port: "value"}}},
		}).
		AddOperation(&skitter.OperationNode{Name: "sink", OperationName: "sink", Strategy: "broadcast"})

	m, err := rt.Deploy(w)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	for _, v := range []string{"a", "b"} {
		if err := m.Deliver("p", "_", v); err != nil {
			t.Fatal(err)
		}
	}

	got := collector.WaitForCount(2, waitTimeout)
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %d emissions, got %v", len(want), got)
	}
	for i, w := range want {
		if got[i].(string) != w {
			t.Fatalf("expected emission %d to be %q, got %v", i, w, got[i])
		}
	}
}

// TestKeyedStateHashing is scenario E3: Keyed deploys one aggregator
// worker per advertised worker core and routes by key(v) = v mod 4, so
// records sharing a key accumulate on the same worker's running sum.
// Feeding [1, 5, 9, 2, 6, 3] must produce the per-key partial sums
// {1, 6, 15} (key 1), {2, 8} (key 2), {3} (key 3) — a distinguishing
// set from what a single shared-state worker would produce
// ({1, 6, 15, 17, 23, 26}).
func TestKeyedStateHashing(t *testing.T) {
	rt := newTestRuntime(t)
	loopback := skittertest.NewLoopbackTransport(rt)
	rt.SetTransport(loopback)

	cluster := rt.Cluster()
	for i := 0; i < 4; i++ {
		core := []string{"core-0", "core-1", "core-2", "core-3"}[i]
		if err := cluster.Connect(core, skitter.ModeWorker, nil); err != nil {
			t.Fatal(err)
		}
	}

	ks, err := operations.NewKeyedState()
	if err != nil {
		t.Fatal(err)
	}
	sinkOp, collector := skittertest.NewCollector("sink")

	mustRegister(t, rt, ks)
	mustRegister(t, rt, sinkOp)

	w := skitter.NewWorkflow("w").
		AddOperation(&skitter.OperationNode{
			Name: "ks", OperationName: "keyed_state", Strategy: "keyed",
			Links: map[string][]skitter.Destination{"out": {{Node: "sink", Port: "value"}}},
		}).
		AddOperation(&skitter.OperationNode{Name: "sink", OperationName: "sink", Strategy: "broadcast"})

	m, err := rt.Deploy(w)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	for _, v := range []int{1, 5, 9, 2, 6, 3} {
		if err := m.Deliver("ks", "_", v); err != nil {
			t.Fatal(err)
		}
	}

	got := collector.WaitForCount(6, waitTimeout)
	gotInts := make([]int, len(got))
	for i, v := range got {
		gotInts[i] = v.(int)
	}
	sort.Ints(gotInts)

	want := []int{1, 2, 3, 6, 8, 15}
	if len(gotInts) != len(want) {
		t.Fatalf("expected partial sums %v, got %v", want, gotInts)
	}
	for i := range want {
		if gotInts[i] != want[i] {
			t.Fatalf("expected partial sums %v (each key keeping its own running sum), got %v", want, gotInts)
		}
	}
}

// TestMatcherAdder is scenario E4: Matched buffers per-invocation tokens
// until both in-ports of a 2-arity operation have arrived, then forwards
// the port-index-ordered argument vector. Two interleaved invocations
// must complete in the order their final token arrives.
func TestMatcherAdder(t *testing.T) {
	rt := newTestRuntime(t)

	adder, err := operations.NewAdder()
	if err != nil {
		t.Fatal(err)
	}
	sinkOp, collector := skittertest.NewCollector("sink")

	mustRegister(t, rt, adder)
	mustRegister(t, rt, sinkOp)

	w := skitter.NewWorkflow("w").
		AddOperation(&skitter.OperationNode{
			Name: "add", OperationName: "adder", Strategy: "matched",
			Links: map[string][]skitter.Destination{"sum": {{Node: "sink", Port: "value"}}},
		}).
		AddOperation(&skitter.OperationNode{Name: "sink", OperationName: "sink", Strategy: "broadcast"})

	m, err := rt.Deploy(w)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	inv1 := skitter.Invocation("inv-1")
	inv2 := skitter.Invocation("inv-2")

	deliveries := []struct {
		port string
		inv  skitter.Invocation
		v    float64
	}{
		{"a", inv1, 2},
		{"b", inv2, 10},
		{"b", inv1, 3}, // completes inv1: 2+3=5
		{"a", inv2, 7}, // completes inv2: 7+10=17
	}

	for _, d := range deliveries {
		if err := m.DeliverInvocation("add", d.port, d.inv, d.v); err != nil {
			t.Fatal(err)
		}
	}

	got := collector.WaitForCount(2, waitTimeout)
	want := []float64{5, 17}
	if len(got) != len(want) {
		t.Fatalf("expected sums %v in completion order, got %v", want, got)
	}
	for i, w := range want {
		if got[i].(float64) != w {
			t.Fatalf("expected sums %v in completion order, got %v", want, got)
		}
	}
}
