package skitter

import (
	"context"
	"sync"
	"testing"
	"time"
)

// orderingStrategy records, for every Process call, the message it
// received, in arrival order — used to verify Testable Property 5.
type orderingStrategy struct {
	mu   *sync.Mutex
	seen *[]interface{}
	done chan struct{}
	want int
}

func (s orderingStrategy) Deploy(ctx Context, args interface{}) (interface{}, error) { return nil, nil }
func (s orderingStrategy) Deliver(ctx Context, record interface{}, inPortIndex int) error {
	return nil
}
func (s orderingStrategy) Process(ctx Context, message interface{}, workerState interface{}, tag string) (ProcessResult, error) {
	s.mu.Lock()
	*s.seen = append(*s.seen, message)
	n := len(*s.seen)
	s.mu.Unlock()

	if n == s.want {
		close(s.done)
	}
	return ProcessResult{}, nil
}

// TestPerWorkerOrdering is Testable Property 5: messages sent in order
// to the same receiver are processed in that order, since a worker's
// mailbox is a single channel drained by one goroutine.
func TestPerWorkerOrdering(t *testing.T) {
	op, err := NewOperation("op", []string{"in"}, nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	seen := []interface{}{}
	done := make(chan struct{})

	strategyName := "ordering"
	strategies := NewStrategyRegistry()
	strategies.Register(strategyName, orderingStrategy{mu: &mu, seen: &seen, done: done, want: 50})

	cluster := NewCluster("n1", ModeLocal)
	rt := NewRuntime("n1", NewRegistry(), strategies, cluster, nil, nil)

	ref := DeploymentRef("dep")
	flat := &FlattenedWorkflow{Nodes: []FlatNode{{Name: "a", Operation: op, Strategy: strategyName}}}
	rt.registerDeployment(ref, flat, []*Option{defaultOption})

	owning := Context{
		ctx:       context.Background(),
		Strategy:  strategyName,
		Operation: op,
		Node:      NodeRef{Deployment: ref, Index: 0},
		runtime:   rt,
	}

	wref, err := rt.CreateLocal(owning, nil, "", LifetimeDeployment)
	if err != nil {
		t.Fatal(err)
	}

	inv := NewInvocation()
	for i := 0; i < 50; i++ {
		if err := rt.Send(wref, inv, i); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected all 50 messages to be processed")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range seen {
		if v.(int) != i {
			t.Fatalf("expected message %d to be processed in send order, got order %v", i, seen)
		}
	}
}

// TestPlacementIdempotence is Testable Property 6: create_local with
// identical inputs returns distinct worker refs, each starting from
// independently-copied, but value-equal, initial state — later mutation
// of one must never be visible through the other.
func TestPlacementIdempotence(t *testing.T) {
	op, err := NewOperation("op", []string{"in"}, nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	type echoResult struct {
		worker int
		state  map[string]interface{}
	}

	var mu sync.Mutex
	var results []echoResult
	done := make(chan struct{}, 2)

	strategies := NewStrategyRegistry()
	cluster := NewCluster("n1", ModeLocal)
	rt := NewRuntime("n1", NewRegistry(), strategies, cluster, nil, nil)

	ref := DeploymentRef("dep")
	flat := &FlattenedWorkflow{Nodes: []FlatNode{{Name: "a", Operation: op, Strategy: "echo"}}}
	rt.registerDeployment(ref, flat, []*Option{defaultOption})

	strategies.Register("echo", echoStrategy{
		record: func(workerIdx int, state interface{}) {
			mu.Lock()
			results = append(results, echoResult{worker: workerIdx, state: state.(map[string]interface{})})
			mu.Unlock()
			done <- struct{}{}
		},
	})

	owning := Context{
		ctx:       context.Background(),
		Strategy:  "echo",
		Operation: op,
		Node:      NodeRef{Deployment: ref, Index: 0},
		runtime:   rt,
	}

	initial := map[string]interface{}{"count": 0.0}

	refA, err := rt.CreateLocal(owning, initial, "0", LifetimeDeployment)
	if err != nil {
		t.Fatal(err)
	}
	refB, err := rt.CreateLocal(owning, initial, "1", LifetimeDeployment)
	if err != nil {
		t.Fatal(err)
	}

	if refA == refB {
		t.Fatal("expected create_local to return distinct refs for separate calls")
	}

	inv := NewInvocation()
	if err := rt.Send(refA, inv, "probe"); err != nil {
		t.Fatal(err)
	}
	if err := rt.Send(refB, inv, "probe"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-deadline:
			t.Fatal("expected both workers to report their initial state")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 {
		t.Fatalf("expected two reports, got %d", len(results))
	}
	if results[0].state["count"] != results[1].state["count"] {
		t.Fatalf("expected both workers' initial state to be value-equal, got %v and %v", results[0].state, results[1].state)
	}

	// mutate one worker's reported map and confirm it didn't alias the
	// other's deep-copied state.
	results[0].state["count"] = 999.0
	if results[1].state["count"] == 999.0 {
		t.Fatal("expected create_local's per-worker state copies to be independent")
	}
}

// echoStrategy reports whatever workerState it's given back to record,
// without mutating or forwarding anything — used to inspect a worker's
// post-create_local initial state from outside.
type echoStrategy struct {
	record func(workerIdx int, state interface{})
}

func (echoStrategy) Deploy(ctx Context, args interface{}) (interface{}, error) { return nil, nil }
func (echoStrategy) Deliver(ctx Context, record interface{}, inPortIndex int) error {
	return nil
}
func (s echoStrategy) Process(ctx Context, message interface{}, workerState interface{}, tag string) (ProcessResult, error) {
	idx := 0
	if tag == "1" {
		idx = 1
	}
	s.record(idx, workerState)
	return ProcessResult{}, nil
}
