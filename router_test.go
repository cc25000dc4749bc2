package skitter

import (
	"sync"
	"testing"
)

// countingStrategy records every Deliver call it receives; used to
// verify router exclusivity (Testable Property 4) without needing a
// real worker/process pipeline.
type countingStrategy struct {
	mu       sync.Mutex
	delivers []interface{}
}

func (s *countingStrategy) Deploy(ctx Context, args interface{}) (interface{}, error) {
	return nil, nil
}

func (s *countingStrategy) Deliver(ctx Context, record interface{}, inPortIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivers = append(s.delivers, record)
	return nil
}

func (s *countingStrategy) Process(ctx Context, message interface{}, workerState interface{}, tag string) (ProcessResult, error) {
	return ProcessResult{}, nil
}

func (s *countingStrategy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivers)
}

// TestRouterExclusivity is Testable Property 4: for an emit port -> [v1..vn]
// with destinations [d1..dm], exactly n*m deliver calls occur.
func TestRouterExclusivity(t *testing.T) {
	op, err := NewOperation("op", []string{"in"}, []string{"out"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	fake := &countingStrategy{}
	strategies := NewStrategyRegistry()
	strategies.Register("fake", fake)

	cluster := NewCluster("n1", ModeLocal)
	rt := NewRuntime("n1", NewRegistry(), strategies, cluster, nil, nil)

	flat := &FlattenedWorkflow{Nodes: []FlatNode{
		{
			Name: "src", Operation: op, Strategy: "fake",
			Links: map[string][]LinkTarget{
				"out": {{NodeIndex: 1, PortIndex: 0}, {NodeIndex: 2, PortIndex: 0}},
			},
		},
		{Name: "d1", Operation: op, Strategy: "fake"},
		{Name: "d2", Operation: op, Strategy: "fake"},
	}}

	ref := DeploymentRef("dep")
	rt.registerDeployment(ref, flat, []*Option{defaultOption, defaultOption, defaultOption})

	records := []taggedRecord{
		{value: "v1", invocation: External},
		{value: "v2", invocation: External},
		{value: "v3", invocation: External},
	}

	rt.router().route(NodeRef{Deployment: ref, Index: 0}, "out", records)

	want := len(records) * 2 // 2 destinations
	if got := fake.count(); got != want {
		t.Fatalf("expected %d deliver calls (n*m), got %d", want, got)
	}
}

func TestRouterDiscardsUnlinkedPort(t *testing.T) {
	op, err := NewOperation("op", nil, []string{"out"}, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	fake := &countingStrategy{}
	strategies := NewStrategyRegistry()
	strategies.Register("fake", fake)

	cluster := NewCluster("n1", ModeLocal)
	rt := NewRuntime("n1", NewRegistry(), strategies, cluster, nil, nil)

	flat := &FlattenedWorkflow{Nodes: []FlatNode{{Name: "src", Operation: op, Strategy: "fake"}}}
	ref := DeploymentRef("dep")
	rt.registerDeployment(ref, flat, []*Option{defaultOption})

	rt.router().route(NodeRef{Deployment: ref, Index: 0}, "out", []taggedRecord{{value: "v", invocation: External}})

	if got := fake.count(); got != 0 {
		t.Fatalf("expected records on an unlinked port to be discarded, got %d deliver calls", got)
	}
}
