package skitter

import (
	"context"
	"testing"
	"time"
)

// noopStrategy is a minimal Strategy stub for tests that only need a
// worker's message loop, not real deploy/deliver behavior.
type noopStrategy struct{}

func (noopStrategy) Deploy(ctx Context, args interface{}) (interface{}, error) { return nil, nil }
func (noopStrategy) Deliver(ctx Context, record interface{}, inPortIndex int) error {
	return nil
}
func (noopStrategy) Process(ctx Context, message interface{}, workerState interface{}, tag string) (ProcessResult, error) {
	return ProcessResult{}, nil
}

// TestInvocationLifetimeWorkerStopsAfterProcessing is scenario E6: an
// invocation-lifetime worker created for invocation I is stoppable once
// no pending messages for I remain, and a send after that point fails.
func TestInvocationLifetimeWorkerStopsAfterProcessing(t *testing.T) {
	op, err := NewOperation("op", []string{"in"}, nil, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	strategies := NewStrategyRegistry()
	strategies.Register("noop", noopStrategy{})

	cluster := NewCluster("n1", ModeLocal)
	rt := NewRuntime("n1", NewRegistry(), strategies, cluster, nil, nil)

	ref := DeploymentRef("dep")
	flat := &FlattenedWorkflow{Nodes: []FlatNode{{Name: "a", Operation: op, Strategy: "noop"}}}
	rt.registerDeployment(ref, flat, []*Option{defaultOption})

	owning := Context{
		ctx:       context.Background(),
		Strategy:  "noop",
		Operation: op,
		Node:      NodeRef{Deployment: ref, Index: 0},
		runtime:   rt,
	}

	wref, err := rt.CreateLocal(owning, nil, "", LifetimeInvocation)
	if err != nil {
		t.Fatal(err)
	}

	inv := NewInvocation()
	if err := rt.Send(wref, inv, "msg"); err != nil {
		t.Fatalf("expected first send to an invocation-lifetime worker to succeed, got %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if err := rt.Send(wref, inv, "msg2"); err == errStopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected invocation-lifetime worker to self-stop after its single message completed")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestNodeDownRemovesFromRegistryAndRejectsSends is scenario E5's
// in-process shape: once a node transitions Down, the registry no
// longer lists it, sends to its workers fail with NodeDown, and
// placement against it fails.
func TestNodeDownRemovesFromRegistryAndRejectsSends(t *testing.T) {
	cluster := NewCluster("n1", ModeMaster)
	rt := NewRuntime("n1", NewRegistry(), NewStrategyRegistry(), cluster, nil, nil)

	if err := cluster.Connect("w1", ModeWorker, []string{"x"}); err != nil {
		t.Fatal(err)
	}
	if !cluster.HasNode("w1") {
		t.Fatal("expected w1 to be connected")
	}

	cluster.Down("w1")

	if cluster.HasNode("w1") {
		t.Fatal("expected w1 removed from the registry after Down")
	}

	ref := WorkerRef{ID: "abc", Node: "w1"}
	err := rt.Send(ref, External, "msg")
	if _, ok := err.(*NodeDown); !ok {
		t.Fatalf("expected *NodeDown sending to a down node's worker, got %v (%T)", err, err)
	}

	ps := NewPlacementService(cluster)
	if _, err := ps.Resolve(Placement{On: "w1"}, func(WorkerRef) (string, bool) { return "", false }); err == nil {
		t.Fatal("expected PlacementError placing On a down node")
	}
}
