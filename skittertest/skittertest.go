// Package skittertest provides reusable test support: a dynamic
// CallbackInfo verifier (Testable Property 1) and a minimal harness for
// wiring a Runtime/Cluster pair without a real network, the way the
// teacher's testing package built fixtures for machine's plugin-style
// components.
package skittertest

import (
	"math/rand"
	"sync"
	"time"

	skitter "github.com/skitter-run/skitter"
)

// Trials is the number of random (state, config, args) samples
// VerifyCallbackInfo draws per spec §8 property 1 ("100 random
// inputs").
const Trials = 100

// RandomInputs generates one random (state, config, args) sample for a
// callback of the given arity. Callers typically supply a closure over
// their operation's state/config shapes; this default generates plain
// scalars, sufficient for operations whose callbacks only care whether
// state/args are present, not their exact shape.
type RandomInputs func(rng *rand.Rand, arity int) (state, config interface{}, args []interface{})

// DefaultRandomInputs produces a random float64 state, a random int
// config, and arity random float64 args — generic filler for
// VerifyCallbackInfo callers that don't need realistic domain values,
// only to exercise whichever primitives a callback touches.
func DefaultRandomInputs(rng *rand.Rand, arity int) (interface{}, interface{}, []interface{}) {
	args := make([]interface{}, arity)
	for i := range args {
		args[i] = rng.Float64() * 100
	}
	return rng.Float64() * 100, rng.Int(), args
}

// VerifyCallbackInfo draws Trials random inputs for (name, arity) on op
// and checks that the declared CallbackInfo agrees with the OR of every
// trial's observed trace: each of reads_state/writes_state/emits must
// be true in the declared info iff at least one trial observed it, per
// spec §8 property 1. It returns a non-nil error describing the first
// disagreement found, or nil if the declared info matches.
func VerifyCallbackInfo(op *skitter.Operation, name string, arity int, gen RandomInputs, seed int64) error {
	if gen == nil {
		gen = DefaultRandomInputs
	}

	declared, ok := op.CallbackInfo(name, arity)
	if !ok {
		return &mismatchError{op: op.Name(), name: name, arity: arity, reason: "no such callback registered"}
	}

	rng := rand.New(rand.NewSource(seed))

	var observedReads, observedWrites, observedEmits bool

	for i := 0; i < Trials; i++ {
		state, config, args := gen(rng, arity)

		_, trace, err := op.CallTraced(name, arity, state, config, args)
		if err != nil {
			return err
		}

		observedReads = observedReads || trace.ReadsState
		observedWrites = observedWrites || trace.WritesState
		observedEmits = observedEmits || trace.Emits
	}

	switch {
	case declared.ReadsState != observedReads:
		return &mismatchError{op: op.Name(), name: name, arity: arity, reason: "reads_state disagreement", declared: declared.ReadsState, observed: observedReads}
	case declared.WritesState != observedWrites:
		return &mismatchError{op: op.Name(), name: name, arity: arity, reason: "writes_state disagreement", declared: declared.WritesState, observed: observedWrites}
	case declared.Emits != observedEmits:
		return &mismatchError{op: op.Name(), name: name, arity: arity, reason: "emits disagreement", declared: declared.Emits, observed: observedEmits}
	}

	return nil
}

// NewLocalRuntime builds a single-node Runtime in ModeLocal with its
// own Registry and StrategyRegistry, transport-less (remote sends fail
// with NodeDown), matching the in-process harness shape the teacher's
// testing package built around machine's plugin interfaces.
func NewLocalRuntime(nodeName string) *skitter.Runtime {
	reg := skitter.NewRegistry()
	strategies := skitter.NewStrategyRegistry()
	cluster := skitter.NewCluster(nodeName, skitter.ModeLocal)
	return skitter.NewRuntime(nodeName, reg, strategies, cluster, nil, nil)
}

// Collector is a sink operation for end-to-end tests: its single
// "value" in-port callback appends every record it receives to an
// internal slice a test can poll with WaitForCount, standing in for the
// downstream operation an E1/E2/E3-style scenario's last link normally
// feeds.
type Collector struct {
	mu      sync.Mutex
	values  []interface{}
	notify  chan struct{}
}

// NewCollector returns a Collector's Operation (registered under name,
// arity-1, in-port "value", no out-ports) and the Collector itself so
// the test can WaitForCount/Values on it once deployed with a Broadcast-style
// strategy.
func NewCollector(name string) (*skitter.Operation, *Collector) {
	c := &Collector{notify: make(chan struct{}, 1)}

	op, err := skitter.NewOperation(name, []string{"value"}, nil, nil, "")
	if err != nil {
		panic(err) // port list is fixed and always valid
	}

	op.RegisterCallback("react", 1, skitter.CallbackInfo{}, func(call *skitter.Call) interface{} {
		v := call.Args()[0]
		c.mu.Lock()
		c.values = append(c.values, v)
		c.mu.Unlock()
		select {
		case c.notify <- struct{}{}:
		default:
		}
		return v
	})

	return op, c
}

// Values returns a snapshot of every record received so far.
func (c *Collector) Values() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}{}, c.values...)
}

// WaitForCount blocks until at least n records have been collected or
// timeout elapses, returning the snapshot at that point. Tests use this
// instead of a fixed sleep because worker processing is asynchronous
// (spec §5: a worker's mailbox is drained by its own goroutine).
func (c *Collector) WaitForCount(n int, timeout time.Duration) []interface{} {
	deadline := time.Now().Add(timeout)

	for {
		if v := c.Values(); len(v) >= n {
			return v
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.Values()
		}

		select {
		case <-c.notify:
		case <-time.After(remaining):
		}
	}
}

// LoopbackTransport implements skitter.Transport by dispatching every
// call straight back into the same process's Runtime, regardless of
// the node name addressed — standing in for a real multi-node cluster
// in tests that need to exercise CreateRemote/Placement without a
// network (e.g. a Keyed strategy spreading workers across several
// advertised worker cores). It is only meaningful when every "core"
// name the test registers is otherwise unreachable, since the loopback
// always resolves to this process.
type LoopbackTransport struct {
	handler skitter.FrameHandler
}

// NewLoopbackTransport returns a transport that services every remote
// call against handler (ordinarily the same *skitter.Runtime the
// transport is later wired into via SetTransport).
func NewLoopbackTransport(handler skitter.FrameHandler) *LoopbackTransport {
	return &LoopbackTransport{handler: handler}
}

func (l *LoopbackTransport) CreateRemote(node string, owner skitter.NodeRef, state interface{}, tag string, lifetime skitter.Lifetime) (skitter.WorkerRef, error) {
	return l.handler.HandleCreateRemote(owner, state, tag, lifetime)
}

func (l *LoopbackTransport) SendWorkerMsg(ref skitter.WorkerRef, invocation skitter.Invocation, message interface{}) error {
	return l.handler.HandleWorkerMsg(ref, invocation, message)
}

func (l *LoopbackTransport) Stop(ref skitter.WorkerRef) error {
	return l.handler.HandleStop(ref)
}

func (l *LoopbackTransport) PublishDeployment(node string, ref skitter.DeploymentRef, flat *skitter.FlattenedWorkflow, options []*skitter.Option) error {
	return l.handler.HandlePublishDeployment(ref, flat, options)
}

func (l *LoopbackTransport) PublishDeploymentData(node string, ref skitter.DeploymentRef, data []interface{}) error {
	return l.handler.HandlePublishData(ref, data)
}

func (l *LoopbackTransport) Close(node string, ref skitter.DeploymentRef) error {
	return l.handler.HandleClose(ref)
}

type mismatchError struct {
	op, name, reason string
	arity            int
	declared         bool
	observed         bool
}

func (e *mismatchError) Error() string {
	return "skittertest: " + e.op + "/" + e.name + ": " + e.reason
}
