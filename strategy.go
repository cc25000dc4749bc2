package skitter

import "sync"

// EmitWithInvocation pairs a value with the invocation it should be
// stamped with, used by ProcessResult.EmitInvocation for strategies
// (typically sources) that mint a fresh invocation per emitted record.
type EmitWithInvocation struct {
	Value      interface{}
	Invocation Invocation
}

// ProcessResult is returned by a strategy's Process hook. A nil State
// means "no change"; a nil/absent port in Emit or EmitInvocation means
// "no emit" for that port, per spec §4.2.
type ProcessResult struct {
	State          *interface{}
	Emit           map[string][]interface{}
	EmitInvocation map[string][]EmitWithInvocation
}

// taggedRecord is a value paired with the invocation it is carried
// under as it crosses the router.
type taggedRecord struct {
	value      interface{}
	invocation Invocation
}

// Strategy is the pluggable distribution policy every operation instance
// goes through, per spec §4.2. The runtime never routes a record
// directly: Deploy calls Deploy once per operation instance, the router
// calls Deliver on every cross-edge record, and each worker calls
// Process when it receives a message.
type Strategy interface {
	// Deploy is called once per operation instance during workflow
	// deployment. Its return value becomes ctx.DeploymentData for every
	// subsequent hook invocation against this operation instance.
	Deploy(ctx Context, args interface{}) (deploymentData interface{}, err error)

	// Deliver is called by the router each time a record crosses an
	// edge whose destination is this operation. It must not compute
	// results, only forward record to an appropriate worker.
	Deliver(ctx Context, record interface{}, inPortIndex int) error

	// Process is called on the worker's node when it dequeues a
	// message.
	Process(ctx Context, message interface{}, workerState interface{}, tag string) (ProcessResult, error)
}

// StrategyRegistry resolves strategies by name at deploy time, per
// spec §9: the operation/strategy reference cycle is broken by looking
// strategies up by name rather than holding a direct pointer.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewStrategyRegistry returns an empty strategy registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{strategies: map[string]Strategy{}}
}

// Register adds a named strategy implementation.
func (r *StrategyRegistry) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

// Lookup resolves a strategy by name.
func (r *StrategyRegistry) Lookup(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.strategies[name]
	if !ok {
		return nil, &DefinitionError{Operation: name, Reason: "unknown strategy"}
	}
	return s, nil
}

// DefaultStrategyRegistry is the process-wide strategy registry
// NewRuntime falls back to when it is given a nil strategy registry.
var DefaultStrategyRegistry = NewStrategyRegistry()
