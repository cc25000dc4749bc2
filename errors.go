package skitter

import "fmt"

// DefinitionError reports a malformed operation or workflow: port
// collisions, unknown strategies, links to unknown ports, or emits to
// ports that were never declared. Most cases are raised at load/flatten
// time. Emits are only seen once a workflow runs: a ProcessResult that
// emits on an undeclared out-port, or targets one port through both Emit
// and EmitInvocation, yields a DefinitionError that the worker logs
// before dropping that result. Manager.Deliver also returns one for an
// unknown node or in-port name.
type DefinitionError struct {
	Operation string
	Reason    string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("skitter: definition error in %q: %s", e.Operation, e.Reason)
}

// StrategyError is raised when a hook is invoked against a context whose
// operation does not satisfy the strategy's requirements, e.g. a missing
// callback or an arity mismatch. It is fatal for the deployment that
// produced it and surfaces through the deployment Manager.
type StrategyError struct {
	Strategy  string
	Operation string
	Reason    string
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("skitter: strategy %q rejected operation %q: %s", e.Strategy, e.Operation, e.Reason)
}

// PlacementError indicates a placement constraint (On/With/Avoid) could not
// be satisfied. It is recoverable: the strategy that requested the worker
// decides whether to retry or fail.
type PlacementError struct {
	Constraint string
	Reason     string
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("skitter: placement error (%s): %s", e.Constraint, e.Reason)
}

// NodeDown indicates a send targeted a worker whose node is no longer part
// of the cluster. The default router policy is to log and drop; a
// strategy that wants different behavior observes this error from
// Context.Send and decides how to react.
type NodeDown struct {
	Node     string
	WorkerID string
}

func (e *NodeDown) Error() string {
	return fmt.Sprintf("skitter: node %q is down, cannot reach worker %q", e.Node, e.WorkerID)
}

// CallbackFailure wraps a panic recovered from user callback code. The
// worker that produced it is restarted with its operation's initial
// state; the message that triggered the panic is dropped.
type CallbackFailure struct {
	Operation string
	Callback  string
	Cause     error
}

func (e *CallbackFailure) Error() string {
	return fmt.Sprintf("skitter: callback %q of operation %q failed: %s", e.Callback, e.Operation, e.Cause)
}

func (e *CallbackFailure) Unwrap() error { return e.Cause }

// MissingField is returned by read_field/write_field when state is not a
// record or does not carry the requested field.
type MissingField struct {
	Field string
}

func (e *MissingField) Error() string {
	return fmt.Sprintf("skitter: missing field %q", e.Field)
}
