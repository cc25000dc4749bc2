package skitter

import (
	"context"
	"time"
)

// NodeRef identifies a node within one deployed workflow: the
// deployment it belongs to and its dense index in the flattened node
// list (spec §4.7 step 5's `context_i = {strategy, operation, ref: (R,i)}`).
type NodeRef struct {
	Deployment DeploymentRef
	Index      int
}

// Context is the immutable environment passed into every strategy hook
// (spec §3). DeploymentData is populated once, during Deploy, and is
// read-only thereafter; Invocation is External for records that entered
// from outside the system.
type Context struct {
	ctx            context.Context
	Strategy       string
	Operation      *Operation
	DeploymentData interface{}
	Invocation     Invocation
	Node           NodeRef

	runtime *Runtime
}

// WithInvocation returns a copy of c bound to a different invocation
// token, the way a worker binds the invocation carried by an incoming
// message before calling the strategy's process hook (spec §4.3).
func (c Context) WithInvocation(inv Invocation) Context {
	c.Invocation = inv
	return c
}

// CreateLocal creates a worker owned by this node (spec §4.2's
// create_local primitive), usable from any strategy hook.
func (c Context) CreateLocal(state interface{}, tag string, lifetime Lifetime) (WorkerRef, error) {
	return c.runtime.CreateLocal(c, state, tag, lifetime)
}

// CreateRemote resolves placement and creates a worker on the chosen
// node (spec §4.2's create_remote primitive).
func (c Context) CreateRemote(state interface{}, tag string, lifetime Lifetime, placement Placement) (WorkerRef, error) {
	return c.runtime.CreateRemote(c, state, tag, lifetime, placement)
}

// Send delivers message to ref under invocation (spec §4.2's
// worker.send primitive).
func (c Context) Send(ref WorkerRef, invocation Invocation, message interface{}) error {
	return c.runtime.Send(ref, invocation, message)
}

// Stop destroys ref.
func (c Context) Stop(ref WorkerRef) error {
	return c.runtime.Stop(ref)
}

// WorkerCores returns the currently connected worker nodes, the
// capacity set a strategy's default round-robin/keyed placement spreads
// across (spec §4.3).
func (c Context) WorkerCores() []string {
	if c.runtime == nil || c.runtime.cluster == nil {
		return nil
	}
	return c.runtime.cluster.Nodes()
}


// Deadline/Done/Err/Value satisfy context.Context so hooks can pass c
// straight into anything that suspends (cross-node calls, timers).
func (c Context) Deadline() (deadline time.Time, ok bool) { return c.ctx.Deadline() }
func (c Context) Done() <-chan struct{}                   { return c.ctx.Done() }
func (c Context) Err() error                              { return c.ctx.Err() }
func (c Context) Value(key interface{}) interface{}       { return c.ctx.Value(key) }
