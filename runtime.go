package skitter

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// deployment holds everything a Runtime needs to service one Deploy
// call: the flattened workflow (link-table), the per-node deployment
// data vector, and the per-node merged options. All three are written
// once by Deploy and read thereafter by many goroutines without locking
// (spec §5's replicated-constant-store discipline).
type deployment struct {
	flat    *FlattenedWorkflow
	data    []interface{}
	options []*Option

	mu             sync.Mutex
	localWorkers   map[WorkerRef]*worker
	deploymentRefs []WorkerRef // deployment-lifetime workers, stopped on Close
}

// Runtime is the per-node object tying the registry, strategy registry,
// cluster membership, placement, router, and live workers together. One
// Runtime exists per process (master, worker, or an all-in-one local
// node); Context.runtime points back into it so strategy helpers
// (create_local/create_remote/worker.send) can act.
type Runtime struct {
	NodeName string

	registry  *Registry
	strategy  *StrategyRegistry
	cluster   *Cluster
	placement *PlacementService
	nodes     *nodeTable
	transport Transport

	rt *Router

	mu          sync.RWMutex
	deployments map[DeploymentRef]*deployment

	log *logrus.Logger
}

// NewRuntime constructs a Runtime for nodeName, using reg/strategies for
// lookups (DefaultRegistry/DefaultStrategyRegistry if nil) and cluster
// for membership/placement. transport may be nil for a single-process
// (local) deployment; sends to remote-node worker refs then fail with
// NodeDown immediately rather than attempting network I/O.
func NewRuntime(nodeName string, reg *Registry, strategies *StrategyRegistry, cluster *Cluster, transport Transport, logger *logrus.Logger) *Runtime {
	if reg == nil {
		reg = DefaultRegistry
	}
	if strategies == nil {
		strategies = DefaultStrategyRegistry
	}

	rt := &Runtime{
		NodeName:    nodeName,
		registry:    reg,
		strategy:    strategies,
		cluster:     cluster,
		nodes:       newNodeTable(),
		transport:   transport,
		deployments: map[DeploymentRef]*deployment{},
		log:         loggerOrDefault(logger),
	}
	rt.placement = NewPlacementService(cluster)
	rt.rt = newRouter(rt)
	return rt
}

func (rt *Runtime) logger() *logrus.Logger { return rt.log }
func (rt *Runtime) router() *Router        { return rt.rt }

// Registry returns the operation registry this Runtime resolves
// operation names against.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// Strategies returns the strategy registry this Runtime resolves
// strategy names against.
func (rt *Runtime) Strategies() *StrategyRegistry { return rt.strategy }

// Cluster returns the membership component backing this Runtime's
// placement decisions.
func (rt *Runtime) Cluster() *Cluster { return rt.cluster }

// SetTransport wires t as this Runtime's outbound cross-node transport.
// It exists because a transport's inbound handler is typically the
// Runtime itself (see NewWSTransport), which callers can only construct
// once the Runtime already exists — SetTransport closes that loop after
// the fact instead of requiring a two-phase constructor.
func (rt *Runtime) SetTransport(t Transport) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.transport = t
}

func (rt *Runtime) lookupStrategy(name string) (Strategy, error) {
	return rt.strategy.Lookup(name)
}

func (rt *Runtime) getDeployment(ref DeploymentRef) (*deployment, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	d, ok := rt.deployments[ref]
	if !ok {
		return nil, fmt.Errorf("skitter: unknown deployment %q", ref)
	}
	return d, nil
}

func (rt *Runtime) optionFor(node NodeRef) *Option {
	d, err := rt.getDeployment(node.Deployment)
	if err != nil || node.Index >= len(d.options) {
		return defaultOption
	}
	return d.options[node.Index]
}

// contextFor builds the Context for operation instance node.Index within
// deployment dep, with Invocation defaulting to External until the
// caller binds one via WithInvocation.
func (rt *Runtime) contextFor(dep DeploymentRef, index int) (Context, Strategy, error) {
	d, err := rt.getDeployment(dep)
	if err != nil {
		return Context{}, nil, err
	}
	if index < 0 || index >= len(d.flat.Nodes) {
		return Context{}, nil, fmt.Errorf("skitter: node index %d out of range", index)
	}

	flatNode := d.flat.Nodes[index]

	strat, err := rt.lookupStrategy(flatNode.Strategy)
	if err != nil {
		return Context{}, nil, err
	}

	ctx := Context{
		ctx:            context.Background(),
		Strategy:       flatNode.Strategy,
		Operation:      flatNode.Operation,
		DeploymentData: d.data[index],
		Invocation:     External,
		Node:           NodeRef{Deployment: dep, Index: index},
		runtime:        rt,
	}

	return ctx, strat, nil
}

// CreateLocal creates a worker owned by this node, per spec §4.3.
func (rt *Runtime) CreateLocal(ctx Context, state interface{}, tag string, lifetime Lifetime) (WorkerRef, error) {
	return rt.createOn(rt.NodeName, ctx, state, tag, lifetime)
}

// CreateRemote resolves placement against the cluster's worker cores and
// creates the worker on the chosen node, routing the create through
// Transport when that node is not this one.
func (rt *Runtime) CreateRemote(ctx Context, state interface{}, tag string, lifetime Lifetime, placement Placement) (WorkerRef, error) {
	node, err := rt.placement.Resolve(placement, rt.nodes.get)
	if err != nil {
		return WorkerRef{}, err
	}

	if node == rt.NodeName {
		return rt.createOn(node, ctx, state, tag, lifetime)
	}

	if rt.transport == nil {
		return WorkerRef{}, &NodeDown{Node: node}
	}

	return rt.transport.CreateRemote(node, ctx.Node, state, tag, lifetime)
}

func (rt *Runtime) createOn(node string, ctx Context, state interface{}, tag string, lifetime Lifetime) (WorkerRef, error) {
	d, err := rt.getDeployment(ctx.Node.Deployment)
	if err != nil {
		return WorkerRef{}, err
	}

	ref := WorkerRef{ID: newWorkerID(), Node: node}
	bufferSize := 0
	if opt := rt.optionFor(ctx.Node); opt != nil && opt.BufferSize != nil {
		bufferSize = *opt.BufferSize
	}

	w := newWorker(rt, ref, deepCopyState(state), tag, lifetime, ctx, bufferSize)

	d.mu.Lock()
	if d.localWorkers == nil {
		d.localWorkers = map[WorkerRef]*worker{}
	}
	d.localWorkers[ref] = w
	if lifetime == LifetimeDeployment {
		d.deploymentRefs = append(d.deploymentRefs, ref)
	}
	d.mu.Unlock()

	rt.nodes.put(ref, node)

	return ref, nil
}

// Send delivers message to ref under invocation, routing over Transport
// when ref belongs to another node. It returns NodeDown when the target
// node is no longer part of the cluster.
func (rt *Runtime) Send(ref WorkerRef, invocation Invocation, message interface{}) error {
	if ref.Node == rt.NodeName {
		return rt.sendLocal(ref, invocation, message)
	}

	if !rt.cluster.HasNode(ref.Node) {
		return &NodeDown{Node: ref.Node, WorkerID: ref.ID}
	}

	if rt.transport == nil {
		return &NodeDown{Node: ref.Node, WorkerID: ref.ID}
	}

	return rt.transport.SendWorkerMsg(ref, invocation, message)
}

func (rt *Runtime) sendLocal(ref WorkerRef, invocation Invocation, message interface{}) error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, d := range rt.deployments {
		d.mu.Lock()
		w, ok := d.localWorkers[ref]
		d.mu.Unlock()
		if ok {
			return w.send(invocation, message)
		}
	}

	return &NodeDown{Node: ref.Node, WorkerID: ref.ID}
}

// registerDeployment installs a deployment's link-table and options on
// this Runtime, with an empty data vector until updateDeploymentData
// publishes it (spec §4.7 step 4: links are published before any deploy
// hook runs, since create_remote during a hook may target this node).
func (rt *Runtime) registerDeployment(ref DeploymentRef, flat *FlattenedWorkflow, options []*Option) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	d, ok := rt.deployments[ref]
	if !ok {
		d = &deployment{localWorkers: map[WorkerRef]*worker{}}
		rt.deployments[ref] = d
	}
	d.flat = flat
	d.options = options
	if d.data == nil {
		d.data = make([]interface{}, len(flat.Nodes))
	}
}

// updateDeploymentData publishes the deployment-data vector computed by
// Deploy's sequential hook pass (spec §4.7 step 6).
func (rt *Runtime) updateDeploymentData(ref DeploymentRef, data []interface{}) error {
	d, err := rt.getDeployment(ref)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.data = data
	d.mu.Unlock()
	return nil
}

// closeDeploymentLocal stops every deployment-lifetime worker this node
// hosts for ref and forgets the deployment entirely.
func (rt *Runtime) closeDeploymentLocal(ref DeploymentRef) error {
	rt.mu.Lock()
	d, ok := rt.deployments[ref]
	if ok {
		delete(rt.deployments, ref)
	}
	rt.mu.Unlock()

	if !ok {
		return nil
	}

	d.mu.Lock()
	refs := d.deploymentRefs
	d.mu.Unlock()

	for _, wref := range refs {
		d.mu.Lock()
		w, ok := d.localWorkers[wref]
		delete(d.localWorkers, wref)
		d.mu.Unlock()
		if ok {
			w.stop()
			rt.nodes.delete(wref)
		}
	}

	return nil
}

// Runtime implements FrameHandler so it can be handed directly to
// NewWSTransport: incoming frames from peer nodes are serviced against
// this node's own registry/deployments/workers, exactly as a local
// caller would be.

func (rt *Runtime) HandleCreateRemote(owner NodeRef, state interface{}, tag string, lifetime Lifetime) (WorkerRef, error) {
	ctx, _, err := rt.contextFor(owner.Deployment, owner.Index)
	if err != nil {
		return WorkerRef{}, err
	}
	return rt.createOn(rt.NodeName, ctx, state, tag, lifetime)
}

func (rt *Runtime) HandleWorkerMsg(ref WorkerRef, invocation Invocation, message interface{}) error {
	return rt.sendLocal(ref, invocation, message)
}

func (rt *Runtime) HandleStop(ref WorkerRef) error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, d := range rt.deployments {
		d.mu.Lock()
		w, ok := d.localWorkers[ref]
		if ok {
			delete(d.localWorkers, ref)
		}
		d.mu.Unlock()
		if ok {
			w.stop()
			rt.nodes.delete(ref)
			return nil
		}
	}
	return fmt.Errorf("skitter: unknown worker %s", ref)
}

func (rt *Runtime) HandlePublishDeployment(ref DeploymentRef, flat *FlattenedWorkflow, options []*Option) error {
	rt.registerDeployment(ref, flat, options)
	return nil
}

func (rt *Runtime) HandlePublishData(ref DeploymentRef, data []interface{}) error {
	return rt.updateDeploymentData(ref, data)
}

func (rt *Runtime) HandleClose(ref DeploymentRef) error {
	return rt.closeDeploymentLocal(ref)
}

// Stop destroys a worker, local or remote.
func (rt *Runtime) Stop(ref WorkerRef) error {
	if ref.Node != rt.NodeName {
		if rt.transport == nil {
			return &NodeDown{Node: ref.Node, WorkerID: ref.ID}
		}
		return rt.transport.Stop(ref)
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, d := range rt.deployments {
		d.mu.Lock()
		w, ok := d.localWorkers[ref]
		if ok {
			delete(d.localWorkers, ref)
		}
		d.mu.Unlock()
		if ok {
			w.stop()
			rt.nodes.delete(ref)
			return nil
		}
	}

	return fmt.Errorf("skitter: unknown worker %s", ref)
}
