package skitter

import (
	"context"
	"fmt"
)

// Manager is the handle Deploy returns: one workflow deployment spread
// across however many cluster nodes its strategies placed workers on.
// Close tears the whole thing down (spec §4.7's closing half of Deploy).
type Manager struct {
	Ref   DeploymentRef
	rt    *Runtime
	nodes []string
	flat  *FlattenedWorkflow
}

// Close stops every deployment-lifetime worker this deployment created,
// on every node it was published to, and forgets the deployment's
// link-table and data vector everywhere.
func (m *Manager) Close() error {
	var firstErr error

	for _, node := range m.nodes {
		var err error
		if node == m.rt.NodeName {
			err = m.rt.closeDeploymentLocal(m.Ref)
		} else if m.rt.transport != nil {
			err = m.rt.transport.Close(node, m.Ref)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Deploy runs the full sequence spec §4.7 describes: flatten, assign a
// fresh DeploymentRef, publish the link-table and merged options to
// every node that might host a worker for this deployment, run every
// operation instance's Deploy hook in flattened order, publish the
// resulting deployment-data vector, and hand back a Manager.
//
// rt is the initiating node (ordinarily the master); Deploy hooks all
// run here, sequentially, exactly as spec §4.7 step 5 describes —
// "deployment data" is computed centrally and then replicated, it is
// never computed independently per node.
func (rt *Runtime) Deploy(w *Workflow) (*Manager, error) {
	flat, err := Flatten(rt.registry, w)
	if err != nil {
		return nil, err
	}

	ref := newDeploymentRef()

	options := make([]*Option, len(flat.Nodes))
	for i, n := range flat.Nodes {
		options[i] = defaultOption.merge(n.Option)
	}

	targets := dedupNodes(append([]string{rt.NodeName}, rt.cluster.Nodes()...))

	if err := rt.publishDeployment(targets, ref, flat, options); err != nil {
		return nil, err
	}

	data := make([]interface{}, len(flat.Nodes))
	for i, n := range flat.Nodes {
		strat, err := rt.lookupStrategy(n.Strategy)
		if err != nil {
			return nil, err
		}

		ctx := Context{
			ctx:        context.Background(),
			Strategy:   n.Strategy,
			Operation:  n.Operation,
			Invocation: External,
			Node:       NodeRef{Deployment: ref, Index: i},
			runtime:    rt,
		}

		var dd interface{}
		err = instrumented(ctx.ctx, options[i], "deploy", n.Operation.Name(), 1, func() error {
			var deployErr error
			dd, deployErr = strat.Deploy(ctx, n.Args)
			return deployErr
		})
		if err != nil {
			return nil, &StrategyError{Strategy: n.Strategy, Operation: n.Operation.Name(), Reason: err.Error()}
		}
		data[i] = dd
	}

	if err := rt.publishDeploymentData(targets, ref, data); err != nil {
		return nil, err
	}

	return &Manager{Ref: ref, rt: rt, nodes: targets, flat: flat}, nil
}

// Deliver feeds value into this deployment as an externally-originating
// record under the External invocation sentinel, the way spec §3's
// Workflow definition treats a source's out-port link as "for sources:
// a workflow in-port": it resolves node by its flattened name, looks up
// the strategy governing that node, and invokes Deliver against
// in-port port — precisely what the router does for any other
// cross-edge record, just entering from outside the system instead of
// from another operation's emit.
func (m *Manager) Deliver(node, port string, value interface{}) error {
	return m.DeliverInvocation(node, port, External, value)
}

// DeliverInvocation is Deliver with an explicit invocation token,
// needed whenever an external caller must correlate several arriving
// records as belonging to the same logical firing — e.g. a multi-input
// operation's matcher (spec §4.5), which groups tokens by invocation
// regardless of which in-port they arrived on.
func (m *Manager) DeliverInvocation(node, port string, invocation Invocation, value interface{}) error {
	idx := -1
	for i, n := range m.flat.Nodes {
		if n.Name == node {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &DefinitionError{Operation: node, Reason: "unknown node name in this deployment"}
	}

	portIdx, ok := m.flat.Nodes[idx].Operation.InPortIndex(port)
	if !ok {
		return &DefinitionError{Operation: node, Reason: fmt.Sprintf("unknown in-port %q", port)}
	}

	ctx, strat, err := m.rt.contextFor(m.Ref, idx)
	if err != nil {
		return err
	}
	ctx = ctx.WithInvocation(invocation)

	return strat.Deliver(ctx, value, portIdx)
}

func (rt *Runtime) publishDeployment(targets []string, ref DeploymentRef, flat *FlattenedWorkflow, options []*Option) error {
	for _, node := range targets {
		if node == rt.NodeName {
			rt.registerDeployment(ref, flat, options)
			continue
		}
		if rt.transport == nil {
			return &NodeDown{Node: node}
		}
		if err := rt.transport.PublishDeployment(node, ref, flat, options); err != nil {
			return fmt.Errorf("skitter: publishing deployment to %q: %w", node, err)
		}
	}
	return nil
}

func (rt *Runtime) publishDeploymentData(targets []string, ref DeploymentRef, data []interface{}) error {
	for _, node := range targets {
		if node == rt.NodeName {
			if err := rt.updateDeploymentData(ref, data); err != nil {
				return err
			}
			continue
		}
		if rt.transport == nil {
			return &NodeDown{Node: node}
		}
		if err := rt.transport.PublishDeploymentData(node, ref, data); err != nil {
			return fmt.Errorf("skitter: publishing deployment data to %q: %w", node, err)
		}
	}
	return nil
}

func dedupNodes(nodes []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
