package skitter

import "fmt"

// LinkTarget is a resolved link destination within a FlattenedWorkflow:
// a dense node index and that node's in-port index.
type LinkTarget struct {
	NodeIndex int
	PortIndex int
}

// FlatNode is one entry of a FlattenedWorkflow: a dense-indexed
// operation instance with its resolved out-port links (spec §3's
// "dense form is the canonical runtime representation").
type FlatNode struct {
	Name      string
	Operation *Operation
	Strategy  string
	Args      interface{}
	Option    *Option
	Links     map[string][]LinkTarget
}

// FlattenedWorkflow is the canonical runtime representation produced by
// Flatten: nested workflows are fully expanded, nodes[0..N-1] is stable
// and dense, and every link destination has been resolved to a
// (node-idx, in-port-idx) pair (spec §3, Testable Property 2).
type FlattenedWorkflow struct {
	Nodes []FlatNode
}

// Flatten expands w (recursively inlining nested workflows) and resolves
// every link to a dense (node-idx, in-port-idx) pair. Any link to an
// unknown node name or an unknown in-port name is a DefinitionError, as
// is a strategy-less operation whose operation also has no
// default_strategy.
func Flatten(reg *Registry, w *Workflow) (*FlattenedWorkflow, error) {
	flat, err := expand(reg, w, "")
	if err != nil {
		return nil, err
	}

	byName := make(map[string]int, len(flat))
	for i, n := range flat {
		if _, dup := byName[n.Name]; dup {
			return nil, &DefinitionError{Operation: n.Name, Reason: "duplicate node name after flattening"}
		}
		byName[n.Name] = i
	}

	out := make([]FlatNode, len(flat))
	for i, n := range flat {
		resolved := map[string][]LinkTarget{}

		for port, dests := range n.links {
			for _, d := range dests {
				dstIdx, ok := byName[d.Node]
				if !ok {
					return nil, &DefinitionError{Operation: n.Name, Reason: fmt.Sprintf("link to unknown node %q", d.Node)}
				}

				dstOp := flat[dstIdx].Operation
				if dstOp == nil {
					return nil, &DefinitionError{Operation: n.Name, Reason: fmt.Sprintf("link target %q is not an operation node", d.Node)}
				}

				portIdx, ok := dstOp.Operation.InPortIndex(d.Port)
				if !ok {
					return nil, &DefinitionError{Operation: n.Name, Reason: fmt.Sprintf("link to unknown in-port %q on node %q", d.Port, d.Node)}
				}

				resolved[port] = append(resolved[port], LinkTarget{NodeIndex: dstIdx, PortIndex: portIdx})
			}
		}

		strategyName := n.Operation.Strategy
		if strategyName == "" {
			strategyName = n.Operation.Operation.Strategy()
		}
		if strategyName == "" {
			return nil, &DefinitionError{Operation: n.Name, Reason: "no strategy and operation has no default_strategy"}
		}

		out[i] = FlatNode{
			Name:      n.Name,
			Operation: n.Operation.Operation,
			Strategy:  strategyName,
			Args:      n.Operation.Args,
			Option:    n.Operation.Option,
			Links:     resolved,
		}
	}

	return &FlattenedWorkflow{Nodes: out}, nil
}

// flatNodeDraft is a node with a resolved *Operation but still
// name-based (unresolved) links, used as an intermediate during
// recursive expansion.
type flatNodeDraft struct {
	Name      string
	Operation *resolvedOperationNode
	links     map[string][]Destination
}

type resolvedOperationNode struct {
	Operation *Operation
	Strategy  string
	Args      interface{}
	Option    *Option
}

func expand(reg *Registry, w *Workflow, prefix string) ([]flatNodeDraft, error) {
	drafts := make([]flatNodeDraft, 0, len(w.Nodes))

	for _, node := range w.Nodes {
		qualifiedName := prefix + node.name()

		switch {
		case node.Operation != nil:
			op, err := reg.Lookup(node.Operation.OperationName)
			if err != nil {
				return nil, err
			}

			links := make(map[string][]Destination, len(node.links()))
			for port, dests := range node.links() {
				for _, d := range dests {
					links[port] = append(links[port], Destination{Node: prefix + d.Node, Port: d.Port})
				}
			}

			drafts = append(drafts, flatNodeDraft{
				Name: qualifiedName,
				Operation: &resolvedOperationNode{
					Operation: op,
					Strategy:  node.Operation.Strategy,
					Args:      node.Operation.Args,
					Option:    node.Operation.Option,
				},
				links: links,
			})

		case node.Nested != nil:
			inner, err := expand(reg, node.Nested.Workflow, qualifiedName+".")
			if err != nil {
				return nil, err
			}

			// node.links() (= node.Nested.Links) addresses an out-port
			// the nested workflow exposes to the outside world: the
			// key is the bare out-port name declared by exactly one of
			// the inner operation nodes expand() just produced. Each
			// such link is rewired onto that inner node's own links
			// table, keyed under prefix (the embedding node's own
			// scope) exactly like an operation node's links, so it
			// resolves to (node-idx, in-port-idx) in the pass below
			// along with everything else.
			for port, dests := range node.links() {
				owner := -1
				for i, innerNode := range inner {
					if _, ok := innerNode.Operation.Operation.OutPortIndex(port); ok {
						if owner != -1 {
							return nil, &DefinitionError{Operation: qualifiedName, Reason: fmt.Sprintf("out-port %q is declared by more than one node inside nested workflow %q", port, qualifiedName)}
						}
						owner = i
					}
				}
				if owner == -1 {
					return nil, &DefinitionError{Operation: qualifiedName, Reason: fmt.Sprintf("nested workflow %q has no inner node declaring out-port %q", qualifiedName, port)}
				}

				for _, d := range dests {
					inner[owner].links[port] = append(inner[owner].links[port], Destination{Node: prefix + d.Node, Port: d.Port})
				}
			}

			drafts = append(drafts, inner...)
		}
	}

	return drafts, nil
}
