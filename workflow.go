package skitter

// Destination is one endpoint a link fans out to: a destination node
// name and the in-port name on that node's operation.
type Destination struct {
	Node string
	Port string
}

// OperationNode is a workflow node that runs a single operation
// instance, optionally overriding its default strategy, with static
// args passed to Deploy and links from each out-port (or, for sources,
// the workflow's own in-ports) to downstream destinations.
type OperationNode struct {
	Name          string
	OperationName string
	Strategy      string // empty means use the operation's default_strategy
	Args          interface{}
	Links         map[string][]Destination
	Option        *Option
}

// NestedWorkflowNode embeds another workflow as a single node; the
// flattener expands it away entirely (spec §9: "flattening eliminates
// the [nested-workflow] variant, so the runtime deals only with
// operation nodes").
type NestedWorkflowNode struct {
	Name     string
	Workflow *Workflow
	Links    map[string][]Destination
}

// Node is the tagged-variant union spec §9 calls for in place of a
// polymorphic class hierarchy: exactly one of Operation/Nested is set.
type Node struct {
	Operation *OperationNode
	Nested    *NestedWorkflowNode
}

func (n Node) name() string {
	if n.Operation != nil {
		return n.Operation.Name
	}
	return n.Nested.Name
}

func (n Node) links() map[string][]Destination {
	if n.Operation != nil {
		return n.Operation.Links
	}
	return n.Nested.Links
}

// Workflow is the directed multigraph described in spec §3: a set of
// named nodes, each either an operation node or a nested workflow node.
type Workflow struct {
	Name  string
	Nodes []Node
}

// NewWorkflow returns an empty, named workflow ready for AddOperation/
// AddNested.
func NewWorkflow(name string) *Workflow {
	return &Workflow{Name: name}
}

// AddOperation appends an operation node.
func (w *Workflow) AddOperation(n *OperationNode) *Workflow {
	w.Nodes = append(w.Nodes, Node{Operation: n})
	return w
}

// AddNested appends a nested-workflow node.
func (w *Workflow) AddNested(n *NestedWorkflowNode) *Workflow {
	w.Nodes = append(w.Nodes, Node{Nested: n})
	return w
}
