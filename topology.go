package skitter

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// destinationDoc is the on-disk shape of a Destination: `node.port`
// collapsed to two fields rather than a single string, so topology
// files stay greppable.
type destinationDoc struct {
	Node string `yaml:"node"`
	Port string `yaml:"port"`
}

// optionDoc mirrors Option field for field; a field left out of the YAML
// decodes to nil and so means "inherit", exactly as a nil Option field
// does.
type optionDoc struct {
	FIFO       *bool `yaml:"fifo,omitempty"`
	BufferSize *int  `yaml:"buffer_size,omitempty"`
	Metrics    *bool `yaml:"metrics,omitempty"`
	Span       *bool `yaml:"span,omitempty"`
}

func (o *optionDoc) toOption() *Option {
	if o == nil {
		return nil
	}
	return &Option{FIFO: o.FIFO, BufferSize: o.BufferSize, Metrics: o.Metrics, Span: o.Span}
}

// nodeDoc is the on-disk shape of a Node: exactly one of Operation or
// Workflow is set, distinguishing an operation node from a nested
// workflow node, same tagged-union discipline workflow.go's Node uses
// at runtime.
type nodeDoc struct {
	Name     string                      `yaml:"name"`
	Uses     string                      `yaml:"uses,omitempty"`    // operation name; set for operation nodes
	Strategy string                      `yaml:"strategy,omitempty"`
	Args     map[string]interface{}      `yaml:"args,omitempty"`
	Links    map[string][]destinationDoc `yaml:"links,omitempty"`
	Option   *optionDoc                  `yaml:"option,omitempty"`
	Workflow *workflowDoc                `yaml:"workflow,omitempty"` // set for nested-workflow nodes
}

type workflowDoc struct {
	Name  string    `yaml:"name"`
	Nodes []nodeDoc `yaml:"nodes"`
}

// LoadTopology reads a YAML workflow document from path and builds the
// corresponding *Workflow. Topology files are data, not a DSL: a node's
// args stay the raw YAML map and reach its Deploy hook unchanged;
// DecodeTopologyArgs decodes such a map into a typed target via
// mapstructure.
func LoadTopology(path string) (*Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skitter: reading topology %q: %w", path, err)
	}

	var doc workflowDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("skitter: parsing topology %q: %w", path, err)
	}

	return buildWorkflow(&doc)
}

// DecodeTopologyArgs decodes a node's raw YAML args map into target
// (typically a pointer to the struct an operation's Deploy hook
// expects), the way cmd/cmd/serve.go used viper.UnmarshalKey to decode
// free-form config sections into typed structs.
func DecodeTopologyArgs(args interface{}, target interface{}) error {
	return mapstructure.Decode(args, target)
}

func buildWorkflow(doc *workflowDoc) (*Workflow, error) {
	w := NewWorkflow(doc.Name)

	for _, n := range doc.Nodes {
		node, err := buildNode(&n)
		if err != nil {
			return nil, err
		}
		w.Nodes = append(w.Nodes, node)
	}

	return w, nil
}

func buildNode(n *nodeDoc) (Node, error) {
	links := toLinks(n.Links)

	if n.Workflow != nil {
		inner, err := buildWorkflow(n.Workflow)
		if err != nil {
			return Node{}, err
		}
		return Node{Nested: &NestedWorkflowNode{Name: n.Name, Workflow: inner, Links: links}}, nil
	}

	if n.Uses == "" {
		return Node{}, &DefinitionError{Operation: n.Name, Reason: "topology node has neither uses: nor workflow:"}
	}

	var args interface{}
	if len(n.Args) > 0 {
		args = n.Args
	}

	return Node{Operation: &OperationNode{
		Name:          n.Name,
		OperationName: n.Uses,
		Strategy:      n.Strategy,
		Args:          args,
		Links:         links,
		Option:        n.Option.toOption(),
	}}, nil
}

func toLinks(m map[string][]destinationDoc) map[string][]Destination {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]Destination, len(m))
	for port, dests := range m {
		for _, d := range dests {
			out[port] = append(out[port], Destination{Node: d.Node, Port: d.Port})
		}
	}
	return out
}
