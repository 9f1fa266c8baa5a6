package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dukex/flowline/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Edge is a directed transition between two nodes of a type.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Type is a validated, immutable workflow graph.
type Type struct {
	name     string
	nodes    []Node
	byName   map[string]Node
	edges    []Edge
	next     map[string][]Node
	incoming map[string]int
	schema   *gojsonschema.Schema
}

// Builder collects the nodes and edges of a workflow type.
type Builder struct {
	name   string
	nodes  []Node
	edges  []Edge
	schema string
}

// NewType starts the declaration of a workflow type.
func NewType(name string) *Builder {
	return &Builder{name: name}
}

// Node declares nodes of the type.
func (b *Builder) Node(nodes ...Node) *Builder {
	b.nodes = append(b.nodes, nodes...)

	return b
}

// Edge declares a transition from one node to another. Declaration order is the fan-out order.
func (b *Builder) Edge(from, to string) *Builder {
	b.edges = append(b.edges, Edge{From: from, To: to})

	return b
}

// Edges declares a transition from one node to each of the given nodes.
func (b *Builder) Edges(from string, to ...string) *Builder {
	for _, name := range to {
		b.Edge(from, name)
	}

	return b
}

// StateSchema sets a JSON Schema the initial state of new instances must satisfy.
func (b *Builder) StateSchema(schema string) *Builder {
	b.schema = schema

	return b
}

// Build validates the declaration and returns the type.
func (b *Builder) Build() (*Type, error) {
	var errs []error

	if b.name == "" {
		errs = append(errs, errors.New("workflow type name is required"))
	}

	t := &Type{
		name:     b.name,
		byName:   make(map[string]Node, len(b.nodes)),
		next:     make(map[string][]Node),
		incoming: make(map[string]int),
	}

	for _, node := range b.nodes {
		switch {
		case node == nil:
			errs = append(errs, errors.New("nil node"))

			continue
		case node.Name() == "":
			errs = append(errs, errors.New("node name is required"))

			continue
		case node.Name() == models.OverrideTaskName:
			errs = append(errs, fmt.Errorf("node name %q is reserved", node.Name()))

			continue
		}

		if _, exists := t.byName[node.Name()]; exists {
			errs = append(errs, fmt.Errorf("duplicate node %q", node.Name()))

			continue
		}

		t.byName[node.Name()] = node
		t.nodes = append(t.nodes, node)
	}

	used := make(map[string]bool)

	for _, edge := range b.edges {
		from, fromOK := t.byName[edge.From]
		to, toOK := t.byName[edge.To]

		if !fromOK {
			errs = append(errs, fmt.Errorf("edge %s -> %s: %w: %q", edge.From, edge.To, ErrNodeNotFound, edge.From))
		}

		if !toOK {
			errs = append(errs, fmt.Errorf("edge %s -> %s: %w: %q", edge.From, edge.To, ErrNodeNotFound, edge.To))
		}

		if !fromOK || !toOK {
			continue
		}

		if slices.Contains(t.edges, edge) {
			errs = append(errs, fmt.Errorf("duplicate edge %s -> %s", edge.From, edge.To))

			continue
		}

		if _, isStart := to.(*StartNode); isStart {
			errs = append(errs, fmt.Errorf("edge %s -> %s: start node cannot have incoming edges", edge.From, edge.To))

			continue
		}

		t.edges = append(t.edges, edge)
		t.next[from.Name()] = append(t.next[from.Name()], to)
		t.incoming[to.Name()]++
		used[edge.From] = true
		used[edge.To] = true
	}

	for _, node := range t.nodes {
		if !used[node.Name()] {
			errs = append(errs, fmt.Errorf("node %q is not part of any edge", node.Name()))
		}
	}

	if b.schema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(b.schema))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid state schema: %w", err))
		}

		t.schema = schema
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid workflow type %q: %w", b.name, errors.Join(errs...))
	}

	return t, nil
}

// MustBuild is Build for package-level declarations; it panics on an invalid type.
func (b *Builder) MustBuild() *Type {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}

	return t
}

func (t *Type) Name() string {
	return t.name
}

// Nodes returns every node in declaration order.
func (t *Type) Nodes() []Node {
	return slices.Clone(t.nodes)
}

// Node looks up a node by name.
func (t *Type) Node(name string) (Node, bool) {
	node, ok := t.byName[name]

	return node, ok
}

// Edges returns every edge in declaration order.
func (t *Type) Edges() []Edge {
	return slices.Clone(t.edges)
}

// NextNodes returns the heads of the edges leaving name, in declaration order. Terminal nodes return none.
func (t *Type) NextNodes(name string) []Node {
	return slices.Clone(t.next[name])
}

// HasIncoming reports whether any edge enters name.
func (t *Type) HasIncoming(name string) bool {
	return t.incoming[name] > 0
}

// ResolveNodes maps node names to nodes, failing on the first unknown name.
func (t *Type) ResolveNodes(names []string) ([]Node, error) {
	nodes := make([]Node, 0, len(names))

	for _, name := range names {
		node, ok := t.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q in workflow type %q", ErrNodeNotFound, name, t.name)
		}

		nodes = append(nodes, node)
	}

	return nodes, nil
}
