// Package graph holds the static graph of materialization nodes. The graph
// is built once at startup, validated before any run, and resolved into
// ordered executable slices by named jobs. Framework-style string wiring is
// replaced by explicit registration and map lookup.
package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/pkg/partition"
)

// ComputeFunc is the pure computation of one node. Nodes receive their
// collaborators at construction; at run time they only see the run context.
type ComputeFunc func(ctx context.Context, rc *RunContext) error

// Node is one named materialization unit.
type Node struct {
	Name    string
	Group   string
	Deps    []string
	Scheme  *partition.Scheme // nil for unpartitioned nodes
	Compute ComputeFunc
}

// RunContext carries per-run state into node computations: the optional
// partition key, a run-scoped logger, and a scratch space an extract node
// uses to hand its payload to the paired load node within the same run.
// Cross-run data always flows through the store.
type RunContext struct {
	Key    *partition.Key
	Logger *zap.Logger

	values map[string]any
}

// NewRunContext builds a run context for one job invocation.
func NewRunContext(key *partition.Key, logger *zap.Logger) *RunContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunContext{Key: key, Logger: logger, values: make(map[string]any)}
}

// Put stores a value in the run-scoped scratch space.
func (rc *RunContext) Put(key string, v any) { rc.values[key] = v }

// Get reads a value from the run-scoped scratch space.
func (rc *RunContext) Get(key string) (any, bool) {
	v, ok := rc.values[key]
	return v, ok
}

// CycleError reports a dependency cycle found during validation.
type CycleError struct {
	Node string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle through node %q", e.Node)
}

// UnknownDependencyError reports a declared dependency that was never
// registered.
type UnknownDependencyError struct {
	Node string
	Dep  string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("node %q depends on unknown node %q", e.Node, e.Dep)
}

// SchemeMismatchError reports partition schemes that may not exchange keys.
type SchemeMismatchError struct {
	Node  string
	Other string
}

func (e *SchemeMismatchError) Error() string {
	return fmt.Sprintf("partition scheme of node %q is not compatible with %s", e.Node, e.Other)
}

// Graph is the static node registry.
type Graph struct {
	nodes map[string]*Node
	order []string // declaration order, the deterministic tie-breaker
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Register adds a node. Names are unique; registration order is remembered
// for deterministic resolution.
func (g *Graph) Register(n Node) error {
	if n.Name == "" {
		return fmt.Errorf("node name must not be empty")
	}
	if _, exists := g.nodes[n.Name]; exists {
		return fmt.Errorf("node %q registered twice", n.Name)
	}
	if n.Compute == nil {
		return fmt.Errorf("node %q has no compute function", n.Name)
	}
	node := n
	g.nodes[n.Name] = &node
	g.order = append(g.order, n.Name)
	return nil
}

// Node looks up a registered node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Validate checks the whole graph: every declared dependency exists, the
// dependency relation is acyclic, and two partitioned nodes of the same
// granularity on a dependency edge share one key space (same start).
// Mixed-granularity edges are fine — no key crosses them, the dependent
// reads the store — and a single run's key never crosses schemes anyway
// because Resolve checks the job scheme against every selected node.
// Configuration errors surface here, before any run starts.
func (g *Graph) Validate() error {
	for _, name := range g.order {
		n := g.nodes[name]
		for _, dep := range n.Deps {
			d, ok := g.nodes[dep]
			if !ok {
				return &UnknownDependencyError{Node: name, Dep: dep}
			}
			if n.Scheme != nil && d.Scheme != nil &&
				n.Scheme.Granularity() == d.Scheme.Granularity() &&
				!n.Scheme.Compatible(*d.Scheme) {
				return &SchemeMismatchError{
					Node:  name,
					Other: fmt.Sprintf("its dependency %q", dep),
				}
			}
		}
	}
	_, err := g.TopoOrder()
	return err
}

const (
	unvisited = iota
	visiting
	visited
)

// TopoOrder returns every node ordered so dependencies precede dependents,
// with ties broken by declaration order. A node reached while still being
// explored signals a cycle.
func (g *Graph) TopoOrder() ([]*Node, error) {
	marks := make(map[string]int, len(g.nodes))
	out := make([]*Node, 0, len(g.nodes))

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visited:
			return nil
		case visiting:
			return &CycleError{Node: name}
		}
		marks[name] = visiting
		for _, dep := range g.nodes[name].Deps {
			if _, ok := g.nodes[dep]; !ok {
				return &UnknownDependencyError{Node: name, Dep: dep}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		marks[name] = visited
		out = append(out, g.nodes[name])
		return nil
	}

	for _, name := range g.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}
