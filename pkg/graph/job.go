package graph

import (
	"fmt"

	"github.com/coinflow-io/coinflow/pkg/partition"
)

// Selection picks a subset of registered nodes. Selections compose with
// And/Or, mirroring "assets in group X that are also named Y".
type Selection interface {
	matches(n *Node) bool
}

type nameSelection map[string]struct{}

func (s nameSelection) matches(n *Node) bool {
	_, ok := s[n.Name]
	return ok
}

// ByName selects nodes by exact name.
func ByName(names ...string) Selection {
	s := make(nameSelection, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

type groupSelection map[string]struct{}

func (s groupSelection) matches(n *Node) bool {
	_, ok := s[n.Group]
	return ok
}

// ByGroup selects nodes by group tag.
func ByGroup(groups ...string) Selection {
	s := make(groupSelection, len(groups))
	for _, g := range groups {
		s[g] = struct{}{}
	}
	return s
}

type andSelection struct{ a, b Selection }

func (s andSelection) matches(n *Node) bool { return s.a.matches(n) && s.b.matches(n) }

// And selects the intersection of two selections.
func And(a, b Selection) Selection { return andSelection{a: a, b: b} }

type orSelection struct{ a, b Selection }

func (s orSelection) matches(n *Node) bool { return s.a.matches(n) || s.b.matches(n) }

// Or selects the union of two selections.
func Or(a, b Selection) Selection { return orSelection{a: a, b: b} }

// Job is a named, statically selected subset of the graph, optionally bound
// to a partition scheme. Dependencies outside the selection are assumed
// already materialized; their output is read back from the store.
type Job struct {
	Name        string
	Description string
	Selection   Selection
	Scheme      *partition.Scheme
}

// Resolve returns the job's nodes in execution order. Resolution is
// deterministic: the topological order with declaration-order tie-breaking,
// filtered by the selection. A job scheme, when present, must be compatible
// with the scheme of every selected partitioned node.
func (g *Graph) Resolve(j Job) ([]*Node, error) {
	if j.Selection == nil {
		return nil, fmt.Errorf("job %q has no selection", j.Name)
	}
	ordered, err := g.TopoOrder()
	if err != nil {
		return nil, fmt.Errorf("resolve job %q: %w", j.Name, err)
	}

	var selected []*Node
	for _, n := range ordered {
		if !j.Selection.matches(n) {
			continue
		}
		if j.Scheme != nil && n.Scheme != nil && !j.Scheme.Compatible(*n.Scheme) {
			return nil, &SchemeMismatchError{Node: n.Name, Other: fmt.Sprintf("job %q", j.Name)}
		}
		selected = append(selected, n)
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("job %q selects no nodes", j.Name)
	}
	return selected, nil
}
