package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinflow-io/coinflow/pkg/partition"
)

func noop(context.Context, *RunContext) error { return nil }

func buildGraph(t *testing.T, nodes ...Node) *Graph {
	t.Helper()
	g := New()
	for _, n := range nodes {
		require.NoError(t, g.Register(n))
	}
	return g
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name
	}
	return out
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	g := buildGraph(t,
		Node{Name: "report", Deps: []string{"trends"}, Compute: noop},
		Node{Name: "trends", Deps: []string{"load_market", "load_history"}, Compute: noop},
		Node{Name: "load_history", Deps: []string{"extract"}, Compute: noop},
		Node{Name: "load_market", Deps: []string{"extract"}, Compute: noop},
		Node{Name: "extract", Compute: noop},
	)
	require.NoError(t, g.Validate())

	ordered, err := g.TopoOrder()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, n := range ordered {
		pos[n.Name] = i
	}
	for _, n := range ordered {
		for _, dep := range n.Deps {
			assert.Less(t, pos[dep], pos[n.Name], "%s must run after %s", n.Name, dep)
		}
	}
}

func TestTopoOrderIsDeterministic(t *testing.T) {
	build := func() *Graph {
		return buildGraph(t,
			Node{Name: "b", Compute: noop},
			Node{Name: "a", Compute: noop},
			Node{Name: "c", Deps: []string{"a", "b"}, Compute: noop},
		)
	}

	first, err := build().TopoOrder()
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := build().TopoOrder()
		require.NoError(t, err)
		assert.Equal(t, names(first), names(again))
	}
	// Independent nodes keep declaration order.
	assert.Equal(t, []string{"b", "a", "c"}, names(first))
}

func TestValidateDetectsSelfCycle(t *testing.T) {
	g := buildGraph(t, Node{Name: "a", Deps: []string{"a"}, Compute: noop})

	var ce *CycleError
	require.True(t, errors.As(g.Validate(), &ce))
}

func TestValidateDetectsMutualCycle(t *testing.T) {
	g := buildGraph(t,
		Node{Name: "a", Deps: []string{"b"}, Compute: noop},
		Node{Name: "b", Deps: []string{"a"}, Compute: noop},
	)

	var ce *CycleError
	require.True(t, errors.As(g.Validate(), &ce))
}

func TestValidateDetectsUnknownDependency(t *testing.T) {
	g := buildGraph(t, Node{Name: "a", Deps: []string{"ghost"}, Compute: noop})

	var ue *UnknownDependencyError
	require.True(t, errors.As(g.Validate(), &ue))
	assert.Equal(t, "ghost", ue.Dep)
}

func TestValidateRejectsSameGranularityDifferentStart(t *testing.T) {
	daily := partition.NewDaily(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	// Same granularity, different root: the rendered keys coincide in format
	// but the key spaces disagree on what is valid.
	shifted := partition.NewDaily(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	g := buildGraph(t,
		Node{Name: "upstream", Scheme: &daily, Compute: noop},
		Node{Name: "downstream", Deps: []string{"upstream"}, Scheme: &shifted, Compute: noop},
	)

	var se *SchemeMismatchError
	require.True(t, errors.As(g.Validate(), &se))
	assert.Equal(t, "downstream", se.Node)
}

func TestValidateAllowsMixedGranularityDependency(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	daily := partition.NewDaily(start)
	monthly := partition.NewMonthly(start)

	// A monthly report downstream of daily store nodes is the shipped graph
	// shape; no key crosses the edge, the report reads the store.
	g := buildGraph(t,
		Node{Name: "observations", Group: "extract", Scheme: &daily, Compute: noop},
		Node{Name: "store_observations", Group: "load", Deps: []string{"observations"}, Scheme: &daily, Compute: noop},
		Node{Name: "monthly_summary", Group: "reporting", Deps: []string{"store_observations"}, Scheme: &monthly, Compute: noop},
	)

	require.NoError(t, g.Validate())
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	g := New()
	require.NoError(t, g.Register(Node{Name: "a", Compute: noop}))
	assert.Error(t, g.Register(Node{Name: "a", Compute: noop}))
	assert.Error(t, g.Register(Node{Name: "", Compute: noop}))
	assert.Error(t, g.Register(Node{Name: "b"}))
}

func TestResolveSelections(t *testing.T) {
	g := buildGraph(t,
		Node{Name: "coin_list", Group: "extract", Compute: noop},
		Node{Name: "store_coin_list", Group: "load", Deps: []string{"coin_list"}, Compute: noop},
		Node{Name: "market_data", Group: "extract", Deps: []string{"store_coin_list"}, Compute: noop},
		Node{Name: "store_market_data", Group: "load", Deps: []string{"market_data"}, Compute: noop},
	)
	require.NoError(t, g.Validate())

	tests := []struct {
		name string
		sel  Selection
		want []string
	}{
		{
			name: "by name",
			sel:  ByName("market_data"),
			want: []string{"market_data"},
		},
		{
			name: "by group",
			sel:  ByGroup("extract"),
			want: []string{"coin_list", "market_data"},
		},
		{
			name: "intersection",
			sel:  And(ByGroup("extract"), ByName("market_data", "store_market_data")),
			want: []string{"market_data"},
		},
		{
			name: "union mirrors a paired extract and load job",
			sel: Or(
				And(ByGroup("extract"), ByName("market_data")),
				And(ByGroup("load"), ByName("store_market_data")),
			),
			want: []string{"market_data", "store_market_data"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := g.Resolve(Job{Name: tt.name, Selection: tt.sel})
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(nodes))
		})
	}
}

func TestResolveRejectsIncompatibleJobScheme(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	daily := partition.NewDaily(start)
	monthly := partition.NewMonthly(start)

	g := buildGraph(t, Node{Name: "obs", Scheme: &daily, Compute: noop})

	_, err := g.Resolve(Job{Name: "monthly_job", Selection: ByName("obs"), Scheme: &monthly})
	var se *SchemeMismatchError
	require.True(t, errors.As(err, &se))
}

func TestResolveEmptySelectionFails(t *testing.T) {
	g := buildGraph(t, Node{Name: "a", Compute: noop})

	_, err := g.Resolve(Job{Name: "empty", Selection: ByName("nope")})
	assert.Error(t, err)

	_, err = g.Resolve(Job{Name: "nil"})
	assert.Error(t, err)
}

func TestRunContextScratchSpace(t *testing.T) {
	rc := NewRunContext(nil, nil)

	_, ok := rc.Get("payload")
	assert.False(t, ok)

	rc.Put("payload", 42)
	v, ok := rc.Get("payload")
	require.True(t, ok)
	assert.Equal(t, 42, v)
}
