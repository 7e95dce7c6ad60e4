package engine

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloom/taskloom/graph"
)

func decisionTestGraph() *graph.Graph {
	nodes := []*graph.Node{
		{ID: "start", Kind: graph.KindDeterministic, Role: graph.RoleStart, DefaultStart: true, Context: graph.ContextNone},
		{ID: "decide", Kind: graph.KindDeterministic, Role: graph.RoleDecision, Context: graph.ContextNone},
		{ID: "x", Kind: graph.KindDeterministic, Role: graph.RoleLinear, Context: graph.ContextNone},
		{ID: "y", Kind: graph.KindDeterministic, Role: graph.RoleLinear, Context: graph.ContextNone},
		{ID: "exit", Kind: graph.KindDeterministic, Role: graph.RoleExit, Context: graph.ContextNone},
	}
	edges := []graph.Edge{
		{From: "start", To: "decide"},
		{From: "decide", To: "x", Condition: "left"},
		{From: "decide", To: "y", Condition: "right"},
		{From: "x", To: "exit"},
		{From: "y", To: "exit"},
	}
	return graph.NewGraph("decision-test", nodes, edges)
}

func TestResolveDecisionEdge(t *testing.T) {
	t.Parallel()
	g := decisionTestGraph()
	r := NewRouter(g, nil)
	edges := g.Outgoing("decide")

	tests := []struct {
		name    string
		payload map[string]any
		wantTo  string
	}{
		{"condition key matches", map[string]any{"condition": "right"}, "y"},
		{"route key matches", map[string]any{"route": "left"}, "x"},
		{"condition beats route", map[string]any{"condition": "right", "route": "left"}, "y"},
		{"no match falls back to first edge", map[string]any{"condition": "sideways"}, "x"},
		{"empty payload falls back to first edge", map[string]any{}, "x"},
		{"nil payload falls back to first edge", nil, "x"},
		{"unrelated keys ignored", map[string]any{"verdict": "right"}, "x"},
		{"non-string value matched textually", map[string]any{"condition": 42}, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			edge, err := r.ResolveDecisionEdge(edges, tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTo, edge.To)
		})
	}
}

func TestResolveDecisionEdge_NumericCondition(t *testing.T) {
	t.Parallel()
	r := NewRouter(decisionTestGraph(), nil)
	edges := []graph.Edge{
		{From: "d", To: "a", Condition: "1"},
		{From: "d", To: "b", Condition: "2"},
	}
	edge, err := r.ResolveDecisionEdge(edges, map[string]any{"route": 2})
	require.NoError(t, err)
	assert.Equal(t, "b", edge.To)
}

func TestResolveDecisionEdge_NoEdges(t *testing.T) {
	t.Parallel()
	r := NewRouter(decisionTestGraph(), nil)
	_, err := r.ResolveDecisionEdge(nil, map[string]any{"condition": "left"})
	assert.Error(t, err)
}

func TestAdvance(t *testing.T) {
	t.Parallel()
	r := NewRouter(decisionTestGraph(), nil)

	next, err := r.Advance("x")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "exit", next.ID)

	// Exit ends the walk without error.
	next, err = r.Advance("exit")
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = r.Advance("nope")
	assert.Error(t, err)
}

// Routing is deterministic: the same payload always selects the same
// edge, and the selected edge is always one of the declared edges.
func TestRoutingDeterminismProperty(t *testing.T) {
	t.Parallel()
	g := decisionTestGraph()
	r := NewRouter(g, nil)
	edges := g.Outgoing("decide")

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	payloadGen := gen.MapOf(
		gen.OneConstOf("condition", "route", "note"),
		gen.OneConstOf("left", "right", "sideways", ""),
	)

	properties.Property("same payload, same edge, always declared", prop.ForAll(
		func(payload map[string]string) bool {
			boxed := make(map[string]any, len(payload))
			for k, v := range payload {
				boxed[k] = v
			}
			first, err := r.ResolveDecisionEdge(edges, boxed)
			if err != nil {
				return false
			}
			for i := 0; i < 5; i++ {
				again, err := r.ResolveDecisionEdge(edges, boxed)
				if err != nil || again != first {
					return false
				}
			}
			for _, e := range edges {
				if e == first {
					return true
				}
			}
			return false
		},
		payloadGen,
	))

	properties.TestingRun(t)
}
