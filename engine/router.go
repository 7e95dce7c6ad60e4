package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/taskloom/taskloom/graph"
	"github.com/taskloom/taskloom/types"
)

// decisionKeys are the recognized decision payload keys, checked in
// priority order. This is an external wire contract with the agent
// runtime's output format: a decision node's output is inspected for
// "condition" first, then "route", and the value is matched textually
// against the outgoing edges' condition labels.
var decisionKeys = []string{"condition", "route"}

// Router computes the next node(s) to visit for a task moving through a
// validated graph. It is stateless; merge coordination lives in the
// Coordinator.
type Router struct {
	graph  *graph.Graph
	logger *zap.Logger
}

// NewRouter creates a router over a validated graph.
func NewRouter(g *graph.Graph, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		graph:  g,
		logger: logger.With(zap.String("component", "router")),
	}
}

// ResolveDecisionEdge picks the outgoing edge a decision payload selects.
// If no recognized payload key matches any edge's condition label, or the
// payload is empty, the first edge in declaration order is the default.
// An empty edge list is a fatal routing error; it cannot occur for a
// non-exit node in a validated graph.
func (r *Router) ResolveDecisionEdge(edges []graph.Edge, payload map[string]any) (graph.Edge, error) {
	if len(edges) == 0 {
		return graph.Edge{}, types.NewError(types.ErrRouting, "cannot resolve decision with no outgoing edges")
	}

	for _, key := range decisionKeys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		want := textual(raw)
		for _, e := range edges {
			if e.Condition != "" && e.Condition == want {
				return e, nil
			}
		}
	}

	return edges[0], nil
}

// Advance returns the node a task visits after fromNode, or nil when
// fromNode is an exit node and the task is complete. Decision, branch,
// and split nodes do not advance through here; the engine resolves or
// fans them out explicitly.
func (r *Router) Advance(fromNodeID string) (*graph.Node, error) {
	from, ok := r.graph.Node(fromNodeID)
	if !ok {
		return nil, types.Errorf(types.ErrRouting, "advance from unknown node %s", fromNodeID).WithNode(fromNodeID)
	}
	if from.Role == graph.RoleExit {
		return nil, nil
	}

	edges := r.graph.Outgoing(fromNodeID)
	if len(edges) == 0 {
		return nil, types.Errorf(types.ErrRouting, "node %s has no outgoing edges", fromNodeID).WithNode(fromNodeID)
	}

	next, ok := r.graph.Node(edges[0].To)
	if !ok {
		return nil, types.Errorf(types.ErrRouting, "edge target %s not declared", edges[0].To).WithNode(edges[0].To)
	}
	return next, nil
}

// textual converts a decision payload value to its label form.
func textual(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
