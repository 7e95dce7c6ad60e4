package graph

import "fmt"

// ViolationCode classifies a structural defect found by the Validator.
type ViolationCode string

const (
	// ViolationUnknownNode is an edge endpoint naming an undeclared node.
	ViolationUnknownNode ViolationCode = "unknown_node"
	// ViolationCycle is a back-edge closing a path onto itself.
	ViolationCycle ViolationCode = "cycle"
	// ViolationUnreachable is a node with no path from the default start.
	ViolationUnreachable ViolationCode = "unreachable"
	// ViolationRole is a role/kind or role/edge-count constraint breach.
	ViolationRole ViolationCode = "role_constraint"
	// ViolationAgent is a missing agent_id on an agent-kind node.
	ViolationAgent ViolationCode = "agent_id"
	// ViolationContext is an empty context scope.
	ViolationContext ViolationCode = "context"
	// ViolationDefaultStart is a default-start count other than one.
	ViolationDefaultStart ViolationCode = "default_start"
)

// Violation describes one structural defect. NodeID is empty for
// graph-level defects.
type Violation struct {
	Code    ViolationCode
	NodeID  string
	Message string
}

// Error implements the error interface.
func (v Violation) Error() string {
	if v.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", v.Code, v.NodeID, v.Message)
	}
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// Validator checks workflow graphs against the structural invariants the
// execution engine assumes. It is pure and side-effect free.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate collects every structural violation in g. It never short
// circuits, so callers can report all defects at once. A graph with any
// violation must not be handed to the execution engine.
func (v *Validator) Validate(g *Graph) []Violation {
	var violations []Violation

	violations = append(violations, v.checkEdgeEndpoints(g)...)
	violations = append(violations, v.checkDefaultStart(g)...)
	violations = append(violations, v.checkCycles(g)...)
	violations = append(violations, v.checkReachability(g)...)
	for _, n := range g.Nodes() {
		violations = append(violations, v.checkNode(g, n)...)
	}

	return violations
}

// checkEdgeEndpoints rejects edges citing undeclared node ids.
func (v *Validator) checkEdgeEndpoints(g *Graph) []Violation {
	var violations []Violation
	for _, e := range g.Edges() {
		if _, ok := g.Node(e.From); !ok {
			violations = append(violations, Violation{
				Code:    ViolationUnknownNode,
				NodeID:  e.From,
				Message: fmt.Sprintf("edge %s->%s references undeclared source", e.From, e.To),
			})
		}
		if _, ok := g.Node(e.To); !ok {
			violations = append(violations, Violation{
				Code:    ViolationUnknownNode,
				NodeID:  e.To,
				Message: fmt.Sprintf("edge %s->%s references undeclared target", e.From, e.To),
			})
		}
	}
	return violations
}

// checkDefaultStart enforces exactly one default-start node, which must
// carry RoleStart, and that no non-start node claims the flag.
func (v *Validator) checkDefaultStart(g *Graph) []Violation {
	var violations []Violation
	var starters []*Node
	for _, n := range g.Nodes() {
		if n.DefaultStart {
			starters = append(starters, n)
		}
		if n.DefaultStart && n.Role != RoleStart {
			violations = append(violations, Violation{
				Code:    ViolationDefaultStart,
				NodeID:  n.ID,
				Message: fmt.Sprintf("default_start set on role %s, only %s may carry it", n.Role, RoleStart),
			})
		}
		if !n.DefaultStart && n.Role == RoleStart {
			violations = append(violations, Violation{
				Code:    ViolationDefaultStart,
				NodeID:  n.ID,
				Message: "start node must set default_start",
			})
		}
	}
	if len(starters) != 1 {
		violations = append(violations, Violation{
			Code:    ViolationDefaultStart,
			Message: fmt.Sprintf("graph must have exactly one default_start node, found %d", len(starters)),
		})
	}
	return violations
}

// dfs colors for cycle detection.
const (
	colorWhite = iota
	colorGray
	colorBlack
)

// checkCycles runs three-color DFS over every component; a back-edge to a
// gray node is a cycle.
func (v *Validator) checkCycles(g *Graph) []Violation {
	var violations []Violation
	color := make(map[string]int, g.Len())

	var visit func(id string)
	visit = func(id string) {
		color[id] = colorGray
		for _, e := range g.Outgoing(id) {
			if _, ok := g.Node(e.To); !ok {
				continue // reported by checkEdgeEndpoints
			}
			switch color[e.To] {
			case colorWhite:
				visit(e.To)
			case colorGray:
				violations = append(violations, Violation{
					Code:    ViolationCycle,
					NodeID:  e.To,
					Message: fmt.Sprintf("cycle detected: edge %s->%s closes a path", e.From, e.To),
				})
			}
		}
		color[id] = colorBlack
	}

	for _, n := range g.Nodes() {
		if color[n.ID] == colorWhite {
			visit(n.ID)
		}
	}
	return violations
}

// checkReachability walks BFS from the default start and flags every node
// the walk never reaches. Skipped entirely when no unique start exists;
// checkDefaultStart already reports that.
func (v *Validator) checkReachability(g *Graph) []Violation {
	start := g.DefaultStart()
	if start == nil {
		return nil
	}

	reached := make(map[string]bool, g.Len())
	queue := []string{start.ID}
	reached[start.ID] = true
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(id) {
			if _, ok := g.Node(e.To); !ok {
				continue
			}
			if !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}

	var violations []Violation
	for _, n := range g.Nodes() {
		if !reached[n.ID] {
			violations = append(violations, Violation{
				Code:    ViolationUnreachable,
				NodeID:  n.ID,
				Message: "no path from the default start node",
			})
		}
	}
	return violations
}

// checkNode enforces the per-node role, kind, agent, and context
// constraints.
func (v *Validator) checkNode(g *Graph, n *Node) []Violation {
	var violations []Violation
	in := len(g.Incoming(n.ID))
	out := len(g.Outgoing(n.ID))

	roleViolation := func(format string, args ...any) {
		violations = append(violations, Violation{
			Code:    ViolationRole,
			NodeID:  n.ID,
			Message: fmt.Sprintf(format, args...),
		})
	}

	switch n.Role {
	case RoleStart:
		if n.Kind != KindDeterministic {
			roleViolation("start node must be deterministic, got kind %s", n.Kind)
		}
		if in != 0 {
			roleViolation("start node must have 0 inbound edges, got %d", in)
		}
		if out != 1 {
			roleViolation("start node must have exactly 1 outbound edge, got %d", out)
		}
	case RoleExit:
		if n.Kind != KindDeterministic {
			roleViolation("exit node must be deterministic, got kind %s", n.Kind)
		}
		if in < 1 {
			roleViolation("exit node must have at least 1 inbound edge, got %d", in)
		}
		if out != 0 {
			roleViolation("exit node must have 0 outbound edges, got %d", out)
		}
	case RoleLinear:
		if in != 1 {
			roleViolation("linear node must have exactly 1 inbound edge, got %d", in)
		}
		if out != 1 {
			roleViolation("linear node must have exactly 1 outbound edge, got %d", out)
		}
	case RoleBranch:
		if in != 1 {
			roleViolation("branch node must have exactly 1 inbound edge, got %d", in)
		}
		if out < 2 {
			roleViolation("branch node must have at least 2 outbound edges, got %d", out)
		}
	case RoleSplit:
		if in != 1 {
			roleViolation("split node must have exactly 1 inbound edge, got %d", in)
		}
		if out < 2 {
			roleViolation("split node must have at least 2 outbound edges, got %d", out)
		}
	case RoleDecision:
		if out < 2 {
			roleViolation("decision node must have at least 2 outbound edges, got %d", out)
		}
	case RoleMerge:
		// Each inbound edge must come from a distinct upstream branch;
		// duplicate sources would double-count arrivals. The run-time
		// merge group tracks the dynamic fan-out count, so the inbound
		// edge count here is a structural upper bound only.
		if in < 1 {
			roleViolation("merge node must have at least 1 inbound edge, got %d", in)
		}
		seen := make(map[string]bool, in)
		for _, e := range g.Incoming(n.ID) {
			if seen[e.From] {
				roleViolation("merge node has duplicate inbound edge from %s", e.From)
			}
			seen[e.From] = true
		}
		if out < 1 {
			roleViolation("merge node must have at least 1 outbound edge, got %d", out)
		}
	default:
		roleViolation("unknown role %q", n.Role)
	}

	switch n.Kind {
	case KindDeterministic:
	case KindAgent:
		if n.AgentID == "" {
			violations = append(violations, Violation{
				Code:    ViolationAgent,
				NodeID:  n.ID,
				Message: "agent node requires agent_id",
			})
		}
	default:
		violations = append(violations, Violation{
			Code:    ViolationRole,
			NodeID:  n.ID,
			Message: fmt.Sprintf("unknown kind %q", n.Kind),
		})
	}

	if n.Context == "" {
		violations = append(violations, Violation{
			Code:    ViolationContext,
			NodeID:  n.ID,
			Message: `context scope must be a scope name, "global", or "none"`,
		})
	}

	return violations
}
