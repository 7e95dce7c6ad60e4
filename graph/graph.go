package graph

// NodeKind defines how a node's body is computed.
type NodeKind string

const (
	// KindDeterministic executes a locally registered handler.
	KindDeterministic NodeKind = "deterministic"
	// KindAgent executes through the external agent runtime.
	KindAgent NodeKind = "agent"
)

// NodeRole defines a node's structural role in the workflow graph.
type NodeRole string

const (
	// RoleStart is the single entry node of a graph.
	RoleStart NodeRole = "start"
	// RoleLinear passes its output to exactly one successor.
	RoleLinear NodeRole = "linear"
	// RoleBranch fans out into parallel clone alternatives.
	RoleBranch NodeRole = "branch"
	// RoleSplit fans out into parallel required subtasks.
	RoleSplit NodeRole = "split"
	// RoleDecision routes to one successor chosen at run time.
	RoleDecision NodeRole = "decision"
	// RoleMerge consumes all upstream branches before producing output.
	RoleMerge NodeRole = "merge"
	// RoleExit terminates execution for the task.
	RoleExit NodeRole = "exit"
)

// Reserved context scope names.
const (
	// ContextGlobal gives the node the global memory scope.
	ContextGlobal = "global"
	// ContextNone gives the node no memory scope.
	ContextNone = "none"
)

// Node is a single typed step in a workflow graph. Nodes are created at
// graph-authoring time and are immutable once validated.
type Node struct {
	// ID is the unique identifier for this node.
	ID string `json:"id" yaml:"id"`
	// Name is the human-readable node name.
	Name string `json:"name" yaml:"name"`
	// Kind specifies how the node body is computed.
	Kind NodeKind `json:"kind" yaml:"kind"`
	// Role specifies the node's structural role.
	Role NodeRole `json:"role" yaml:"role"`
	// DefaultStart marks the graph's entry node. Exactly one node per
	// graph sets it, and that node must have RoleStart.
	DefaultStart bool `json:"default_start,omitempty" yaml:"default_start,omitempty"`
	// Context names the memory scope handed to the context subsystem:
	// a scope name, ContextGlobal, or ContextNone. Never empty.
	Context string `json:"context" yaml:"context"`
	// AgentID identifies the backing agent. Required iff Kind is KindAgent.
	AgentID string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	// ContinueOnFailure makes a node-body error non-fatal to the task.
	ContinueOnFailure bool `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
	// Tools lists optional tool references available to the node.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Edge is an ordered pair of node ids. Condition is a label consulted
// only when the source node's role is RoleDecision.
type Edge struct {
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Graph is an immutable workflow description: the node set, the ordered
// edge list, and the adjacency derived from them. Construct with NewGraph
// and run the Validator before handing a Graph to the execution engine.
type Graph struct {
	name  string
	nodes map[string]*Node
	order []string
	edges []Edge
	out   map[string][]Edge
	in    map[string][]Edge
}

// NewGraph builds a graph from node and edge declarations. Declaration
// order is preserved for nodes and edges; it is the order the router uses
// for default decision resolution. NewGraph does not validate — edges may
// reference unknown nodes until the Validator rejects them.
func NewGraph(name string, nodes []*Node, edges []Edge) *Graph {
	g := &Graph{
		name:  name,
		nodes: make(map[string]*Node, len(nodes)),
		order: make([]string, 0, len(nodes)),
		edges: append([]Edge(nil), edges...),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
	for _, n := range nodes {
		if _, dup := g.nodes[n.ID]; !dup {
			g.order = append(g.order, n.ID)
		}
		g.nodes[n.ID] = n
	}
	for _, e := range g.edges {
		g.out[e.From] = append(g.out[e.From], e)
		g.in[e.To] = append(g.in[e.To], e)
	}
	return g
}

// Name returns the graph name.
func (g *Graph) Name() string {
	return g.name
}

// Node retrieves a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		nodes = append(nodes, g.nodes[id])
	}
	return nodes
}

// Edges returns the declared edge list.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Outgoing returns the outgoing edges of a node in declaration order.
func (g *Graph) Outgoing(nodeID string) []Edge {
	return g.out[nodeID]
}

// Incoming returns the incoming edges of a node in declaration order.
func (g *Graph) Incoming(nodeID string) []Edge {
	return g.in[nodeID]
}

// DefaultStart returns the node marked default_start, or nil if zero or
// multiple nodes claim it (a validation violation either way).
func (g *Graph) DefaultStart() *Node {
	var start *Node
	for _, id := range g.order {
		n := g.nodes[id]
		if n.DefaultStart {
			if start != nil {
				return nil
			}
			start = n
		}
	}
	return start
}

// Len returns the number of declared nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}
