package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/taskloom/taskloom/graph"
)

// Definition is the top-level YAML manifest of a workflow graph.
type Definition struct {
	// Version is the manifest format version.
	Version string `yaml:"version" json:"version"`
	// Name is the workflow name.
	Name string `yaml:"name" json:"name"`
	// Description describes the workflow.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Nodes contains all node definitions.
	Nodes []NodeDef `yaml:"nodes" json:"nodes"`
	// Edges contains all edge definitions.
	Edges []EdgeDef `yaml:"edges" json:"edges"`
	// Metadata stores additional workflow information.
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// NodeDef is one node declaration.
type NodeDef struct {
	ID                string   `yaml:"id" json:"id"`
	Name              string   `yaml:"name,omitempty" json:"name,omitempty"`
	Kind              string   `yaml:"kind" json:"kind"`
	Role              string   `yaml:"role" json:"role"`
	DefaultStart      bool     `yaml:"default_start,omitempty" json:"default_start,omitempty"`
	Context           string   `yaml:"context,omitempty" json:"context,omitempty"`
	AgentID           string   `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	ContinueOnFailure bool     `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
	Tools             []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// EdgeDef is one edge declaration.
type EdgeDef struct {
	From      string `yaml:"from" json:"from"`
	To        string `yaml:"to" json:"to"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Loader parses YAML workflow manifests into validated graphs.
type Loader struct {
	validator *graph.Validator
}

// NewLoader creates a manifest loader.
func NewLoader() *Loader {
	return &Loader{validator: graph.NewValidator()}
}

// LoadFile parses and validates the manifest at filename.
func (l *Loader) LoadFile(filename string) (*graph.Graph, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read manifest file: %w", err)
	}
	return l.Load(data)
}

// Load parses YAML bytes into a graph and validates it. Every structural
// violation is reported at once.
func (l *Loader) Load(data []byte) (*graph.Graph, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse manifest YAML: %w", err)
	}
	g, err := Build(&def)
	if err != nil {
		return nil, err
	}
	if violations := l.validator.Validate(g); len(violations) > 0 {
		return nil, fmt.Errorf("manifest %q invalid: %w", def.Name, joinViolations(violations))
	}
	return g, nil
}

// Build converts a parsed definition into a graph without validating it.
func Build(def *Definition) (*graph.Graph, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("manifest requires a name")
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("manifest %q declares no nodes", def.Name)
	}

	nodes := make([]*graph.Node, 0, len(def.Nodes))
	for _, nd := range def.Nodes {
		context := nd.Context
		if context == "" {
			context = graph.ContextNone
		}
		nodes = append(nodes, &graph.Node{
			ID:                nd.ID,
			Name:              nd.Name,
			Kind:              graph.NodeKind(nd.Kind),
			Role:              graph.NodeRole(nd.Role),
			DefaultStart:      nd.DefaultStart,
			Context:           context,
			AgentID:           nd.AgentID,
			ContinueOnFailure: nd.ContinueOnFailure,
			Tools:             nd.Tools,
		})
	}

	edges := make([]graph.Edge, 0, len(def.Edges))
	for _, ed := range def.Edges {
		edges = append(edges, graph.Edge{From: ed.From, To: ed.To, Condition: ed.Condition})
	}

	return graph.NewGraph(def.Name, nodes, edges), nil
}

// violationError wraps the full violation list so callers can inspect
// each defect.
type violationError struct {
	violations []graph.Violation
}

func (e *violationError) Error() string {
	msg := ""
	for i, v := range e.violations {
		if i > 0 {
			msg += "; "
		}
		msg += v.Error()
	}
	return msg
}

// Violations returns every structural defect found.
func (e *violationError) Violations() []graph.Violation {
	return e.violations
}

func joinViolations(violations []graph.Violation) error {
	return &violationError{violations: violations}
}
