package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskloom/taskloom/graph"
)

const validManifest = `
version: "1"
name: review-pipeline
description: Draft, review, and publish.
nodes:
  - id: start
    kind: deterministic
    role: start
    default_start: true
  - id: triage
    name: Triage
    kind: agent
    role: decision
    agent_id: triage-agent
    context: global
    tools:
      - search
  - id: quick
    kind: deterministic
    role: linear
    continue_on_failure: true
  - id: deep
    kind: agent
    role: linear
    agent_id: deep-agent
    context: review
  - id: join
    kind: deterministic
    role: merge
  - id: finish
    kind: deterministic
    role: exit
edges:
  - from: start
    to: triage
  - from: triage
    to: quick
    condition: quick
  - from: triage
    to: deep
    condition: deep
  - from: quick
    to: join
  - from: deep
    to: join
  - from: join
    to: finish
metadata:
  owner: platform
`

func TestLoad_ValidManifest(t *testing.T) {
	t.Parallel()
	g, err := NewLoader().Load([]byte(validManifest))
	require.NoError(t, err)

	assert.Equal(t, "review-pipeline", g.Name())
	assert.Equal(t, 6, g.Len())

	start := g.DefaultStart()
	require.NotNil(t, start)
	assert.Equal(t, "start", start.ID)

	triage, ok := g.Node("triage")
	require.True(t, ok)
	assert.Equal(t, graph.KindAgent, triage.Kind)
	assert.Equal(t, graph.RoleDecision, triage.Role)
	assert.Equal(t, "triage-agent", triage.AgentID)
	assert.Equal(t, graph.ContextGlobal, triage.Context)
	assert.Equal(t, []string{"search"}, triage.Tools)

	quick, ok := g.Node("quick")
	require.True(t, ok)
	assert.True(t, quick.ContinueOnFailure)
	assert.Equal(t, graph.ContextNone, quick.Context, "omitted context defaults to none")

	out := g.Outgoing("triage")
	require.Len(t, out, 2)
	assert.Equal(t, "quick", out[0].Condition)
	assert.Equal(t, "deep", out[1].Condition)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()
	_, err := NewLoader().Load([]byte("nodes: [what"))
	assert.Error(t, err)
}

func TestLoad_MissingName(t *testing.T) {
	t.Parallel()
	_, err := NewLoader().Load([]byte("version: \"1\"\nnodes:\n  - id: a\n    kind: deterministic\n    role: start\n"))
	assert.Error(t, err)
}

func TestLoad_NoNodes(t *testing.T) {
	t.Parallel()
	_, err := NewLoader().Load([]byte("name: empty\n"))
	assert.Error(t, err)
}

func TestLoad_StructurallyInvalidReportsAllViolations(t *testing.T) {
	t.Parallel()
	// Two defects: an agent node without an agent_id and an unreachable
	// node. Both must surface from one Load call.
	bad := `
name: broken
nodes:
  - id: start
    kind: deterministic
    role: start
    default_start: true
  - id: thinker
    kind: agent
    role: linear
  - id: finish
    kind: deterministic
    role: exit
  - id: island
    kind: deterministic
    role: exit
edges:
  - from: start
    to: thinker
  - from: thinker
    to: finish
`
	_, err := NewLoader().Load([]byte(bad))
	require.Error(t, err)

	var verr interface{ Violations() []graph.Violation }
	require.ErrorAs(t, err, &verr)
	violations := verr.Violations()
	assert.GreaterOrEqual(t, len(violations), 2)

	codes := map[graph.ViolationCode]bool{}
	for _, v := range violations {
		codes[v.Code] = true
	}
	assert.True(t, codes[graph.ViolationAgent])
	assert.True(t, codes[graph.ViolationUnreachable])
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validManifest), 0o644))

	g, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "review-pipeline", g.Name())

	_, err = NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
