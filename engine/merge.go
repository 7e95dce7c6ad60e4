package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskloom/taskloom/task"
)

// UpstreamResult is one sibling's reported outcome, tagged with the
// producing task, the node it ended on, its status, and arrival time.
type UpstreamResult struct {
	TaskID    string      `json:"task_id"`
	NodeID    string      `json:"node_id"`
	Status    task.Status `json:"status"`
	Output    any         `json:"output,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// MergeWaitState accumulates sibling outcomes for one fan-out group until
// the group's completion predicate is satisfied. Clone groups need any
// one sibling to arrive at the merge; subtask groups need every sibling.
// The Required count is fixed at spawn time — the dynamic fan-out, not
// the merge node's inbound edge count, is the run-time source of truth.
type MergeWaitState struct {
	OwnerID     string
	SpawnNodeID string
	Group       task.LineageType
	Required    int
	MergeNodeID string

	reported    map[string]bool
	outputs     []UpstreamResult
	arrivals    int
	completions int
	failures    bool
	AllComplete bool
}

// decisionKind classifies what the engine must do after a group event.
type decisionKind int

const (
	// decidePending means the group is still waiting. Not an error.
	decidePending decisionKind = iota
	// decidePartial means a clone sibling failed while others are
	// outstanding; the owner becomes partial but the merge still waits.
	decidePartial
	// decideFire means the predicate is satisfied: execute the merge
	// node on the owner with the collected outputs as input.
	decideFire
	// decideResolve means the group resolved without a merge firing:
	// the owner takes a terminal status directly.
	decideResolve
)

// mergeDecision is the coordinator's verdict after recording one event.
type mergeDecision struct {
	kind        decisionKind
	ownerID     string
	mergeNodeID string
	inputs      []UpstreamResult
	status      task.Status
	output      any
}

// Coordinator owns every live MergeWaitState. All mutations to a group's
// collected outputs and counts are serialized behind one mutex.
type Coordinator struct {
	mu      sync.Mutex
	groups  map[string]*MergeWaitState
	byChild map[string]*MergeWaitState
	logger  *zap.Logger
}

// NewCoordinator creates an empty merge coordinator.
func NewCoordinator(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		groups:  make(map[string]*MergeWaitState),
		byChild: make(map[string]*MergeWaitState),
		logger:  logger.With(zap.String("component", "merge_coordinator")),
	}
}

// CreateGroup registers a fan-out group spawned at spawnNodeID on the
// owner task. Required is the number of siblings actually spawned.
func (c *Coordinator) CreateGroup(ownerID, spawnNodeID string, group task.LineageType, required int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ownerID + "/" + spawnNodeID
	c.groups[key] = &MergeWaitState{
		OwnerID:     ownerID,
		SpawnNodeID: spawnNodeID,
		Group:       group,
		Required:    required,
		reported:    make(map[string]bool, required),
	}
	c.logger.Debug("merge group created",
		zap.String("owner_id", ownerID),
		zap.String("spawn_node", spawnNodeID),
		zap.String("group", string(group)),
		zap.Int("required", required),
	)
}

// RegisterChild binds a spawned sibling to its group.
func (c *Coordinator) RegisterChild(ownerID, spawnNodeID, childID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.groups[ownerID+"/"+spawnNodeID]; ok {
		c.byChild[childID] = g
	}
}

// InGroup reports whether taskID is a registered sibling of a live group.
func (c *Coordinator) InGroup(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byChild[taskID]
	return ok
}

// RecordArrival records childID reaching the merge node with its output
// and returns the group's verdict.
func (c *Coordinator) RecordArrival(childID, mergeNodeID string, output any) mergeDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.byChild[childID]
	if !ok {
		return mergeDecision{kind: decidePending}
	}
	if g.MergeNodeID == "" {
		g.MergeNodeID = mergeNodeID
	}
	c.recordLocked(g, UpstreamResult{
		TaskID:    childID,
		NodeID:    mergeNodeID,
		Status:    task.StatusCompleted,
		Output:    output,
		Timestamp: time.Now(),
	}, true)
	return c.decideLocked(g)
}

// RecordTerminal records childID ending away from the merge node
// (completed at an exit, failed, or cancelled) and returns the verdict.
func (c *Coordinator) RecordTerminal(childID, nodeID string, status task.Status, output any) mergeDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.byChild[childID]
	if !ok {
		return mergeDecision{kind: decidePending}
	}
	c.recordLocked(g, UpstreamResult{
		TaskID:    childID,
		NodeID:    nodeID,
		Status:    status,
		Output:    output,
		Timestamp: time.Now(),
	}, false)
	return c.decideLocked(g)
}

// ReleaseOwner destroys every group owned by ownerID, typically on
// cancellation, so no sibling family waits on a dead parent.
func (c *Coordinator) ReleaseOwner(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, g := range c.groups {
		if g.OwnerID != ownerID {
			continue
		}
		for childID, childGroup := range c.byChild {
			if childGroup == g {
				delete(c.byChild, childID)
			}
		}
		delete(c.groups, key)
		c.logger.Debug("merge group released",
			zap.String("owner_id", ownerID),
			zap.String("spawn_node", g.SpawnNodeID),
		)
	}
}

func (c *Coordinator) recordLocked(g *MergeWaitState, res UpstreamResult, atMerge bool) {
	if g.reported[res.TaskID] {
		return
	}
	g.reported[res.TaskID] = true
	g.outputs = append(g.outputs, res)
	if atMerge {
		g.arrivals++
	}
	if res.Status == task.StatusCompleted {
		g.completions++
	} else {
		g.failures = true
	}
}

// decideLocked evaluates the group's completion predicate after an event.
// Subtask groups fail the moment any required sibling fails; clone groups
// wait for every sibling to report and succeed if any one arrived.
func (c *Coordinator) decideLocked(g *MergeWaitState) mergeDecision {
	if g.Group == task.LineageSubtask && g.failures {
		c.destroyLocked(g)
		return mergeDecision{
			kind:    decideResolve,
			ownerID: g.OwnerID,
			status:  task.StatusFailed,
		}
	}

	if len(g.outputs) < g.Required {
		if g.Group == task.LineageClone && g.failures {
			return mergeDecision{kind: decidePartial, ownerID: g.OwnerID}
		}
		return mergeDecision{kind: decidePending}
	}

	g.AllComplete = true
	defer c.destroyLocked(g)

	if g.arrivals > 0 {
		if g.Group == task.LineageClone || g.arrivals == g.Required {
			return mergeDecision{
				kind:        decideFire,
				ownerID:     g.OwnerID,
				mergeNodeID: g.MergeNodeID,
				inputs:      append([]UpstreamResult(nil), g.outputs...),
			}
		}
	}

	// No merge in the siblings' paths: resolve the owner directly.
	if g.completions == 0 {
		return mergeDecision{kind: decideResolve, ownerID: g.OwnerID, status: task.StatusFailed}
	}
	if g.Group == task.LineageClone {
		for _, res := range g.outputs {
			if res.Status == task.StatusCompleted {
				return mergeDecision{
					kind:    decideResolve,
					ownerID: g.OwnerID,
					status:  task.StatusCompleted,
					output:  res.Output,
				}
			}
		}
	}
	outputs := make([]any, 0, len(g.outputs))
	for _, res := range g.outputs {
		outputs = append(outputs, res.Output)
	}
	return mergeDecision{
		kind:    decideResolve,
		ownerID: g.OwnerID,
		status:  task.StatusCompleted,
		output:  outputs,
	}
}

func (c *Coordinator) destroyLocked(g *MergeWaitState) {
	for childID, childGroup := range c.byChild {
		if childGroup == g {
			delete(c.byChild, childID)
		}
	}
	delete(c.groups, g.OwnerID+"/"+g.SpawnNodeID)
}
