package task

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskloom/taskloom/types"
)

// Store owns the set of live tasks, their status, history, and
// parent/child relationships. It knows nothing about routing: lineage
// bookkeeping only.
//
// All mutations are serialized behind a single mutex, so a task's
// stage_results and status never see two writers at a time. Accessors
// return deep copies; callers never hold live pointers into the store.
type Store struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	logger *zap.Logger
}

// NewStore creates an empty task store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		tasks:  make(map[string]*Task),
		logger: logger.With(zap.String("component", "task_store")),
	}
}

// CreateTask allocates a new root task from spec: status pending,
// lifecycle queued, project/global memory references derived
// deterministically from the spec, a fresh task-local reference.
func (s *Store) CreateTask(spec Spec) *Task {
	now := time.Now()
	id := uuid.NewString()
	t := &Task{
		ID:            id,
		Spec:          spec,
		Status:        StatusPending,
		Lifecycle:     LifecycleQueued,
		Lineage:       LineageRoot,
		StageResults:  make(map[string]*StageResult),
		TaskMemory:    "task-" + id,
		ProjectMemory: deriveProjectMemory(spec),
		GlobalMemory:  "global",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()

	s.logger.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("mode", spec.Mode),
	)
	return t.clone()
}

// CreateClone spawns a clone of parent for one branch alternative. The
// clone inherits the parent's spec and project/global memory references
// verbatim, gets a fresh task-local reference, and starts from output if
// non-nil, else from the parent's current output.
func (s *Store) CreateClone(parentID, branchLabel string, output any) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.tasks[parentID]
	if !ok {
		return nil, types.Errorf(types.ErrLineage, "clone parent %s not found", parentID).WithTask(parentID)
	}

	now := time.Now()
	id := fmt.Sprintf("%s-clone-%s", parent.ID, freshSuffix())
	t := &Task{
		ID:            id,
		Spec:          parent.Spec,
		Status:        StatusPending,
		Lifecycle:     LifecycleQueued,
		ParentID:      parent.ID,
		Lineage:       LineageClone,
		Metadata:      LineageMetadata{BranchLabel: branchLabel},
		StageResults:  make(map[string]*StageResult),
		CurrentOutput: output,
		TaskMemory:    "task-" + id,
		ProjectMemory: parent.ProjectMemory,
		GlobalMemory:  parent.GlobalMemory,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.CurrentOutput == nil {
		t.CurrentOutput = parent.CurrentOutput
	}

	s.tasks[t.ID] = t
	parent.ChildIDs = append(parent.ChildIDs, t.ID)
	parent.UpdatedAt = now

	s.logger.Info("clone created",
		zap.String("task_id", t.ID),
		zap.String("parent_id", parent.ID),
		zap.String("branch", branchLabel),
	)
	return t.clone(), nil
}

// CreateSubtask spawns one required piece of a partitioned job. The
// subtask gets a new spec whose request is the subtask input, inheriting
// only mode and priority from the parent. Its output starts empty:
// subtasks are independent units of work, unlike clones, which are
// alternatives of the same unit.
func (s *Store) CreateSubtask(parentID, subtaskInput string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.tasks[parentID]
	if !ok {
		return nil, types.Errorf(types.ErrLineage, "subtask parent %s not found", parentID).WithTask(parentID)
	}

	now := time.Now()
	id := fmt.Sprintf("%s-subtask-%s", parent.ID, freshSuffix())
	t := &Task{
		ID: id,
		Spec: Spec{
			Request:  subtaskInput,
			Mode:     parent.Spec.Mode,
			Priority: parent.Spec.Priority,
		},
		Status:        StatusPending,
		Lifecycle:     LifecycleQueued,
		ParentID:      parent.ID,
		Lineage:       LineageSubtask,
		Metadata:      LineageMetadata{SubtaskInput: subtaskInput},
		StageResults:  make(map[string]*StageResult),
		TaskMemory:    "task-" + id,
		ProjectMemory: parent.ProjectMemory,
		GlobalMemory:  parent.GlobalMemory,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.tasks[t.ID] = t
	parent.ChildIDs = append(parent.ChildIDs, t.ID)
	parent.UpdatedAt = now

	s.logger.Info("subtask created",
		zap.String("task_id", t.ID),
		zap.String("parent_id", parent.ID),
	)
	return t.clone(), nil
}

// Get retrieves a task by id.
func (s *Store) Get(taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, types.Errorf(types.ErrLineage, "task %s not found", taskID).WithTask(taskID)
	}
	return t.clone(), nil
}

// Children returns the direct children of a task in spawn order.
func (s *Store) Children(parentID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.tasks[parentID]
	if !ok {
		return nil, types.Errorf(types.ErrLineage, "task %s not found", parentID).WithTask(parentID)
	}
	children := make([]*Task, 0, len(parent.ChildIDs))
	for _, id := range parent.ChildIDs {
		if child, ok := s.tasks[id]; ok {
			children = append(children, child.clone())
		}
	}
	return children, nil
}

// CheckCloneCompletion reports whether at least one direct clone child of
// parentID completed. Clones model mutually exclusive alternatives, so a
// single success is sufficient even if every sibling failed.
func (s *Store) CheckCloneCompletion(parentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.tasks[parentID]
	if !ok {
		return false, types.Errorf(types.ErrLineage, "task %s not found", parentID).WithTask(parentID)
	}
	for _, id := range parent.ChildIDs {
		child, ok := s.tasks[id]
		if !ok || child.Lineage != LineageClone {
			continue
		}
		if child.Status == StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// CheckSubtaskCompletion reports whether every direct subtask child of
// parentID completed. Subtasks model a required partition of work; any
// failed or still-pending child blocks completion.
func (s *Store) CheckSubtaskCompletion(parentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.tasks[parentID]
	if !ok {
		return false, types.Errorf(types.ErrLineage, "task %s not found", parentID).WithTask(parentID)
	}
	for _, id := range parent.ChildIDs {
		child, ok := s.tasks[id]
		if !ok || child.Lineage != LineageSubtask {
			continue
		}
		if child.Status != StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// SetStatus transitions a task's status and keeps lifecycle in step.
func (s *Store) SetStatus(taskID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return types.Errorf(types.ErrLineage, "task %s not found", taskID).WithTask(taskID)
	}
	t.Status = status
	if status.Terminal() {
		t.Lifecycle = LifecycleFinished
	}
	t.UpdatedAt = time.Now()
	return nil
}

// SetLifecycle transitions a task's scheduling state.
func (s *Store) SetLifecycle(taskID string, lc Lifecycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return types.Errorf(types.ErrLineage, "task %s not found", taskID).WithTask(taskID)
	}
	t.Lifecycle = lc
	t.UpdatedAt = time.Now()
	return nil
}

// RecordStageResult appends the execution record for one node. Records
// are write-once per node; a second write for the same node is a lineage
// error.
func (s *Store) RecordStageResult(taskID string, result *StageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return types.Errorf(types.ErrLineage, "task %s not found", taskID).WithTask(taskID)
	}
	if _, exists := t.StageResults[result.NodeID]; exists {
		return types.Errorf(types.ErrLineage, "stage result for node %s already recorded", result.NodeID).
			WithTask(taskID).WithNode(result.NodeID)
	}
	r := *result
	r.ToolCalls = append([]ToolCall(nil), result.ToolCalls...)
	t.StageResults[result.NodeID] = &r
	t.UpdatedAt = time.Now()
	return nil
}

// AppendRoutingTrace appends one routing step for a task.
func (s *Store) AppendRoutingTrace(taskID, nodeID, decision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return types.Errorf(types.ErrLineage, "task %s not found", taskID).WithTask(taskID)
	}
	t.RoutingTrace = append(t.RoutingTrace, TraceEntry{
		NodeID:    nodeID,
		Decision:  decision,
		Timestamp: time.Now(),
	})
	t.UpdatedAt = time.Now()
	return nil
}

// UpdateTaskOutput replaces a task's current output.
func (s *Store) UpdateTaskOutput(taskID string, output any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return types.Errorf(types.ErrLineage, "task %s not found", taskID).WithTask(taskID)
	}
	t.CurrentOutput = output
	t.UpdatedAt = time.Now()
	return nil
}

// AllTasks returns every task ordered by creation time, then id.
func (s *Store) AllTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, t.clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}

// TasksByStatus returns every task with the given status, ordered as in
// AllTasks.
func (s *Store) TasksByStatus(status Status) []*Task {
	var out []*Task
	for _, t := range s.AllTasks() {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// Cancel marks a task cancelled and cascades to every still-pending
// descendant. Tasks already terminal are left untouched.
func (s *Store) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return types.Errorf(types.ErrLineage, "task %s not found", taskID).WithTask(taskID)
	}
	s.cancelLocked(taskID)
	return nil
}

func (s *Store) cancelLocked(taskID string) {
	t, ok := s.tasks[taskID]
	if !ok {
		return
	}
	if !t.Status.Terminal() {
		t.Status = StatusCancelled
		t.Lifecycle = LifecycleFinished
		t.UpdatedAt = time.Now()
		s.logger.Info("task cancelled", zap.String("task_id", taskID))
	}
	for _, child := range t.ChildIDs {
		s.cancelLocked(child)
	}
}

// ClearCompleted removes completed tasks that have no live descendants.
// Archival is explicit and out-of-band; nothing is removed automatically
// during a run. Returns the number of tasks removed.
func (s *Store) ClearCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, t := range s.tasks {
		if t.Status != StatusCompleted {
			continue
		}
		live := false
		for _, childID := range t.ChildIDs {
			if child, ok := s.tasks[childID]; ok && !child.Status.Terminal() {
				live = true
				break
			}
		}
		if !live {
			delete(s.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("completed tasks cleared", zap.Int("removed", removed))
	}
	return removed
}

// deriveProjectMemory maps a spec onto a stable project memory reference
// so tasks for the same request family share project scope.
func deriveProjectMemory(spec Spec) string {
	h := fnv.New32a()
	h.Write([]byte(spec.Mode))
	h.Write([]byte{0})
	h.Write([]byte(spec.Request))
	return fmt.Sprintf("project-%08x", h.Sum32())
}

// freshSuffix returns a short unique suffix for derived task ids.
func freshSuffix() string {
	return uuid.NewString()[:8]
}
