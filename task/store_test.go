package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zap.NewNop())
}

func TestCreateTask_Defaults(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	created := s.CreateTask(Spec{Request: "summarize the report", Mode: "analysis", Priority: 3})

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, LifecycleQueued, created.Lifecycle)
	assert.Equal(t, LineageRoot, created.Lineage)
	assert.Empty(t, created.ParentID)
	assert.Equal(t, "task-"+created.ID, created.TaskMemory)
	assert.Equal(t, "global", created.GlobalMemory)
	assert.NotEmpty(t, created.ProjectMemory)

	// Same spec maps to the same project memory reference.
	again := s.CreateTask(Spec{Request: "summarize the report", Mode: "analysis", Priority: 3})
	assert.Equal(t, created.ProjectMemory, again.ProjectMemory)
	assert.NotEqual(t, created.ID, again.ID)

	// Different request family maps elsewhere.
	other := s.CreateTask(Spec{Request: "translate the report", Mode: "analysis"})
	assert.NotEqual(t, created.ProjectMemory, other.ProjectMemory)
}

func TestCreateClone_InheritsSpecAndMemory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	parent := s.CreateTask(Spec{Request: "draft", Mode: "writing", Priority: 1})
	require.NoError(t, s.UpdateTaskOutput(parent.ID, "outline v1"))

	c, err := s.CreateClone(parent.ID, "formal-tone", nil)
	require.NoError(t, err)

	assert.Equal(t, parent.ID, c.ParentID)
	assert.Equal(t, LineageClone, c.Lineage)
	assert.Equal(t, "formal-tone", c.Metadata.BranchLabel)
	assert.Equal(t, parent.Spec, c.Spec)
	assert.Equal(t, parent.ProjectMemory, c.ProjectMemory)
	assert.Equal(t, parent.GlobalMemory, c.GlobalMemory)
	assert.NotEqual(t, parent.TaskMemory, c.TaskMemory)
	assert.Equal(t, "outline v1", c.CurrentOutput, "clone starts from parent output when none given")

	explicit, err := s.CreateClone(parent.ID, "casual-tone", "outline v2")
	require.NoError(t, err)
	assert.Equal(t, "outline v2", explicit.CurrentOutput)

	got, err := s.Get(parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, explicit.ID}, got.ChildIDs)
}

func TestCreateSubtask_IndependentSpec(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	parent := s.CreateTask(Spec{Request: "process dataset", Mode: "batch", Priority: 5})
	require.NoError(t, s.UpdateTaskOutput(parent.ID, "partition manifest"))

	sub, err := s.CreateSubtask(parent.ID, "process shard 7")
	require.NoError(t, err)

	assert.Equal(t, LineageSubtask, sub.Lineage)
	assert.Equal(t, "process shard 7", sub.Spec.Request)
	assert.Equal(t, "batch", sub.Spec.Mode)
	assert.Equal(t, 5, sub.Spec.Priority)
	assert.Equal(t, "process shard 7", sub.Metadata.SubtaskInput)
	assert.Nil(t, sub.CurrentOutput, "subtask output starts empty")
	assert.Equal(t, parent.ProjectMemory, sub.ProjectMemory)
}

func TestCreateDerived_UnknownParent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.CreateClone("missing", "x", nil)
	assert.Error(t, err)

	_, err = s.CreateSubtask("missing", "x")
	assert.Error(t, err)
}

func TestCheckCloneCompletion_AnyOfN(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	parent := s.CreateTask(Spec{Request: "r"})

	a, err := s.CreateClone(parent.ID, "a", nil)
	require.NoError(t, err)
	b, err := s.CreateClone(parent.ID, "b", nil)
	require.NoError(t, err)
	c, err := s.CreateClone(parent.ID, "c", nil)
	require.NoError(t, err)

	done, err := s.CheckCloneCompletion(parent.ID)
	require.NoError(t, err)
	assert.False(t, done, "no clone finished yet")

	require.NoError(t, s.SetStatus(a.ID, StatusFailed))
	require.NoError(t, s.SetStatus(b.ID, StatusFailed))
	done, err = s.CheckCloneCompletion(parent.ID)
	require.NoError(t, err)
	assert.False(t, done, "failures alone never satisfy a clone group")

	require.NoError(t, s.SetStatus(c.ID, StatusCompleted))
	done, err = s.CheckCloneCompletion(parent.ID)
	require.NoError(t, err)
	assert.True(t, done, "one completed clone is sufficient")
}

func TestCheckSubtaskCompletion_AllOfN(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	parent := s.CreateTask(Spec{Request: "r"})

	a, err := s.CreateSubtask(parent.ID, "shard 0")
	require.NoError(t, err)
	b, err := s.CreateSubtask(parent.ID, "shard 1")
	require.NoError(t, err)
	c, err := s.CreateSubtask(parent.ID, "shard 2")
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(a.ID, StatusCompleted))
	require.NoError(t, s.SetStatus(b.ID, StatusCompleted))
	require.NoError(t, s.SetStatus(c.ID, StatusFailed))

	done, err := s.CheckSubtaskCompletion(parent.ID)
	require.NoError(t, err)
	assert.False(t, done, "a failed subtask blocks completion")

	require.NoError(t, s.SetStatus(c.ID, StatusCompleted))
	done, err = s.CheckSubtaskCompletion(parent.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestCheckSubtaskCompletion_IgnoresCloneSiblings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	parent := s.CreateTask(Spec{Request: "r"})

	clone, err := s.CreateClone(parent.ID, "alt", nil)
	require.NoError(t, err)
	sub, err := s.CreateSubtask(parent.ID, "shard 0")
	require.NoError(t, err)

	require.NoError(t, s.SetStatus(clone.ID, StatusFailed))
	require.NoError(t, s.SetStatus(sub.ID, StatusCompleted))

	done, err := s.CheckSubtaskCompletion(parent.ID)
	require.NoError(t, err)
	assert.True(t, done, "failed clone must not block subtask completion")
}

func TestRecordStageResult_WriteOnce(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	created := s.CreateTask(Spec{Request: "r"})

	require.NoError(t, s.RecordStageResult(created.ID, &StageResult{NodeID: "n1", Output: "out"}))
	err := s.RecordStageResult(created.ID, &StageResult{NodeID: "n1", Output: "again"})
	require.Error(t, err)

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	require.Contains(t, got.StageResults, "n1")
	assert.Equal(t, "out", got.StageResults["n1"].Output, "first record wins")
}

func TestSetStatus_TerminalFinishesLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	created := s.CreateTask(Spec{Request: "r"})

	require.NoError(t, s.SetStatus(created.ID, StatusInProgress))
	got, _ := s.Get(created.ID)
	assert.Equal(t, LifecycleQueued, got.Lifecycle, "non-terminal status leaves lifecycle alone")

	require.NoError(t, s.SetStatus(created.ID, StatusCompleted))
	got, _ = s.Get(created.ID)
	assert.Equal(t, LifecycleFinished, got.Lifecycle)
}

func TestCancel_Cascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	root := s.CreateTask(Spec{Request: "r"})
	child, err := s.CreateSubtask(root.ID, "shard 0")
	require.NoError(t, err)
	grandchild, err := s.CreateClone(child.ID, "alt", nil)
	require.NoError(t, err)
	finished, err := s.CreateSubtask(root.ID, "shard 1")
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(finished.ID, StatusCompleted))

	require.NoError(t, s.Cancel(root.ID))

	for _, id := range []string{root.ID, child.ID, grandchild.ID} {
		got, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status, "task %s", id)
		assert.Equal(t, LifecycleFinished, got.Lifecycle)
	}

	got, err := s.Get(finished.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status, "already terminal children keep their status")
}

func TestClearCompleted(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	done := s.CreateTask(Spec{Request: "done"})
	require.NoError(t, s.SetStatus(done.ID, StatusCompleted))

	running := s.CreateTask(Spec{Request: "running"})
	require.NoError(t, s.SetStatus(running.ID, StatusInProgress))

	// Completed parent with a live child must survive.
	parent := s.CreateTask(Spec{Request: "parent"})
	child, err := s.CreateSubtask(parent.ID, "shard 0")
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(parent.ID, StatusCompleted))

	removed := s.ClearCompleted()
	assert.Equal(t, 1, removed)

	_, err = s.Get(done.ID)
	assert.Error(t, err, "completed task with no live descendants is removed")
	_, err = s.Get(running.ID)
	assert.NoError(t, err)
	_, err = s.Get(parent.ID)
	assert.NoError(t, err, "completed parent with a live child is retained")

	// Finishing the child makes the parent collectible.
	require.NoError(t, s.SetStatus(child.ID, StatusFailed))
	assert.Equal(t, 1, s.ClearCompleted())
	_, err = s.Get(parent.ID)
	assert.Error(t, err)
}

func TestAccessorsReturnCopies(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	created := s.CreateTask(Spec{Request: "r"})

	got, err := s.Get(created.ID)
	require.NoError(t, err)
	got.Status = StatusFailed
	got.ChildIDs = append(got.ChildIDs, "bogus")

	fresh, err := s.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, fresh.Status)
	assert.Empty(t, fresh.ChildIDs)
}

func TestTasksByStatusAndOrdering(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := s.CreateTask(Spec{Request: "a"})
	b := s.CreateTask(Spec{Request: "b"})
	require.NoError(t, s.SetStatus(b.ID, StatusFailed))

	all := s.AllTasks()
	require.Len(t, all, 2)

	failed := s.TasksByStatus(StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, b.ID, failed[0].ID)

	pending := s.TasksByStatus(StatusPending)
	require.Len(t, pending, 1)
	assert.Equal(t, a.ID, pending[0].ID)
}
