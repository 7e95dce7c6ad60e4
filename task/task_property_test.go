package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Lineage fields must survive a serialization round trip exactly: the
// wire names parent_task_id, lineage_type, and lineage_metadata are a
// contract with external consumers of task snapshots.
func TestTaskLineageRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		lineage := rapid.SampledFrom([]LineageType{LineageRoot, LineageClone, LineageSubtask}).Draw(t, "lineage")
		status := rapid.SampledFrom([]Status{
			StatusPending, StatusInProgress, StatusCompleted,
			StatusFailed, StatusPartial, StatusCancelled,
		}).Draw(t, "status")

		original := &Task{
			ID:       rapid.StringMatching(`[a-z0-9-]{1,40}`).Draw(t, "id"),
			ParentID: rapid.StringMatching(`[a-z0-9-]{0,40}`).Draw(t, "parent"),
			Lineage:  lineage,
			Status:   status,
			Spec: Spec{
				Request:  rapid.String().Draw(t, "request"),
				Mode:     rapid.StringMatching(`[a-z]{0,12}`).Draw(t, "mode"),
				Priority: rapid.IntRange(0, 100).Draw(t, "priority"),
			},
			Metadata: LineageMetadata{
				BranchLabel:  rapid.StringMatching(`[a-z-]{0,20}`).Draw(t, "branch"),
				SubtaskInput: rapid.String().Draw(t, "input"),
			},
			ChildIDs:  rapid.SliceOfN(rapid.StringMatching(`[a-z0-9-]{1,20}`), 0, 5).Draw(t, "children"),
			CreatedAt: time.Unix(rapid.Int64Range(0, 1<<32).Draw(t, "created"), 0).UTC(),
		}

		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded Task
		require.NoError(t, json.Unmarshal(data, &decoded))

		require.Equal(t, original.ID, decoded.ID)
		require.Equal(t, original.ParentID, decoded.ParentID)
		require.Equal(t, original.Lineage, decoded.Lineage)
		require.Equal(t, original.Status, decoded.Status)
		require.Equal(t, original.Spec, decoded.Spec)
		require.Equal(t, original.Metadata, decoded.Metadata)
		require.Equal(t, original.ChildIDs, decoded.ChildIDs)
		require.True(t, original.CreatedAt.Equal(decoded.CreatedAt))
	})
}

// Derived tasks never share a task-local memory reference with their
// parent or siblings, while project and global references are inherited.
func TestDerivedMemoryScopesProperty(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		s := NewStore(nil)
		parent := s.CreateTask(Spec{
			Request: rapid.String().Draw(t, "request"),
			Mode:    rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "mode"),
		})

		n := rapid.IntRange(1, 6).Draw(t, "children")
		seen := map[string]bool{parent.TaskMemory: true}
		for i := 0; i < n; i++ {
			var child *Task
			var err error
			if rapid.Bool().Draw(t, "asClone") {
				child, err = s.CreateClone(parent.ID, "alt", nil)
			} else {
				child, err = s.CreateSubtask(parent.ID, "piece")
			}
			require.NoError(t, err)
			require.Equal(t, parent.ProjectMemory, child.ProjectMemory)
			require.Equal(t, parent.GlobalMemory, child.GlobalMemory)
			require.False(t, seen[child.TaskMemory], "task memory reference reused")
			seen[child.TaskMemory] = true
		}
	})
}
