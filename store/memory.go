package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/taskloom/taskloom/task"
	"github.com/taskloom/taskloom/types"
)

// Memory is the default in-process checkpoint store. Checkpoints are
// JSON snapshots of the task keyed by task id; every save appends, so
// the full progression is inspectable in tests.
type Memory struct {
	mu          sync.RWMutex
	tasks       *task.Store
	checkpoints map[string][][]byte
	artifacts   map[string]map[string]any
}

// NewMemory creates an in-memory checkpoint store reading task snapshots
// from tasks.
func NewMemory(tasks *task.Store) *Memory {
	return &Memory{
		tasks:       tasks,
		checkpoints: make(map[string][][]byte),
		artifacts:   make(map[string]map[string]any),
	}
}

// SaveCheckpoint appends a JSON snapshot of the task.
func (m *Memory) SaveCheckpoint(ctx context.Context, taskID string) error {
	t, err := m.tasks.Get(taskID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return types.NewError(types.ErrCheckpoint, "marshal checkpoint").WithCause(err).WithTask(taskID)
	}
	m.mu.Lock()
	m.checkpoints[taskID] = append(m.checkpoints[taskID], data)
	m.mu.Unlock()
	return nil
}

// StoreArtifact records a stage output for a task/node pair.
func (m *Memory) StoreArtifact(ctx context.Context, taskID, nodeID string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.artifacts[taskID] == nil {
		m.artifacts[taskID] = make(map[string]any)
	}
	m.artifacts[taskID][nodeID] = payload
	return nil
}

// Checkpoints returns the saved snapshots for a task, oldest first.
func (m *Memory) Checkpoints(taskID string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.checkpoints[taskID]...)
}

// Artifact returns the stored stage output for a task/node pair.
func (m *Memory) Artifact(taskID, nodeID string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	payload, ok := m.artifacts[taskID][nodeID]
	return payload, ok
}

// LatestCheckpoint decodes the most recent snapshot for a task.
func (m *Memory) LatestCheckpoint(taskID string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := m.checkpoints[taskID]
	if len(snaps) == 0 {
		return nil, types.Errorf(types.ErrCheckpoint, "no checkpoint for task %s", taskID).WithTask(taskID)
	}
	var t task.Task
	if err := json.Unmarshal(snaps[len(snaps)-1], &t); err != nil {
		return nil, types.NewError(types.ErrCheckpoint, "decode checkpoint").WithCause(err).WithTask(taskID)
	}
	return &t, nil
}
