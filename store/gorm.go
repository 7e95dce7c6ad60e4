package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskloom/taskloom/task"
	"github.com/taskloom/taskloom/types"
)

// CheckpointRow is the persisted form of one task snapshot.
type CheckpointRow struct {
	ID        uint   `gorm:"primaryKey"`
	TaskID    string `gorm:"index;size:191"`
	Payload   []byte
	CreatedAt time.Time
}

// TableName maps CheckpointRow to its table.
func (CheckpointRow) TableName() string { return "checkpoints" }

// ArtifactRow is the persisted form of one stage output.
type ArtifactRow struct {
	ID        uint   `gorm:"primaryKey"`
	TaskID    string `gorm:"index:idx_artifact,priority:1;size:191"`
	NodeID    string `gorm:"index:idx_artifact,priority:2;size:191"`
	Payload   []byte
	CreatedAt time.Time
}

// TableName maps ArtifactRow to its table.
func (ArtifactRow) TableName() string { return "artifacts" }

// Gorm persists checkpoints and artifacts through a gorm.DB. Each save
// appends a row, preserving the full progression for later inspection.
type Gorm struct {
	db     *gorm.DB
	tasks  *task.Store
	logger *zap.Logger
}

// OpenSQLite opens (or creates) a pure-Go SQLite database at dsn, e.g. a
// file path or "file::memory:?cache=shared" for tests.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
}

// NewGorm creates a SQL-backed checkpoint store and migrates its tables.
func NewGorm(db *gorm.DB, tasks *task.Store, logger *zap.Logger) (*Gorm, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&CheckpointRow{}, &ArtifactRow{}); err != nil {
		return nil, types.NewError(types.ErrCheckpoint, "migrate checkpoint tables").WithCause(err)
	}
	return &Gorm{
		db:     db,
		tasks:  tasks,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

// SaveCheckpoint appends a JSON snapshot of the task.
func (g *Gorm) SaveCheckpoint(ctx context.Context, taskID string) error {
	t, err := g.tasks.Get(taskID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return types.NewError(types.ErrCheckpoint, "marshal checkpoint").WithCause(err).WithTask(taskID)
	}
	row := &CheckpointRow{TaskID: taskID, Payload: data}
	if err := g.db.WithContext(ctx).Create(row).Error; err != nil {
		return types.NewError(types.ErrCheckpoint, "insert checkpoint").WithCause(err).WithTask(taskID).WithRetryable(true)
	}
	return nil
}

// StoreArtifact appends a stage output row.
func (g *Gorm) StoreArtifact(ctx context.Context, taskID, nodeID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.NewError(types.ErrCheckpoint, "marshal artifact").WithCause(err).WithTask(taskID).WithNode(nodeID)
	}
	row := &ArtifactRow{TaskID: taskID, NodeID: nodeID, Payload: data}
	if err := g.db.WithContext(ctx).Create(row).Error; err != nil {
		return types.NewError(types.ErrCheckpoint, "insert artifact").WithCause(err).WithTask(taskID).WithNode(nodeID).WithRetryable(true)
	}
	return nil
}

// LoadCheckpoint decodes the most recent snapshot for a task.
func (g *Gorm) LoadCheckpoint(ctx context.Context, taskID string) (*task.Task, error) {
	var row CheckpointRow
	err := g.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, types.Errorf(types.ErrCheckpoint, "no checkpoint for task %s", taskID).WithTask(taskID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrCheckpoint, "query checkpoint").WithCause(err).WithTask(taskID).WithRetryable(true)
	}
	var t task.Task
	if err := json.Unmarshal(row.Payload, &t); err != nil {
		return nil, types.NewError(types.ErrCheckpoint, "decode checkpoint").WithCause(err).WithTask(taskID)
	}
	return &t, nil
}

// CheckpointCount returns the number of snapshots saved for a task.
func (g *Gorm) CheckpointCount(ctx context.Context, taskID string) (int64, error) {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&CheckpointRow{}).
		Where("task_id = ?", taskID).
		Count(&count).Error
	return count, err
}
