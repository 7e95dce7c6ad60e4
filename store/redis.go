package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskloom/taskloom/task"
	"github.com/taskloom/taskloom/types"
)

// RedisConfig configures the Redis checkpoint store.
type RedisConfig struct {
	// Addr is the Redis address.
	Addr string `yaml:"addr" json:"addr"`
	// Password is the Redis password.
	Password string `yaml:"password" json:"password"`
	// DB is the database number.
	DB int `yaml:"db" json:"db"`
	// TTL bounds checkpoint lifetime; 0 keeps them forever.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// KeyPrefix namespaces the keys. Defaults to "taskloom".
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// Redis persists checkpoints and artifacts in Redis. The latest task
// snapshot lives at <prefix>:checkpoint:<task>, stage artifacts at
// <prefix>:artifact:<task>:<node>.
type Redis struct {
	client *redis.Client
	tasks  *task.Store
	config RedisConfig
	logger *zap.Logger
}

// NewRedis creates a Redis checkpoint store on an existing client.
func NewRedis(client *redis.Client, tasks *task.Store, config RedisConfig, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "taskloom"
	}
	return &Redis{
		client: client,
		tasks:  tasks,
		config: config,
		logger: logger.With(zap.String("component", "redis_store")),
	}
}

// SaveCheckpoint writes the latest task snapshot.
func (r *Redis) SaveCheckpoint(ctx context.Context, taskID string) error {
	t, err := r.tasks.Get(taskID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(t)
	if err != nil {
		return types.NewError(types.ErrCheckpoint, "marshal checkpoint").WithCause(err).WithTask(taskID)
	}
	key := fmt.Sprintf("%s:checkpoint:%s", r.config.KeyPrefix, taskID)
	if err := r.client.Set(ctx, key, data, r.config.TTL).Err(); err != nil {
		return types.NewError(types.ErrCheckpoint, "redis set").WithCause(err).WithTask(taskID).WithRetryable(true)
	}
	return nil
}

// StoreArtifact writes a stage output.
func (r *Redis) StoreArtifact(ctx context.Context, taskID, nodeID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return types.NewError(types.ErrCheckpoint, "marshal artifact").WithCause(err).WithTask(taskID).WithNode(nodeID)
	}
	key := fmt.Sprintf("%s:artifact:%s:%s", r.config.KeyPrefix, taskID, nodeID)
	if err := r.client.Set(ctx, key, data, r.config.TTL).Err(); err != nil {
		return types.NewError(types.ErrCheckpoint, "redis set").WithCause(err).WithTask(taskID).WithNode(nodeID).WithRetryable(true)
	}
	return nil
}

// LoadCheckpoint decodes the latest snapshot for a task. A missing
// checkpoint is a CHECKPOINT error.
func (r *Redis) LoadCheckpoint(ctx context.Context, taskID string) (*task.Task, error) {
	key := fmt.Sprintf("%s:checkpoint:%s", r.config.KeyPrefix, taskID)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, types.Errorf(types.ErrCheckpoint, "no checkpoint for task %s", taskID).WithTask(taskID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrCheckpoint, "redis get").WithCause(err).WithTask(taskID).WithRetryable(true)
	}
	var t task.Task
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		return nil, types.NewError(types.ErrCheckpoint, "decode checkpoint").WithCause(err).WithTask(taskID)
	}
	return &t, nil
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
