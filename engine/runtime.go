package engine

import (
	"context"
	"sync"

	"github.com/taskloom/taskloom/graph"
	"github.com/taskloom/taskloom/task"
)

// ContextBuilder assembles the opaque context package a node executes
// with. It is called once per node execution; the engine passes the
// result through to the node dispatch call without inspecting it.
type ContextBuilder interface {
	BuildContext(ctx context.Context, t *task.Task, request string) (any, error)
}

// NodeRuntime computes a node's output. One call per agent node
// execution; implementations must be idempotent-safe to retry at the
// caller's discretion — the engine does not retry automatically.
type NodeRuntime interface {
	RunNode(ctx context.Context, t *task.Task, n *graph.Node, contextPkg any) (any, error)
}

// Sink receives fire-and-forget engine events. Emit never returns a
// value the engine depends on; a panicking sink is caught and logged,
// never propagated into a task's error state.
type Sink interface {
	Emit(eventType string, payload map[string]any)
}

// CheckpointStore persists task progress. Failures are logged as
// diagnostics, never fatal to execution.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, taskID string) error
	StoreArtifact(ctx context.Context, taskID, nodeID string, payload any) error
}

// HandlerFunc is the body of a deterministic node. The task snapshot
// carries the node's input in CurrentOutput.
type HandlerFunc func(ctx context.Context, t *task.Task, n *graph.Node, contextPkg any) (any, error)

// HandlerRegistry maps node ids to deterministic handlers. It is built
// once at process start and injected into the engine by constructor; no
// process-wide mutable singletons.
//
// A deterministic node with no registered handler passes its input
// through unchanged, which is the usual body of start, exit, and merge
// marker nodes.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a node id, replacing any previous binding.
func (r *HandlerRegistry) Register(nodeID string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[nodeID] = fn
}

// Lookup returns the handler bound to nodeID.
func (r *HandlerRegistry) Lookup(nodeID string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[nodeID]
	return fn, ok
}
