package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskloom/taskloom/graph"
	"github.com/taskloom/taskloom/task"
	"github.com/taskloom/taskloom/types"
)

// defaultWorkers bounds cross-task concurrency when Config leaves it 0.
const defaultWorkers = 4

// Config carries the engine's optional collaborators. Zero values are
// usable: no agent runtime (agent nodes fail), no context builder (nil
// context package), no checkpoints, no sink, nop logger.
type Config struct {
	AgentRuntime   NodeRuntime
	ContextBuilder ContextBuilder
	Checkpoints    CheckpointStore
	Sink           Sink
	Logger         *zap.Logger
	Workers        int
}

// Result lets a node body attach tool-call records to its output. Plain
// outputs are passed through untouched.
type Result struct {
	Output    any
	ToolCalls []task.ToolCall
}

// arrival is the payload of a merge-wait work item.
type arrival struct {
	ChildID     string
	MergeNodeID string
	Output      any
}

// Engine drives tasks through a validated workflow graph. It consumes a
// worklist of pending operations, dispatches node bodies to external
// runtimes, and applies results back through the router, the merge
// coordinator, and the task store. Every failure mode resolves to a task
// status transition; nothing escapes the execution loop.
type Engine struct {
	graph       *graph.Graph
	store       *task.Store
	handlers    *HandlerRegistry
	router      *Router
	coordinator *Coordinator
	worklist    *Worklist

	agents      NodeRuntime
	contexts    ContextBuilder
	checkpoints CheckpointStore
	sink        Sink
	logger      *zap.Logger
	workers     int
}

// New validates g and builds an engine over it. A graph with any
// structural violation is rejected with a VALIDATION error; the engine
// fails closed and never executes an invalid graph.
func New(g *graph.Graph, store *task.Store, handlers *HandlerRegistry, cfg Config) (*Engine, error) {
	if g == nil {
		return nil, types.NewError(types.ErrValidation, "graph cannot be nil")
	}
	if store == nil {
		return nil, types.NewError(types.ErrValidation, "task store cannot be nil")
	}
	if violations := graph.NewValidator().Validate(g); len(violations) > 0 {
		msgs := make([]string, 0, len(violations))
		for _, v := range violations {
			msgs = append(msgs, v.Error())
		}
		return nil, types.Errorf(types.ErrValidation, "graph %s rejected: %s", g.Name(), strings.Join(msgs, "; "))
	}
	if handlers == nil {
		handlers = NewHandlerRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Engine{
		graph:       g,
		store:       store,
		handlers:    handlers,
		router:      NewRouter(g, logger),
		coordinator: NewCoordinator(logger),
		worklist:    NewWorklist(),
		agents:      cfg.AgentRuntime,
		contexts:    cfg.ContextBuilder,
		checkpoints: cfg.Checkpoints,
		sink:        cfg.Sink,
		logger:      logger.With(zap.String("component", "engine")),
		workers:     workers,
	}, nil
}

// Execute creates a root task for spec, drives it (and every task it
// spawns) to a terminal state, and returns the final task snapshot.
func (e *Engine) Execute(ctx context.Context, spec task.Spec) (*task.Task, error) {
	root := e.store.CreateTask(spec)
	if err := e.Submit(root.ID); err != nil {
		return nil, err
	}
	if err := e.Run(ctx); err != nil {
		return nil, err
	}
	return e.store.Get(root.ID)
}

// Submit enqueues execution of a task from the graph's default start.
func (e *Engine) Submit(taskID string) error {
	t, err := e.store.Get(taskID)
	if err != nil {
		return err
	}
	start := e.graph.DefaultStart()
	if start == nil {
		return types.NewError(types.ErrValidation, "graph has no default start node")
	}
	e.enqueue(&WorkItem{
		Kind:     WorkExecute,
		TaskID:   t.ID,
		NodeID:   start.ID,
		Priority: t.Spec.Priority,
	})
	return nil
}

// Run processes the worklist until it drains or ctx is cancelled. On
// cancellation every non-terminal task is marked cancelled and ctx's
// error is returned.
func (e *Engine) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			e.worklist.Close()
		case <-done:
		}
	}()

	var group errgroup.Group
	for i := 0; i < e.workers; i++ {
		group.Go(func() error {
			for {
				item := e.worklist.Next()
				if item == nil {
					return nil
				}
				e.process(ctx, item)
				e.worklist.Done(item)
			}
		})
	}
	_ = group.Wait()
	close(done)

	if err := ctx.Err(); err != nil {
		for _, t := range e.store.AllTasks() {
			if !t.Status.Terminal() {
				_ = e.store.Cancel(t.ID)
				e.coordinator.ReleaseOwner(t.ID)
			}
		}
		return err
	}
	return nil
}

// Cancel cancels a task and its still-pending descendants, releasing any
// merge groups the family owns and reporting the cancellation to the
// group the task itself belongs to.
func (e *Engine) Cancel(taskID string) error {
	family, err := e.familyIDs(taskID)
	if err != nil {
		return err
	}
	if err := e.store.Cancel(taskID); err != nil {
		return err
	}
	for _, id := range family {
		e.coordinator.ReleaseOwner(id)
	}
	d := e.coordinator.RecordTerminal(taskID, "", task.StatusCancelled, nil)
	e.applyDecision(context.Background(), d)
	e.emit("task.cancelled", map[string]any{"task_id": taskID})
	return nil
}

func (e *Engine) familyIDs(taskID string) ([]string, error) {
	t, err := e.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	ids := []string{t.ID}
	for _, childID := range t.ChildIDs {
		sub, err := e.familyIDs(childID)
		if err != nil {
			continue
		}
		ids = append(ids, sub...)
	}
	return ids, nil
}

// process dispatches one work item. A panic anywhere below resolves to a
// FAILED status on the item's task instead of escaping the loop.
func (e *Engine) process(ctx context.Context, item *WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("work item panic",
				zap.String("kind", string(item.Kind)),
				zap.String("task_id", item.TaskID),
				zap.Any("panic", r),
			)
			e.failTask(ctx, item.TaskID, item.NodeID,
				types.Errorf(types.ErrNodeExecution, "panic: %v", r))
		}
	}()

	switch item.Kind {
	case WorkExecute:
		e.processExecute(ctx, item)
	case WorkRouteDecision:
		e.processRoute(ctx, item)
	case WorkCloneSpawn, WorkSubtaskSpawn:
		e.processSpawn(ctx, item)
	case WorkMergeWait:
		e.processMergeWait(ctx, item)
	default:
		e.logger.Error("unknown work kind", zap.String("kind", string(item.Kind)))
	}
}

// processExecute runs one node body and routes its result by role.
func (e *Engine) processExecute(ctx context.Context, item *WorkItem) {
	t, err := e.store.Get(item.TaskID)
	if err != nil || t.Status.Terminal() {
		return
	}
	node, ok := e.graph.Node(item.NodeID)
	if !ok {
		e.failTask(ctx, t.ID, item.NodeID,
			types.Errorf(types.ErrRouting, "node %s not in graph", item.NodeID))
		return
	}

	if t.Status == task.StatusPending {
		_ = e.store.SetStatus(t.ID, task.StatusInProgress)
	}
	_ = e.store.SetLifecycle(t.ID, task.LifecycleActive)

	e.emit("stage.start", map[string]any{
		"task_id": t.ID,
		"node_id": node.ID,
		"kind":    string(node.Kind),
		"role":    string(node.Role),
	})

	started := time.Now()
	output, toolCalls, execErr := e.dispatch(ctx, t, node)
	record := &task.StageResult{
		NodeID:    node.ID,
		Output:    output,
		StartedAt: started,
		EndedAt:   time.Now(),
		ToolCalls: toolCalls,
	}
	if execErr != nil {
		record.Error = execErr.Error()
	}
	if err := e.store.RecordStageResult(t.ID, record); err != nil {
		e.logger.Warn("stage result not recorded",
			zap.String("task_id", t.ID),
			zap.String("node_id", node.ID),
			zap.Error(err),
		)
	}

	e.emit("stage.end", map[string]any{
		"task_id":  t.ID,
		"node_id":  node.ID,
		"duration": time.Since(started).String(),
		"failed":   execErr != nil,
	})

	if execErr != nil {
		if !node.ContinueOnFailure {
			_ = e.store.AppendRoutingTrace(t.ID, node.ID, "")
			e.failTask(ctx, t.ID, node.ID, execErr)
			e.checkpoint(ctx, t.ID)
			return
		}
		// Non-fatal: keep the previous output and advance past the node.
		e.logger.Warn("node failed, continuing",
			zap.String("task_id", t.ID),
			zap.String("node_id", node.ID),
			zap.Error(execErr),
		)
		output = t.CurrentOutput
	}
	if execErr == nil || output != nil {
		_ = e.store.UpdateTaskOutput(t.ID, output)
	}

	e.routeByRole(ctx, t.ID, node, output, item)
	e.checkpoint(ctx, t.ID)
	e.storeArtifact(ctx, t.ID, node.ID, output)
}

// dispatch computes the node body by kind. The engine never inspects how
// the output was produced.
func (e *Engine) dispatch(ctx context.Context, t *task.Task, node *graph.Node) (any, []task.ToolCall, error) {
	var contextPkg any
	if e.contexts != nil {
		pkg, err := e.contexts.BuildContext(ctx, t, t.Spec.Request)
		if err != nil {
			return nil, nil, types.Errorf(types.ErrNodeExecution, "context assembly failed").
				WithCause(err).WithTask(t.ID).WithNode(node.ID)
		}
		contextPkg = pkg
	}

	var output any
	var err error
	switch node.Kind {
	case graph.KindDeterministic:
		if fn, ok := e.handlers.Lookup(node.ID); ok {
			output, err = fn(ctx, t, node, contextPkg)
		} else {
			output = t.CurrentOutput
		}
	case graph.KindAgent:
		if e.agents == nil {
			err = types.Errorf(types.ErrNodeExecution, "no agent runtime configured for node %s", node.ID)
		} else {
			output, err = e.agents.RunNode(ctx, t, node, contextPkg)
		}
	default:
		err = types.Errorf(types.ErrNodeExecution, "unknown node kind %q", node.Kind)
	}
	if err != nil {
		return nil, nil, types.Errorf(types.ErrNodeExecution, "node %s failed", node.ID).
			WithCause(err).WithTask(t.ID).WithNode(node.ID)
	}

	if res, ok := output.(Result); ok {
		calls := res.ToolCalls
		for i := range calls {
			if calls[i].CallID == "" {
				calls[i].CallID = uuid.NewString()
			}
		}
		return res.Output, calls, nil
	}
	return output, nil, nil
}

// routeByRole applies the post-execution transition for node's role.
func (e *Engine) routeByRole(ctx context.Context, taskID string, node *graph.Node, output any, item *WorkItem) {
	switch node.Role {
	case graph.RoleDecision:
		// Routing trace for the decision node is appended once the
		// chosen edge is known.
		e.enqueue(&WorkItem{
			Kind:      WorkRouteDecision,
			TaskID:    taskID,
			NodeID:    node.ID,
			Priority:  item.Priority,
			DependsOn: []string{item.ID},
			Payload:   output,
		})

	case graph.RoleBranch:
		_ = e.store.AppendRoutingTrace(taskID, node.ID, "")
		e.fanOut(taskID, node, WorkCloneSpawn, task.LineageClone, item)

	case graph.RoleSplit:
		_ = e.store.AppendRoutingTrace(taskID, node.ID, "")
		e.fanOut(taskID, node, WorkSubtaskSpawn, task.LineageSubtask, item)

	case graph.RoleExit:
		_ = e.store.AppendRoutingTrace(taskID, node.ID, "")
		e.completeTask(ctx, taskID, node.ID, output)

	default: // start, linear, merge: single successor
		_ = e.store.AppendRoutingTrace(taskID, node.ID, "")
		next, err := e.router.Advance(node.ID)
		if err != nil {
			e.failTask(ctx, taskID, node.ID, err)
			return
		}
		if next == nil {
			e.completeTask(ctx, taskID, node.ID, output)
			return
		}
		e.routeTo(ctx, taskID, node.ID, next, output, item)
	}
}

// fanOut creates the merge group for a branch/split node and enqueues one
// spawn item per declared alternative. The group's required count is the
// dynamic fan-out, not the downstream merge's inbound edge count.
func (e *Engine) fanOut(taskID string, node *graph.Node, kind WorkKind, lineage task.LineageType, item *WorkItem) {
	edges := e.graph.Outgoing(node.ID)
	e.coordinator.CreateGroup(taskID, node.ID, lineage, len(edges))
	_ = e.store.SetLifecycle(taskID, task.LifecycleParked)
	for _, edge := range edges {
		e.enqueue(&WorkItem{
			Kind:      kind,
			TaskID:    taskID,
			NodeID:    node.ID,
			Priority:  item.Priority,
			DependsOn: []string{item.ID},
			Payload:   edge,
		})
	}
}

// routeTo moves a task from prevNodeID toward next. Arrival at a merge
// node does not execute it: sibling-group members park there (their
// arrival is the event that may fire the merge on the owner), and
// ungrouped tasks fire the merge immediately with a single-element
// collected-outputs list.
func (e *Engine) routeTo(ctx context.Context, taskID, prevNodeID string, next *graph.Node, output any, item *WorkItem) {
	if next.Role != graph.RoleMerge {
		e.enqueue(&WorkItem{
			Kind:      WorkExecute,
			TaskID:    taskID,
			NodeID:    next.ID,
			Priority:  item.Priority,
			DependsOn: []string{item.ID},
		})
		return
	}

	if e.coordinator.InGroup(taskID) {
		t, err := e.store.Get(taskID)
		if err != nil {
			return
		}
		_ = e.store.SetStatus(taskID, task.StatusCompleted)
		e.emit("task.completed", map[string]any{"task_id": taskID, "at_merge": true})
		e.enqueue(&WorkItem{
			Kind:      WorkMergeWait,
			TaskID:    t.ParentID,
			NodeID:    next.ID,
			Priority:  item.Priority,
			DependsOn: []string{item.ID},
			Payload: arrival{
				ChildID:     taskID,
				MergeNodeID: next.ID,
				Output:      output,
			},
		})
		return
	}

	inputs := []UpstreamResult{{
		TaskID:    taskID,
		NodeID:    prevNodeID,
		Status:    task.StatusCompleted,
		Output:    output,
		Timestamp: time.Now(),
	}}
	_ = e.store.UpdateTaskOutput(taskID, inputs)
	e.enqueue(&WorkItem{
		Kind:      WorkExecute,
		TaskID:    taskID,
		NodeID:    next.ID,
		Priority:  item.Priority,
		DependsOn: []string{item.ID},
	})
}

// processRoute resolves a decision node's outgoing edge.
func (e *Engine) processRoute(ctx context.Context, item *WorkItem) {
	t, err := e.store.Get(item.TaskID)
	if err != nil || t.Status.Terminal() {
		return
	}
	payload, _ := item.Payload.(map[string]any)
	edges := e.graph.Outgoing(item.NodeID)
	edge, err := e.router.ResolveDecisionEdge(edges, payload)
	if err != nil {
		e.failTask(ctx, t.ID, item.NodeID, err)
		return
	}
	_ = e.store.AppendRoutingTrace(t.ID, item.NodeID, edge.Condition)
	e.logger.Debug("decision resolved",
		zap.String("task_id", t.ID),
		zap.String("node_id", item.NodeID),
		zap.String("decision", edge.Condition),
	)

	next, ok := e.graph.Node(edge.To)
	if !ok {
		e.failTask(ctx, t.ID, item.NodeID,
			types.Errorf(types.ErrRouting, "edge target %s not declared", edge.To))
		return
	}
	e.routeTo(ctx, t.ID, item.NodeID, next, t.CurrentOutput, item)
	e.checkpoint(ctx, t.ID)
}

// processSpawn creates one clone or subtask child and starts it at the
// alternative's target node.
func (e *Engine) processSpawn(ctx context.Context, item *WorkItem) {
	parent, err := e.store.Get(item.TaskID)
	if err != nil || parent.Status.Terminal() {
		return
	}
	edge, ok := item.Payload.(graph.Edge)
	if !ok {
		e.logger.Error("spawn item without edge payload", zap.String("task_id", item.TaskID))
		return
	}

	var child *task.Task
	switch item.Kind {
	case WorkCloneSpawn:
		label := edge.Condition
		if label == "" {
			label = edge.To
		}
		child, err = e.store.CreateClone(parent.ID, label, nil)
	case WorkSubtaskSpawn:
		child, err = e.store.CreateSubtask(parent.ID, textual(parent.CurrentOutput))
	}
	if err != nil {
		e.failTask(ctx, parent.ID, item.NodeID, err)
		return
	}

	e.coordinator.RegisterChild(parent.ID, item.NodeID, child.ID)
	e.emit("task.spawned", map[string]any{
		"task_id":   child.ID,
		"parent_id": parent.ID,
		"lineage":   string(child.Lineage),
	})
	e.enqueue(&WorkItem{
		Kind:      WorkExecute,
		TaskID:    child.ID,
		NodeID:    edge.To,
		Priority:  child.Spec.Priority,
		DependsOn: []string{item.ID},
	})
	e.checkpoint(ctx, child.ID)
}

// processMergeWait records one sibling arrival and applies the group's
// verdict.
func (e *Engine) processMergeWait(ctx context.Context, item *WorkItem) {
	a, ok := item.Payload.(arrival)
	if !ok {
		e.logger.Error("merge-wait item without arrival payload", zap.String("task_id", item.TaskID))
		return
	}
	d := e.coordinator.RecordArrival(a.ChildID, a.MergeNodeID, a.Output)
	e.applyDecision(ctx, d)
}

// applyDecision turns a merge-group verdict into task transitions and,
// when the group resolves an owner that is itself a sibling, cascades the
// outcome upward.
func (e *Engine) applyDecision(ctx context.Context, d mergeDecision) {
	switch d.kind {
	case decidePending:
		return

	case decidePartial:
		owner, err := e.store.Get(d.ownerID)
		if err != nil || owner.Status.Terminal() {
			return
		}
		_ = e.store.SetStatus(d.ownerID, task.StatusPartial)
		e.emit("task.partial", map[string]any{"task_id": d.ownerID})

	case decideFire:
		owner, err := e.store.Get(d.ownerID)
		if err != nil || owner.Status.Terminal() {
			return
		}
		_ = e.store.UpdateTaskOutput(d.ownerID, d.inputs)
		_ = e.store.SetStatus(d.ownerID, task.StatusInProgress)
		_ = e.store.SetLifecycle(d.ownerID, task.LifecycleQueued)
		e.emit("merge.fired", map[string]any{
			"task_id": d.ownerID,
			"node_id": d.mergeNodeID,
			"inputs":  len(d.inputs),
		})
		e.enqueue(&WorkItem{
			Kind:     WorkExecute,
			TaskID:   d.ownerID,
			NodeID:   d.mergeNodeID,
			Priority: owner.Spec.Priority,
		})

	case decideResolve:
		owner, err := e.store.Get(d.ownerID)
		if err != nil || owner.Status.Terminal() {
			return
		}
		if d.output != nil {
			_ = e.store.UpdateTaskOutput(d.ownerID, d.output)
		}
		if d.status == task.StatusFailed {
			e.failTask(ctx, d.ownerID, "", types.Errorf(types.ErrNodeExecution, "required child failed"))
			return
		}
		e.completeTask(ctx, d.ownerID, "", d.output)
	}
}

// completeTask marks a task completed and reports it to the sibling
// group it belongs to, if any.
func (e *Engine) completeTask(ctx context.Context, taskID, nodeID string, output any) {
	_ = e.store.SetStatus(taskID, task.StatusCompleted)
	e.emit("task.completed", map[string]any{"task_id": taskID})
	e.logger.Info("task completed", zap.String("task_id", taskID))
	if e.coordinator.InGroup(taskID) {
		d := e.coordinator.RecordTerminal(taskID, nodeID, task.StatusCompleted, output)
		e.applyDecision(ctx, d)
	}
	e.checkpoint(ctx, taskID)
}

// failTask marks a task failed and propagates the failure to any waiting
// sibling group per the clone/subtask escalation rules.
func (e *Engine) failTask(ctx context.Context, taskID, nodeID string, cause error) {
	if t, err := e.store.Get(taskID); err != nil || t.Status.Terminal() {
		return
	}
	_ = e.store.SetStatus(taskID, task.StatusFailed)
	e.emit("task.failed", map[string]any{
		"task_id": taskID,
		"node_id": nodeID,
		"error":   fmt.Sprint(cause),
	})
	e.logger.Warn("task failed",
		zap.String("task_id", taskID),
		zap.String("node_id", nodeID),
		zap.Error(cause),
	)
	if e.coordinator.InGroup(taskID) {
		d := e.coordinator.RecordTerminal(taskID, nodeID, task.StatusFailed, nil)
		e.applyDecision(ctx, d)
	}
	e.checkpoint(ctx, taskID)
}

// checkpoint persists task progress. Failures are diagnostics, never
// fatal to execution.
func (e *Engine) checkpoint(ctx context.Context, taskID string) {
	if e.checkpoints == nil {
		return
	}
	if err := e.checkpoints.SaveCheckpoint(ctx, taskID); err != nil {
		e.logger.Warn("checkpoint save failed",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		e.emit("checkpoint.error", map[string]any{"task_id": taskID, "error": err.Error()})
	}
}

// storeArtifact persists a stage output. Failures are diagnostics.
func (e *Engine) storeArtifact(ctx context.Context, taskID, nodeID string, payload any) {
	if e.checkpoints == nil || payload == nil {
		return
	}
	if err := e.checkpoints.StoreArtifact(ctx, taskID, nodeID, payload); err != nil {
		e.logger.Warn("artifact store failed",
			zap.String("task_id", taskID),
			zap.String("node_id", nodeID),
			zap.Error(err),
		)
	}
}

// emit sends a fire-and-forget event to the sink. A panicking sink is
// logged and isolated from the task's own error state.
func (e *Engine) emit(eventType string, payload map[string]any) {
	if e.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("telemetry sink panic",
				zap.String("event", eventType),
				zap.Any("panic", r),
			)
		}
	}()
	e.sink.Emit(eventType, payload)
}

// enqueue pushes a work item, assigning its id.
func (e *Engine) enqueue(item *WorkItem) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	e.worklist.Push(item)
}
