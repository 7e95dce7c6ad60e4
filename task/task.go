package task

import "time"

// Status represents the outcome-facing state of a task.
type Status string

const (
	// StatusPending indicates the task has not started executing.
	StatusPending Status = "pending"
	// StatusInProgress indicates the task is moving through the graph.
	StatusInProgress Status = "in_progress"
	// StatusCompleted indicates the task reached an exit node.
	StatusCompleted Status = "completed"
	// StatusFailed indicates a fatal node error or a failed required child.
	StatusFailed Status = "failed"
	// StatusPartial indicates a clone group with failures while a sibling
	// is still outstanding or succeeded.
	StatusPartial Status = "partial"
	// StatusCancelled indicates the task was cancelled by its caller or a
	// parent cancellation cascade.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Lifecycle represents the scheduling-facing state of a task.
type Lifecycle string

const (
	// LifecycleQueued means the task is waiting for the engine to pick
	// up its next work item.
	LifecycleQueued Lifecycle = "queued"
	// LifecycleActive means a node of the task is executing.
	LifecycleActive Lifecycle = "active"
	// LifecycleParked means the task is waiting at a merge node for its
	// sibling group.
	LifecycleParked Lifecycle = "parked"
	// LifecycleFinished means the task reached a terminal status.
	LifecycleFinished Lifecycle = "finished"
)

// LineageType classifies how a task came to exist.
type LineageType string

const (
	// LineageRoot is a task created directly by a caller.
	LineageRoot LineageType = "root"
	// LineageClone is one of several mutually exclusive alternatives
	// spawned from a branch node. Any one clone succeeding satisfies the
	// parent.
	LineageClone LineageType = "clone"
	// LineageSubtask is one required piece of a partitioned job spawned
	// from a split node. Every subtask must succeed.
	LineageSubtask LineageType = "subtask"
)

// Spec is the immutable request a task executes.
type Spec struct {
	Request  string `json:"request"`
	Mode     string `json:"mode"`
	Priority int    `json:"priority"`
}

// ToolCall records one tool invocation made while executing a node.
type ToolCall struct {
	CallID    string         `json:"call_id"`
	ToolID    string         `json:"tool_id"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Output    any            `json:"output,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// StageResult records the execution of a single node for a task. It is
// append-only once written.
type StageResult struct {
	NodeID    string     `json:"node_id"`
	Output    any        `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// TraceEntry is one step of a task's routing trace.
type TraceEntry struct {
	NodeID    string    `json:"node_id"`
	Decision  string    `json:"decision,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LineageMetadata carries provenance detail for derived tasks: the branch
// label for clones, the spawning input for subtasks.
type LineageMetadata struct {
	BranchLabel  string `json:"branch_label,omitempty"`
	SubtaskInput string `json:"subtask_input,omitempty"`
}

// Task is a discrete unit of work moving through a workflow graph.
//
// Spec, ParentID, and Lineage are immutable after creation. ChildIDs is
// append-only. StageResults and RoutingTrace grow in routing order.
// Tasks are never deleted during a run; ClearCompleted is the explicit
// out-of-band removal operation.
type Task struct {
	ID        string      `json:"id"`
	Spec      Spec        `json:"spec"`
	Status    Status      `json:"status"`
	Lifecycle Lifecycle   `json:"lifecycle"`
	ParentID  string      `json:"parent_task_id,omitempty"`
	Lineage   LineageType `json:"lineage_type"`

	Metadata LineageMetadata `json:"lineage_metadata,omitempty"`

	ChildIDs     []string                `json:"child_task_ids,omitempty"`
	StageResults map[string]*StageResult `json:"stage_results,omitempty"`
	RoutingTrace []TraceEntry            `json:"routing_trace,omitempty"`

	CurrentOutput any `json:"current_output,omitempty"`

	// Memory scope references handed to the external context subsystem.
	TaskMemory    string `json:"task_memory"`
	ProjectMemory string `json:"project_memory"`
	GlobalMemory  string `json:"global_memory"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// clone returns a deep copy so store accessors never leak a pointer an
// engine goroutine could race on.
func (t *Task) clone() *Task {
	cp := *t
	cp.ChildIDs = append([]string(nil), t.ChildIDs...)
	cp.RoutingTrace = append([]TraceEntry(nil), t.RoutingTrace...)
	if t.StageResults != nil {
		cp.StageResults = make(map[string]*StageResult, len(t.StageResults))
		for k, v := range t.StageResults {
			r := *v
			r.ToolCalls = append([]ToolCall(nil), v.ToolCalls...)
			cp.StageResults[k] = &r
		}
	}
	return &cp
}
