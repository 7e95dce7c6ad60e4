// Copyright (c) Taskloom Authors.
// Licensed under the MIT License.

/*
Package engine drives tasks through validated workflow graphs.

The engine consumes a Worklist — a priority queue of pending operations
(execute node, resolve decision, spawn clone, spawn subtask, record merge
arrival) with a dependency-count gate per item. Items for the same task
execute strictly one at a time; items for different tasks, in particular
sibling clones and subtasks, run concurrently on a bounded worker pool.

Node bodies are dispatched to external runtimes through narrow
interfaces (NodeRuntime for agent nodes, HandlerRegistry for
deterministic nodes, ContextBuilder for input assembly) and the engine
never inspects how an output was produced. Merge nodes are coordinated
by the Coordinator: a sibling group accumulates arrivals in a
MergeWaitState until its completion predicate holds — any one success
for clone groups, every success for subtask groups — and only then does
the merge node execute on the owning task with the collected outputs.

Every failure mode resolves to a task status transition (FAILED,
PARTIAL, CANCELLED); nothing escapes the execution loop. Checkpoint and
telemetry failures are diagnostics, never fatal.
*/
package engine
