// Copyright (c) Taskloom Authors.
// Licensed under the MIT License.

/*
Package task provides the task entity and the lineage-managing Store.

A Task is a discrete unit of work moving through a workflow graph. Tasks
derive from one another: a branch node spawns clones (mutually exclusive
alternatives — any one success satisfies the parent) and a split node
spawns subtasks (a required partition — every one must succeed). The
Store owns creation, status transitions, stage results, routing traces,
and the parent/child bookkeeping; it is independent of routing logic.

All Store mutations are serialized, and accessors return deep copies, so
concurrently executing sibling tasks never race on shared task state.
*/
package task
