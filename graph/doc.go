// Copyright (c) Taskloom Authors.
// Licensed under the MIT License.

/*
Package graph defines the immutable workflow graph model and its
structural validator.

A Graph is a directed acyclic arrangement of typed Nodes (deterministic
or agent-backed) connected by Edges. Each node carries a structural role
(start, linear, branch, split, decision, merge, exit) that constrains its
edge counts and, for branch/split, drives the engine's clone/subtask
fan-out.

The Validator collects every structural violation at once — unknown edge
endpoints, cycles (three-color DFS), unreachability from the default
start (BFS), per-role edge-count constraints, agent_id presence, and
context-scope non-emptiness. A graph with any violation must never reach
the execution engine.
*/
package graph
