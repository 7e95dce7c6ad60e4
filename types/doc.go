// Copyright (c) Taskloom Authors.
// Licensed under the MIT License.

/*
Package types provides shared type definitions for the Taskloom engine.

types is the lowest-level public package. It depends on no other
Taskloom package and supplies the unified error contract used by graph,
task, engine, and the adapter packages.

Core types:

  - Error / ErrorCode — structured error taxonomy (VALIDATION, ROUTING,
    NODE_EXECUTION, LINEAGE, TASK_CANCELLED, CHECKPOINT) with cause
    wrapping and Retryable marking

Helpers: AsError, IsErrorCode, IsRetryable, GetErrorCode.
*/
package types
