// Copyright (c) Taskloom Authors.
// Licensed under the MIT License.

/*
Package store provides engine.CheckpointStore implementations.

Memory is the default in-process store. Gorm persists checkpoints and
stage artifacts through a SQL database (OpenSQLite gives a pure-Go
SQLite backend). Redis keeps the latest snapshot per task with an
optional TTL. Checkpoint failures are always non-fatal to execution;
the engine logs them and moves on.
*/
package store
