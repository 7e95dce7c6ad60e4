// Copyright (c) Taskloom Authors.
// Licensed under the MIT License.

/*
Package manifest loads YAML workflow definitions into validated graphs.

The execution core only consumes in-memory graph.Graph values; this
package is the external manifest-loading collaborator shipped alongside
it. A Loader parses a Definition (nodes, edges, condition labels) and
runs the graph validator, reporting every structural violation at once.
*/
package manifest
