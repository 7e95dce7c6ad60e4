// Copyright (c) Taskloom Authors.
// Licensed under the MIT License.

/*
Package main is the taskloom command.

Subcommands:

	taskloom run --manifest flow.yaml --request "..."   execute one task
	taskloom validate --manifest flow.yaml              check a manifest
	taskloom version                                    print build info

run drives a root task through the manifest's workflow graph and prints
the final task snapshot as JSON. The checkpoint backend is selectable
with --checkpoint (memory, sqlite, redis); --metrics-addr exposes
Prometheus counters while the run is in flight.
*/
package main
