// Copyright (c) Taskloom Authors.
// Licensed under the MIT License.

/*
Package telemetry provides engine.Sink implementations.

ZapSink logs events, MetricsSink counts them in Prometheus collectors,
TracingSink turns stage start/end pairs into OpenTelemetry spans, and
MultiSink fans one event stream out to several sinks. Sinks are
fire-and-forget: the engine isolates any sink failure from task state.
*/
package telemetry
