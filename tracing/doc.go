// Package tracing wires OpenTelemetry into hook dispatchers and pipelines.
//
// NewProvider builds a tracer provider with a stdout, JSONL file or OTLP
// gRPC exporter (or a no-op tracer when disabled). Pass Provider.Tracer to
// hook.WithTracer or app.WithTracer for per-chain spans, and add an Observer
// to a pipeline for run and step spans.
package tracing
