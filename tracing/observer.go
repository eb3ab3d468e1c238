package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dcshock/hookpipe/pipeline"
)

// Attribute keys set on pipeline spans.
const (
	AttrPipeline  = "pipeline.name"
	AttrRunID     = "pipeline.run_id"
	AttrStep      = "pipeline.step"
	AttrStepIndex = "pipeline.step_index"
	AttrFailed    = "pipeline.failed_steps"
)

// Observer records one span per pipeline run and a child span per step.
// It implements pipeline.Observer.
type Observer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	runs  map[string]trace.Span
	steps map[stepKey]trace.Span
}

type stepKey struct {
	runID string
	step  string
}

// NewObserver returns an Observer that starts spans on tracer.
func NewObserver(tracer trace.Tracer) *Observer {
	return &Observer{
		tracer: tracer,
		runs:   make(map[string]trace.Span),
		steps:  make(map[stepKey]trace.Span),
	}
}

// BeforeRun implements pipeline.Observer.
func (o *Observer) BeforeRun(ctx context.Context, run pipeline.RunInfo, args []interface{}) error {
	_, span := o.tracer.Start(ctx, "pipeline.run "+run.Pipeline, trace.WithAttributes(
		attribute.String(AttrPipeline, run.Pipeline),
		attribute.String(AttrRunID, run.RunID),
	))
	o.mu.Lock()
	o.runs[run.RunID] = span
	o.mu.Unlock()
	return nil
}

// BeforeStep implements pipeline.Observer.
func (o *Observer) BeforeStep(ctx context.Context, run pipeline.RunInfo) error {
	o.mu.Lock()
	parent, ok := o.runs[run.RunID]
	o.mu.Unlock()
	if ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}
	_, span := o.tracer.Start(ctx, "pipeline.step "+run.Step, trace.WithAttributes(
		attribute.String(AttrPipeline, run.Pipeline),
		attribute.String(AttrRunID, run.RunID),
		attribute.String(AttrStep, run.Step),
		attribute.Int(AttrStepIndex, run.StepIndex),
	))
	o.mu.Lock()
	o.steps[stepKey{run.RunID, run.Step}] = span
	o.mu.Unlock()
	return nil
}

// AfterStep implements pipeline.Observer.
func (o *Observer) AfterStep(ctx context.Context, run pipeline.RunInfo, stepErr error, d time.Duration) error {
	key := stepKey{run.RunID, run.Step}
	o.mu.Lock()
	span, ok := o.steps[key]
	delete(o.steps, key)
	o.mu.Unlock()
	if !ok {
		return nil
	}
	if stepErr != nil {
		span.RecordError(stepErr)
		span.SetStatus(codes.Error, stepErr.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return nil
}

// AfterRun implements pipeline.Observer.
func (o *Observer) AfterRun(ctx context.Context, run pipeline.RunInfo, result *pipeline.Result) error {
	o.mu.Lock()
	span, ok := o.runs[run.RunID]
	delete(o.runs, run.RunID)
	o.mu.Unlock()
	if !ok {
		return nil
	}
	if result.OK() {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.StringSlice(AttrFailed, result.Failed()))
		span.SetStatus(codes.Error, result.Err().Error())
	}
	span.End()
	return nil
}

var _ pipeline.Observer = (*Observer)(nil)
