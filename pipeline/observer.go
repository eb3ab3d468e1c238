package pipeline

import (
	"context"
	"errors"
	"time"
)

// RunInfo identifies a run and, inside a step, the step being executed.
// StepIndex is -1 outside of steps.
type RunInfo struct {
	RunID     string
	Pipeline  string
	Step      string
	StepIndex int
}

type runInfoKey struct{}

func withRunInfo(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, runInfoKey{}, info)
}

// RunInfoFromContext returns the run metadata injected by Run. Hook
// callbacks fired by a pipeline can use it to tell which run and step they
// belong to.
func RunInfoFromContext(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(runInfoKey{}).(RunInfo)
	return info, ok
}

// Observer provides pre/post callbacks around a run and each of its steps so
// you can persist run state (e.g. to a DB) for monitoring and re-runs.
// BeforeRun is called before the before-run chain (write the run record
// here); an error aborts the run. BeforeStep/AfterStep wrap each step; their
// errors are recorded as step errors. AfterRun is called with the complete
// result.
type Observer interface {
	BeforeRun(ctx context.Context, run RunInfo, args []interface{}) error
	AfterRun(ctx context.Context, run RunInfo, result *Result) error
	BeforeStep(ctx context.Context, run RunInfo) error
	AfterStep(ctx context.Context, run RunInfo, stepErr error, duration time.Duration) error
}

// MultiObserver calls each observer in order. Before callbacks stop at the
// first error; After callbacks always reach every observer and join their
// errors.
type MultiObserver []Observer

func (m MultiObserver) BeforeRun(ctx context.Context, run RunInfo, args []interface{}) error {
	for _, o := range m {
		if err := o.BeforeRun(ctx, run, args); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiObserver) AfterRun(ctx context.Context, run RunInfo, result *Result) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterRun(ctx, run, result))
	}
	return errors.Join(errs...)
}

func (m MultiObserver) BeforeStep(ctx context.Context, run RunInfo) error {
	for _, o := range m {
		if err := o.BeforeStep(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiObserver) AfterStep(ctx context.Context, run RunInfo, stepErr error, d time.Duration) error {
	var errs []error
	for _, o := range m {
		errs = append(errs, o.AfterStep(ctx, run, stepErr, d))
	}
	return errors.Join(errs...)
}

// ObserverFuncs adapts optional functions to Observer. Nil fields are no-ops.
type ObserverFuncs struct {
	OnBeforeRun  func(ctx context.Context, run RunInfo, args []interface{}) error
	OnAfterRun   func(ctx context.Context, run RunInfo, result *Result) error
	OnBeforeStep func(ctx context.Context, run RunInfo) error
	OnAfterStep  func(ctx context.Context, run RunInfo, stepErr error, d time.Duration) error
}

func (f ObserverFuncs) BeforeRun(ctx context.Context, run RunInfo, args []interface{}) error {
	if f.OnBeforeRun == nil {
		return nil
	}
	return f.OnBeforeRun(ctx, run, args)
}

func (f ObserverFuncs) AfterRun(ctx context.Context, run RunInfo, result *Result) error {
	if f.OnAfterRun == nil {
		return nil
	}
	return f.OnAfterRun(ctx, run, result)
}

func (f ObserverFuncs) BeforeStep(ctx context.Context, run RunInfo) error {
	if f.OnBeforeStep == nil {
		return nil
	}
	return f.OnBeforeStep(ctx, run)
}

func (f ObserverFuncs) AfterStep(ctx context.Context, run RunInfo, stepErr error, d time.Duration) error {
	if f.OnAfterStep == nil {
		return nil
	}
	return f.OnAfterStep(ctx, run, stepErr, d)
}
