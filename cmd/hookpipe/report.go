package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/dcshock/hookpipe/pipeline"
)

var (
	okLabel   = color.New(color.FgGreen).Sprint("ok")
	failLabel = color.New(color.FgRed).Sprint("FAIL")
	runLabel  = color.New(color.FgBlue, color.Bold).Sprint
	dimLabel  = color.New(color.FgYellow).Sprint
)

// reporter prints one line per finished step and a summary per run.
type reporter struct {
	mu sync.Mutex
	w  io.Writer
}

func newReporter(w io.Writer) *reporter { return &reporter{w: w} }

func (r *reporter) printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

// observer returns the pipeline.Observer that drives the report.
func (r *reporter) observer() pipeline.Observer {
	return pipeline.ObserverFuncs{
		OnBeforeRun: func(ctx context.Context, run pipeline.RunInfo, args []interface{}) error {
			r.printf("%s %s\n", runLabel(run.Pipeline), dimLabel(run.RunID))
			return nil
		},
		OnAfterStep: func(ctx context.Context, run pipeline.RunInfo, stepErr error, d time.Duration) error {
			if stepErr != nil {
				r.printf("  %-4s %-20s %s\n", failLabel, run.Step, stepErr)
				return nil
			}
			r.printf("  %-4s %-20s %s\n", okLabel, run.Step, d.Round(time.Millisecond))
			return nil
		},
		OnAfterRun: func(ctx context.Context, run pipeline.RunInfo, result *pipeline.Result) error {
			if result.OK() {
				r.printf("%s %d steps in %s\n", okLabel, len(result.Steps), result.Duration().Round(time.Millisecond))
				return nil
			}
			r.printf("%s %d of %d steps failed: %v\n", failLabel, len(result.Errors), len(result.Steps), result.Failed())
			return nil
		},
	}
}
