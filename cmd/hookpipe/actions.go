package main

import (
	"context"
	"errors"
	"time"

	"github.com/dcshock/hookpipe/config"
	"github.com/dcshock/hookpipe/ctxlog"
	"github.com/dcshock/hookpipe/pipeline"
)

// errFail is returned by the fail action.
var errFail = errors.New("step failed")

const sleepFor = 100 * time.Millisecond

// registerActions adds the built-in actions that definition files can name
// without any Go code.
func registerActions(reg *config.Registry) {
	reg.Register("noop", pipeline.Noop())
	reg.Register("log", logAction)
	reg.Register("fail", func(ctx context.Context, args ...interface{}) error { return errFail })
	reg.Register("sleep", sleepAction)
}

// logAction logs the running step with its args.
func logAction(ctx context.Context, args ...interface{}) error {
	log := ctxlog.FromContext(ctx)
	if info, ok := pipeline.RunInfoFromContext(ctx); ok {
		log = log.With("pipeline", info.Pipeline, "step", info.Step, "run_id", info.RunID)
	}
	log.Info("step", "args", args)
	return nil
}

// sleepAction waits sleepFor, or until ctx is done. Combine with a step
// timeout to exercise deadlines.
func sleepAction(ctx context.Context, args ...interface{}) error {
	t := time.NewTimer(sleepFor)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
