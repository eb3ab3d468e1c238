package pipeline

import (
	"context"
	"fmt"
)

// Sequence runs multiple pipelines in order. Every pipeline receives the
// same args, not the previous pipeline's result. Step failures are collected
// in each Result and never stop the sequence; a run-level failure (a failing
// before-run chain, a canceled context) stops it, like shell &&.
type Sequence struct {
	Name      string
	Pipelines []*Pipeline
}

// Run executes the sequence. It returns the results of the pipelines that
// ran, including the one that failed. Only the Observer of opts is used;
// each pipeline run gets its own RunID.
func (s *Sequence) Run(ctx context.Context, opts *RunOptions, args ...interface{}) ([]*Result, error) {
	var runOpts *RunOptions
	if opts != nil && opts.Observer != nil {
		runOpts = &RunOptions{Observer: opts.Observer}
	}
	results := make([]*Result, 0, len(s.Pipelines))
	for i, p := range s.Pipelines {
		res, err := p.RunWithOptions(ctx, runOpts, args...)
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("sequence %s: pipeline %d (%s): %w", s.Name, i, p.Name(), err)
		}
	}
	return results, nil
}

// OK reports whether every result in results is free of step errors.
func OK(results []*Result) bool {
	for _, r := range results {
		if r != nil && !r.OK() {
			return false
		}
	}
	return true
}
