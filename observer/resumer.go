package observer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dcshock/hookpipe/pipeline"
)

// ErrNothingToResume is returned by Resume when the run has no failed steps.
var ErrNothingToResume = errors.New("no failed steps to resume")

// PipelineLookup returns the pipeline for the given name, or nil if not found.
// The caller must register pipelines by name so the resumer can re-run steps.
type PipelineLookup func(name string) *pipeline.Pipeline

// Resumer re-runs the failed steps of recorded runs under their original run
// ID and arguments.
type Resumer struct {
	store  *Store
	lookup PipelineLookup
}

// NewResumer returns a resumer that reads runs from store and finds their
// pipelines with lookup.
func NewResumer(store *Store, lookup PipelineLookup) *Resumer {
	return &Resumer{store: store, lookup: lookup}
}

// Resume re-runs only the failed steps of runID. Args recorded as JSON are
// passed back decoded, so callers receive JSON types (float64, string,
// []interface{}, map[string]interface{}). obs should normally include a
// DBObserver on the same store so the run record is updated.
func (r *Resumer) Resume(ctx context.Context, runID string, obs pipeline.Observer) (*pipeline.Result, error) {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var failed []string
	for _, st := range run.Steps {
		if st.Status == StatusFailed {
			failed = append(failed, st.Step)
		}
	}
	if len(failed) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNothingToResume)
	}
	pl := r.lookup(run.Pipeline)
	if pl == nil {
		return nil, fmt.Errorf("pipeline %q not found for run_id %s", run.Pipeline, runID)
	}
	var args []interface{}
	if len(run.Args) > 0 {
		if err := json.Unmarshal(run.Args, &args); err != nil {
			return nil, fmt.Errorf("unmarshal args for run_id %s: %w", runID, err)
		}
	}
	return pl.RunWithOptions(ctx, &pipeline.RunOptions{
		RunID:    runID,
		Observer: obs,
		Only:     failed,
	}, args...)
}

// ResumeFailed resumes up to limit failed runs of pipelineName (all
// pipelines when empty). Every run is attempted; the errors are joined.
func (r *Resumer) ResumeFailed(ctx context.Context, pipelineName string, limit int, obs pipeline.Observer) ([]*pipeline.Result, error) {
	runs, err := r.store.ListRuns(ctx, RunFilter{Pipeline: pipelineName, Status: StatusFailed, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("get failed runs: %w", err)
	}
	var (
		results []*pipeline.Result
		errs    []error
	)
	for _, run := range runs {
		res, err := r.Resume(ctx, run.RunID, obs)
		if res != nil {
			results = append(results, res)
		}
		if err != nil && !errors.Is(err, ErrNothingToResume) {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}
