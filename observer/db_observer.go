package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dcshock/hookpipe/pipeline"
)

// DBObserver persists pipeline and step execution to a Store (pipeline_run,
// pipeline_run_step) so runs can be monitored and failed steps re-run.
type DBObserver struct {
	store *Store
}

// NewDBObserver returns an Observer that writes to store.
func NewDBObserver(store *Store) *DBObserver {
	return &DBObserver{store: store}
}

// BeforeRun implements pipeline.Observer. Inserts or updates a pipeline_run
// row with status 'running'. Uses upsert so the same run can be observed when
// resuming (same run_id).
func (o *DBObserver) BeforeRun(ctx context.Context, run pipeline.RunInfo, args []interface{}) error {
	argsJSON, err := marshalArgs(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	return o.store.StartRun(ctx, run.RunID, run.Pipeline, argsJSON)
}

// AfterRun implements pipeline.Observer. Updates pipeline_run with status
// (success/failed) and the joined step errors.
func (o *DBObserver) AfterRun(ctx context.Context, run pipeline.RunInfo, result *pipeline.Result) error {
	status, errText := StatusSuccess, ""
	if !result.OK() {
		status = StatusFailed
		errText = result.Err().Error()
	}
	return o.store.FinishRun(ctx, run.RunID, status, errText)
}

// BeforeStep implements pipeline.Observer. Inserts a pipeline_run_step row
// with status 'running'.
func (o *DBObserver) BeforeStep(ctx context.Context, run pipeline.RunInfo) error {
	return o.store.StartStep(ctx, run.RunID, run.StepIndex, run.Step)
}

// AfterStep implements pipeline.Observer. Updates pipeline_run_step with
// status, error and duration.
func (o *DBObserver) AfterStep(ctx context.Context, run pipeline.RunInfo, stepErr error, duration time.Duration) error {
	status, errText := StatusSuccess, ""
	if stepErr != nil {
		status = StatusFailed
		errText = stepErr.Error()
	}
	return o.store.FinishStep(ctx, run.RunID, run.Step, status, errText, duration)
}

func marshalArgs(args []interface{}) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return json.Marshal(args)
}

var _ pipeline.Observer = (*DBObserver)(nil)
