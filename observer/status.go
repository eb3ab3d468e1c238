package observer

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dcshock/hookpipe/pipeline"
)

const (
	DefaultStatusExpiration = 10 * time.Minute
	DefaultCleanupInterval  = 30 * time.Minute
)

// Status is the last known position of a pipeline.
type Status struct {
	RunID     string
	Pipeline  string
	Step      string
	StepIndex int
	State     pipeline.State
	Failed    []string
	UpdatedAt time.Time
}

// StatusObserver keeps the current step of every observed pipeline in an
// in-memory cache under "<pipeline>.status" so it can be polled while the
// run is in flight. Entries expire after the configured TTL.
type StatusObserver struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// NewStatusObserver returns a StatusObserver whose entries expire after ttl.
// A ttl <= 0 uses DefaultStatusExpiration.
func NewStatusObserver(ttl time.Duration) *StatusObserver {
	if ttl <= 0 {
		ttl = DefaultStatusExpiration
	}
	return &StatusObserver{
		cache: gocache.New(ttl, DefaultCleanupInterval),
		ttl:   ttl,
	}
}

// StatusKey returns the cache key of pipeline.
func StatusKey(pipeline string) string { return pipeline + ".status" }

// Status returns the last status recorded for pipeline.
func (o *StatusObserver) Status(pipeline string) (Status, bool) {
	v, found := o.cache.Get(StatusKey(pipeline))
	if !found {
		return Status{}, false
	}
	s, ok := v.(Status)
	return s, ok
}

func (o *StatusObserver) set(s Status) {
	s.UpdatedAt = time.Now()
	o.cache.Set(StatusKey(s.Pipeline), s, o.ttl)
}

// BeforeRun implements pipeline.Observer.
func (o *StatusObserver) BeforeRun(ctx context.Context, run pipeline.RunInfo, args []interface{}) error {
	o.set(Status{RunID: run.RunID, Pipeline: run.Pipeline, StepIndex: -1, State: pipeline.Running})
	return nil
}

// BeforeStep implements pipeline.Observer.
func (o *StatusObserver) BeforeStep(ctx context.Context, run pipeline.RunInfo) error {
	prev, _ := o.Status(run.Pipeline)
	s := Status{RunID: run.RunID, Pipeline: run.Pipeline, Step: run.Step, StepIndex: run.StepIndex, State: pipeline.Running}
	if prev.RunID == run.RunID {
		s.Failed = prev.Failed
	}
	o.set(s)
	return nil
}

// AfterStep implements pipeline.Observer.
func (o *StatusObserver) AfterStep(ctx context.Context, run pipeline.RunInfo, stepErr error, d time.Duration) error {
	if stepErr == nil {
		return nil
	}
	s, ok := o.Status(run.Pipeline)
	if !ok || s.RunID != run.RunID {
		s = Status{RunID: run.RunID, Pipeline: run.Pipeline, Step: run.Step, StepIndex: run.StepIndex, State: pipeline.Running}
	}
	s.Failed = append(append([]string(nil), s.Failed...), run.Step)
	o.set(s)
	return nil
}

// AfterRun implements pipeline.Observer. The last step stays in the status.
func (o *StatusObserver) AfterRun(ctx context.Context, run pipeline.RunInfo, result *pipeline.Result) error {
	s, ok := o.Status(run.Pipeline)
	if !ok || s.RunID != run.RunID {
		s = Status{RunID: run.RunID, Pipeline: run.Pipeline}
	}
	s.State = pipeline.Done
	s.Failed = result.Failed()
	o.set(s)
	return nil
}

var _ pipeline.Observer = (*StatusObserver)(nil)
