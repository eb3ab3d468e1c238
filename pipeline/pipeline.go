package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dcshock/hookpipe/ctxlog"
	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/priority"
	"github.com/dcshock/hookpipe/registry"
)

// Names of the sentinel steps added by WithSentinels.
const (
	BeginStep = "begin"
	EndStep   = "end"
)

// ErrInvalidStep is returned by Register for step names that cannot be used.
var ErrInvalidStep = errors.New("invalid step")

// Step is a unit of work in a pipeline.
type Step struct {
	Name   string
	Action hook.Callback
	Order  int
	// Before and After control whether the <pipeline>-before-<step> and
	// <pipeline>-after-<step> chains run around the step.
	Before bool
	After  bool
}

// State is the run state of a pipeline.
type State int

const (
	Idle State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return "idle"
	}
}

// StepError is a failure collected from one step. It does not stop the run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %q: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Result describes one finished run.
type Result struct {
	RunID    string
	Pipeline string
	// Steps lists the steps that were attempted, in order.
	Steps      []string
	Errors     []StepError
	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether no step failed.
func (r *Result) OK() bool { return len(r.Errors) == 0 }

// Failed returns the names of the failed steps in run order.
func (r *Result) Failed() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Step
	}
	return out
}

// Err joins every collected step error, or returns nil.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i := range r.Errors {
		errs[i] = &r.Errors[i]
	}
	return errors.Join(errs...)
}

// Duration is FinishedAt minus StartedAt.
func (r *Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// RunOptions is optional and used to attach an Observer, fix the RunID or
// restrict the run to a subset of steps. If RunID is empty a new UUID is
// generated.
type RunOptions struct {
	Observer Observer
	RunID    string
	// Only, when non-empty, restricts the run to the named steps. Order is
	// still the registry order.
	Only []string
}

// Pipeline is a named, ordered set of steps. Steps are stored in an ordered
// registry; hooks around each step live in the shared dispatcher.
type Pipeline struct {
	name     string
	hooks    *hook.Dispatcher
	steps    *registry.Registry[Step]
	logger   *slog.Logger
	observer Observer

	mu      sync.RWMutex
	state   State
	current string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger. Without it the logger is taken from
// the run context (ctxlog.FromContext).
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithObserver attaches an observer to every run. A RunOptions observer is
// called after this one.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithSentinels adds protected begin and end steps at the extreme orders so
// other steps can be placed relative to them. Sentinels have no before or
// after hooks.
func WithSentinels() Option {
	return func(p *Pipeline) {
		_ = p.Register(BeginStep, Noop(), StepOrder(priority.Highest), SkipBefore(), SkipAfter(), Protect(true))
		_ = p.Register(EndStep, Noop(), StepOrder(priority.Lowest), SkipBefore(), SkipAfter(), Protect(true))
	}
}

// New returns a pipeline named name whose hooks live in hooks. A nil
// dispatcher gets a private one.
func New(name string, hooks *hook.Dispatcher, opts ...Option) *Pipeline {
	if hooks == nil {
		hooks = hook.New()
	}
	p := &Pipeline{
		name:  name,
		hooks: hooks,
		steps: registry.New[Step]("pipeline:"+name, registry.WithDefaultOrder(priority.Neutral)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Hooks returns the dispatcher the pipeline fires its chains on.
func (p *Pipeline) Hooks() *hook.Dispatcher { return p.hooks }

type stepOptions struct {
	order         *int
	before, after bool
	protect       *bool
	force         bool
}

// StepOption configures Register and Unregister.
type StepOption func(*stepOptions)

// StepOrder sets the position of the step. Defaults to priority.Neutral.
func StepOrder(n int) StepOption {
	return func(o *stepOptions) { o.order = &n }
}

// SkipBefore disables the before-step hook chain.
func SkipBefore() StepOption {
	return func(o *stepOptions) { o.before = false }
}

// SkipAfter disables the after-step hook chain.
func SkipAfter() StepOption {
	return func(o *stepOptions) { o.after = false }
}

// Protect sets the protected flag of the step.
func Protect(p bool) StepOption {
	return func(o *stepOptions) { o.protect = &p }
}

// Force overrides protection.
func Force() StepOption {
	return func(o *stepOptions) { o.force = true }
}

func collectStep(opts []StepOption) stepOptions {
	so := stepOptions{before: true, after: true}
	for _, opt := range opts {
		opt(&so)
	}
	return so
}

// validStepName rejects names whose step chain would collide with the run
// boundary chains or with the before/after chains of another step.
func validStepName(name string) bool {
	return name != "" && name != "run" &&
		!strings.HasPrefix(name, "before-") && !strings.HasPrefix(name, "after-")
}

// Register adds or replaces the step name. A nil action is a no-op step.
// Names that are empty, "run", or start with "before-" or "after-" fail with
// ErrInvalidStep. Replacing a protected step fails with a
// registry.ProtectedEntryError unless Force is given.
func (p *Pipeline) Register(name string, action hook.Callback, opts ...StepOption) error {
	if !validStepName(name) {
		return fmt.Errorf("pipeline %s: %w: %q", p.name, ErrInvalidStep, name)
	}
	if action == nil {
		action = Noop()
	}
	so := collectStep(opts)
	order := priority.Neutral
	if so.order != nil {
		order = *so.order
	}

	var ropts []registry.EntryOption
	ropts = append(ropts, registry.WithOrder(order))
	if so.protect != nil {
		ropts = append(ropts, registry.Protect(*so.protect))
	}
	if so.force {
		ropts = append(ropts, registry.Force())
	}
	return p.steps.Register(name, Step{
		Name:   name,
		Action: action,
		Order:  order,
		Before: so.before,
		After:  so.after,
	}, ropts...)
}

// Unregister removes a step. Protected steps require Force.
func (p *Pipeline) Unregister(name string, opts ...StepOption) error {
	if collectStep(opts).force {
		return p.steps.Unregister(name, registry.Force())
	}
	return p.steps.Unregister(name)
}

// Protect marks a step as protected.
func (p *Pipeline) Protect(name string) error { return p.steps.Protect(name) }

// Unprotect clears the protected flag of a step.
func (p *Pipeline) Unprotect(name string) error { return p.steps.Unprotect(name) }

// Steps returns the steps in run order.
func (p *Pipeline) Steps() []Step { return p.steps.List() }

// StepEntries returns the registry entries, including protection flags.
func (p *Pipeline) StepEntries() []registry.Entry[Step] { return p.steps.Entries() }

// Step returns the step registered under name.
func (p *Pipeline) Step(name string) (Step, bool) { return p.steps.Get(name) }

// Before registers cb on the before chain of step.
func (p *Pipeline) Before(step string, cb hook.Callback, opts ...hook.RegisterOption) string {
	return p.hooks.Register(BeforeStepHook(p.name, step), cb, opts...)
}

// On registers cb on the chain that runs the step action itself. Callbacks
// at priority.Neutral or lower run before the action.
func (p *Pipeline) On(step string, cb hook.Callback, opts ...hook.RegisterOption) string {
	return p.hooks.Register(StepHook(p.name, step), cb, opts...)
}

// After registers cb on the after chain of step.
func (p *Pipeline) After(step string, cb hook.Callback, opts ...hook.RegisterOption) string {
	return p.hooks.Register(AfterStepHook(p.name, step), cb, opts...)
}

// CurrentStep returns the step in progress or, once a run is done, the last
// step that was attempted. With concurrent runs it reflects the latest
// transition of any of them.
func (p *Pipeline) CurrentStep() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// State returns the run state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) transition(s State, step string) {
	p.mu.Lock()
	p.state = s
	if step != "" {
		p.current = step
	}
	p.mu.Unlock()
}

func (p *Pipeline) log(ctx context.Context) *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return ctxlog.FromContext(ctx)
}

// Run runs every step with args and returns the run result. See
// RunWithOptions.
func (p *Pipeline) Run(ctx context.Context, args ...interface{}) (*Result, error) {
	return p.RunWithOptions(ctx, nil, args...)
}

// RunWithOptions runs the pipeline:
//
//  1. the <pipeline>-before-run chain; a failure aborts the run
//  2. for every step in order: the before chain, the step chain with the
//     action spliced in at priority.Neutral, the after chain
//  3. the <pipeline>-after-run chain, called with the *Result followed by
//     args
//
// A failure anywhere in step 2 is recorded in Result.Errors and the next step
// runs. The returned error is reserved for failures of the run itself:
// the before-run chain, a BeforeRun observer, the after-run chain, an
// AfterRun observer or a canceled context. The Result is never nil.
func (p *Pipeline) RunWithOptions(ctx context.Context, opts *RunOptions, args ...interface{}) (*Result, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	obs := p.observerFor(opts)
	steps := filterSteps(p.steps.List(), opts.Only)
	log := p.log(ctx).With("pipeline", p.name, "run_id", runID)

	result := &Result{RunID: runID, Pipeline: p.name, StartedAt: time.Now()}
	info := RunInfo{RunID: runID, Pipeline: p.name, StepIndex: -1}
	ctx = withRunInfo(ctx, info)

	p.transition(Running, "")
	defer p.transition(Done, "")

	finish := func(err error) (*Result, error) {
		result.FinishedAt = time.Now()
		return result, err
	}

	log.Info("pipeline run started", "steps", len(steps))
	if obs != nil {
		if err := obs.BeforeRun(ctx, info, args); err != nil {
			return finish(fmt.Errorf("pipeline %s: before run: %w", p.name, err))
		}
	}
	if err := p.hooks.Run(ctx, BeforeRunHook(p.name), args...); err != nil {
		return finish(fmt.Errorf("pipeline %s: before run: %w", p.name, err))
	}

	var runErr error
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("pipeline %s: %w", p.name, err)
			break
		}
		p.transition(Running, s.Name)
		stepInfo := info
		stepInfo.Step = s.Name
		stepInfo.StepIndex = i
		result.Steps = append(result.Steps, s.Name)

		if err := p.runStep(withRunInfo(ctx, stepInfo), s, obs, stepInfo, args); err != nil {
			result.Errors = append(result.Errors, StepError{Step: s.Name, Err: err})
			log.Error("pipeline step failed", "step", s.Name, "error", err)
		}
	}
	result.FinishedAt = time.Now()

	afterArgs := append([]interface{}{result}, args...)
	if err := p.hooks.Run(ctx, AfterRunHook(p.name), afterArgs...); err != nil && runErr == nil {
		runErr = fmt.Errorf("pipeline %s: after run: %w", p.name, err)
	}
	if obs != nil {
		if err := obs.AfterRun(ctx, info, result); err != nil && runErr == nil {
			runErr = fmt.Errorf("pipeline %s: after run: %w", p.name, err)
		}
	}
	log.Info("pipeline run finished", "errors", len(result.Errors), "duration", result.Duration())
	return result, runErr
}

// runStep runs the before chain, the step chain and the after chain of s,
// stopping at the first failure.
func (p *Pipeline) runStep(ctx context.Context, s Step, obs Observer, info RunInfo, args []interface{}) error {
	if obs != nil {
		if err := observe(func() error { return obs.BeforeStep(ctx, info) }); err != nil {
			return fmt.Errorf("observer: %w", err)
		}
	}
	start := time.Now()
	err := p.execStep(ctx, s, args)
	if obs != nil {
		d := time.Since(start)
		if postErr := observe(func() error { return obs.AfterStep(ctx, info, err, d) }); postErr != nil && err == nil {
			err = fmt.Errorf("observer: %w", postErr)
		}
	}
	return err
}

// observe calls fn and turns a panic into an error, so a broken observer
// fails the step instead of the run.
func observe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (p *Pipeline) execStep(ctx context.Context, s Step, args []interface{}) error {
	if s.Before {
		if err := p.hooks.Run(ctx, BeforeStepHook(p.name, s.Name), args...); err != nil {
			return err
		}
	}
	if err := p.hooks.RunWith(ctx, StepHook(p.name, s.Name), s.Action, priority.Neutral, args...); err != nil {
		return err
	}
	if s.After {
		if err := p.hooks.Run(ctx, AfterStepHook(p.name, s.Name), args...); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) observerFor(opts *RunOptions) Observer {
	switch {
	case p.observer != nil && opts.Observer != nil:
		return MultiObserver{p.observer, opts.Observer}
	case opts.Observer != nil:
		return opts.Observer
	default:
		return p.observer
	}
}

func filterSteps(steps []Step, only []string) []Step {
	if len(only) == 0 {
		return steps
	}
	keep := make(map[string]bool, len(only))
	for _, n := range only {
		keep[n] = true
	}
	out := steps[:0:0]
	for _, s := range steps {
		if keep[s.Name] {
			out = append(out, s)
		}
	}
	return out
}

// BeforeRunHook is the chain run once before the first step.
func BeforeRunHook(pipeline string) string { return pipeline + "-before-run" }

// AfterRunHook is the chain run once after the last step.
func AfterRunHook(pipeline string) string { return pipeline + "-after-run" }

// BeforeStepHook is the chain run before step.
func BeforeStepHook(pipeline, step string) string { return pipeline + "-before-" + step }

// StepHook is the chain that runs step's action.
func StepHook(pipeline, step string) string { return pipeline + "-" + step }

// AfterStepHook is the chain run after step.
func AfterStepHook(pipeline, step string) string { return pipeline + "-after-" + step }

// FormatSteps renders steps as "name(order)" joined by spaces.
func FormatSteps(steps []Step) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = fmt.Sprintf("%s(%s)", s.Name, priority.Name(s.Order))
	}
	return strings.Join(parts, " ")
}
