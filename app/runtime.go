// Package app holds the application context that owns every registry of a
// running instance. Feature modules receive a *Runtime at initialization
// instead of reaching for process-wide tables, so several isolated runtimes
// can live in one process (and in one test binary).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/pipeline"
	"github.com/dcshock/hookpipe/plugin"
	"github.com/dcshock/hookpipe/priority"
	"github.com/dcshock/hookpipe/registry"
)

// Names of the built-in pipelines and their steps. Each boot step runs the
// hook chain of the same name.
const (
	BootPipeline     = "boot"
	ShutdownPipeline = "shutdown"

	InitHook     = "init"
	StartHook    = "start"
	RunningHook  = "running"
	ShutdownHook = "shutdown"
)

// Capability is a named permission and the roles it is granted to or
// withheld from.
type Capability struct {
	Name     string
	Allowed  []string
	Excluded []string
}

// Collection is a data collection declared by a module: the actions it
// allows and its field schema. The runtime only stores it.
type Collection struct {
	Name    string
	Actions map[string]bool
	Schema  map[string]interface{}
}

// Module is a feature module that can be installed with Use.
type Module interface {
	Descriptor() plugin.Descriptor
	Init(ctx context.Context, r *Runtime) error
}

// Runtime is the application context.
type Runtime struct {
	Hooks        *hook.Dispatcher
	Plugins      *plugin.Manager
	Capabilities *registry.Registry[Capability]
	Collections  *registry.Registry[Collection]
	Pipelines    *registry.Registry[*pipeline.Pipeline]

	logger   *slog.Logger
	version  string
	tracer   trace.Tracer
	timeout  time.Duration
	observer pipeline.Observer
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithVersion sets the runtime version plugins are checked against.
func WithVersion(v string) Option {
	return func(r *Runtime) { r.version = v }
}

// WithTracer records hook chain spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// WithHookTimeout bounds every hook callback.
func WithHookTimeout(d time.Duration) Option {
	return func(r *Runtime) { r.timeout = d }
}

// WithObserver attaches an observer to every pipeline created through
// NewPipeline, the built-in ones included.
func WithObserver(o pipeline.Observer) Option {
	return func(r *Runtime) { r.observer = o }
}

// New builds a runtime with empty tables and the protected boot and
// shutdown pipelines.
func New(opts ...Option) *Runtime {
	r := &Runtime{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	hookOpts := []hook.Option{hook.WithLogger(r.logger)}
	if r.tracer != nil {
		hookOpts = append(hookOpts, hook.WithTracer(r.tracer))
	}
	if r.timeout > 0 {
		hookOpts = append(hookOpts, hook.WithTimeout(r.timeout))
	}
	r.Hooks = hook.New(hookOpts...)

	pluginOpts := []plugin.Option{plugin.WithLogger(r.logger)}
	if r.version != "" {
		pluginOpts = append(pluginOpts, plugin.WithRuntimeVersion(r.version))
	}
	r.Plugins = plugin.New(r.Hooks, pluginOpts...)

	r.Capabilities = registry.New[Capability]("capabilities", registry.WithLogger(r.logger))
	r.Collections = registry.New[Collection]("collections", registry.WithLogger(r.logger))
	r.Pipelines = registry.New[*pipeline.Pipeline]("pipelines", registry.WithLogger(r.logger))

	boot, _ := r.NewPipeline(BootPipeline)
	for i, step := range []string{InitHook, StartHook, RunningHook} {
		_ = boot.Register(step, r.fire(step), pipeline.StepOrder(i*100), pipeline.Protect(true))
	}
	_ = r.Pipelines.Protect(BootPipeline)

	shutdown, _ := r.NewPipeline(ShutdownPipeline)
	_ = shutdown.Register(ShutdownHook, r.fire(ShutdownHook), pipeline.Protect(true))
	_ = r.Pipelines.Protect(ShutdownPipeline)
	return r
}

// fire returns a step action that runs the hook chain name with the run
// args.
func (r *Runtime) fire(name string) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		return r.Hooks.Run(ctx, name, args...)
	}
}

// Logger returns the runtime logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// NewPipeline creates a pipeline on the runtime dispatcher and stores it in
// Pipelines. It fails if a protected pipeline already uses name.
func (r *Runtime) NewPipeline(name string, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	base := []pipeline.Option{pipeline.WithLogger(r.logger)}
	if r.observer != nil {
		base = append(base, pipeline.WithObserver(r.observer))
	}
	p := pipeline.New(name, r.Hooks, append(base, opts...)...)
	if err := r.Pipelines.Register(name, p); err != nil {
		return nil, fmt.Errorf("new pipeline: %w", err)
	}
	return p, nil
}

// Pipeline returns the pipeline registered under name.
func (r *Runtime) Pipeline(name string) (*pipeline.Pipeline, bool) {
	return r.Pipelines.Get(name)
}

// Run runs the pipeline registered under name.
func (r *Runtime) Run(ctx context.Context, name string, args ...interface{}) (*pipeline.Result, error) {
	p, ok := r.Pipelines.Get(name)
	if !ok {
		return nil, &registry.NotFoundError{Registry: "pipelines", Key: name, Op: "run"}
	}
	return p.Run(ctx, args...)
}

// Use registers m as a plugin and calls its Init. A module that fails to
// initialize stays registered but inactive. If the deactivate chain fails
// too, the module stays active and both errors are returned.
func (r *Runtime) Use(ctx context.Context, m Module, activeByDefault bool) error {
	d := m.Descriptor()
	if err := r.Plugins.Register(ctx, d, activeByDefault); err != nil {
		return err
	}
	if err := m.Init(ctx, r); err != nil {
		initErr := fmt.Errorf("init plugin %s: %w", d.ID, err)
		if deErr := r.Plugins.Deactivate(ctx, d.ID); deErr != nil {
			r.logger.Error("deactivate after failed init", "plugin", d.ID, "error", deErr)
			return errors.Join(initErr, deErr)
		}
		return initErr
	}
	return nil
}

// RegisterCapability stores c under its name at priority.Neutral.
func (r *Runtime) RegisterCapability(c Capability) error {
	return r.Capabilities.Register(c.Name, c, registry.WithOrder(priority.Neutral))
}

// RegisterCollection stores c under its name.
func (r *Runtime) RegisterCollection(c Collection) error {
	return r.Collections.Register(c.Name, c)
}

// Start runs the boot pipeline. Step failures are logged by the pipeline and
// returned joined; they do not stop later boot steps.
func (r *Runtime) Start(ctx context.Context, args ...interface{}) (*pipeline.Result, error) {
	return r.runBuiltin(ctx, BootPipeline, args)
}

// Shutdown runs the shutdown pipeline.
func (r *Runtime) Shutdown(ctx context.Context, args ...interface{}) (*pipeline.Result, error) {
	return r.runBuiltin(ctx, ShutdownPipeline, args)
}

func (r *Runtime) runBuiltin(ctx context.Context, name string, args []interface{}) (*pipeline.Result, error) {
	res, err := r.Run(ctx, name, args...)
	if err != nil {
		return res, err
	}
	if err := res.Err(); err != nil {
		return res, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}
