package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/pipeline"
)

// BuildOptions configures how a pipeline is built from config.
type BuildOptions struct {
	// ObserverRegistry is used when PipelineConfig.Observers is set.
	ObserverRegistry *ObserverRegistry

	// Logger is passed to built pipelines. Nil leaves the pipeline on the
	// context logger.
	Logger *slog.Logger
}

// BuildPipeline builds a pipeline.Pipeline from config on hooks. Action names
// in config must be registered.
func BuildPipeline(reg *Registry, hooks *hook.Dispatcher, cfg *PipelineConfig, opts *BuildOptions) (*pipeline.Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	popts, err := pipelineOptions(cfg, opts)
	if err != nil {
		return nil, err
	}
	p := pipeline.New(cfg.Name, hooks, popts...)
	if err := Apply(reg, p, cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// pipelineOptions returns the pipeline options implied by cfg: sentinels,
// observers and the logger of opts.
func pipelineOptions(cfg *PipelineConfig, opts *BuildOptions) ([]pipeline.Option, error) {
	var out []pipeline.Option
	if cfg.Sentinels {
		out = append(out, pipeline.WithSentinels())
	}
	if opts != nil && opts.Logger != nil {
		out = append(out, pipeline.WithLogger(opts.Logger))
	}
	obs, err := BuildObserver(cfg, opts)
	if err != nil {
		return nil, err
	}
	if obs != nil {
		out = append(out, pipeline.WithObserver(obs))
	}
	return out, nil
}

// Apply registers the steps of cfg on an existing pipeline. Steps that are
// already registered are replaced, unless protected.
func Apply(reg *Registry, p *pipeline.Pipeline, cfg *PipelineConfig) error {
	for i, ref := range cfg.Steps {
		if ref.Name == "" {
			return fmt.Errorf("step %d: name required", i)
		}
		action, ok := reg.Get(ref.ActionName())
		if !ok {
			return fmt.Errorf("step %d (%q): action %q not in registry", i, ref.Name, ref.ActionName())
		}
		action, err := wrapAction(action, ref)
		if err != nil {
			return fmt.Errorf("step %d (%q): %w", i, ref.Name, err)
		}
		if err := p.Register(ref.Name, action, stepOptions(ref)...); err != nil {
			return fmt.Errorf("step %d (%q): %w", i, ref.Name, err)
		}
	}
	return nil
}

func stepOptions(ref StepRef) []pipeline.StepOption {
	var out []pipeline.StepOption
	if ref.Order != nil {
		out = append(out, pipeline.StepOrder(ref.Order.Int()))
	}
	if ref.Before != nil && !*ref.Before {
		out = append(out, pipeline.SkipBefore())
	}
	if ref.After != nil && !*ref.After {
		out = append(out, pipeline.SkipAfter())
	}
	if ref.Protected {
		out = append(out, pipeline.Protect(true))
	}
	return out
}

// BuildObserver returns a pipeline.Observer for the config's Observers list by looking up each name
// in BuildOptions.ObserverRegistry and combining them with pipeline.MultiObserver.
// If cfg.Observers is empty, returns (nil, nil). If any observer name is not registered, returns an error.
func BuildObserver(cfg *PipelineConfig, opts *BuildOptions) (pipeline.Observer, error) {
	if cfg == nil || len(cfg.Observers) == 0 {
		return nil, nil
	}
	if opts == nil || opts.ObserverRegistry == nil {
		return nil, fmt.Errorf("pipeline %q names observers but no ObserverRegistry was given", cfg.Name)
	}
	list := make(pipeline.MultiObserver, 0, len(cfg.Observers))
	for i, name := range cfg.Observers {
		obs, ok := opts.ObserverRegistry.Get(name)
		if !ok {
			return nil, fmt.Errorf("observer %d: %q not in registry", i, name)
		}
		list = append(list, obs)
	}
	if len(list) == 1 {
		return list[0], nil
	}
	return list, nil
}

func wrapAction(a hook.Callback, ref StepRef) (hook.Callback, error) {
	if ref.Timeout > 0 {
		a = pipeline.WithTimeout(a, ref.Timeout.Duration())
	}
	if ref.Retry == "" {
		return a, nil
	}
	initial := ref.Initial.Duration()
	if initial <= 0 {
		initial = time.Second
	}
	switch ref.Retry {
	case "fixed":
		return pipeline.Retry(a, pipeline.BackoffPolicy{
			Initial:     initial,
			Multiplier:  1,
			MaxAttempts: ref.MaxAttempts,
			ShouldRetry: pipeline.IsRetryable,
		}), nil
	case "exponential":
		policy := pipeline.BackoffPolicy{
			Initial:     initial,
			Multiplier:  2,
			Cap:         ref.Cap.Duration(),
			MaxAttempts: ref.MaxAttempts,
			ShouldRetry: pipeline.IsRetryable,
		}
		if ref.Multiplier > 0 {
			policy.Multiplier = ref.Multiplier
		}
		return pipeline.Retry(a, policy), nil
	default:
		return nil, fmt.Errorf("retry %q not supported (use \"fixed\" or \"exponential\")", ref.Retry)
	}
}

// BuildAllPipelines builds a pipeline.Pipeline for each entry in multi. Keys are pipeline names.
// If a pipeline config's Name is empty, the map key is used as the pipeline name.
func BuildAllPipelines(reg *Registry, hooks *hook.Dispatcher, multi *MultiPipelineConfig, opts *BuildOptions) (map[string]*pipeline.Pipeline, error) {
	if multi == nil {
		return nil, fmt.Errorf("MultiPipelineConfig is nil")
	}
	out := make(map[string]*pipeline.Pipeline, len(multi.Pipelines))
	for name, cfg := range multi.Pipelines {
		if cfg.Name == "" {
			cfg.Name = name
		}
		p, err := BuildPipeline(reg, hooks, &cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// BuildSequence builds a pipeline.Sequence from a sequence config by looking up the named pipelines
// in the built pipeline map. Each name in seq.Pipelines must exist in builtPipelines.
func BuildSequence(seq *SequenceConfig, builtPipelines map[string]*pipeline.Pipeline) (*pipeline.Sequence, error) {
	if seq == nil {
		return nil, fmt.Errorf("SequenceConfig is nil")
	}
	out := make([]*pipeline.Pipeline, 0, len(seq.Pipelines))
	for i, name := range seq.Pipelines {
		p, ok := builtPipelines[name]
		if !ok {
			return nil, fmt.Errorf("sequence %q pipeline %d: %q not in built pipelines", seq.Name, i, name)
		}
		out = append(out, p)
	}
	return &pipeline.Sequence{Name: seq.Name, Pipelines: out}, nil
}

// BuildAllSequences builds a pipeline.Sequence for each entry in multi.Sequences using the given built pipelines.
func BuildAllSequences(multi *MultiPipelineConfig, builtPipelines map[string]*pipeline.Pipeline) (map[string]*pipeline.Sequence, error) {
	if multi == nil || len(multi.Sequences) == 0 {
		return map[string]*pipeline.Sequence{}, nil
	}
	out := make(map[string]*pipeline.Sequence, len(multi.Sequences))
	for name, cfg := range multi.Sequences {
		if cfg.Name == "" {
			cfg.Name = name
		}
		seq, err := BuildSequence(&cfg, builtPipelines)
		if err != nil {
			return nil, fmt.Errorf("sequence %q: %w", name, err)
		}
		out[name] = seq
	}
	return out, nil
}
