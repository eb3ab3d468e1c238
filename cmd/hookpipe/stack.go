package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/dcshock/hookpipe/config"
	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/httpstages"
	"github.com/dcshock/hookpipe/observer"
	"github.com/dcshock/hookpipe/pipeline"
	"github.com/dcshock/hookpipe/tracing"
)

// Observer names usable from definition files and --observe.
const (
	observeDB     = "db"
	observeStatus = "status"
	observeTrace  = "trace"
)

// stack is everything a command needs to run pipelines from a definitions
// file.
type stack struct {
	settings  settings
	actions   *config.Registry
	observers *config.ObserverRegistry
	status    *observer.StatusObserver
	store     *observer.Store
	provider  *tracing.Provider

	defs      *config.MultiPipelineConfig
	hooks     *hook.Dispatcher
	pipelines map[string]*pipeline.Pipeline
	sequences map[string]*pipeline.Sequence
}

// openStack sets up tracing, the run store (when a DSN is configured), the
// action and observer registries, and loads the definitions file.
func (c *cli) openStack(ctx context.Context, loadDefs bool) (*stack, error) {
	provider, err := tracing.NewProvider(ctx, c.settings.Tracing)
	if err != nil {
		return nil, err
	}
	s := &stack{
		settings:  c.settings,
		actions:   config.NewRegistry(),
		observers: config.NewObserverRegistry(),
		status:    observer.NewStatusObserver(observer.DefaultStatusExpiration),
		provider:  provider,
	}
	registerActions(s.actions)
	httpstages.Register(s.actions, &http.Client{Timeout: 30 * time.Second})

	s.observers.Register(observeStatus, s.status)
	s.observers.Register(observeTrace, tracing.NewObserver(provider.Tracer()))
	if dsn := c.settings.DB.DSN; dsn != "" {
		store, err := observer.Open(ctx, c.settings.DB.Driver, dsn)
		if err != nil {
			_ = provider.Shutdown(ctx)
			return nil, err
		}
		s.store = store
		s.observers.Register(observeDB, observer.NewDBObserver(store))
	}

	if loadDefs {
		if err := s.load(c); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
	}
	return s, nil
}

// load (re)builds pipelines and sequences from the definitions file on a
// fresh dispatcher.
func (s *stack) load(c *cli) error {
	defs, err := config.LoadFile(s.settings.Pipelines)
	if err != nil {
		return err
	}
	hooks := hook.New(hook.WithLogger(c.logger), hook.WithTracer(s.provider.Tracer()))
	opts := &config.BuildOptions{ObserverRegistry: s.observers, Logger: c.logger}
	pipelines, err := config.BuildAllPipelines(s.actions, hooks, defs, opts)
	if err != nil {
		return err
	}
	sequences, err := config.BuildAllSequences(defs, pipelines)
	if err != nil {
		return err
	}
	s.defs, s.hooks, s.pipelines, s.sequences = defs, hooks, pipelines, sequences
	return nil
}

// lookup implements observer.PipelineLookup.
func (s *stack) lookup(name string) *pipeline.Pipeline { return s.pipelines[name] }

// defaultObservers returns the observers a run gets when --observe is not
// given: db when a store is open and trace when tracing is enabled.
func (s *stack) defaultObservers() []string {
	var names []string
	if s.store != nil {
		names = append(names, observeDB)
	}
	if s.provider.Enabled() {
		names = append(names, observeTrace)
	}
	return names
}

// runObserver combines extra with the named observers, skipping names the
// definitions of pipelines already attach.
func (s *stack) runObserver(names []string, pipelines []string, extra ...pipeline.Observer) (pipeline.Observer, error) {
	list := pipeline.MultiObserver(extra)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] || s.configured(name, pipelines) {
			continue
		}
		seen[name] = true
		obs, ok := s.observers.Get(name)
		if !ok {
			if name == observeDB {
				return nil, errors.New("observer db needs a run store (--db)")
			}
			return nil, fmt.Errorf("unknown observer %q", name)
		}
		list = append(list, obs)
	}
	return list, nil
}

func (s *stack) configured(observerName string, pipelines []string) bool {
	if s.defs == nil {
		return false
	}
	for _, p := range pipelines {
		if slices.Contains(s.defs.Pipelines[p].Observers, observerName) {
			return true
		}
	}
	return false
}

// Close shuts down tracing and the run store.
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	if err := s.provider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
