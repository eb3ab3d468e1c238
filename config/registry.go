// Package config provides an action registry and human-readable pipeline configuration.
package config

import (
	"fmt"
	"sort"

	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/pipeline"
	"github.com/dcshock/hookpipe/registry"
)

// Registry maps action names to step actions. Safe for concurrent use.
type Registry struct {
	actions *registry.Registry[hook.Callback]
}

// NewRegistry returns an empty action registry.
func NewRegistry() *Registry {
	return &Registry{actions: registry.New[hook.Callback]("actions")}
}

// Register adds an action under the given name. Overwrites any existing registration.
func (r *Registry) Register(name string, action hook.Callback) {
	_ = r.actions.Register(name, action, registry.Force())
}

// Get returns the action for name, or nil and false if not found.
func (r *Registry) Get(name string) (hook.Callback, bool) {
	return r.actions.Get(name)
}

// MustGet returns the action for name, or panics if not found.
func (r *Registry) MustGet(name string) hook.Callback {
	a, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("config: action %q not registered", name))
	}
	return a
}

// Names returns all registered action names, sorted.
func (r *Registry) Names() []string {
	names := r.actions.Keys()
	sort.Strings(names)
	return names
}

// ObserverRegistry maps observer names to pipeline observers.
type ObserverRegistry struct {
	observers *registry.Registry[pipeline.Observer]
}

// NewObserverRegistry returns an empty observer registry.
func NewObserverRegistry() *ObserverRegistry {
	return &ObserverRegistry{observers: registry.New[pipeline.Observer]("observers")}
}

// Register adds an observer under name, replacing any previous one.
func (r *ObserverRegistry) Register(name string, obs pipeline.Observer) {
	_ = r.observers.Register(name, obs, registry.Force())
}

// Get returns the observer for name.
func (r *ObserverRegistry) Get(name string) (pipeline.Observer, bool) {
	return r.observers.Get(name)
}
