// Package plugin coordinates feature modules: it records their descriptors in
// an ordered registry, tracks which are active and fires the activate,
// deactivate and update hook chains so other modules can react.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dcshock/hookpipe/hook"
	"github.com/dcshock/hookpipe/priority"
	"github.com/dcshock/hookpipe/registry"
)

// Hook chains fired by the Manager. Callbacks receive the Descriptor as the
// first argument; update also receives the previous Descriptor.
const (
	RegisterHook   = "plugin-register"
	ActivateHook   = "activate"
	DeactivateHook = "deactivate"
	UpdateHook     = "update"
)

var (
	ErrInvalidDescriptor = errors.New("invalid plugin descriptor")
	ErrIncompatible      = errors.New("plugin incompatible with runtime")
)

// IncompatibleError reports a plugin whose runtime constraint the running
// version does not satisfy.
type IncompatibleError struct {
	ID         string
	Constraint string
	Runtime    string
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("plugin %s requires runtime %s, have %s", e.ID, e.Constraint, e.Runtime)
}

func (e *IncompatibleError) Is(target error) bool { return target == ErrIncompatible }

// Version pins a plugin's own version and the runtime versions it supports.
type Version struct {
	Plugin  string
	Runtime string // constraint, see Satisfies
}

// Descriptor describes a feature module.
type Descriptor struct {
	ID          string
	Name        string
	Description string
	Order       int
	Version     Version
	// BuiltIn plugins are protected: they cannot be replaced or
	// unregistered without force.
	BuiltIn bool
	Meta    map[string]interface{}
}

// Info is a descriptor together with its activation state.
type Info struct {
	Descriptor
	Active bool
}

// Manager is the plugin table of one runtime. Safe for concurrent use.
type Manager struct {
	plugins        *registry.Registry[Descriptor]
	hooks          *hook.Dispatcher
	runtimeVersion string
	logger         *slog.Logger

	mu     sync.RWMutex
	active map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRuntimeVersion enables compatibility checks against Version.Runtime.
func WithRuntimeVersion(v string) Option {
	return func(m *Manager) { m.runtimeVersion = v }
}

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New returns an empty manager firing its chains on hooks.
func New(hooks *hook.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		hooks:  hooks,
		logger: slog.Default(),
		active: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.plugins = registry.New[Descriptor]("plugins",
		registry.WithLogger(m.logger),
		registry.WithDefaultOrder(priority.Neutral))
	return m
}

// Register adds or replaces a plugin. A plugin seen for the first time gets
// activeByDefault; a known plugin keeps its current state. The
// plugin-register chain runs after the descriptor is stored.
func (m *Manager) Register(ctx context.Context, d Descriptor, activeByDefault bool) error {
	if err := m.validate(d); err != nil {
		return err
	}
	if err := m.plugins.Register(d.ID, d, registry.WithOrder(d.Order), registry.Protect(d.BuiltIn)); err != nil {
		return fmt.Errorf("register plugin: %w", err)
	}

	m.mu.Lock()
	active, known := m.active[d.ID]
	if !known {
		active = activeByDefault
		m.active[d.ID] = active
	}
	m.mu.Unlock()

	m.logger.Debug("plugin registered", "plugin", d.ID, "active", active, "version", d.Version.Plugin)
	return m.hooks.Run(ctx, RegisterHook, d, active)
}

func (m *Manager) validate(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty ID", ErrInvalidDescriptor)
	}
	if d.Version.Plugin != "" && Canonical(d.Version.Plugin) == "" {
		return fmt.Errorf("%w: %s: version %q", ErrInvalidDescriptor, d.ID, d.Version.Plugin)
	}
	if m.runtimeVersion == "" || d.Version.Runtime == "" {
		return nil
	}
	ok, err := Satisfies(m.runtimeVersion, d.Version.Runtime)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDescriptor, d.ID, err)
	}
	if !ok {
		return &IncompatibleError{ID: d.ID, Constraint: d.Version.Runtime, Runtime: m.runtimeVersion}
	}
	return nil
}

// Unregister removes a plugin. Built-in plugins require force.
func (m *Manager) Unregister(id string, force bool) error {
	var err error
	if force {
		err = m.plugins.Unregister(id, registry.Force())
	} else {
		err = m.plugins.Unregister(id)
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	return nil
}

// Get returns the descriptor of id.
func (m *Manager) Get(id string) (Descriptor, bool) { return m.plugins.Get(id) }

// IsActive reports whether id is registered and active.
func (m *Manager) IsActive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[id] && m.plugins.Has(id)
}

// Activate runs the activate chain for id and marks it active. If the chain
// fails the plugin stays inactive. Activating an active plugin is a no-op.
func (m *Manager) Activate(ctx context.Context, id string) error {
	return m.setActive(ctx, id, true, ActivateHook)
}

// Deactivate runs the deactivate chain for id and marks it inactive. If the
// chain fails the plugin stays active.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	return m.setActive(ctx, id, false, DeactivateHook)
}

func (m *Manager) setActive(ctx context.Context, id string, active bool, chain string) error {
	d, ok := m.plugins.Get(id)
	if !ok {
		return &registry.NotFoundError{Registry: "plugins", Key: id, Op: chain}
	}
	if m.IsActive(id) == active {
		return nil
	}
	if err := m.hooks.Run(ctx, chain, d); err != nil {
		return fmt.Errorf("%s %s: %w", chain, id, err)
	}
	m.mu.Lock()
	m.active[id] = active
	m.mu.Unlock()
	m.logger.Info("plugin "+chain+"d", "plugin", id)
	return nil
}

// Update replaces the descriptor of a registered plugin and runs the update
// chain with the new and previous descriptors. The ID of d must match id.
// Built-in plugins can be updated but stay built-in (and protected) whatever
// d.BuiltIn says.
func (m *Manager) Update(ctx context.Context, id string, d Descriptor) error {
	if d.ID == "" {
		d.ID = id
	}
	if d.ID != id {
		return fmt.Errorf("%w: update %s with descriptor %s", ErrInvalidDescriptor, id, d.ID)
	}
	old, ok := m.plugins.Get(id)
	if !ok {
		return &registry.NotFoundError{Registry: "plugins", Key: id, Op: UpdateHook}
	}
	if err := m.validate(d); err != nil {
		return err
	}
	d.BuiltIn = d.BuiltIn || old.BuiltIn
	if err := m.plugins.Register(id, d, registry.WithOrder(d.Order), registry.Protect(d.BuiltIn), registry.Force()); err != nil {
		return err
	}
	m.logger.Info("plugin updated", "plugin", id, "from", old.Version.Plugin, "to", d.Version.Plugin)
	return m.hooks.Run(ctx, UpdateHook, d, old)
}

// List returns every plugin in order with its activation state.
func (m *Manager) List() []Info {
	descs := m.plugins.List()
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, len(descs))
	for i, d := range descs {
		out[i] = Info{Descriptor: d, Active: m.active[d.ID]}
	}
	return out
}

// Gate wraps cb so it only runs while plugin id is active. It is the usual
// way for a plugin to contribute hooks that go quiet when it is deactivated.
func (m *Manager) Gate(id string, cb hook.Callback) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		if !m.IsActive(id) {
			return nil
		}
		return cb(ctx, args...)
	}
}

// ForPlugin returns a callback for the activate/deactivate/update chains
// that only fires for descriptors with the given id.
func ForPlugin(id string, cb hook.Callback) hook.Callback {
	return func(ctx context.Context, args ...interface{}) error {
		if len(args) == 0 {
			return nil
		}
		d, ok := args[0].(Descriptor)
		if !ok || d.ID != id {
			return nil
		}
		return cb(ctx, args...)
	}
}
