package registry

import "log/slog"

// Mode selects how a registry treats its entries.
type Mode int

const (
	// ModeDefault keeps entries until they are unregistered.
	ModeDefault Mode = iota
	// ModeClean additionally drops entries whose liveness probe fails.
	ModeClean
)

func (m Mode) String() string {
	switch m {
	case ModeClean:
		return "clean"
	default:
		return "default"
	}
}

// Liveness is implemented by values that know whether the resource they
// reference still exists. Used by ModeClean registries without a probe.
type Liveness interface {
	Alive() bool
}

type options struct {
	mode         Mode
	probe        func(v any) bool
	defaultOrder int
	logger       *slog.Logger
}

// Option configures a Registry at construction time.
type Option func(*options)

// WithMode sets the registry mode.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithProbe sets the liveness probe used in ModeClean. It implies ModeClean.
func WithProbe[T any](alive func(T) bool) Option {
	return func(o *options) {
		o.mode = ModeClean
		o.probe = func(v any) bool {
			t, ok := v.(T)
			if !ok {
				return true
			}
			return alive(t)
		}
	}
}

// WithDefaultOrder sets the order used when Register is called without WithOrder.
func WithDefaultOrder(n int) Option {
	return func(o *options) { o.defaultOrder = n }
}

// WithLogger sets the logger used for registration churn (Debug level).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

type entryOptions struct {
	order   *int
	protect *bool
	force   bool
}

// EntryOption configures a single Register or Unregister call.
type EntryOption func(*entryOptions)

// WithOrder sets the entry's order. Lower orders are listed first.
func WithOrder(n int) EntryOption {
	return func(o *entryOptions) { o.order = &n }
}

// Protect sets the entry's protected flag. Without it a replaced entry keeps
// its previous flag and a new entry is unprotected.
func Protect(p bool) EntryOption {
	return func(o *entryOptions) { o.protect = &p }
}

// Force overrides protection for this call.
func Force() EntryOption {
	return func(o *entryOptions) { o.force = true }
}

func collect(opts []EntryOption) entryOptions {
	var eo entryOptions
	for _, opt := range opts {
		opt(&eo)
	}
	return eo
}
