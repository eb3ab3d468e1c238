package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dcshock/hookpipe/priority"
	"github.com/dcshock/hookpipe/registry"
)

// Callback is one contribution to a hook chain. args are the values passed
// to Run, shared by every callback of the chain.
type Callback func(ctx context.Context, args ...interface{}) error

// Entry is a registered callback.
type Entry struct {
	ID       string
	Name     string
	Order    int
	Callback Callback
}

// ErrHookFailed is matched by every HookError.
var ErrHookFailed = errors.New("hook failed")

// HookError reports the callback that stopped a chain.
type HookError struct {
	Hook  string
	ID    string
	Err   error
	Panic interface{} // non-nil when the callback panicked
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %q (%s): %v", e.Hook, e.ID, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func (e *HookError) Is(target error) bool { return target == ErrHookFailed }

// Dispatcher owns the hook chains of one runtime. Safe for concurrent use.
type Dispatcher struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	timeout time.Duration

	mu      sync.Mutex
	chains  map[string]*registry.Registry[*Entry]
	owners  map[string]string // entry id -> hook name
	counter uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithTracer records a span per Run.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithTimeout gives every callback a context deadline of now+timeout.
// Callbacks that ignore their context are not interrupted.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// New returns an empty dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("hook"),
		chains: make(map[string]*registry.Registry[*Entry]),
		owners: make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type registerOptions struct {
	order int
	id    string
}

// RegisterOption configures a single Register call.
type RegisterOption func(*registerOptions)

// WithOrder sets the callback priority. Defaults to priority.Neutral.
func WithOrder(n int) RegisterOption {
	return func(o *registerOptions) { o.order = n }
}

// WithID sets the entry id. Registering an id that already exists replaces
// that entry, moving it to this hook name if it lived elsewhere.
func WithID(id string) RegisterOption {
	return func(o *registerOptions) { o.id = id }
}

// Register adds cb to the chain for name and returns the entry id used by
// Unregister. Ids are generated from name and a counter when not supplied.
func (d *Dispatcher) Register(name string, cb Callback, opts ...RegisterOption) string {
	if cb == nil {
		panic(fmt.Sprintf("hook: nil callback registered for %q", name))
	}
	ro := registerOptions{order: priority.Neutral}
	for _, opt := range opts {
		opt(&ro)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := ro.id
	if id == "" {
		for {
			d.counter++
			id = fmt.Sprintf("%s-%d", name, d.counter)
			if _, taken := d.owners[id]; !taken {
				break
			}
		}
	}
	if prev, ok := d.owners[id]; ok && prev != name {
		_ = d.chains[prev].Unregister(id, registry.Force())
	}
	d.owners[id] = name

	// Hook entries are never protected, so this cannot fail.
	_ = d.chainLocked(name).Register(id, &Entry{ID: id, Name: name, Order: ro.order, Callback: cb},
		registry.WithOrder(ro.order), registry.Force())
	return id
}

// Unregister removes the entry with id from whichever chain holds it.
// Unknown ids are a no-op.
func (d *Dispatcher) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name, ok := d.owners[id]
	if !ok {
		return
	}
	delete(d.owners, id)
	_ = d.chains[name].Unregister(id, registry.Force())
}

// Flush removes every entry of the chain for name and returns how many were
// removed. Callers scope flushes to hooks they own.
func (d *Dispatcher) Flush(name string) int {
	d.mu.Lock()
	chain, ok := d.chains[name]
	if !ok {
		d.mu.Unlock()
		return 0
	}
	for id, owner := range d.owners {
		if owner == name {
			delete(d.owners, id)
		}
	}
	n := chain.Clear(registry.Force())
	d.mu.Unlock()

	d.logger.Debug("hook chain flushed", "hook", name, "removed", n)
	return n
}

// Run invokes every callback registered for name, in order, each to
// completion before the next. It returns the first callback failure as a
// *HookError; later callbacks do not run.
func (d *Dispatcher) Run(ctx context.Context, name string, args ...interface{}) error {
	return d.run(ctx, name, d.snapshot(name), args)
}

// RunWith runs the chain for name with inline spliced in as if it had been
// registered last at order. Nothing is added to the chain itself.
func (d *Dispatcher) RunWith(ctx context.Context, name string, inline Callback, order int, args ...interface{}) error {
	entries := d.snapshot(name)
	if inline != nil {
		entries = splice(entries, &Entry{ID: name + "#inline", Name: name, Order: order, Callback: inline})
	}
	return d.run(ctx, name, entries, args)
}

func (d *Dispatcher) run(ctx context.Context, name string, entries []*Entry, args []interface{}) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, span := d.tracer.Start(ctx, "hook.run "+name, trace.WithAttributes(
		attribute.String("hook.name", name),
		attribute.Int("hook.callbacks", len(entries)),
	))
	defer span.End()

	d.logger.Debug("running hook", "hook", name, "callbacks", len(entries))
	for _, e := range entries {
		err := ctx.Err()
		if err != nil {
			err = &HookError{Hook: name, ID: e.ID, Err: err}
		} else {
			err = d.invoke(ctx, e, args)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.logger.Debug("hook chain stopped", "hook", name, "id", e.ID, "error", err)
			return err
		}
	}
	return nil
}

func (d *Dispatcher) invoke(ctx context.Context, e *Entry, args []interface{}) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Hook: e.Name, ID: e.ID, Err: fmt.Errorf("panic: %v", r), Panic: r}
		}
	}()
	if cbErr := e.Callback(ctx, args...); cbErr != nil {
		return &HookError{Hook: e.Name, ID: e.ID, Err: cbErr}
	}
	return nil
}

// splice inserts inline after every entry whose order is <= inline.Order.
func splice(entries []*Entry, inline *Entry) []*Entry {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Order > inline.Order })
	out := make([]*Entry, 0, len(entries)+1)
	out = append(out, entries[:i]...)
	out = append(out, inline)
	return append(out, entries[i:]...)
}

func (d *Dispatcher) snapshot(name string) []*Entry {
	d.mu.Lock()
	chain := d.chainLocked(name)
	d.mu.Unlock()
	return chain.List()
}

func (d *Dispatcher) chainLocked(name string) *registry.Registry[*Entry] {
	chain, ok := d.chains[name]
	if !ok {
		chain = registry.New[*Entry]("hook:"+name,
			registry.WithLogger(d.logger),
			registry.WithDefaultOrder(priority.Neutral))
		d.chains[name] = chain
	}
	return chain
}

// Entries returns copies of the entries registered for name, in run order.
func (d *Dispatcher) Entries(name string) []Entry {
	d.mu.Lock()
	chain, ok := d.chains[name]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	list := chain.List()
	out := make([]Entry, len(list))
	for i, e := range list {
		out[i] = *e
	}
	return out
}

// Has reports whether the chain for name has at least one entry.
func (d *Dispatcher) Has(name string) bool {
	d.mu.Lock()
	chain, ok := d.chains[name]
	d.mu.Unlock()
	return ok && chain.Len() > 0
}

// Names returns the names of every chain created so far, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.chains))
	for n := range d.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
