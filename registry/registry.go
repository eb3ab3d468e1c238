package registry

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
)

// Entry is a snapshot of one registered value.
type Entry[T any] struct {
	Key       string
	Value     T
	Order     int
	Protected bool
	// Seq is the insertion sequence used to break Order ties. It is
	// reassigned every time the key is registered.
	Seq uint64
}

// Registry is an ordered keyed collection. Safe for concurrent use.
type Registry[T any] struct {
	name string
	opts options

	mu      sync.RWMutex
	entries map[string]*Entry[T]
	seq     uint64
	sorted  []Entry[T] // nil when invalidated
}

// New returns an empty registry. The name is used in errors and logs.
func New[T any](name string, opts ...Option) *Registry[T] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[T]{
		name:    name,
		opts:    o,
		entries: make(map[string]*Entry[T]),
	}
}

// Name returns the registry name.
func (r *Registry[T]) Name() string { return r.name }

// Mode returns the registry mode.
func (r *Registry[T]) Mode() Mode { return r.opts.mode }

// Register inserts or replaces the entry for key. It fails with a
// ProtectedEntryError when an existing entry is protected and Force() is
// not given.
func (r *Registry[T]) Register(key string, value T, opts ...EntryOption) error {
	eo := collect(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	protected := false
	if old, ok := r.entries[key]; ok {
		if old.Protected && !eo.force {
			return &ProtectedEntryError{Registry: r.name, Key: key, Op: "register"}
		}
		protected = old.Protected
	}
	if eo.protect != nil {
		protected = *eo.protect
	}
	order := r.opts.defaultOrder
	if eo.order != nil {
		order = *eo.order
	}

	r.seq++
	r.entries[key] = &Entry[T]{
		Key:       key,
		Value:     value,
		Order:     order,
		Protected: protected,
		Seq:       r.seq,
	}
	r.sorted = nil
	r.opts.logger.Debug("registry entry registered", "registry", r.name, "key", key, "order", order, "protected", protected)
	return nil
}

// Unregister removes the entry for key. Missing keys are a no-op. Protected
// entries require Force().
func (r *Registry[T]) Unregister(key string, opts ...EntryOption) error {
	eo := collect(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.entries[key]
	if !ok {
		return nil
	}
	if old.Protected && !eo.force {
		return &ProtectedEntryError{Registry: r.name, Key: key, Op: "unregister"}
	}
	r.remove(key)
	r.opts.logger.Debug("registry entry unregistered", "registry", r.name, "key", key)
	return nil
}

// Clear removes every entry and returns how many were removed. Protected
// entries stay unless Force() is given.
func (r *Registry[T]) Clear(opts ...EntryOption) int {
	eo := collect(opts)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, e := range r.entries {
		if e.Protected && !eo.force {
			continue
		}
		delete(r.entries, key)
		n++
	}
	if n > 0 {
		r.sorted = nil
	}
	return n
}

// Protect marks the entry for key as protected.
func (r *Registry[T]) Protect(key string) error {
	return r.setProtected(key, true, "protect")
}

// Unprotect clears the protected flag of the entry for key.
func (r *Registry[T]) Unprotect(key string) error {
	return r.setProtected(key, false, "unprotect")
}

func (r *Registry[T]) setProtected(key string, p bool, op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[key]
	if !ok {
		return &NotFoundError{Registry: r.name, Key: key, Op: op}
	}
	if e.Protected != p {
		e.Protected = p
		r.sorted = nil
	}
	return nil
}

// Get returns the value for key. The second result is false when the key
// is absent (or was dropped by a failed liveness probe).
func (r *Registry[T]) Get(key string) (T, bool) {
	e, ok := r.Entry(key)
	return e.Value, ok
}

// Entry returns a copy of the entry for key.
func (r *Registry[T]) Entry(key string) (Entry[T], bool) {
	if r.opts.mode == ModeClean {
		r.mu.Lock()
		defer r.mu.Unlock()
		e, ok := r.entries[key]
		if !ok {
			return Entry[T]{}, false
		}
		if !r.alive(e.Value) {
			r.remove(key)
			r.opts.logger.Debug("registry entry dropped", "registry", r.name, "key", key)
			return Entry[T]{}, false
		}
		return *e, true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Has reports whether key is registered.
func (r *Registry[T]) Has(key string) bool {
	_, ok := r.Entry(key)
	return ok
}

// Len returns the number of entries, without running liveness probes.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns the values in order as a snapshot.
func (r *Registry[T]) List() []T {
	entries := r.Entries()
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

// Keys returns the keys in order.
func (r *Registry[T]) Keys() []string {
	entries := r.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

// Entries returns the entries in order as a snapshot.
func (r *Registry[T]) Entries() []Entry[T] {
	if r.opts.mode != ModeClean {
		r.mu.RLock()
		if r.sorted != nil {
			out := slices.Clone(r.sorted)
			r.mu.RUnlock()
			return out
		}
		r.mu.RUnlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.mode == ModeClean {
		for key, e := range r.entries {
			if !r.alive(e.Value) {
				r.remove(key)
				r.opts.logger.Debug("registry entry dropped", "registry", r.name, "key", key)
			}
		}
	}
	if r.sorted == nil {
		r.sorted = r.sort()
	}
	return slices.Clone(r.sorted)
}

func (r *Registry[T]) sort() []Entry[T] {
	out := make([]Entry[T], 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry[T]) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}

// remove deletes key. Callers hold the write lock.
func (r *Registry[T]) remove(key string) {
	delete(r.entries, key)
	r.sorted = nil
}

func (r *Registry[T]) alive(v T) bool {
	if r.opts.probe != nil {
		return r.opts.probe(v)
	}
	if l, ok := any(v).(Liveness); ok {
		return l.Alive()
	}
	return true
}
