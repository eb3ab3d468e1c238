// Package registry provides an ordered, keyed collection used as the storage
// layer for plugins, hook chains, pipeline steps and the other runtime tables.
//
// Entries are listed by ascending Order; entries with the same Order keep the
// sequence in which they were registered. Re-registering a key replaces its
// value and order and counts as a fresh insert for tie-breaking, so a
// replaced entry moves behind every other entry of the same order.
//
// An entry can be protected. Protected entries reject Register (overwrite)
// and Unregister unless the caller passes Force():
//
//	steps := registry.New[Step]("sync.steps")
//	_ = steps.Register("begin", begin, registry.WithOrder(priority.Highest), registry.Protect(true))
//	err := steps.Unregister("begin")              // errors.Is(err, registry.ErrProtected)
//	err = steps.Unregister("begin", registry.Force()) // nil
//
// List and Entries return snapshots. Mutating the registry after a snapshot
// was taken never changes the snapshot, which lets callers iterate while
// the iterated callbacks register or unregister entries.
//
// # Clean mode
//
// A registry created with WithMode(ModeClean) holds values backed by
// externally owned live resources (for example socket connections). Values
// whose liveness probe reports false are dropped lazily on Get, Entry, List
// and Entries; there is no background polling. The probe is either supplied
// with WithProbe or taken from values implementing Liveness.
package registry
