// Package hook provides named, priority-ordered callback chains.
//
// Any number of modules contribute callbacks to a hook name; a caller runs
// every contribution for that name with a single call:
//
//	hooks := hook.New()
//	hooks.Register("greet", func(ctx context.Context, args ...interface{}) error {
//		out := args[0].(*[]string)
//		*out = append(*out, "A")
//		return nil
//	}, hook.WithOrder(10))
//	hooks.Register("greet", appendB, hook.WithOrder(5))
//
//	var seen []string
//	err := hooks.Run(ctx, "greet", &seen) // seen == ["B", "A"]
//
// Callbacks of one chain run sequentially in order (lower order first, equal
// orders in registration order), each one awaited before the next starts,
// so later callbacks observe what earlier ones did to shared arguments. The
// first callback that returns an error (or panics) stops the chain and Run
// returns a *HookError; nothing is retried or suppressed.
//
// Run iterates a snapshot taken when the run starts. Callbacks may register
// or unregister entries of the chain they are part of; the change applies to
// later runs only.
//
// Chains are created lazily on first Register or Run and are never removed;
// Flush empties one.
package hook
