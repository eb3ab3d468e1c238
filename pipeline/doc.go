// Package pipeline runs named, ordered sets of steps whose stages can be
// observed and extended through hook chains.
//
// A Pipeline keeps its steps in an ordered registry (lower order first, equal
// orders in registration order). Running it fires, on the shared
// hook.Dispatcher:
//
//	<p>-before-run                  once
//	<p>-before-<step>               unless the step was registered with SkipBefore
//	<p>-<step>                      external contributions plus the step action
//	<p>-after-<step>                unless the step was registered with SkipAfter
//	<p>-after-run                   once, with the *Result as first argument
//
// The step action is spliced into <p>-<step> at priority.Neutral, after
// contributions registered at the same order, without being added to the
// chain. Other modules extend a step by registering on any of these chains:
//
//	sync := pipeline.New("sync", hooks, pipeline.WithSentinels())
//	sync.Register("fetch", fetchAction, pipeline.StepOrder(10))
//	sync.Register("store", storeAction, pipeline.StepOrder(20))
//	sync.After("fetch", dedupe)
//
//	res, err := sync.Run(ctx, payload)
//
// A failure anywhere inside a step (its before chain, its action or
// contributions, its after chain) is collected as a StepError and the next
// step runs; no step is skipped. Callers inspect Result.Errors (or
// Result.Err) to decide between success and partial failure. The error
// returned by Run is reserved for failures of the run as a whole.
//
// Steps registered with Protect(true) cannot be replaced or removed without
// Force; WithSentinels adds protected begin and end anchors at the extreme
// orders.
//
// CurrentStep and State expose progress for polling. Hook callbacks fired by
// a run can call RunInfoFromContext to learn the run ID and step.
//
// An Observer receives pre/post callbacks around the run and each step so
// run state can be persisted (see the observer package). A Sequence runs
// several pipelines in order with the same arguments.
package pipeline
