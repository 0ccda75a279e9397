// Package engine wires the per-target build coordinator: it owns the
// watch/classify/queue pipeline for every configured target, delegating the
// build queue itself to internal/queue and scoring to internal/priority.
package engine

// poltergeist.go holds the coordinator and its per-target state machine;
// factory.go wires a coordinator's dependencies (state manager, builders,
// watchman client and config manager, priority engine, queue, notifier)
// from a loaded config; safegroup.go is the panic-safe goroutine helper the
// coordinator uses for concurrent initial builds.
