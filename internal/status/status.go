// Package status assembles the externally-visible status of every
// configured target by merging a daemon's in-memory view with the
// persisted on-disk state any process can read.
package status

import (
	"time"

	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/process"
	"github.com/poltergeist/poltergeist/pkg/state"
	"github.com/poltergeist/poltergeist/pkg/types"
)

const startupGrace = 30 * time.Second

// Coarse status values a caller (CLI, wrapper) can branch on without
// knowing anything about the persisted-state schema.
const (
	StatusRunning    = "running"
	StatusBuilding   = "building"
	StatusSuccess    = "success"
	StatusFailure    = "failure"
	StatusStopped    = "stopped"
	StatusUnknown    = "unknown"
	StatusNotRunning = "poltergeist-not-running"
)

// InMemorySnapshot is the subset of a live daemon's in-process target
// bookkeeping the presenter cares about. Deliberately independent of
// internal/engine's TargetState so this package never imports it back.
type InMemorySnapshot struct {
	Watching         bool
	PendingFileCount int
}

// Source supplies the in-memory half of the merge. A running daemon
// implements this directly off its own target-state map; a standalone CLI
// process (no live daemon in-process) can pass a Source that always
// returns an empty map, relying entirely on the persisted half.
type Source interface {
	Snapshot() map[string]InMemorySnapshot
}

// StaticSource is a Source with a fixed snapshot, useful for a CLI process
// that has no in-memory state of its own.
type StaticSource map[string]InMemorySnapshot

func (s StaticSource) Snapshot() map[string]InMemorySnapshot { return s }

// TargetStatus is one target's merged, externally-visible status.
type TargetStatus struct {
	TargetName       string
	Status           string
	Watching         bool
	PendingFileCount int
	Persisted        *state.PoltergeistState
}

// Presenter merges a Source's in-memory view with the state manager's
// persisted state for each configured target.
type Presenter struct {
	stateManager interfaces.StateManager
	source       Source
}

// New creates a Presenter. source may be nil, in which case every target
// is reported using persisted state alone.
func New(stateManager interfaces.StateManager, source Source) *Presenter {
	if source == nil {
		source = StaticSource{}
	}
	return &Presenter{stateManager: stateManager, source: source}
}

// Assemble returns the merged status of every target in targets.
func (p *Presenter) Assemble(targets []types.Target) (map[string]TargetStatus, error) {
	persisted, err := p.stateManager.DiscoverStates()
	if err != nil {
		return nil, err
	}

	snapshot := p.source.Snapshot()
	result := make(map[string]TargetStatus, len(targets))

	for _, target := range targets {
		name := target.GetName()
		mem := snapshot[name]
		ps := persisted[name]

		result[name] = TargetStatus{
			TargetName:       name,
			Status:           deriveStatus(ps),
			Watching:         mem.Watching,
			PendingFileCount: mem.PendingFileCount,
			Persisted:        ps,
		}
	}

	return result, nil
}

// deriveStatus implements §4.8's coarse status rule: a live owner reports
// running (or whatever finer in-memory status it's tracking); a dead owner
// past the startup grace with no recorded build is a failure; otherwise
// fall back to the last persisted build status, or stopped/unknown.
func deriveStatus(ps *state.PoltergeistState) string {
	if ps == nil {
		return StatusNotRunning
	}

	if ownerIsLive(ps) {
		if ps.BuildStatus == types.BuildStatusBuilding {
			return StatusBuilding
		}
		return StatusRunning
	}

	graceExceeded := time.Since(ps.Heartbeat) > startupGrace
	if graceExceeded && ps.BuildStatus == "" {
		return StatusFailure
	}

	if ps.BuildStatus != "" {
		return string(ps.BuildStatus)
	}

	if graceExceeded {
		return StatusStopped
	}

	return StatusUnknown
}

// ownerIsLive reports whether the process that owns a persisted state
// file is still alive. An inactive flag from a clean shutdown always
// means not live; otherwise the PID is probed directly.
func ownerIsLive(ps *state.PoltergeistState) bool {
	if !ps.IsActive || ps.ProcessID <= 0 {
		return false
	}

	info, err := process.GetProcessInfo(ps.ProcessID)
	if err != nil {
		return false
	}
	return info.IsRunning
}
