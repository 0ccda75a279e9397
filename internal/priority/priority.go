package priority

import (
	"math"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/internal/clock"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
)

const (
	defaultFocusDetectionWindowMs = 300_000
	defaultPriorityDecayTimeMs    = 1_800_000
	maxRecentChanges              = 100
	maxDurationSamples            = 10
	metricsRescaleThreshold       = 20
)

// targetMetrics tracks the rolling build history used by the reliability
// and build-time-penalty factors.
type targetMetrics struct {
	durations []time.Duration
	attempts  int
	successes int
}

func (m *targetMetrics) avgBuildTime() time.Duration {
	if len(m.durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range m.durations {
		total += d
	}
	return total / time.Duration(len(m.durations))
}

func (m *targetMetrics) successRate() float64 {
	if m.attempts == 0 {
		return 1.0
	}
	return float64(m.successes) / float64(m.attempts)
}

func (m *targetMetrics) record(duration time.Duration, success bool) {
	m.durations = append(m.durations, duration)
	if len(m.durations) > maxDurationSamples {
		m.durations = m.durations[len(m.durations)-maxDurationSamples:]
	}
	m.attempts++
	if success {
		m.successes++
	}
	if m.attempts > metricsRescaleThreshold {
		m.attempts /= 2
		m.successes /= 2
	}
}

// PriorityEngine scores targets from change history and build metrics:
// score = base · focus · reliability · penalty.
type PriorityEngine struct {
	config *types.BuildSchedulingConfig
	logger logger.Logger

	clock clock.Clock

	mu            sync.RWMutex
	changeHistory map[string][]types.ChangeEvent
	metrics       map[string]*targetMetrics
}

// NewPriorityEngine creates a new priority engine.
func NewPriorityEngine(config *types.BuildSchedulingConfig, log logger.Logger) *PriorityEngine {
	return &PriorityEngine{
		config:        config,
		logger:        log,
		clock:         clock.System{},
		changeHistory: make(map[string][]types.ChangeEvent),
		metrics:       make(map[string]*targetMetrics),
	}
}

// NewPriorityEngineWithClock is NewPriorityEngine with an injectable clock,
// used by tests that need to control decay/focus-window timing without
// sleeping on the wall clock.
func NewPriorityEngineWithClock(config *types.BuildSchedulingConfig, log logger.Logger, c clock.Clock) *PriorityEngine {
	pe := NewPriorityEngine(config, log)
	pe.clock = c
	return pe
}

func (pe *PriorityEngine) decayTimeMs() float64 {
	if pe.config == nil || pe.config.Prioritization.PriorityDecayTime <= 0 {
		return defaultPriorityDecayTimeMs
	}
	return float64(pe.config.Prioritization.PriorityDecayTime)
}

func (pe *PriorityEngine) focusWindowMs() float64 {
	if pe.config == nil || pe.config.Prioritization.FocusDetectionWindow <= 0 {
		return defaultFocusDetectionWindowMs
	}
	return float64(pe.config.Prioritization.FocusDetectionWindow)
}

// RecordFileChange records a direct change event for each affected target.
func (pe *PriorityEngine) RecordFileChange(file string, targetNames []string) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	now := pe.clock.Now()
	event := types.ChangeEvent{
		File:            file,
		Timestamp:       now,
		AffectedTargets: targetNames,
		ChangeType:      types.ChangeTypeDirect,
		ImpactWeight:    1.0,
	}

	for _, name := range targetNames {
		history := append(pe.changeHistory[name], event)
		if len(history) > maxRecentChanges {
			history = history[len(history)-maxRecentChanges:]
		}
		pe.changeHistory[name] = history
	}

	pe.pruneLocked(now)
}

// pruneLocked drops change events older than the priority decay time.
// Caller must hold pe.mu.
func (pe *PriorityEngine) pruneLocked(now time.Time) {
	decayTime := time.Duration(pe.decayTimeMs()) * time.Millisecond
	cutoff := now.Add(-decayTime)

	for name, history := range pe.changeHistory {
		kept := history[:0:0]
		for _, ev := range history {
			if ev.Timestamp.After(cutoff) {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			delete(pe.changeHistory, name)
		} else {
			pe.changeHistory[name] = kept
		}
	}
}

// UpdateTargetMetrics records a build completion's duration and outcome.
func (pe *PriorityEngine) UpdateTargetMetrics(targetName string, buildTime time.Duration, success bool) {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	m, ok := pe.metrics[targetName]
	if !ok {
		m = &targetMetrics{}
		pe.metrics[targetName] = m
	}
	m.record(buildTime, success)
}

// GetTargetPriority returns the last-known derived priority info for a
// target, or nil if nothing has been recorded for it yet.
func (pe *PriorityEngine) GetTargetPriority(targetName string) *types.TargetPriority {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	history, hasHistory := pe.changeHistory[targetName]
	m, hasMetrics := pe.metrics[targetName]
	if !hasHistory && !hasMetrics {
		return nil
	}

	tp := &types.TargetPriority{
		Target:        targetName,
		RecentChanges: append([]types.ChangeEvent(nil), history...),
		SuccessRate:   1.0,
	}

	if hasMetrics {
		tp.AvgBuildTime = m.avgBuildTime()
		tp.SuccessRate = m.successRate()
	}

	if len(history) > 0 {
		tp.LastDirectChange = history[len(history)-1].Timestamp
		tp.DirectChangeFrequency = float64(len(history))
	}

	return tp
}

// CalculatePriority computes score = base · focus · reliability · penalty
// for target given the files that just triggered this evaluation.
func (pe *PriorityEngine) CalculatePriority(target types.Target, triggeringFiles []string) float64 {
	now := pe.clock.Now()
	name := target.GetName()

	pe.mu.Lock()
	pe.pruneLocked(now)
	history := pe.changeHistory[name]
	focusWindow := time.Duration(pe.focusWindowMs()) * time.Millisecond
	decayTimeMs := pe.decayTimeMs()

	var directChanges []types.ChangeEvent
	for _, ev := range history {
		if now.Sub(ev.Timestamp) <= focusWindow {
			directChanges = append(directChanges, ev)
		}
	}

	base := float64(len(triggeringFiles)) * 25
	if len(directChanges) > 0 {
		maxTs := directChanges[0].Timestamp
		for _, ev := range directChanges[1:] {
			if ev.Timestamp.After(maxTs) {
				maxTs = ev.Timestamp
			}
		}
		ageMs := float64(now.Sub(maxTs).Milliseconds())
		decay := math.Exp(-ageMs / decayTimeMs)
		base = float64(len(directChanges))*100*decay + 50*decay + float64(len(triggeringFiles))*25
	}

	focus := pe.focusMultiplierLocked(name, now)
	pe.mu.Unlock()

	reliability := pe.reliabilityFactor(name)
	penalty := pe.buildTimePenalty(name)

	// Unclamped: score only orders the max-heap in the build queue, it is
	// never displayed as a percentage, so saturating it would break the
	// monotonicity a heap ordering depends on (two very different
	// histories should never tie just because both crossed some cap).
	return base * focus * reliability * penalty
}

// focusMultiplierLocked computes the focus step function. Caller must
// hold pe.mu.
func (pe *PriorityEngine) focusMultiplierLocked(targetName string, now time.Time) float64 {
	changesForTarget := len(pe.changeHistory[targetName])

	total := 0
	for _, history := range pe.changeHistory {
		total += len(history)
	}

	if total == 0 {
		return 1.0
	}

	p := 100 * float64(changesForTarget) / float64(total)
	switch {
	case p >= 80:
		return 2.0
	case p >= 50:
		return 1.5
	case p >= 30:
		return 1.2
	default:
		return 1.0
	}
}

func (pe *PriorityEngine) reliabilityFactor(targetName string) float64 {
	pe.mu.RLock()
	defer pe.mu.RUnlock()

	m, ok := pe.metrics[targetName]
	if !ok {
		return 1.0
	}
	return 0.5 + 0.5*m.successRate()
}

func (pe *PriorityEngine) buildTimePenalty(targetName string) float64 {
	if pe.config == nil || pe.config.Parallelization != 1 {
		return 1.0
	}

	pe.mu.RLock()
	defer pe.mu.RUnlock()

	m, ok := pe.metrics[targetName]
	if !ok {
		return 1.0
	}
	if m.avgBuildTime() > 30*time.Second {
		return 0.8
	}
	return 1.0
}
