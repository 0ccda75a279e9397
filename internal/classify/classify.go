// Package classify maps raw filesystem events to the targets they affect
// and classifies each change as direct, shared, or generated.
package classify

import (
	"fmt"
	"strings"

	"github.com/poltergeist/poltergeist/pkg/types"
	"github.com/poltergeist/poltergeist/pkg/utils"
)

// Weights assigned by the classification rules. Order matters: generated
// markers are checked first, then target fan-out.
const (
	WeightGenerated = 0.3
	WeightDirect    = 1.0
	WeightShared    = 0.7
)

// generatedMarkers identify build artifacts that happen to live inside a
// watched tree; changes to these never warrant full build-priority weight.
var generatedMarkers = []string{"Version.swift", ".generated.", "/build/", "/.build/"}

// Event is a single raw filesystem notification.
type Event struct {
	Path   string
	Exists bool
}

// Change is a classified file change: which targets it affects, and how
// much weight it should carry when scoring those targets.
type Change struct {
	Path            string
	ChangeType      types.ChangeType
	Weight          float64
	AffectedTargets []string
}

// Classifier matches file paths against each target's watch_paths and
// applies the C3 classification rules.
type Classifier struct {
	matchers map[string]*utils.PatternMatcher
	order    []string
}

// New builds a Classifier from the currently enabled targets. Each target's
// watch_paths becomes its own PatternMatcher so a file can be evaluated
// against every target independently.
func New(targets []types.Target) (*Classifier, error) {
	c := &Classifier{
		matchers: make(map[string]*utils.PatternMatcher, len(targets)),
		order:    make([]string, 0, len(targets)),
	}

	for _, target := range targets {
		matcher, err := utils.NewPatternMatcher(target.GetWatchPaths())
		if err != nil {
			return nil, fmt.Errorf("target %s: invalid watch pattern: %w", target.GetName(), err)
		}
		name := target.GetName()
		c.matchers[name] = matcher
		c.order = append(c.order, name)
	}

	return c, nil
}

// Classify maps a batch of raw events to classified changes. Events that
// are empty, whitespace-only, contain "//", don't exist, or affect no
// target are dropped.
func (c *Classifier) Classify(events []Event) []Change {
	changes := make([]Change, 0, len(events))

	for _, ev := range events {
		if !ev.Exists {
			continue
		}

		path := ev.Path
		if strings.TrimSpace(path) == "" || strings.Contains(path, "//") {
			continue
		}

		var affected []string
		for _, name := range c.order {
			if c.matchers[name].Match(path) {
				affected = append(affected, name)
			}
		}
		if len(affected) == 0 {
			continue
		}

		changeType, weight := classifyRules(path, len(affected))
		changes = append(changes, Change{
			Path:            path,
			ChangeType:      changeType,
			Weight:          weight,
			AffectedTargets: affected,
		})
	}

	return changes
}

// classifyRules implements the C3 classification order: generated markers
// win regardless of fan-out, then exactly-one-target changes are direct,
// everything else is shared.
func classifyRules(path string, affectedCount int) (types.ChangeType, float64) {
	if isGenerated(path) {
		return types.ChangeTypeGenerated, WeightGenerated
	}
	if affectedCount == 1 {
		return types.ChangeTypeDirect, WeightDirect
	}
	return types.ChangeTypeShared, WeightShared
}

func isGenerated(path string) bool {
	for _, marker := range generatedMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

// ByTarget groups classified changes by the target names they affect,
// returning each target's list of triggering file paths.
func ByTarget(changes []Change) map[string][]string {
	out := make(map[string][]string)
	for _, change := range changes {
		for _, name := range change.AffectedTargets {
			out[name] = append(out[name], change.Path)
		}
	}
	return out
}
