package watchman_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
	"github.com/poltergeist/poltergeist/pkg/watchman"
)

func TestConfigManager_CreateExclusionExpressions_DefaultsWhenUnset(t *testing.T) {
	mgr := watchman.NewConfigManager(t.TempDir(), logger.CreateLogger("", "info"))

	exclusions := mgr.CreateExclusionExpressions(&types.PoltergeistConfig{})
	if len(exclusions) == 0 {
		t.Fatal("expected default exclusions when Watchman config is nil")
	}
	for _, e := range exclusions {
		if e.Type != "dirname" {
			t.Errorf("expected dirname exclusions, got %q", e.Type)
		}
	}
}

func TestConfigManager_CreateExclusionExpressions_CustomPlusDefaults(t *testing.T) {
	mgr := watchman.NewConfigManager(t.TempDir(), logger.CreateLogger("", "info"))

	cfg := &types.PoltergeistConfig{
		Watchman: &types.WatchmanConfig{
			ExcludeDirs:          []string{"custom-cache"},
			UseDefaultExclusions: true,
		},
	}
	exclusions := mgr.CreateExclusionExpressions(cfg)

	found := false
	for _, e := range exclusions {
		for _, p := range e.Patterns {
			if p == "custom-cache" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected the custom exclusion to be present alongside the defaults")
	}
	if len(exclusions) < 2 {
		t.Error("expected both the custom exclusion and the default set")
	}
}

func TestConfigManager_CreateExclusionExpressions_SkipsDefaultsWhenDisabled(t *testing.T) {
	mgr := watchman.NewConfigManager(t.TempDir(), logger.CreateLogger("", "info"))

	cfg := &types.PoltergeistConfig{
		Watchman: &types.WatchmanConfig{
			ExcludeDirs:          []string{"only-this"},
			UseDefaultExclusions: false,
		},
	}
	exclusions := mgr.CreateExclusionExpressions(cfg)

	if len(exclusions) != 1 {
		t.Fatalf("expected exactly the custom exclusion, got %d entries", len(exclusions))
	}
	if exclusions[0].Patterns[0] != "only-this" {
		t.Errorf("unexpected exclusion pattern: %v", exclusions[0].Patterns)
	}
}

func TestConfigManager_NormalizeWatchPattern_AlreadyGlobIsUnchanged(t *testing.T) {
	mgr := watchman.NewConfigManager(t.TempDir(), logger.CreateLogger("", "info"))

	got := mgr.NormalizeWatchPattern("**/*.go")
	if got != "**/*.go" {
		t.Errorf("NormalizeWatchPattern(%q) = %q, want unchanged", "**/*.go", got)
	}
}

func TestConfigManager_NormalizeWatchPattern_RelativeDirGainsRecursiveSuffix(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := watchman.NewConfigManager(tmpDir, logger.CreateLogger("", "info"))

	got := mgr.NormalizeWatchPattern("src")
	want := filepath.Join(tmpDir, "src", "**", "*")
	if got != want {
		t.Errorf("NormalizeWatchPattern(%q) = %q, want %q", "src", got, want)
	}
}

func TestConfigManager_NormalizeWatchPattern_TrimsWhitespace(t *testing.T) {
	mgr := watchman.NewConfigManager(t.TempDir(), logger.CreateLogger("", "info"))

	got := mgr.NormalizeWatchPattern("  *.go  ")
	if strings.TrimSpace(got) != got {
		t.Errorf("NormalizeWatchPattern left whitespace in %q", got)
	}
}
