package watchman

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
	"github.com/poltergeist/poltergeist/pkg/utils"
)

// ConfigManager manages watchman configuration
type ConfigManager struct {
	projectRoot string
	logger      logger.Logger
}

// NewConfigManager creates a new watchman config manager
func NewConfigManager(projectRoot string, log logger.Logger) *ConfigManager {
	return &ConfigManager{
		projectRoot: projectRoot,
		logger:      log,
	}
}

// watchmanconfigFile is the on-disk shape of .watchmanconfig understood by
// the watchman daemon itself (ignore_dirs/root_files).
type watchmanconfigFile struct {
	IgnoreDirs []string `json:"ignore_dirs,omitempty"`
	RootFiles  []string `json:"root_files,omitempty"`
}

// EnsureConfigUpToDate writes (or rewrites) the project's .watchmanconfig so
// its ignore_dirs match the current configuration's exclusions.
func (m *ConfigManager) EnsureConfigUpToDate(config *types.PoltergeistConfig) error {
	path := filepath.Join(m.projectRoot, ".watchmanconfig")

	ignoreDirs := getDefaultExclusionsFor(config)

	desired := watchmanconfigFile{
		IgnoreDirs: ignoreDirs,
		RootFiles:  []string{"poltergeist.config.json"},
	}

	if existing, err := os.ReadFile(path); err == nil {
		var current watchmanconfigFile
		if json.Unmarshal(existing, &current) == nil && sameStringSlice(current.IgnoreDirs, desired.IgnoreDirs) {
			return nil
		}
	}

	data, err := json.MarshalIndent(desired, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal watchman config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write .watchmanconfig: %w", err)
	}

	m.logger.Info("Updated .watchmanconfig")
	return nil
}

func getDefaultExclusionsFor(config *types.PoltergeistConfig) []string {
	if config.Watchman != nil && len(config.Watchman.ExcludeDirs) > 0 {
		return config.Watchman.ExcludeDirs
	}
	return []string{"node_modules", ".git", "build", "dist", "target", ".cache"}
}

func sameStringSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SuggestOptimizations lists the project root's top-level directories and
// suggests excluding any named node_modules, .git or vendor. It does not
// inspect the configuration's watch paths or exclusions.
func (m *ConfigManager) SuggestOptimizations() ([]string, error) {
	suggestions := []string{}

	entries, err := os.ReadDir(m.projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read project root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == "node_modules" || name == ".git" || name == "vendor" {
			suggestions = append(suggestions, fmt.Sprintf(
				"exclude '%s' from watch paths to reduce filesystem event volume", name))
		}
	}

	return suggestions, nil
}

// CreateExclusionExpressions creates watchman exclusion expressions
func (m *ConfigManager) CreateExclusionExpressions(config *types.PoltergeistConfig) []interfaces.ExclusionExpression {
	exclusions := []interfaces.ExclusionExpression{}

	// Add custom exclusions
	if config.Watchman != nil && config.Watchman.ExcludeDirs != nil {
		for _, dir := range config.Watchman.ExcludeDirs {
			exclusions = append(exclusions, interfaces.ExclusionExpression{
				Type:     "dirname",
				Patterns: []string{dir},
			})
		}
	}

	// Add default exclusions if enabled
	if config.Watchman == nil || config.Watchman.UseDefaultExclusions {
		defaultExclusions := []string{
			"node_modules", ".git", "vendor", "build", "dist", "target",
			".next", ".nuxt", ".cache", "coverage", ".vscode",
			".idea", "*.log", "tmp", "temp",
		}

		for _, pattern := range defaultExclusions {
			exclusions = append(exclusions, interfaces.ExclusionExpression{
				Type:     "dirname",
				Patterns: []string{pattern},
			})
		}
	}

	return exclusions
}

// NormalizeWatchPattern normalizes a watch pattern
func (m *ConfigManager) NormalizeWatchPattern(pattern string) string {
	// Clean up the pattern
	pattern = strings.TrimSpace(pattern)

	// Convert to absolute path if relative
	if !filepath.IsAbs(pattern) && !strings.Contains(pattern, "*") {
		pattern = filepath.Join(m.projectRoot, pattern)
	}

	// Normalize glob patterns
	if strings.HasPrefix(pattern, "**") {
		// Already a proper glob
		return pattern
	}

	// Add wildcards for directories
	if !strings.Contains(pattern, "*") {
		pattern = filepath.Join(pattern, "**", "*")
	}

	return pattern
}

// ValidateWatchPattern validates a watch pattern by compiling it through the
// same glob engine used at match time, so an invalid pattern is caught at
// config-load time rather than silently matching nothing later.
func (m *ConfigManager) ValidateWatchPattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("empty watch pattern")
	}

	if _, err := utils.NewPatternMatcher([]string{pattern}); err != nil {
		return fmt.Errorf("invalid watch pattern %q: %w", pattern, err)
	}

	return nil
}
