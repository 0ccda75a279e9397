package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/poltergeist/poltergeist/pkg/config"
	"github.com/poltergeist/poltergeist/pkg/types"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var projectType string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new Poltergeist configuration",
		Long: `Initialize a new Poltergeist configuration file in the current directory.
This command detects your project type and scaffolds a suitable starting
configuration with sensible defaults for watching, build scheduling, and
notifications.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(projectType, force)
		},
	}

	cmd.Flags().StringVarP(&projectType, "type", "t", "", "project type (swift, node, rust, python, cmake, mixed)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

func runInit(projectType string, force bool) error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", configPath)
	}

	if projectType == "" {
		if detected := detectProjectType(); detected != "" {
			projectType = detected
			printInfo(fmt.Sprintf("Detected project type: %s", projectType))
		} else {
			projectType = string(types.ProjectTypeMixed)
			printInfo("Could not detect project type, defaulting to 'mixed'")
		}
	}

	cfg := scaffoldConfig(types.ProjectType(projectType))

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	printSuccess(fmt.Sprintf("Wrote %s", configPath))
	printInfo(fmt.Sprintf("Scaffolded %d target(s) for a %s project — edit watch paths and build commands to taste", len(cfg.Targets), projectType))
	return nil
}

// projectMarkers maps a file that's distinctive of a project type to the
// type itself. Checked in declaration order so more specific markers (an
// explicit CMakeLists.txt) win over a generic Makefile.
var projectMarkers = []struct {
	file        string
	projectType string
}{
	{"Package.swift", "swift"},
	{"package.json", "node"},
	{"Cargo.toml", "rust"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"CMakeLists.txt", "cmake"},
	{"Makefile", "mixed"},
}

func detectProjectType() string {
	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(projectRoot, marker.file)); err == nil {
			return marker.projectType
		}
	}
	return ""
}

// scaffoldConfig builds a starting configuration by taking the ambient
// defaults (watchman exclusions, performance profile, build scheduling,
// notifications) from config.Manager and overlaying a project-type-specific
// target list, so the CLI and the config package agree on one set of
// defaults instead of maintaining two.
func scaffoldConfig(projectType types.ProjectType) *types.PoltergeistConfig {
	cfg := config.NewManager().GetDefaultConfig(projectType)
	cfg.Targets = targetsForProjectType(projectType)
	return cfg
}

func targetsForProjectType(projectType types.ProjectType) []json.RawMessage {
	switch projectType {
	case types.ProjectTypeSwift:
		return marshalTargets([]interface{}{
			map[string]interface{}{
				"name":         "MyApp",
				"type":         "app-bundle",
				"buildCommand": "swift build",
				"watchPaths":   []string{"Sources/**/*.swift", "Package.swift"},
				"platform":     "macos",
				"bundleId":     "com.example.myapp",
			},
			map[string]interface{}{
				"name":        "Tests",
				"type":        "test",
				"testCommand": "swift test",
				"watchPaths":  []string{"Tests/**/*.swift", "Sources/**/*.swift"},
			},
		})
	case types.ProjectTypeNode:
		return marshalTargets([]interface{}{
			map[string]interface{}{
				"name":         "build",
				"type":         "executable",
				"buildCommand": "npm run build",
				"watchPaths":   []string{"src/**/*", "package.json"},
				"outputPath":   "dist/index.js",
			},
			map[string]interface{}{
				"name":        "test",
				"type":        "test",
				"testCommand": "npm test",
				"watchPaths":  []string{"src/**/*", "test/**/*"},
			},
		})
	case types.ProjectTypeRust:
		return marshalTargets([]interface{}{
			map[string]interface{}{
				"name":         "debug",
				"type":         "executable",
				"buildCommand": "cargo build",
				"watchPaths":   []string{"src/**/*.rs", "Cargo.toml"},
				"outputPath":   "target/debug/myapp",
			},
			map[string]interface{}{
				"name":         "release",
				"type":         "executable",
				"buildCommand": "cargo build --release",
				"watchPaths":   []string{"src/**/*.rs", "Cargo.toml"},
				"outputPath":   "target/release/myapp",
				"enabled":      false,
			},
			map[string]interface{}{
				"name":        "test",
				"type":        "test",
				"testCommand": "cargo test",
				"watchPaths":  []string{"src/**/*.rs", "tests/**/*.rs"},
			},
		})
	case types.ProjectTypePython:
		return marshalTargets([]interface{}{
			map[string]interface{}{
				"name":        "test",
				"type":        "test",
				"testCommand": "pytest",
				"watchPaths":  []string{"**/*.py", "requirements.txt"},
			},
			map[string]interface{}{
				"name":         "lint",
				"type":         "custom",
				"buildCommand": "pylint src/",
				"watchPaths":   []string{"src/**/*.py"},
			},
		})
	case types.ProjectTypeCMake:
		return marshalTargets([]interface{}{
			map[string]interface{}{
				"name":       "main",
				"type":       "cmake-executable",
				"targetName": "main",
				"buildType":  "Debug",
				"watchPaths": []string{"src/**/*", "include/**/*", "CMakeLists.txt"},
			},
		})
	default:
		return marshalTargets([]interface{}{
			map[string]interface{}{
				"name":         "build",
				"type":         "custom",
				"buildCommand": "make",
				"watchPaths":   []string{"src/**/*", "Makefile"},
			},
			map[string]interface{}{
				"name":        "test",
				"type":        "test",
				"testCommand": "make test",
				"watchPaths":  []string{"src/**/*", "test/**/*"},
			},
		})
	}
}

func marshalTargets(targets []interface{}) []json.RawMessage {
	result := make([]json.RawMessage, len(targets))
	for i, target := range targets {
		data, err := json.Marshal(target)
		if err != nil {
			continue
		}
		result[i] = json.RawMessage(data)
	}
	return result
}
