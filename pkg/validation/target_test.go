package validation_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/poltergeist/poltergeist/pkg/types"
	"github.com/poltergeist/poltergeist/pkg/validation"
)

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", path, err)
	}
}

func hasIssue(result *validation.ValidationResult, field string, level validation.ValidationLevel) bool {
	for _, e := range result.Errors {
		if e.Field == field && e.Level == level {
			return true
		}
	}
	return false
}

func TestTargetValidator_NameInvariant(t *testing.T) {
	tempDir := t.TempDir()
	validator := validation.NewTargetValidator(tempDir)

	cases := []struct {
		name  string
		valid bool
	}{
		{"web-server", true},
		{"web_server_2", true},
		{"WebServer123", true},
		{"", false},
		{"has space", false},
		{"has/slash", false},
		{"has.dot", false},
		{"emoji🔥", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := &types.ExecutableTarget{
				BaseTarget: types.BaseTarget{
					Name:         tc.name,
					Type:         types.TargetTypeExecutable,
					BuildCommand: "go build",
					WatchPaths:   []string{"*.go"},
				},
			}
			result := validator.Validate(target)
			gotError := hasIssue(result, "name", validation.ValidationLevelError)
			if tc.valid && gotError {
				t.Errorf("name %q: unexpected name error: %v", tc.name, result.Errors)
			}
			if !tc.valid && !gotError {
				t.Errorf("name %q: expected a name invariant error, got none", tc.name)
			}
		})
	}
}

func TestTargetValidator_BuildCommandByType(t *testing.T) {
	tempDir := t.TempDir()
	validator := validation.NewTargetValidator(tempDir)

	t.Run("custom target may omit build command", func(t *testing.T) {
		target := &types.CustomTarget{
			BaseTarget: types.BaseTarget{
				Name:       "custom-hook",
				Type:       types.TargetTypeCustom,
				WatchPaths: []string{"**/*"},
			},
			Config: map[string]interface{}{"script": "./hook.sh"},
		}
		result := validator.Validate(target)
		if hasIssue(result, "buildCommand", validation.ValidationLevelError) {
			t.Errorf("custom target should not require buildCommand: %v", result.Errors)
		}
	})

	t.Run("test target may rely on testCommand instead", func(t *testing.T) {
		target := &types.TestTarget{
			BaseTarget: types.BaseTarget{
				Name:       "unit-tests",
				Type:       types.TargetTypeTest,
				WatchPaths: []string{"**/*_test.go"},
			},
			TestCommand: "go test ./...",
		}
		result := validator.Validate(target)
		if hasIssue(result, "buildCommand", validation.ValidationLevelError) {
			t.Errorf("test target with testCommand should not require buildCommand: %v", result.Errors)
		}
	})

	t.Run("executable target requires a build command", func(t *testing.T) {
		target := &types.ExecutableTarget{
			BaseTarget: types.BaseTarget{
				Name:       "server",
				Type:       types.TargetTypeExecutable,
				WatchPaths: []string{"*.go"},
			},
		}
		result := validator.Validate(target)
		if !hasIssue(result, "buildCommand", validation.ValidationLevelError) {
			t.Error("expected buildCommand error for executable target with no command")
		}
	})
}

func TestTargetValidator_WatchPathRequirement(t *testing.T) {
	tempDir := t.TempDir()
	validator := validation.NewTargetValidator(tempDir)

	target := &types.ExecutableTarget{
		BaseTarget: types.BaseTarget{
			Name:         "no-paths",
			Type:         types.TargetTypeExecutable,
			BuildCommand: "go build",
			WatchPaths:   []string{},
		},
	}

	result := validator.Validate(target)
	if result.Valid {
		t.Error("target with zero watch paths should be invalid")
	}
	if !hasIssue(result, "watchPaths", validation.ValidationLevelError) {
		t.Error("expected watchPaths error")
	}
}

func TestTargetValidator_WatchPathAdvisories(t *testing.T) {
	tempDir := t.TempDir()
	validator := validation.NewTargetValidator(tempDir)
	mustMkdir(t, tempDir)
	if err := os.WriteFile(filepath.Join(tempDir, "present.go"), []byte("package main"), 0644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name          string
		path          string
		expectWarning bool
	}{
		{"glob pattern never checked on disk", "src/**/*.go", false},
		{"existing relative file", "present.go", false},
		{"absolute path", "/etc/present.go", true},
		{"missing relative file", "missing.go", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := &types.ExecutableTarget{
				BaseTarget: types.BaseTarget{
					Name:         "advisory-target",
					Type:         types.TargetTypeExecutable,
					BuildCommand: "go build",
					WatchPaths:   []string{tc.path},
				},
			}
			result := validator.Validate(target)
			got := hasIssue(result, "watchPaths", validation.ValidationLevelWarning)
			if got != tc.expectWarning {
				t.Errorf("path %q: warning=%v, want %v (%v)", tc.path, got, tc.expectWarning, result.Errors)
			}
		})
	}
}

func TestTargetValidator_OutputPathAdvisories(t *testing.T) {
	tempDir := t.TempDir()
	mustMkdir(t, filepath.Join(tempDir, "out"))
	validator := validation.NewTargetValidator(tempDir)

	cases := []struct {
		name          string
		outputPath    string
		expectWarning bool
	}{
		{"relative path under existing dir", "out/binary", false},
		{"absolute path", "/opt/binary", true},
		{"relative path under missing dir", "nowhere/binary", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := &types.ExecutableTarget{
				BaseTarget: types.BaseTarget{
					Name:         "out-target",
					Type:         types.TargetTypeExecutable,
					BuildCommand: "go build",
					WatchPaths:   []string{"*.go"},
				},
				OutputPath: tc.outputPath,
			}
			result := validator.Validate(target)
			got := hasIssue(result, "outputPath", validation.ValidationLevelWarning)
			if got != tc.expectWarning {
				t.Errorf("outputPath %q: warning=%v, want %v", tc.outputPath, got, tc.expectWarning)
			}
		})
	}
}

func TestTargetValidator_TypeSpecificRequirements(t *testing.T) {
	tempDir := t.TempDir()
	validator := validation.NewTargetValidator(tempDir)

	tests := []struct {
		name   string
		target types.Target
		field  string
	}{
		{
			name: "app bundle without bundle ID",
			target: &types.AppBundleTarget{
				BaseTarget: types.BaseTarget{
					Name:         "test-app",
					Type:         types.TargetTypeAppBundle,
					BuildCommand: "xcodebuild",
					WatchPaths:   []string{"*.swift"},
				},
			},
			field: "bundleId",
		},
		{
			name: "test target without any command",
			target: &types.TestTarget{
				BaseTarget: types.BaseTarget{
					Name:       "test-suite",
					Type:       types.TargetTypeTest,
					WatchPaths: []string{"*_test.go"},
				},
			},
			field: "testCommand",
		},
		{
			name: "docker target without image name",
			target: &types.DockerTarget{
				BaseTarget: types.BaseTarget{
					Name:         "test-docker",
					Type:         types.TargetTypeDocker,
					BuildCommand: "docker build .",
					WatchPaths:   []string{"Dockerfile"},
				},
			},
			field: "imageName",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.Validate(tt.target)
			if !hasIssue(result, tt.field, validation.ValidationLevelError) {
				t.Errorf("expected error on field %q, got: %v", tt.field, result.Errors)
			}
		})
	}
}

func TestTargetValidator_ValidateMultipleDetectsDuplicates(t *testing.T) {
	tempDir := t.TempDir()
	validator := validation.NewTargetValidator(tempDir)

	makeTarget := func(name string) types.Target {
		return &types.ExecutableTarget{
			BaseTarget: types.BaseTarget{
				Name:         name,
				Type:         types.TargetTypeExecutable,
				BuildCommand: "go build",
				WatchPaths:   []string{"*.go"},
			},
		}
	}

	result := validator.ValidateMultiple([]types.Target{
		makeTarget("alpha"),
		makeTarget("beta"),
		makeTarget("alpha"),
	})

	if result.Valid {
		t.Error("expected duplicate target names to invalidate the set")
	}
	if !hasIssue(result, "name", validation.ValidationLevelError) {
		t.Error("expected a name error for the duplicate")
	}
}

func TestTargetValidator_ValidateConfiguration(t *testing.T) {
	tempDir := t.TempDir()
	validator := validation.NewTargetValidator(tempDir)

	rawTarget := func(fields map[string]interface{}) json.RawMessage {
		data, err := json.Marshal(fields)
		if err != nil {
			t.Fatalf("marshal target: %v", err)
		}
		return json.RawMessage(data)
	}

	tests := []struct {
		name        string
		config      *types.PoltergeistConfig
		expectValid bool
	}{
		{
			name: "configuration with a valid target",
			config: &types.PoltergeistConfig{
				Version:     "1.0",
				ProjectType: types.ProjectTypeNode,
				Targets: []json.RawMessage{
					rawTarget(map[string]interface{}{
						"name":         "valid-target",
						"type":         "executable",
						"buildCommand": "npm run build",
						"watchPaths":   []string{"src/**/*.js"},
					}),
				},
			},
			expectValid: true,
		},
		{
			name: "configuration with no targets",
			config: &types.PoltergeistConfig{
				Version:     "1.0",
				ProjectType: types.ProjectTypeNode,
				Targets:     []json.RawMessage{},
			},
			expectValid: false,
		},
		{
			name: "configuration with malformed target JSON",
			config: &types.PoltergeistConfig{
				Version:     "1.0",
				ProjectType: types.ProjectTypeNode,
				Targets:     []json.RawMessage{[]byte(`{"invalid": "json"`)},
			},
			expectValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.ValidateConfiguration(tt.config)
			if result.Valid != tt.expectValid {
				t.Errorf("Valid=%v, want %v (errors: %v)", result.Valid, tt.expectValid, result.Errors)
			}
		})
	}
}

func TestValidationResult_AddErrorTracksSeverity(t *testing.T) {
	result := &validation.ValidationResult{Valid: true}

	result.AddError("target1", "field1", "advisory", validation.ValidationLevelWarning)
	if !result.Valid {
		t.Error("a warning alone should not invalidate the result")
	}

	result.AddError("target1", "field2", "fatal", validation.ValidationLevelError)
	if result.Valid {
		t.Error("an error-level entry should invalidate the result")
	}

	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 recorded issues, got %d", len(result.Errors))
	}
}

func TestValidationError_StringFormat(t *testing.T) {
	err := validation.ValidationError{
		Target:  "test-target",
		Field:   "testField",
		Message: "test message",
		Level:   validation.ValidationLevelError,
	}

	want := "[error] test-target.testField: test message"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestTargetValidator_WellFormedTargetsOfEveryType(t *testing.T) {
	tempDir := t.TempDir()
	validator := validation.NewTargetValidator(tempDir)

	targets := []types.Target{
		&types.LibraryTarget{
			BaseTarget: types.BaseTarget{
				Name:         "test-lib",
				Type:         types.TargetTypeLibrary,
				BuildCommand: "cargo build",
				WatchPaths:   []string{"src/**/*.rs"},
			},
			OutputPath:  "target/release/libtest.a",
			LibraryType: types.LibraryTypeStatic,
		},
		&types.FrameworkTarget{
			BaseTarget: types.BaseTarget{
				Name:         "test-framework",
				Type:         types.TargetTypeFramework,
				BuildCommand: "xcodebuild",
				WatchPaths:   []string{"**/*.swift"},
			},
			OutputPath: "build/TestFramework.framework",
			Platform:   types.PlatformMacOS,
		},
		&types.CustomTarget{
			BaseTarget: types.BaseTarget{
				Name:         "custom-target",
				Type:         types.TargetTypeCustom,
				BuildCommand: "make custom",
				WatchPaths:   []string{"**/*"},
			},
			Config: map[string]interface{}{"customSetting": "value"},
		},
		&types.CMakeExecutableTarget{
			BaseTarget: types.BaseTarget{
				Name:         "cmake-exe",
				Type:         types.TargetTypeCMakeExecutable,
				BuildCommand: "cmake --build build --target exe",
				WatchPaths:   []string{"src/**/*.cpp", "CMakeLists.txt"},
			},
			Generator:  "Unix Makefiles",
			BuildType:  types.CMakeBuildTypeDebug,
			TargetName: "exe",
		},
		&types.CMakeLibraryTarget{
			BaseTarget: types.BaseTarget{
				Name:         "cmake-lib",
				Type:         types.TargetTypeCMakeLibrary,
				BuildCommand: "cmake --build build --target lib",
				WatchPaths:   []string{"src/**/*.cpp", "CMakeLists.txt"},
			},
			Generator:   "Unix Makefiles",
			BuildType:   types.CMakeBuildTypeRelease,
			TargetName:  "lib",
			LibraryType: types.LibraryTypeStatic,
		},
		&types.CMakeCustomTarget{
			BaseTarget: types.BaseTarget{
				Name:         "cmake-custom",
				Type:         types.TargetTypeCMakeCustom,
				BuildCommand: "cmake --build build --target custom",
				WatchPaths:   []string{"**/*.cmake"},
			},
			Generator:  "Ninja",
			BuildType:  types.CMakeBuildTypeDebug,
			TargetName: "custom",
		},
	}

	for _, target := range targets {
		t.Run(target.GetName(), func(t *testing.T) {
			result := validator.Validate(target)
			if !result.Valid {
				t.Errorf("expected a well-formed %s target to validate cleanly, got: %v", target.GetType(), result.Errors)
			}
		})
	}
}

func TestTargetValidator_MixedAdvisoriesStillValid(t *testing.T) {
	tempDir := t.TempDir()
	mustMkdir(t, filepath.Join(tempDir, "src"))
	mustMkdir(t, filepath.Join(tempDir, "build"))
	if err := os.WriteFile(filepath.Join(tempDir, "Makefile"), []byte("all:\n\techo build"), 0644); err != nil {
		t.Fatal(err)
	}

	target := &types.ExecutableTarget{
		BaseTarget: types.BaseTarget{
			Name:         "complex-target",
			Type:         types.TargetTypeExecutable,
			BuildCommand: "make && go build -o build/app ./src",
			WatchPaths: []string{
				"src/**/*.go",
				"Makefile",
				"nonexistent.go",
				"/abs/path.go",
			},
		},
		OutputPath: "build/app",
	}

	result := validation.NewTargetValidator(tempDir).Validate(target)
	if !result.Valid {
		t.Errorf("warnings alone should not invalidate a target, got: %v", result.Errors)
	}

	warnings := 0
	for _, e := range result.Errors {
		if e.Level == validation.ValidationLevelWarning {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("expected 2 advisory warnings (missing file + absolute path), got %d: %v", warnings, result.Errors)
	}
}
