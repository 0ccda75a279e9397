// Package validation checks configured targets against the identity and
// structural invariants the rest of the daemon assumes hold.
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/poltergeist/poltergeist/pkg/types"
)

// nameInvariant is the target-identity regex from the target naming
// invariant: names are restricted to a safe charset since they are embedded
// directly into state/log/lock filenames.
var nameInvariant = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TargetValidator checks targets against the invariants a name must be
// unique, a valid watch path must be present, and a build command must
// exist for any type other than custom.
type TargetValidator struct {
	projectRoot string
}

// NewTargetValidator creates a validator rooted at projectRoot, used to
// resolve relative output/watch paths.
func NewTargetValidator(projectRoot string) *TargetValidator {
	return &TargetValidator{projectRoot: projectRoot}
}

// ValidationLevel is the severity of a single ValidationError.
type ValidationLevel string

const (
	ValidationLevelError   ValidationLevel = "error"
	ValidationLevelWarning ValidationLevel = "warning"
	ValidationLevelInfo    ValidationLevel = "info"
)

// ValidationError names a single violated field on a single target.
type ValidationError struct {
	Target  string
	Field   string
	Message string
	Level   ValidationLevel
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s.%s: %s", e.Level, e.Target, e.Field, e.Message)
}

// ValidationResult accumulates every violation found across one or more
// targets. Valid is false as soon as any Error-level violation is recorded;
// Warning/Info entries never flip it.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

func newValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true}
}

// AddError records a violation, demoting Valid to false for Error-level
// severities only.
func (r *ValidationResult) AddError(target, field, message string, level ValidationLevel) {
	r.Errors = append(r.Errors, ValidationError{
		Target:  target,
		Field:   field,
		Message: message,
		Level:   level,
	})
	if level == ValidationLevelError {
		r.Valid = false
	}
}

// merge folds another result's violations into r, propagating Valid.
func (r *ValidationResult) merge(other *ValidationResult) {
	r.Errors = append(r.Errors, other.Errors...)
	if !other.Valid {
		r.Valid = false
	}
}

// Validate runs every invariant check against a single target.
func (v *TargetValidator) Validate(target types.Target) *ValidationResult {
	result := newValidationResult()

	v.checkIdentity(target, result)
	v.checkBuildCommand(target, result)
	v.checkWatchPaths(target, result)
	v.checkOutputPath(target, result)
	v.checkTypeSpecific(target, result)

	return result
}

// ValidateMultiple validates a set of targets together, additionally
// checking cross-target invariants (name uniqueness).
func (v *TargetValidator) ValidateMultiple(targets []types.Target) *ValidationResult {
	result := newValidationResult()
	seen := make(map[string]bool, len(targets))

	for _, target := range targets {
		name := target.GetName()
		if seen[name] {
			result.AddError(name, "name", "duplicate target name", ValidationLevelError)
		}
		seen[name] = true

		result.merge(v.Validate(target))
	}

	return result
}

// checkIdentity enforces the target-naming invariant: non-empty, and
// restricted to the safe charset used to build state/log/lock filenames.
func (v *TargetValidator) checkIdentity(target types.Target, result *ValidationResult) {
	name := target.GetName()

	if name == "" {
		result.AddError("", "name", "target name is required", ValidationLevelError)
		return
	}

	if !nameInvariant.MatchString(name) {
		result.AddError(name, "name",
			"target name must match [A-Za-z0-9_-]+", ValidationLevelError)
	}
}

// checkBuildCommand enforces "build_command non-empty for non-custom
// types": custom targets carry arbitrary config and may legitimately have
// no shell command of their own, so only every other type requires one.
// Test targets may substitute a testCommand instead (checked by the CLI's
// raw-JSON validation, since TestTarget alone carries that field).
func (v *TargetValidator) checkBuildCommand(target types.Target, result *ValidationResult) {
	if target.GetType() == types.TargetTypeCustom {
		return
	}
	if target.GetType() == types.TargetTypeTest {
		if test, ok := target.(*types.TestTarget); ok && test.TestCommand != "" {
			return
		}
	}
	if target.GetBuildCommand() == "" {
		result.AddError(target.GetName(), "buildCommand", "build command is required", ValidationLevelError)
	}
}

// checkWatchPaths enforces "at least one watch_path", then flags individual
// paths that are absolute or that point nowhere on disk (a likely typo).
func (v *TargetValidator) checkWatchPaths(target types.Target, result *ValidationResult) {
	name := target.GetName()
	watchPaths := target.GetWatchPaths()

	if len(watchPaths) == 0 {
		result.AddError(name, "watchPaths", "at least one watch path is required", ValidationLevelError)
		return
	}

	for _, path := range watchPaths {
		switch {
		case path == "":
			result.AddError(name, "watchPaths", "empty watch path", ValidationLevelError)
		case filepath.IsAbs(path):
			result.AddError(name, "watchPaths", fmt.Sprintf("watch path should be relative: %s", path), ValidationLevelWarning)
		case !strings.ContainsAny(path, "*?"):
			if full := filepath.Join(v.projectRoot, path); !exists(full) {
				result.AddError(name, "watchPaths", fmt.Sprintf("watch path does not exist: %s", path), ValidationLevelWarning)
			}
		}
	}
}

// checkOutputPath validates the output path of target types that declare
// one, warning on absolute paths and directories that don't yet exist (the
// build command may be expected to create them, so this is advisory only).
func (v *TargetValidator) checkOutputPath(target types.Target, result *ValidationResult) {
	name := target.GetName()

	var outputPath string
	switch t := target.(type) {
	case *types.ExecutableTarget:
		outputPath = t.OutputPath
	case *types.LibraryTarget:
		outputPath = t.OutputPath
	case *types.FrameworkTarget:
		outputPath = t.OutputPath
	default:
		return
	}

	if outputPath == "" {
		return
	}

	if filepath.IsAbs(outputPath) {
		result.AddError(name, "outputPath", "output path should be relative to project root", ValidationLevelWarning)
		return
	}

	dir := filepath.Dir(filepath.Join(v.projectRoot, outputPath))
	if !exists(dir) {
		result.AddError(name, "outputPath", fmt.Sprintf("output directory does not exist: %s", dir), ValidationLevelWarning)
	}
}

// checkTypeSpecific enforces the handful of fields that are required by a
// specific target type but aren't expressible through the Target interface.
func (v *TargetValidator) checkTypeSpecific(target types.Target, result *ValidationResult) {
	name := target.GetName()

	switch t := target.(type) {
	case *types.AppBundleTarget:
		if t.BundleID == "" {
			result.AddError(name, "bundleId", "bundle ID is required for app bundle targets", ValidationLevelError)
		}
	case *types.TestTarget:
		if t.TestCommand == "" && t.GetBuildCommand() == "" {
			result.AddError(name, "testCommand", "test command is required for test targets", ValidationLevelError)
		}
	case *types.DockerTarget:
		if t.ImageName == "" {
			result.AddError(name, "imageName", "image name is required for Docker targets", ValidationLevelError)
		}
	case *types.CMakeExecutableTarget, *types.CMakeLibraryTarget, *types.CMakeCustomTarget:
		// CMake targets resolve their build graph via CMakeLists.txt, not a
		// configured watch path list, so no further checks apply here.
	}
}

// ValidateConfiguration parses and validates every target in a loaded
// configuration, short-circuiting with a single error if no targets exist
// at all.
func (v *TargetValidator) ValidateConfiguration(config *types.PoltergeistConfig) *ValidationResult {
	result := newValidationResult()

	if len(config.Targets) == 0 {
		result.AddError("config", "targets", "no targets defined", ValidationLevelError)
		return result
	}

	targets := make([]types.Target, 0, len(config.Targets))
	for _, rawTarget := range config.Targets {
		target, err := types.ParseTarget(rawTarget)
		if err != nil {
			result.AddError("config", "targets", fmt.Sprintf("failed to parse target: %v", err), ValidationLevelError)
			continue
		}
		targets = append(targets, target)
	}

	result.merge(v.ValidateMultiple(targets))
	return result
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
