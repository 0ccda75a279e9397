package builders

import (
	"context"
	"fmt"
	"os"

	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
)

// Factory creates builders based on target type.
type Factory struct{}

// NewBuilderFactory creates a new builder factory.
func NewBuilderFactory() *Factory {
	return &Factory{}
}

// CreateBuilder creates the appropriate builder for a target.
func (f *Factory) CreateBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) interfaces.Builder {
	switch target.GetType() {
	case types.TargetTypeExecutable:
		return NewExecutableBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeAppBundle:
		return NewAppBundleBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeLibrary:
		return NewLibraryBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeFramework:
		return NewFrameworkBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeTest:
		return NewTestBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeDocker:
		return NewDockerBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeCMakeExecutable:
		return NewCMakeExecutableBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeCMakeLibrary:
		return NewCMakeLibraryBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeCMakeCustom:
		return NewCMakeCustomBuilder(target, projectRoot, log, stateManager)

	case types.TargetTypeCustom:
		return NewCustomBuilder(target, projectRoot, log, stateManager)

	default:
		return NewBaseBuilder(target, projectRoot, log, stateManager)
	}
}

// FrameworkBuilder builds framework targets.
type FrameworkBuilder struct {
	*BaseBuilder
	outputPath string
	platform   types.Platform
}

// NewFrameworkBuilder creates a new framework builder.
func NewFrameworkBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *FrameworkBuilder {
	base := NewBaseBuilder(target, projectRoot, log, stateManager)

	builder := &FrameworkBuilder{BaseBuilder: base}

	if fwTarget, ok := target.(*types.FrameworkTarget); ok {
		builder.outputPath = fwTarget.OutputPath
		builder.platform = fwTarget.Platform
	}

	return builder
}

// GetOutputInfo returns a stable reader-useful string for the built artifact.
func (b *FrameworkBuilder) GetOutputInfo() string {
	if b.outputPath == "" {
		return "unknown"
	}
	return b.resolvePath(b.outputPath)
}

// CustomBuilder builds user-defined targets.
type CustomBuilder struct {
	*BaseBuilder
	config map[string]interface{}
}

// NewCustomBuilder creates a new custom builder.
func NewCustomBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CustomBuilder {
	base := NewBaseBuilder(target, projectRoot, log, stateManager)

	builder := &CustomBuilder{BaseBuilder: base}

	if customTarget, ok := target.(*types.CustomTarget); ok {
		builder.config = customTarget.Config
	}

	return builder
}

// CMakeBuilder provides common CMake functionality shared by the three
// CMake target flavors.
type CMakeBuilder struct {
	*BaseBuilder
	generator  string
	buildType  types.CMakeBuildType
	cmakeArgs  []string
	targetName string
	parallel   bool
}

// NewCMakeBuilder creates a base CMake builder.
func NewCMakeBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CMakeBuilder {
	base := NewBaseBuilder(target, projectRoot, log, stateManager)

	return &CMakeBuilder{
		BaseBuilder: base,
		generator:   "Unix Makefiles",
		buildType:   types.CMakeBuildTypeDebug,
		parallel:    true,
	}
}

// configureCMake runs `cmake` configuration ahead of the actual build.
// pre_build hook for the CMake family; invoked by each CMake builder's
// Build before delegating to BaseBuilder.Build.
func (b *CMakeBuilder) configureCMake(ctx context.Context) error {
	buildDir := b.resolvePath("build")
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return fmt.Errorf("failed to create build directory: %w", err)
	}

	cmakeCmd := fmt.Sprintf("cmake -S . -B build -G \"%s\" -DCMAKE_BUILD_TYPE=%s",
		b.generator, b.buildType)
	for _, arg := range b.cmakeArgs {
		cmakeCmd += " " + arg
	}

	cmd := b.createCommand(ctx, cmakeCmd)
	cmd.Dir = b.ProjectRoot
	return cmd.Run()
}

// GetOutputInfo looks up the CMake-produced artifact's absolute path.
// This output-type–specific lookup is a subclass concern; the core only
// requires a stable, reader-useful string.
func (b *CMakeBuilder) GetOutputInfo(outputPath string) string {
	if outputPath == "" {
		return fmt.Sprintf("build/%s", b.targetName)
	}
	return b.resolvePath(outputPath)
}

// CMakeExecutableBuilder builds CMake executable targets.
type CMakeExecutableBuilder struct {
	*CMakeBuilder
	outputPath string
}

// NewCMakeExecutableBuilder creates a new CMake executable builder.
func NewCMakeExecutableBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CMakeExecutableBuilder {
	base := NewCMakeBuilder(target, projectRoot, log, stateManager)

	builder := &CMakeExecutableBuilder{CMakeBuilder: base}

	if cmakeTarget, ok := target.(*types.CMakeExecutableTarget); ok {
		if cmakeTarget.Generator != "" {
			builder.generator = cmakeTarget.Generator
		}
		if cmakeTarget.BuildType != "" {
			builder.buildType = cmakeTarget.BuildType
		}
		builder.cmakeArgs = cmakeTarget.CMakeArgs
		builder.targetName = cmakeTarget.TargetName
		builder.outputPath = cmakeTarget.OutputPath
		if cmakeTarget.Parallel != nil {
			builder.parallel = *cmakeTarget.Parallel
		}
	}

	return builder
}

// Build configures then builds the CMake executable target.
func (b *CMakeExecutableBuilder) Build(ctx context.Context, changedFiles []string) error {
	if err := b.configureCMake(ctx); err != nil {
		return fmt.Errorf("cmake configure failed: %w", err)
	}
	return b.BaseBuilder.Build(ctx, changedFiles)
}

// GetOutputInfo returns the resolved output path of the built executable.
func (b *CMakeExecutableBuilder) GetOutputInfo() string {
	return b.CMakeBuilder.GetOutputInfo(b.outputPath)
}

// CMakeLibraryBuilder builds CMake library targets.
type CMakeLibraryBuilder struct {
	*CMakeBuilder
	libraryType types.LibraryType
	outputPath  string
}

// NewCMakeLibraryBuilder creates a new CMake library builder.
func NewCMakeLibraryBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CMakeLibraryBuilder {
	base := NewCMakeBuilder(target, projectRoot, log, stateManager)

	builder := &CMakeLibraryBuilder{CMakeBuilder: base}

	if cmakeTarget, ok := target.(*types.CMakeLibraryTarget); ok {
		if cmakeTarget.Generator != "" {
			builder.generator = cmakeTarget.Generator
		}
		if cmakeTarget.BuildType != "" {
			builder.buildType = cmakeTarget.BuildType
		}
		builder.cmakeArgs = cmakeTarget.CMakeArgs
		builder.targetName = cmakeTarget.TargetName
		builder.libraryType = cmakeTarget.LibraryType
		builder.outputPath = cmakeTarget.OutputPath
		if cmakeTarget.Parallel != nil {
			builder.parallel = *cmakeTarget.Parallel
		}
	}

	return builder
}

// Build configures then builds the CMake library target.
func (b *CMakeLibraryBuilder) Build(ctx context.Context, changedFiles []string) error {
	if err := b.configureCMake(ctx); err != nil {
		return fmt.Errorf("cmake configure failed: %w", err)
	}
	return b.BaseBuilder.Build(ctx, changedFiles)
}

// GetOutputInfo returns the resolved output path of the built library.
func (b *CMakeLibraryBuilder) GetOutputInfo() string {
	return b.CMakeBuilder.GetOutputInfo(b.outputPath)
}

// CMakeCustomBuilder builds custom CMake targets (e.g. install, package).
type CMakeCustomBuilder struct {
	*CMakeBuilder
}

// NewCMakeCustomBuilder creates a new CMake custom builder.
func NewCMakeCustomBuilder(
	target types.Target,
	projectRoot string,
	log logger.Logger,
	stateManager interfaces.StateManager,
) *CMakeCustomBuilder {
	base := NewCMakeBuilder(target, projectRoot, log, stateManager)

	builder := &CMakeCustomBuilder{CMakeBuilder: base}

	if cmakeTarget, ok := target.(*types.CMakeCustomTarget); ok {
		if cmakeTarget.Generator != "" {
			builder.generator = cmakeTarget.Generator
		}
		if cmakeTarget.BuildType != "" {
			builder.buildType = cmakeTarget.BuildType
		}
		builder.cmakeArgs = cmakeTarget.CMakeArgs
		builder.targetName = cmakeTarget.TargetName
		if cmakeTarget.Parallel != nil {
			builder.parallel = *cmakeTarget.Parallel
		}
	}

	return builder
}

// Build configures then runs the custom CMake target.
func (b *CMakeCustomBuilder) Build(ctx context.Context, changedFiles []string) error {
	if err := b.configureCMake(ctx); err != nil {
		return fmt.Errorf("cmake configure failed: %w", err)
	}
	return b.BaseBuilder.Build(ctx, changedFiles)
}

// GetOutputInfo returns the CMake target name as the reader-useful string;
// custom targets rarely produce a single well-known artifact path.
func (b *CMakeCustomBuilder) GetOutputInfo() string {
	return b.targetName
}
