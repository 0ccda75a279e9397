package builders_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/poltergeist/poltergeist/pkg/builders"
	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/state"
	"github.com/poltergeist/poltergeist/pkg/types"
)

type nullStateManager struct{}

func (m *nullStateManager) InitializeState(target types.Target) (*state.PoltergeistState, error) {
	return nil, nil
}
func (m *nullStateManager) ReadState(targetName string) (*state.PoltergeistState, error) {
	return nil, nil
}
func (m *nullStateManager) UpdateState(targetName string, updates map[string]interface{}) error {
	return nil
}
func (m *nullStateManager) UpdateBuildStatus(targetName string, status types.BuildStatus) error {
	return nil
}
func (m *nullStateManager) UpdateBuildError(targetName string, buildErr *state.BuildErrorInfo) error {
	return nil
}
func (m *nullStateManager) RemoveState(targetName string) error      { return nil }
func (m *nullStateManager) IsLocked(targetName string) (bool, error) { return false, nil }
func (m *nullStateManager) AcquireLock(targetName string) error      { return nil }
func (m *nullStateManager) ReleaseLock(targetName string)            {}
func (m *nullStateManager) DiscoverStates() (map[string]*state.PoltergeistState, error) {
	return nil, nil
}
func (m *nullStateManager) StartHeartbeat(ctx context.Context) {}
func (m *nullStateManager) StopHeartbeat()                     {}
func (m *nullStateManager) Cleanup() error                     { return nil }

func TestBaseBuilder_ValidateRejectsIncompleteTargets(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		target  types.Target
		wantErr bool
	}{
		{
			name: "well-formed target",
			target: &types.ExecutableTarget{
				BaseTarget: types.BaseTarget{
					Name: "test", Type: types.TargetTypeExecutable,
					BuildCommand: "go build", WatchPaths: []string{"*.go"},
				},
				OutputPath: "test",
			},
		},
		{
			name: "missing build command",
			target: &types.ExecutableTarget{
				BaseTarget: types.BaseTarget{
					Name: "test", Type: types.TargetTypeExecutable,
					WatchPaths: []string{"*.go"},
				},
				OutputPath: "test",
			},
			wantErr: true,
		},
		{
			name: "missing watch paths",
			target: &types.ExecutableTarget{
				BaseTarget: types.BaseTarget{
					Name: "test", Type: types.TargetTypeExecutable,
					BuildCommand: "go build", WatchPaths: []string{},
				},
				OutputPath: "test",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := builders.NewBaseBuilder(tt.target, tmpDir, nil, nil)
			err := builder.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExecutableBuilder_BuildProducesOutputAndRecordsMetrics(t *testing.T) {
	tmpDir := t.TempDir()
	srcFile := filepath.Join(tmpDir, "main.go")
	if err := os.WriteFile(srcFile, []byte("package main\nfunc main() {}\n"), 0644); err != nil {
		t.Fatalf("failed to create source file: %v", err)
	}

	outputPath := filepath.Join(tmpDir, "built")
	target := &types.ExecutableTarget{
		BaseTarget: types.BaseTarget{
			Name: "test-exe", Type: types.TargetTypeExecutable,
			BuildCommand: fmt.Sprintf("touch %s", outputPath),
			WatchPaths:   []string{"*.go"},
		},
		OutputPath: "built",
	}

	factory := builders.NewBuilderFactory()
	builder := factory.CreateBuilder(target, tmpDir, nil, nil)

	if err := builder.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if err := builder.Build(context.Background(), []string{"main.go"}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		t.Error("expected the build command's output file to exist")
	}
	if builder.GetLastBuildTime() == 0 {
		t.Error("expected a non-zero recorded build time after a successful build")
	}
	if builder.GetSuccessRate() != 1.0 {
		t.Errorf("GetSuccessRate() = %f, want 1.0 after a single successful build", builder.GetSuccessRate())
	}
}

func TestExecutableBuilder_BuildFailureLowersSuccessRate(t *testing.T) {
	tmpDir := t.TempDir()

	target := &types.ExecutableTarget{
		BaseTarget: types.BaseTarget{
			Name: "test-fail", Type: types.TargetTypeExecutable,
			BuildCommand: "false",
			WatchPaths:   []string{"*.go"},
		},
		OutputPath: "test",
	}

	factory := builders.NewBuilderFactory()
	builder := factory.CreateBuilder(target, tmpDir, nil, nil)

	if err := builder.Build(context.Background(), []string{"test.go"}); err == nil {
		t.Fatal("expected Build() to report an error for a command that always fails")
	}

	if builder.GetSuccessRate() != 0.0 {
		t.Errorf("GetSuccessRate() = %f, want 0.0 after a single failed build", builder.GetSuccessRate())
	}

	// A later success should raise the rate again rather than sticking at 0.
	target.BuildCommand = fmt.Sprintf("touch %s", filepath.Join(tmpDir, "test"))
	if err := builder.Build(context.Background(), []string{"test.go"}); err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if rate := builder.GetSuccessRate(); rate <= 0.0 {
		t.Errorf("GetSuccessRate() = %f, want it to rise above 0 after a subsequent success", rate)
	}
}

func TestFactory_CreateBuilderDispatchesOnTargetTypeAndOutputInfo(t *testing.T) {
	factory := builders.NewBuilderFactory()
	tmpDir := t.TempDir()

	tests := []struct {
		name           string
		target         types.Target
		wantOutputInfo string
	}{
		{
			name: "executable",
			target: &types.ExecutableTarget{
				BaseTarget: types.BaseTarget{Type: types.TargetTypeExecutable},
				OutputPath: "bin/app",
			},
			wantOutputInfo: filepath.Join(tmpDir, "bin/app"),
		},
		{
			name: "library",
			target: &types.LibraryTarget{
				BaseTarget: types.BaseTarget{Type: types.TargetTypeLibrary},
				OutputPath: "lib/libfoo.a",
			},
			wantOutputInfo: filepath.Join(tmpDir, "lib/libfoo.a"),
		},
		{
			name: "framework",
			target: &types.FrameworkTarget{
				BaseTarget: types.BaseTarget{Type: types.TargetTypeFramework},
				OutputPath: "Foo.framework",
			},
			wantOutputInfo: filepath.Join(tmpDir, "Foo.framework"),
		},
		{
			name: "cmake executable",
			target: &types.CMakeExecutableTarget{
				BaseTarget: types.BaseTarget{Type: types.TargetTypeCMakeExecutable},
				TargetName: "app",
			},
			wantOutputInfo: "build/app",
		},
		{
			name: "cmake custom",
			target: &types.CMakeCustomTarget{
				BaseTarget: types.BaseTarget{Type: types.TargetTypeCMakeCustom},
				TargetName: "install",
			},
			wantOutputInfo: "install",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := factory.CreateBuilder(tt.target, tmpDir, nil, nil)
			if builder == nil {
				t.Fatal("expected a non-nil builder")
			}
			if builder.GetTarget() != tt.target {
				t.Error("builder's GetTarget() did not return the target it was created with")
			}

			type outputInfoer interface{ GetOutputInfo() string }
			oi, ok := builder.(outputInfoer)
			if !ok {
				t.Fatal("builder does not implement GetOutputInfo()")
			}
			if got := oi.GetOutputInfo(); got != tt.wantOutputInfo {
				t.Errorf("GetOutputInfo() = %q, want %q", got, tt.wantOutputInfo)
			}
		})
	}
}

func TestFactory_CreateBuilderDefaultsToBaseBuilderForUnknownType(t *testing.T) {
	factory := builders.NewBuilderFactory()
	target := &types.CustomTarget{BaseTarget: types.BaseTarget{Type: types.TargetType("unrecognized")}}

	builder := factory.CreateBuilder(target, t.TempDir(), nil, nil)
	if builder == nil {
		t.Fatal("expected CreateBuilder to fall back to a base builder rather than returning nil")
	}
}

func TestBuilders_ConcurrentBuildsAreIndependent(t *testing.T) {
	tmpDir := t.TempDir()
	factory := builders.NewBuilderFactory()

	var built []interfaces.Builder
	for i := 0; i < 5; i++ {
		outputPath := filepath.Join(tmpDir, fmt.Sprintf("out-%d", i))
		target := &types.ExecutableTarget{
			BaseTarget: types.BaseTarget{
				Name: fmt.Sprintf("test-%d", i), Type: types.TargetTypeExecutable,
				BuildCommand: fmt.Sprintf("touch %s", outputPath),
				WatchPaths:   []string{"*.go"},
			},
			OutputPath: fmt.Sprintf("out-%d", i),
		}
		built = append(built, factory.CreateBuilder(target, tmpDir, nil, nil))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(built))
	for i, b := range built {
		wg.Add(1)
		go func(i int, b interfaces.Builder) {
			defer wg.Done()
			errs[i] = b.Build(context.Background(), []string{"test.go"})
		}(i, b)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("builder %d: %v", i, err)
		}
		if _, statErr := os.Stat(filepath.Join(tmpDir, fmt.Sprintf("out-%d", i))); os.IsNotExist(statErr) {
			t.Errorf("builder %d did not produce its output file", i)
		}
	}
}

func TestExecutableBuilder_ValidateRejectsMissingOutputPath(t *testing.T) {
	tmpDir := t.TempDir()
	target := &types.ExecutableTarget{
		BaseTarget: types.BaseTarget{
			Name: "test", Type: types.TargetTypeExecutable,
			BuildCommand: "go build", WatchPaths: []string{"*.go"},
		},
	}

	builder := builders.NewExecutableBuilder(target, tmpDir, nil, &nullStateManager{})
	err := builder.Validate()
	if err == nil || !strings.Contains(err.Error(), "output path") {
		t.Errorf("Validate() = %v, want an error mentioning the missing output path", err)
	}
}

func BenchmarkFactory_CreateBuilder(b *testing.B) {
	factory := builders.NewBuilderFactory()
	tmpDir := b.TempDir()
	target := &types.ExecutableTarget{
		BaseTarget: types.BaseTarget{
			Name: "bench", Type: types.TargetTypeExecutable,
			BuildCommand: "echo test", WatchPaths: []string{"*.go"},
		},
		OutputPath: "bench",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = factory.CreateBuilder(target, tmpDir, nil, nil)
	}
}

func BenchmarkExecutableBuilder_Build(b *testing.B) {
	tmpDir := b.TempDir()
	target := &types.ExecutableTarget{
		BaseTarget: types.BaseTarget{
			Name: "bench", Type: types.TargetTypeExecutable,
			BuildCommand: "true", WatchPaths: []string{"*.go"},
		},
		OutputPath: "bench",
	}

	factory := builders.NewBuilderFactory()
	builder := factory.CreateBuilder(target, tmpDir, nil, nil)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = builder.Build(ctx, []string{"test.go"})
	}
}
