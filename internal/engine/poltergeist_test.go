package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/mocks"
	"github.com/poltergeist/poltergeist/pkg/types"
)

func testConfig() *types.PoltergeistConfig {
	return &types.PoltergeistConfig{
		Version:     "1.0",
		ProjectType: "test",
		Targets: []json.RawMessage{
			json.RawMessage(`{"name":"test-target","type":"executable","buildCommand":"echo build","outputPath":"bin/test","watchPaths":["*.go"]}`),
		},
	}
}

func validDeps() interfaces.PoltergeistDependencies {
	return interfaces.PoltergeistDependencies{
		StateManager:          mocks.NewMockStateManager(),
		BuilderFactory:        mocks.NewMockBuilderFactory(),
		WatchmanClient:        mocks.NewMockWatchmanClient(),
		WatchmanConfigManager: &stubWatchmanConfigManager{},
	}
}

func TestPoltergeist_StartWithContextSucceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logger.CreateLoggerWithOutput("", "debug", nil)
	p := New(testConfig(), "/test/project", log, validDeps(), "test.json")

	if err := p.StartWithContext(ctx, ""); err != nil {
		t.Fatalf("StartWithContext: %v", err)
	}
	defer p.Stop()

	if !p.isRunning {
		t.Error("expected Poltergeist to be running after a successful start")
	}
}

func TestPoltergeist_StartWithContextForSpecificTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logger.CreateLoggerWithOutput("", "debug", nil)
	p := New(testConfig(), "/test/project", log, validDeps(), "test.json")

	if err := p.StartWithContext(ctx, "test-target"); err != nil {
		t.Fatalf("StartWithContext(\"test-target\"): %v", err)
	}
	defer p.Stop()

	if !p.isRunning {
		t.Error("expected Poltergeist to be running")
	}
}

func TestPoltergeist_StartWithContextRejectsDoubleStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := logger.CreateLoggerWithOutput("", "debug", nil)
	p := New(testConfig(), "/test/project", log, validDeps(), "test.json")

	if err := p.StartWithContext(ctx, ""); err != nil {
		t.Fatalf("initial start: %v", err)
	}
	defer p.Stop()

	err := p.StartWithContext(ctx, "")
	if err == nil {
		t.Fatal("expected an error starting an already-running instance")
	}
	if !strings.Contains(err.Error(), "already running") {
		t.Errorf("error = %q, want it to mention already running", err)
	}
}

func TestPoltergeist_StartWithContextSurfacesWatchmanConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deps := validDeps()
	watchClient := deps.WatchmanClient.(*mocks.MockWatchmanClient)
	watchClient.SetConnectError(errors.New("connection refused"))

	log := logger.CreateLoggerWithOutput("", "debug", nil)
	p := New(testConfig(), "/test/project", log, deps, "test.json")

	err := p.StartWithContext(ctx, "")
	if err == nil {
		t.Fatal("expected an error when the watchman connection fails")
	}
	if !strings.Contains(err.Error(), "failed to connect to watchman") {
		t.Errorf("error = %q, want it to mention the watchman connect failure", err)
	}
	if p.isRunning {
		t.Error("a failed start must leave isRunning false")
	}
}

func TestSafeGroup_CollectsFirstErrorAndRecoversPanics(t *testing.T) {
	tests := []struct {
		name          string
		operations    []func() error
		wantErr       bool
		errorContains string
	}{
		{
			name: "all succeed",
			operations: []func() error{
				func() error { return nil },
				func() error { return nil },
			},
		},
		{
			name: "one returns an error",
			operations: []func() error{
				func() error { return nil },
				func() error { return errors.New("task failed") },
			},
			wantErr:       true,
			errorContains: "task failed",
		},
		{
			name: "one panics",
			operations: []func() error{
				func() error { return nil },
				func() error { panic("boom") },
			},
			wantErr:       true,
			errorContains: "goroutine panic",
		},
		{
			name: "two panic concurrently",
			operations: []func() error{
				func() error { panic("first") },
				func() error { panic("second") },
			},
			wantErr:       true,
			errorContains: "goroutine panic",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := logger.CreateLoggerWithOutput("", "debug", nil)
			g, _ := NewSafeGroup(context.Background(), log)
			g.SetLimit(2)

			for _, op := range tt.operations {
				op := op
				g.Go(op)
			}

			err := g.Wait()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error, got nil")
				}
				if tt.errorContains != "" && !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("error = %q, want it to contain %q", err.Error(), tt.errorContains)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDependencyFactory_CreateDefaultsAlwaysWiresCoreDependencies(t *testing.T) {
	log := logger.CreateLoggerWithOutput("", "debug", nil)
	factory := NewDependencyFactory("/test/project", log, testConfig())

	deps := factory.CreateDefaults()

	if deps.StateManager == nil {
		t.Error("StateManager should never be nil")
	}
	if deps.BuilderFactory == nil {
		t.Error("BuilderFactory should never be nil")
	}
	if deps.WatchmanClient == nil {
		t.Error("WatchmanClient should never be nil")
	}
	if deps.WatchmanConfigManager == nil {
		t.Error("WatchmanConfigManager should never be nil")
	}
	if deps.BuildQueue != nil {
		t.Error("BuildQueue should be nil when prioritization is disabled")
	}
}

func TestDependencyFactory_CreateDefaultsWiresQueueWhenPrioritizationEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.BuildScheduling = &types.BuildSchedulingConfig{
		Parallelization: 4,
		Prioritization:  types.BuildPrioritization{Enabled: true},
	}

	log := logger.CreateLoggerWithOutput("", "debug", nil)
	factory := NewDependencyFactory("/test/project", log, cfg)

	deps := factory.CreateDefaults()
	if deps.BuildQueue == nil {
		t.Error("expected BuildQueue to be populated when prioritization is enabled")
	}
	if deps.PriorityEngine == nil {
		t.Error("expected PriorityEngine to be populated when prioritization is enabled")
	}
}

func TestDependencyFactory_CreateDefaultsWiresNotifierWhenEnabled(t *testing.T) {
	cfg := testConfig()
	enabled := true
	cfg.Notifications = &types.NotificationConfig{Enabled: &enabled}

	log := logger.CreateLoggerWithOutput("", "debug", nil)
	factory := NewDependencyFactory("/test/project", log, cfg)

	deps := factory.CreateDefaults()
	if deps.Notifier == nil {
		t.Error("expected Notifier to be populated when notifications are enabled")
	}
}

func TestDependencyFactory_CreateWithOverridesPrefersOverrides(t *testing.T) {
	log := logger.CreateLoggerWithOutput("", "debug", nil)
	factory := NewDependencyFactory("/test/project", log, testConfig())

	override := mocks.NewMockStateManager()
	deps := factory.CreateWithOverrides(interfaces.PoltergeistDependencies{StateManager: override})

	if deps.StateManager != override {
		t.Error("expected the override StateManager to win over the default")
	}
	if deps.BuilderFactory == nil {
		t.Error("non-overridden fields should still fall back to the default")
	}
}

// stubWatchmanConfigManager is a minimal no-op WatchmanConfigManager for
// tests that don't exercise watchman configuration behavior directly.
type stubWatchmanConfigManager struct{}

func (m *stubWatchmanConfigManager) EnsureConfigUpToDate(config *types.PoltergeistConfig) error {
	return nil
}

func (m *stubWatchmanConfigManager) SuggestOptimizations() ([]string, error) {
	return nil, nil
}

func (m *stubWatchmanConfigManager) CreateExclusionExpressions(config *types.PoltergeistConfig) []interfaces.ExclusionExpression {
	return nil
}

func (m *stubWatchmanConfigManager) NormalizeWatchPattern(pattern string) string {
	return pattern
}

func (m *stubWatchmanConfigManager) ValidateWatchPattern(pattern string) error {
	return nil
}
