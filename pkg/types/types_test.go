package types_test

import (
	"encoding/json"
	"testing"

	"github.com/poltergeist/poltergeist/pkg/types"
)

func TestParseTarget_DispatchesOnType(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		check   func(t *testing.T, target types.Target)
	}{
		{
			name: "executable target",
			payload: `{
				"name": "test-exe",
				"type": "executable",
				"buildCommand": "go build",
				"watchPaths": ["*.go"],
				"outputPath": "bin/test"
			}`,
			check: func(t *testing.T, target types.Target) {
				if target.GetType() != types.TargetTypeExecutable {
					t.Errorf("GetType() = %s, want executable", target.GetType())
				}
				if !target.IsEnabled() {
					t.Error("expected target to be enabled by default")
				}
				if got, want := target.GetOutputInfo(), "bin/test"; got != want {
					t.Errorf("GetOutputInfo() = %q, want %q", got, want)
				}
			},
		},
		{
			name: "app bundle target reports bundle ID as its output info",
			payload: `{
				"name": "MyApp",
				"type": "app-bundle",
				"buildCommand": "xcodebuild",
				"watchPaths": ["**/*.swift"],
				"platform": "macos",
				"bundleId": "com.example.app"
			}`,
			check: func(t *testing.T, target types.Target) {
				if target.GetType() != types.TargetTypeAppBundle {
					t.Errorf("GetType() = %s, want app-bundle", target.GetType())
				}
				if got, want := target.GetOutputInfo(), "com.example.app"; got != want {
					t.Errorf("GetOutputInfo() = %q, want %q", got, want)
				}
			},
		},
		{
			name: "library target",
			payload: `{
				"name": "mylib",
				"type": "library",
				"buildCommand": "make lib",
				"watchPaths": ["src/**/*.c"],
				"outputPath": "lib/mylib.a",
				"libraryType": "static"
			}`,
			check: func(t *testing.T, target types.Target) {
				if target.GetType() != types.TargetTypeLibrary {
					t.Errorf("GetType() = %s, want library", target.GetType())
				}
			},
		},
		{
			name: "docker target reports image name as its output info",
			payload: `{
				"name": "app-image",
				"type": "docker",
				"buildCommand": "docker build",
				"watchPaths": ["Dockerfile", "src/**"],
				"imageName": "myapp:latest"
			}`,
			check: func(t *testing.T, target types.Target) {
				if got, want := target.GetOutputInfo(), "myapp:latest"; got != want {
					t.Errorf("GetOutputInfo() = %q, want %q", got, want)
				}
			},
		},
		{
			name: "custom target has no fixed output info",
			payload: `{
				"name": "hook",
				"type": "custom",
				"buildCommand": "echo test",
				"watchPaths": ["*"],
				"enabled": false
			}`,
			check: func(t *testing.T, target types.Target) {
				if target.IsEnabled() {
					t.Error("expected target to be disabled")
				}
				if got := target.GetOutputInfo(); got != "" {
					t.Errorf("GetOutputInfo() = %q, want empty for custom target", got)
				}
			},
		},
		{
			name: "cmake custom target reports its target name",
			payload: `{
				"name": "cmake-hook",
				"type": "cmake-custom",
				"buildCommand": "cmake --build build --target hook",
				"watchPaths": ["CMakeLists.txt"],
				"targetName": "hook"
			}`,
			check: func(t *testing.T, target types.Target) {
				if got, want := target.GetOutputInfo(), "hook"; got != want {
					t.Errorf("GetOutputInfo() = %q, want %q", got, want)
				}
			},
		},
		{
			name:    "malformed JSON",
			payload: `{"invalid": json}`,
			wantErr: true,
		},
		{
			name:    "unrecognized type",
			payload: `{"name": "test", "type": "unknown", "watchPaths": []}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := types.ParseTarget([]byte(tt.payload))

			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTarget() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.check != nil {
				tt.check(t, target)
			}
		})
	}
}

func TestBaseTarget_Defaults(t *testing.T) {
	target, err := types.ParseTarget([]byte(`{
		"name": "test",
		"type": "executable",
		"buildCommand": "build",
		"watchPaths": ["src"],
		"outputPath": "out"
	}`))
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}

	cases := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"GetSettlingDelay", target.GetSettlingDelay(), 1000},
		{"GetMaxRetries", target.GetMaxRetries(), 3},
		{"GetBackoffMultiplier", target.GetBackoffMultiplier(), 2.0},
		{"GetDebounceInterval", target.GetDebounceInterval(), 100},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s() = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestBaseTarget_ExplicitOverridesDefaults(t *testing.T) {
	target, err := types.ParseTarget([]byte(`{
		"name": "test",
		"type": "executable",
		"buildCommand": "build",
		"watchPaths": ["src"],
		"outputPath": "out",
		"settlingDelay": 250,
		"maxRetries": 0,
		"backoffMultiplier": 1.5,
		"debounceInterval": 50
	}`))
	if err != nil {
		t.Fatalf("ParseTarget: %v", err)
	}

	if target.GetSettlingDelay() != 250 {
		t.Errorf("GetSettlingDelay() = %d, want 250", target.GetSettlingDelay())
	}
	if target.GetMaxRetries() != 0 {
		t.Errorf("GetMaxRetries() = %d, want 0 (explicit zero must not fall back to the default)", target.GetMaxRetries())
	}
	if target.GetBackoffMultiplier() != 1.5 {
		t.Errorf("GetBackoffMultiplier() = %f, want 1.5", target.GetBackoffMultiplier())
	}
	if target.GetDebounceInterval() != 50 {
		t.Errorf("GetDebounceInterval() = %d, want 50", target.GetDebounceInterval())
	}
}

func TestPoltergeistConfig_Unmarshal(t *testing.T) {
	var config types.PoltergeistConfig
	err := json.Unmarshal([]byte(`{
		"version": "1.0",
		"projectType": "go",
		"targets": [
			{
				"name": "main",
				"type": "executable",
				"buildCommand": "go build",
				"watchPaths": ["*.go"],
				"outputPath": "main"
			}
		],
		"watchman": {
			"useDefaultExclusions": true,
			"excludeDirs": ["vendor"],
			"settlingDelay": 500
		}
	}`), &config)
	if err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if config.Version != "1.0" {
		t.Errorf("Version = %q, want 1.0", config.Version)
	}
	if len(config.Targets) != 1 {
		t.Errorf("len(Targets) = %d, want 1", len(config.Targets))
	}
	if config.Watchman == nil || config.Watchman.SettlingDelay != 500 {
		t.Errorf("Watchman.SettlingDelay = %v, want 500", config.Watchman)
	}
}

func TestBuildStatus_RoundTripsThroughJSON(t *testing.T) {
	statuses := []types.BuildStatus{
		types.BuildStatusIdle,
		types.BuildStatusQueued,
		types.BuildStatusBuilding,
		types.BuildStatusSucceeded,
		types.BuildStatusFailed,
		types.BuildStatusCancelled,
	}

	for _, status := range statuses {
		data, err := json.Marshal(status)
		if err != nil {
			t.Errorf("marshal %s: %v", status, err)
			continue
		}
		var roundTripped types.BuildStatus
		if err := json.Unmarshal(data, &roundTripped); err != nil {
			t.Errorf("unmarshal %s: %v", status, err)
			continue
		}
		if roundTripped != status {
			t.Errorf("round-tripped status = %s, want %s", roundTripped, status)
		}
	}
}

func BenchmarkParseTarget(b *testing.B) {
	payload := []byte(`{
		"name": "bench",
		"type": "executable",
		"buildCommand": "go build",
		"watchPaths": ["*.go"],
		"outputPath": "bench"
	}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := types.ParseTarget(payload); err != nil {
			b.Fatal(err)
		}
	}
}
