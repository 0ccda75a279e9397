// Package state provides persistent state management for Poltergeist.
//
// State files live in a well-known, process-wide state directory shared
// by cooperating processes (the daemon, a status CLI, a wrapper runner).
// The owning daemon writes a target's file and other processes read it; the
// one-shot `build` command also records its result in a target's file when
// that file already exists.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
)

const (
	heartbeatInterval = 10 * time.Second
	heartbeatGrace    = 30 * time.Second
	atomicRetries     = 10
	atomicRetryDelay  = 100 * time.Millisecond
)

// BuildErrorInfo is a persisted snapshot of the last failing build.
type BuildErrorInfo struct {
	ExitCode    int       `json:"exitCode"`
	ErrorOutput []string  `json:"errorOutput,omitempty"`
	LastOutput  []string  `json:"lastOutput,omitempty"`
	Command     string    `json:"command"`
	Timestamp   time.Time `json:"timestamp"`
}

// AppInfo carries output-type-specific post-build info for readers.
type AppInfo struct {
	OutputPath string `json:"outputPath,omitempty"`
	BundleID   string `json:"bundleId,omitempty"`
	IconPath   string `json:"iconPath,omitempty"`
}

// BuildSample is one successful build's timing, kept for build_stats.
type BuildSample struct {
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// BuildStats summarizes recent build durations for a target.
type BuildStats struct {
	AverageDurationMs float64       `json:"averageDurationMs"`
	MinDurationMs     float64       `json:"minDurationMs"`
	MaxDurationMs     float64       `json:"maxDurationMs"`
	SuccessfulBuilds  []BuildSample `json:"successfulBuilds,omitempty"`
}

// PoltergeistState is the persisted, on-disk state of a single target.
// One file per target; see Manager for the naming/ownership protocol.
type PoltergeistState struct {
	Version     string           `json:"version"`
	ProjectPath string           `json:"projectPath"`
	ProjectName string           `json:"projectName"`
	TargetName  string           `json:"targetName"`
	TargetType  types.TargetType `json:"targetType,omitempty"`
	ConfigPath  string           `json:"configPath,omitempty"`

	Hostname  string    `json:"hostname,omitempty"`
	IsActive  bool      `json:"isActive"`
	StartTime time.Time `json:"startTime,omitempty"`
	ProcessID int       `json:"processId"`
	Heartbeat time.Time `json:"heartbeat"`

	BuildStatus   types.BuildStatus `json:"buildStatus"`
	LastBuildTime time.Time         `json:"lastBuildTime"`
	BuildDuration time.Duration     `json:"buildDuration,omitempty"`
	BuildCount    int               `json:"buildCount"`
	FailureCount  int               `json:"failureCount"`
	LastError     string            `json:"lastError,omitempty"`
	GitHash       string            `json:"gitHash,omitempty"`
	BuilderLabel  string            `json:"builderLabel,omitempty"`
	ExitCode      *int              `json:"exitCode,omitempty"`
	ErrorSummary  string            `json:"errorSummary,omitempty"`

	LastBuildError *BuildErrorInfo `json:"lastBuildError,omitempty"`
	AppInfo        *AppInfo        `json:"appInfo,omitempty"`
	BuildStats     *BuildStats     `json:"buildStats,omitempty"`

	ChangedFiles []string               `json:"changedFiles,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Manager handles persistent state files for one project.
type Manager struct {
	projectRoot string
	stateDir    string
	basename    string
	hash8       string
	hash6       string
	logger      logger.Logger

	mu             sync.RWMutex
	states         map[string]*PoltergeistState
	heartbeatStop  chan struct{}
	heartbeatTimer *time.Ticker
}

// StateManager is kept as an alias of Manager for the name every caller
// in this repository already spells out.
type StateManager = Manager

// NewStateManager creates a new state manager rooted at projectRoot.
// The actual state directory defaults to an OS-appropriate temp
// subdirectory, overridable by POLTERGEIST_STATE_DIR.
func NewStateManager(projectRoot string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewSimpleLogger("state", "info")
	}

	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		absRoot = projectRoot
	}

	sum := sha256.Sum256([]byte(absRoot))
	hash := hex.EncodeToString(sum[:])

	stateDir := os.Getenv("POLTERGEIST_STATE_DIR")
	if stateDir == "" {
		stateDir = filepath.Join(os.TempDir(), "poltergeist-state")
	}

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		log.Error("Failed to create state directory", logger.WithField("error", err))
	}

	return &Manager{
		projectRoot: absRoot,
		stateDir:    stateDir,
		basename:    filepath.Base(absRoot),
		hash8:       hash[:8],
		hash6:       hash[:6],
		logger:      log,
		states:      make(map[string]*PoltergeistState),
	}
}

func (sm *Manager) stem(targetName string) string {
	return fmt.Sprintf("%s-%s-%s", sm.basename, sm.hash8, targetName)
}

func (sm *Manager) statePath(targetName string) string {
	return filepath.Join(sm.stateDir, sm.stem(targetName)+".state")
}

func (sm *Manager) logPath(targetName string) string {
	return filepath.Join(sm.stateDir, sm.stem(targetName)+".log")
}

func (sm *Manager) lockPath(targetName string) string {
	return filepath.Join(sm.stateDir, sm.stem(targetName)+".lock")
}

// StatePath returns the on-disk path of a target's state file. Exported
// for callers (log viewers, tests) that need to locate it directly.
func (sm *Manager) StatePath(targetName string) string {
	return sm.statePath(targetName)
}

// LockPath returns the on-disk path of a target's per-build lock file.
func (sm *Manager) LockPath(targetName string) string {
	return sm.lockPath(targetName)
}

// LogPath returns the on-disk path of a target's build log file.
func (sm *Manager) LogPath(targetName string) string {
	return sm.logPath(targetName)
}

// ProjectLockPath returns the process-wide daemon lock file path.
func (sm *Manager) ProjectLockPath() string {
	return filepath.Join(sm.stateDir, fmt.Sprintf("%s-%s.lock", sm.basename, sm.hash8))
}

// PauseFlagPath returns the process-wide pause flag-file path.
func (sm *Manager) PauseFlagPath() string {
	return filepath.Join(sm.stateDir, fmt.Sprintf("%s-%s.paused", sm.basename, sm.hash6))
}

// DaemonDescriptorPath returns the daemon descriptor file path.
func (sm *Manager) DaemonDescriptorPath() string {
	return filepath.Join(sm.stateDir, fmt.Sprintf("%s-%s-daemon.json", sm.basename, sm.hash8))
}

// IsPaused reports whether the project-wide pause flag-file is set.
func (sm *Manager) IsPaused() bool {
	_, err := os.Stat(sm.PauseFlagPath())
	return err == nil
}

// InitializeState creates or updates state for a target.
func (sm *Manager) InitializeState(target types.Target) (*PoltergeistState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st := &PoltergeistState{
		Version:     "1.0",
		ProjectPath: sm.projectRoot,
		ProjectName: sm.basename,
		TargetName:  target.GetName(),
		TargetType:  target.GetType(),
		Hostname:    hostname(),
		IsActive:    true,
		StartTime:   time.Now(),
		ProcessID:   os.Getpid(),
		Heartbeat:   time.Now(),
		BuildStatus: types.BuildStatusIdle,
		Metadata:    make(map[string]interface{}),
	}

	if existing, err := sm.loadStateFile(target.GetName()); err == nil && existing != nil {
		st.BuildCount = existing.BuildCount
		st.FailureCount = existing.FailureCount
		st.LastBuildTime = existing.LastBuildTime
		st.BuildDuration = existing.BuildDuration
		st.BuildStats = existing.BuildStats
	}

	if err := sm.saveStateFile(st); err != nil {
		return nil, fmt.Errorf("failed to save initial state: %w", err)
	}

	sm.states[target.GetName()] = st
	return st, nil
}

// ReadState reads the state for a target.
func (sm *Manager) ReadState(targetName string) (*PoltergeistState, error) {
	sm.mu.RLock()
	if st, ok := sm.states[targetName]; ok {
		sm.mu.RUnlock()
		return st, nil
	}
	sm.mu.RUnlock()

	return sm.loadStateFile(targetName)
}

// UpdateState applies a set of field updates to a target's state, plus
// anything unrecognised lands in Metadata. Always refreshes Heartbeat.
func (sm *Manager) UpdateState(targetName string, updates map[string]interface{}) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st, ok := sm.states[targetName]
	if !ok {
		var err error
		st, err = sm.loadStateFile(targetName)
		if err != nil {
			return fmt.Errorf("target state not found: %s", targetName)
		}
		sm.states[targetName] = st
	}

	for key, value := range updates {
		switch key {
		case "buildStatus":
			if status, ok := value.(types.BuildStatus); ok {
				st.BuildStatus = status
			}
		case "lastBuildTime":
			if t, ok := value.(time.Time); ok {
				st.LastBuildTime = t
			}
		case "buildCount":
			if count, ok := value.(int); ok {
				st.BuildCount = count
			}
		case "failureCount":
			if count, ok := value.(int); ok {
				st.FailureCount = count
			}
		case "lastError":
			if errStr, ok := value.(string); ok {
				st.LastError = errStr
			}
		case "buildDuration":
			if duration, ok := value.(time.Duration); ok {
				st.BuildDuration = duration
			}
		case "changedFiles":
			if files, ok := value.([]string); ok {
				st.ChangedFiles = files
			}
		case "gitHash":
			if hash, ok := value.(string); ok {
				st.GitHash = hash
			}
		case "builderLabel":
			if label, ok := value.(string); ok {
				st.BuilderLabel = label
			}
		case "exitCode":
			if code, ok := value.(int); ok {
				st.ExitCode = &code
			}
		case "errorSummary":
			if summary, ok := value.(string); ok {
				st.ErrorSummary = summary
			}
		case "appInfo":
			if info, ok := value.(*AppInfo); ok {
				st.AppInfo = info
			}
		default:
			if st.Metadata == nil {
				st.Metadata = make(map[string]interface{})
			}
			st.Metadata[key] = value
		}
	}

	st.Heartbeat = time.Now()
	return sm.saveStateFile(st)
}

// UpdateBuildStatus records a build status transition and, for terminal
// statuses, refreshes LastBuildTime and the success/failure counters.
func (sm *Manager) UpdateBuildStatus(targetName string, status types.BuildStatus) error {
	updates := map[string]interface{}{
		"buildStatus": status,
	}

	if status == types.BuildStatusSucceeded || status == types.BuildStatusFailed {
		updates["lastBuildTime"] = time.Now()

		sm.mu.RLock()
		st, ok := sm.states[targetName]
		sm.mu.RUnlock()

		if ok {
			if status == types.BuildStatusSucceeded {
				updates["buildCount"] = st.BuildCount + 1
			} else {
				updates["failureCount"] = st.FailureCount + 1
			}
		}
	}

	return sm.UpdateState(targetName, updates)
}

// UpdateBuildError persists a last_build_error snapshot (≤20 lines each,
// enforced by the caller per spec §4.5).
func (sm *Manager) UpdateBuildError(targetName string, buildErr *BuildErrorInfo) error {
	sm.mu.Lock()
	st, ok := sm.states[targetName]
	if !ok {
		sm.mu.Unlock()
		var err error
		st, err = sm.loadStateFile(targetName)
		if err != nil {
			return fmt.Errorf("target state not found: %s", targetName)
		}
		sm.mu.Lock()
		sm.states[targetName] = st
	}
	st.LastBuildError = buildErr
	st.Heartbeat = time.Now()
	err := sm.saveStateFile(st)
	sm.mu.Unlock()
	return err
}

// RemoveState removes the state for a target.
func (sm *Manager) RemoveState(targetName string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.states, targetName)

	if err := os.Remove(sm.statePath(targetName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}

	return nil
}

// IsLocked reports whether a target is locked by another, live process.
// True iff a .lock sibling exists AND its PID is not this process's own AND
// (that PID is alive OR the file is younger than the stale-lock grace period).
func (sm *Manager) IsLocked(targetName string) (bool, error) {
	data, err := os.ReadFile(sm.lockPath(targetName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	info, statErr := os.Stat(sm.lockPath(targetName))

	var pid int
	fmt.Sscanf(string(data), "%d", &pid)

	if pid == os.Getpid() {
		return false, nil
	}

	if pid > 0 && processAlive(pid) {
		return true, nil
	}

	if statErr == nil && time.Since(info.ModTime()) < heartbeatGrace {
		return true, nil
	}

	return false, nil
}

// AcquireLock writes this process's .lock sibling for a target.
func (sm *Manager) AcquireLock(targetName string) error {
	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), sm.projectRoot)
	return os.WriteFile(sm.lockPath(targetName), []byte(content), 0644)
}

// ReleaseLock removes this process's .lock sibling for a target.
func (sm *Manager) ReleaseLock(targetName string) {
	os.Remove(sm.lockPath(targetName))
}

// DiscoverStates finds all existing state files owned by this project.
func (sm *Manager) DiscoverStates() (map[string]*PoltergeistState, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	states := make(map[string]*PoltergeistState)

	entries, err := os.ReadDir(sm.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	prefix := fmt.Sprintf("%s-%s-", sm.basename, sm.hash8)
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".state" || len(name) <= len(prefix) {
			continue
		}
		if name[:len(prefix)] != prefix {
			continue
		}

		targetName := name[len(prefix) : len(name)-len(".state")]
		st, err := sm.loadStateFile(targetName)
		if err != nil {
			sm.logger.Warn("Failed to load state file",
				logger.WithField("target", targetName),
				logger.WithField("error", err))
			continue
		}

		states[targetName] = st
	}

	return states, nil
}

// StartHeartbeat starts the heartbeat updater.
func (sm *Manager) StartHeartbeat(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		return
	}

	sm.heartbeatStop = make(chan struct{})
	sm.heartbeatTimer = time.NewTicker(heartbeatInterval)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sm.heartbeatStop:
				return
			case <-sm.heartbeatTimer.C:
				sm.updateHeartbeats()
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat updater.
func (sm *Manager) StopHeartbeat() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.heartbeatTimer != nil {
		sm.heartbeatTimer.Stop()
		sm.heartbeatTimer = nil
	}

	if sm.heartbeatStop != nil {
		close(sm.heartbeatStop)
		sm.heartbeatStop = nil
	}
}

// Cleanup marks all owned states inactive on graceful shutdown.
func (sm *Manager) Cleanup() error {
	sm.StopHeartbeat()

	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, st := range sm.states {
		st.BuildStatus = types.BuildStatusIdle
		st.ProcessID = 0
		st.IsActive = false
		if err := sm.saveStateFile(st); err != nil {
			sm.logger.Warn("Failed to save final state",
				logger.WithField("target", st.TargetName),
				logger.WithField("error", err))
		}
	}

	return nil
}

func (sm *Manager) loadStateFile(targetName string) (*PoltergeistState, error) {
	data, err := os.ReadFile(sm.statePath(targetName))
	if err != nil {
		return nil, err
	}

	var st PoltergeistState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	return &st, nil
}

// saveStateFile writes content atomically: a sibling temp file in the
// same directory, flushed, then renamed over the target. Rename errors
// are retried up to atomicRetries times with atomicRetryDelay between
// attempts before the temp file is cleaned up and the error surfaced.
func (sm *Manager) saveStateFile(st *PoltergeistState) error {
	path := sm.statePath(st.TargetName)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := filepath.Join(filepath.Dir(path),
		fmt.Sprintf(".%s.%d.%s.tmp", filepath.Base(path), os.Getpid(), randHex16()))

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	var renameErr error
	for attempt := 0; attempt < atomicRetries; attempt++ {
		renameErr = os.Rename(tempFile, path)
		if renameErr == nil {
			return nil
		}
		time.Sleep(atomicRetryDelay)
	}

	os.Remove(tempFile)
	return fmt.Errorf("failed to rename state file after %d attempts: %w", atomicRetries, renameErr)
}

func (sm *Manager) updateHeartbeats() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for _, st := range sm.states {
		st.Heartbeat = now
		if err := sm.saveStateFile(st); err != nil {
			sm.logger.Debug("Failed to update heartbeat",
				logger.WithField("target", st.TargetName),
				logger.WithField("error", err))
		}
	}
}

func randHex16() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// processAlive reports whether pid refers to a live process, using a
// signal-0 probe (which checks existence without delivering a signal).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
