// Package watchman provides fsnotify fallback implementation
package watchman

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poltergeist/poltergeist/pkg/logger"
)

const defaultFSNotifySettlingDelay = 100 * time.Millisecond

// fsnotifyDefaultExclusions lists directory basenames FSNotifyWatcher skips
// regardless of a target's own exclusion list — noise no build tool cares
// about watching.
var fsnotifyDefaultExclusions = []string{
	".git", ".svn", ".hg", ".bzr",
	"node_modules", "vendor", ".idea",
	".vscode", "__pycache__", ".pytest_cache",
	"target", "build", "dist", "out",
}

// FSNotifyWatcher is the Watchman stand-in used when no daemon is reachable.
// It walks the project tree adding every directory to a single
// fsnotify.Watcher, debounces bursts of writes per path, and re-walks new
// directories as they appear so a freshly created package keeps getting
// watched.
type FSNotifyWatcher struct {
	watcher       *fsnotify.Watcher
	logger        logger.Logger
	patterns      []string
	exclusions    []string
	callbacks     map[string]func(FileEvent)
	settling      time.Duration
	pendingEvents map[string]time.Time
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher(log logger.Logger) (*FSNotifyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &FSNotifyWatcher{
		watcher:       watcher,
		logger:        log,
		callbacks:     make(map[string]func(FileEvent)),
		pendingEvents: make(map[string]time.Time),
		settling:      defaultFSNotifySettlingDelay,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Close stops event processing and releases the underlying watcher.
func (f *FSNotifyWatcher) Close() error {
	f.cancel()
	return f.watcher.Close()
}

// SetPatterns restricts dispatched events to paths matching one of patterns.
func (f *FSNotifyWatcher) SetPatterns(patterns []string) {
	f.mu.Lock()
	f.patterns = patterns
	f.mu.Unlock()
}

// SetExclusions adds project-specific path substrings to skip, on top of
// the built-in directory exclusions.
func (f *FSNotifyWatcher) SetExclusions(exclusions []string) {
	f.mu.Lock()
	f.exclusions = exclusions
	f.mu.Unlock()
}

// SetSettlingDelay overrides how long a path must go quiet before its event
// is dispatched.
func (f *FSNotifyWatcher) SetSettlingDelay(delay time.Duration) {
	f.mu.Lock()
	f.settling = delay
	f.mu.Unlock()
}

// Watch registers callback for root and begins recursively watching it.
func (f *FSNotifyWatcher) Watch(root string, callback func(FileEvent)) error {
	f.mu.Lock()
	f.callbacks[root] = callback
	f.mu.Unlock()

	if err := f.addDirectoryTree(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	go f.processEvents()

	f.logger.Info(fmt.Sprintf("Started watching %s with fsnotify", root))
	return nil
}

// WatchProject is Watch for a whole project tree, skipping excluded
// directories as it walks rather than watching then immediately ignoring
// their events.
func (f *FSNotifyWatcher) WatchProject(projectPath string, callback func(FileEvent)) error {
	err := filepath.Walk(projectPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if f.isExcluded(path) {
			return filepath.SkipDir
		}
		if err := f.watcher.Add(path); err != nil {
			f.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", path, err))
		} else {
			f.logger.Debug(fmt.Sprintf("Watching directory: %s", path))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk project directory: %w", err)
	}

	f.mu.Lock()
	f.callbacks[projectPath] = callback
	f.mu.Unlock()

	go f.processEvents()

	return nil
}

// addDirectoryTree adds dir and every non-excluded subdirectory beneath it
// to the watcher.
func (f *FSNotifyWatcher) addDirectoryTree(dir string) error {
	if f.isExcluded(dir) {
		return nil
	}

	if err := f.watcher.Add(dir); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		subdir := filepath.Join(dir, entry.Name())
		if f.isExcluded(subdir) {
			continue
		}
		if err := f.addDirectoryTree(subdir); err != nil {
			f.logger.Warn(fmt.Sprintf("Failed to watch subdirectory %s: %v", subdir, err))
		}
	}

	return nil
}

// processEvents is the fsnotify pump: one goroutine per watcher draining
// fs events until Close cancels the context.
func (f *FSNotifyWatcher) processEvents() {
	for {
		select {
		case <-f.ctx.Done():
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if f.isExcluded(event.Name) || !f.matchesPattern(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					f.addDirectoryTree(event.Name)
				}
			}
			f.scheduleDispatch(event)

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error(fmt.Sprintf("Watcher error: %v", err))
		}
	}
}

// scheduleDispatch records event.Name as pending and arms a timer that
// dispatches it once settling has elapsed with no newer event for the same
// path — a later call for the same path simply overwrites the timestamp,
// so the stale timer's check fails and it's a no-op.
func (f *FSNotifyWatcher) scheduleDispatch(event fsnotify.Event) {
	f.mu.Lock()
	f.pendingEvents[event.Name] = time.Now()
	settlingDelay := f.settling
	f.mu.Unlock()

	time.AfterFunc(settlingDelay, func() {
		f.mu.Lock()
		lastEventTime, exists := f.pendingEvents[event.Name]
		if !exists || time.Since(lastEventTime) < settlingDelay {
			f.mu.Unlock()
			return
		}
		delete(f.pendingEvents, event.Name)
		f.mu.Unlock()

		f.dispatchEvent(f.convertEvent(event))
	})
}

// convertEvent maps an fsnotify.Event onto the backend-neutral FileEvent,
// filling in size/mode/mtime from a fresh stat when the path still exists.
func (f *FSNotifyWatcher) convertEvent(event fsnotify.Event) FileEvent {
	fileEvent := FileEvent{Path: event.Name}

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		fileEvent.Type = FileCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		fileEvent.Type = FileModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		fileEvent.Type = FileDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		fileEvent.Type = FileRenamed
	default:
		fileEvent.Type = FileModified
	}

	if info, err := os.Stat(event.Name); err == nil {
		fileEvent.IsDir = info.IsDir()
		fileEvent.Size = info.Size()
		fileEvent.Mode = info.Mode()
		fileEvent.ModTime = info.ModTime()
	} else if fileEvent.Type != FileDeleted {
		// Renamed away or otherwise gone before we could stat it.
		fileEvent.Type = FileDeleted
	}

	return fileEvent
}

// dispatchEvent hands event to the callback registered for the
// longest-matching watched root, so a project-level and a
// narrower-scoped watch on the same tree don't both fire.
func (f *FSNotifyWatcher) dispatchEvent(event FileEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var bestMatch string
	var bestCallback func(FileEvent)

	for root, callback := range f.callbacks {
		if strings.HasPrefix(event.Path, root) && len(root) > len(bestMatch) {
			bestMatch = root
			bestCallback = callback
		}
	}

	if bestCallback != nil {
		bestCallback(event)
	}
}

// isExcluded reports whether path falls under a caller-supplied exclusion
// substring or one of the built-in noisy directory names.
func (f *FSNotifyWatcher) isExcluded(path string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, pattern := range f.exclusions {
		if strings.Contains(path, pattern) {
			return true
		}
	}

	base := filepath.Base(path)
	for _, exc := range fsnotifyDefaultExclusions {
		if base == exc {
			return true
		}
	}

	return false
}

// matchesPattern reports whether path matches one of the watcher's glob
// patterns (or everything, if none were set).
func (f *FSNotifyWatcher) matchesPattern(path string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.patterns) == 0 {
		return true
	}

	for _, pattern := range f.patterns {
		if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
			return true
		}

		if !strings.Contains(pattern, "**") {
			continue
		}
		parts := strings.Split(pattern, "**")
		if len(parts) != 2 {
			continue
		}
		prefix, suffix := parts[0], parts[1]
		if strings.HasPrefix(path, prefix) {
			if suffix == "" || strings.HasSuffix(path, strings.TrimPrefix(suffix, "/")) {
				return true
			}
		}
	}

	return false
}

// Remove stops watching path and drops any callback registered for it.
func (f *FSNotifyWatcher) Remove(path string) error {
	f.mu.Lock()
	delete(f.callbacks, path)
	f.mu.Unlock()

	return f.watcher.Remove(path)
}

// List returns all paths the underlying fsnotify.Watcher currently holds a
// watch on.
func (f *FSNotifyWatcher) List() []string {
	return f.watcher.WatchList()
}
