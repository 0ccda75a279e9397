// Package watchman provides the complete Watchman client implementation
package watchman

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
)

// UnifiedClient watches a project tree using a real Watchman daemon when one
// is reachable, and transparently falls back to fsnotify otherwise. Every
// method on it behaves the same regardless of which backend is live.
type UnifiedClient struct {
	logger          logger.Logger
	watchmanConn    *WatchmanConnection
	fsnotifyWatcher *FSNotifyWatcher
	useWatchman     bool
	subscriptions   map[string]*subscription
	projectRoot     string
	config          *types.WatchmanConfig
	mu              sync.RWMutex
	ctx             context.Context
	cancel          context.CancelFunc
	eventChan       chan FileEvent
	settlingDelay   time.Duration
}

type subscription struct {
	name       string
	root       string
	expression []interface{}
	callback   interfaces.FileChangeCallback
	query      SubscriptionQuery
}

const defaultEventQueueDepth = 1000

// NewUnifiedClient probes for a live Watchman daemon and builds a client
// bound to whichever backend answered. config.MaxFileEvents sizes the
// internal event queue; a zero or negative value falls back to a
// conservative default so a misconfigured target can't make the queue
// unbounded.
func NewUnifiedClient(log logger.Logger, config *types.WatchmanConfig) *UnifiedClient {
	ctx, cancel := context.WithCancel(context.Background())

	queueDepth := config.MaxFileEvents
	if queueDepth <= 0 {
		queueDepth = defaultEventQueueDepth
	}

	client := &UnifiedClient{
		logger:        log,
		subscriptions: make(map[string]*subscription),
		config:        config,
		ctx:           ctx,
		cancel:        cancel,
		eventChan:     make(chan FileEvent, queueDepth),
		settlingDelay: time.Duration(config.SettlingDelay) * time.Millisecond,
	}

	client.connectBackend()

	go client.processEvents()
	if client.useWatchman && client.watchmanConn != nil {
		go client.receiveWatchmanEvents()
	}

	return client
}

// connectBackend tries a real Watchman daemon first, and stands up the
// fsnotify watcher if none answers or the handshake fails.
func (c *UnifiedClient) connectBackend() {
	if conn, err := Connect(); err == nil {
		if version, verErr := conn.Version(); verErr == nil {
			c.watchmanConn = conn
			c.useWatchman = true
			c.logger.Info(fmt.Sprintf("Connected to Watchman version %s", version))
			return
		}
		conn.Close()
		c.logger.Info("Watchman connection failed, using fsnotify fallback")
	} else {
		c.logger.Info(fmt.Sprintf("Watchman not available (%v), using fsnotify fallback", err))
	}

	watcher, err := NewFSNotifyWatcher(c.logger)
	if err != nil {
		c.logger.Error(fmt.Sprintf("Failed to create fsnotify watcher: %v", err))
		return
	}

	c.fsnotifyWatcher = watcher
	if c.config.ExcludeDirs != nil {
		watcher.SetExclusions(c.config.ExcludeDirs)
	}
	if c.config.SettlingDelay > 0 {
		watcher.SetSettlingDelay(time.Duration(c.config.SettlingDelay) * time.Millisecond)
	}
}

// Connect reports whether a backend is ready to serve watches; both
// backends are already live by the time NewUnifiedClient returns, so this
// only fails when neither could be started at all.
func (c *UnifiedClient) Connect(ctx context.Context) error {
	if c.useWatchman && c.watchmanConn != nil {
		return nil
	}
	if !c.useWatchman && c.fsnotifyWatcher != nil {
		return nil
	}
	return fmt.Errorf("no file watcher available")
}

// Disconnect stops the event processor and releases the active backend.
func (c *UnifiedClient) Disconnect() error {
	c.cancel()

	if c.watchmanConn != nil {
		return c.watchmanConn.Close()
	}
	if c.fsnotifyWatcher != nil {
		return c.fsnotifyWatcher.Close()
	}
	return nil
}

// WatchProject starts watching projectPath with whichever backend is
// active, resolving Watchman's reported watch root (which may differ from
// the requested path when Watchman already owns a parent directory).
func (c *UnifiedClient) WatchProject(projectPath string) error {
	c.mu.Lock()
	c.projectRoot = projectPath
	c.mu.Unlock()

	if c.useWatchman {
		resp, err := c.watchmanConn.WatchProject(projectPath)
		if err != nil {
			return fmt.Errorf("failed to watch project: %w", err)
		}

		c.mu.Lock()
		if resp.RelativeRoot != "" {
			c.projectRoot = filepath.Join(resp.Watch, resp.RelativeRoot)
		} else {
			c.projectRoot = resp.Watch
		}
		c.mu.Unlock()

		c.logger.Info(fmt.Sprintf("Watching project with Watchman: %s", c.projectRoot))
		return nil
	}

	if c.fsnotifyWatcher == nil {
		return fmt.Errorf("no file watcher available")
	}

	if err := c.fsnotifyWatcher.WatchProject(projectPath, func(event FileEvent) {
		c.eventChan <- event
	}); err != nil {
		return fmt.Errorf("failed to watch project with fsnotify: %w", err)
	}

	c.logger.Info(fmt.Sprintf("Watching project with fsnotify: %s", projectPath))
	return nil
}

// Subscribe registers name against root, scoped to config's expression (or,
// failing that, derived from exclusions and the client's default exclusion
// set) and wires callback to fire whenever a matching change settles.
func (c *UnifiedClient) Subscribe(
	root string,
	name string,
	config interfaces.SubscriptionConfig,
	callback interfaces.FileChangeCallback,
	exclusions []interfaces.ExclusionExpression,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &subscription{
		name:       name,
		root:       root,
		expression: config.Expression,
		callback:   callback,
	}

	if c.useWatchman {
		finalExpr := c.buildWatchmanExpression(config.Expression, exclusions)

		clock, err := c.watchmanConn.Clock(root)
		if err != nil {
			c.logger.Warn(fmt.Sprintf("Failed to get clock: %v", err))
			clock = ""
		}

		sub.query = SubscriptionQuery{
			Expression: finalExpr,
			Fields:     []string{"name", "size", "mtime_ms", "exists", "type", "new"},
			Since:      clock,
			Empty:      true,
		}

		if _, err := c.watchmanConn.Subscribe(root, name, sub.query); err != nil {
			return fmt.Errorf("failed to create Watchman subscription: %w", err)
		}
	} else if c.fsnotifyWatcher != nil {
		// The callback itself was already wired up in WatchProject; fsnotify
		// just needs to know which patterns are worth dispatching.
		c.fsnotifyWatcher.SetPatterns(extractPatternsFromExpression(config.Expression))
	}

	c.subscriptions[name] = sub
	c.logger.Debug(fmt.Sprintf("Created subscription: %s", name))

	return nil
}

// buildWatchmanExpression turns an already-built expression (if the caller
// supplied one) or a set of exclusions into the query Watchman evaluates
// server-side. Caller must hold c.mu.
func (c *UnifiedClient) buildWatchmanExpression(expr []interface{}, exclusions []interfaces.ExclusionExpression) Expression {
	if len(expr) > 0 {
		return Expression(expr)
	}

	var exclusionExprs []Expression
	for _, exc := range exclusions {
		for _, pattern := range exc.Patterns {
			if exc.Type == "dir" {
				exclusionExprs = append(exclusionExprs, MatchExpression(fmt.Sprintf("**/%s/**", pattern), true))
			} else {
				exclusionExprs = append(exclusionExprs, MatchExpression(pattern, false))
			}
		}
	}

	if c.config.UseDefaultExclusions {
		for _, dir := range getDefaultExclusions() {
			exclusionExprs = append(exclusionExprs, MatchExpression(fmt.Sprintf("**/%s/**", dir), true))
		}
	}

	if len(exclusionExprs) == 0 {
		return MatchExpression("**", true)
	}

	return AllOfExpression(
		MatchExpression("**", true),
		NotExpression(AnyOfExpression(exclusionExprs...)),
	)
}

// Unsubscribe tears down a previously registered subscription, asking
// Watchman to drop it server-side when that backend is active.
func (c *UnifiedClient) Unsubscribe(subscriptionName string) error {
	c.mu.Lock()
	sub, exists := c.subscriptions[subscriptionName]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("subscription %s not found", subscriptionName)
	}
	delete(c.subscriptions, subscriptionName)
	c.mu.Unlock()

	if c.useWatchman && c.watchmanConn != nil {
		return c.watchmanConn.Unsubscribe(sub.root, subscriptionName)
	}
	return nil
}

// IsConnected reports whether the active backend is usable.
func (c *UnifiedClient) IsConnected() bool {
	if c.useWatchman {
		return c.watchmanConn != nil
	}
	return c.fsnotifyWatcher != nil
}

// GetVersion returns the Watchman daemon version, or "fsnotify" when
// running on the fallback watcher.
func (c *UnifiedClient) GetVersion() (string, error) {
	if c.useWatchman && c.watchmanConn != nil {
		return c.watchmanConn.Version()
	}
	return "fsnotify", nil
}

// receiveWatchmanEvents pumps unilateral subscription notifications off the
// Watchman socket until the client is disconnected or the connection drops.
func (c *UnifiedClient) receiveWatchmanEvents() {
	c.logger.Debug("Starting Watchman event receiver")

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Watchman event receiver shutting down (context cancelled)")
			return
		default:
			if c.watchmanConn == nil {
				c.logger.Debug("Watchman connection lost, stopping event receiver")
				return
			}

			resp, err := c.watchmanConn.Receive()
			if err != nil {
				if strings.Contains(err.Error(), "EOF") || strings.Contains(err.Error(), "closed") {
					c.logger.Debug("Watchman connection closed, stopping event receiver")
					return
				}
				c.logger.Debug(fmt.Sprintf("Error receiving Watchman event (will retry): %v", err))
				time.Sleep(100 * time.Millisecond)
				continue
			}

			if resp.Subscription != "" {
				c.logger.Debug(fmt.Sprintf("Received Watchman subscription event: %s with %d files",
					resp.Subscription, len(resp.Files)))
				c.handleWatchmanResponse(resp)
			} else if resp.Log != "" {
				c.logger.Debug(fmt.Sprintf("Watchman log: %s", resp.Log))
			}
		}
	}
}

// handleWatchmanResponse converts a subscription notification's file list
// into FileEvents and feeds them to the settling pipeline.
func (c *UnifiedClient) handleWatchmanResponse(resp *WatchmanResponse) {
	c.mu.RLock()
	sub, exists := c.subscriptions[resp.Subscription]
	c.mu.RUnlock()

	if !exists {
		c.logger.Debug(fmt.Sprintf("Received event for unknown subscription: %s", resp.Subscription))
		return
	}

	c.logger.Debug(fmt.Sprintf("Processing %d file changes for subscription %s", len(resp.Files), resp.Subscription))

	for _, file := range resp.Files {
		event := ConvertWatchmanFile(resp.Root, file)
		c.logger.Debug(fmt.Sprintf("File event: %s (%v)", event.Path, event.Type))
		c.eventChan <- event
	}

	if len(resp.Files) > 0 {
		c.logger.Debug(fmt.Sprintf("Queued %d events for processing (subscription: %s)",
			len(resp.Files), sub.name))
	}
}

// processEvents debounces rapid-fire writes to the same path: each new
// event for a path resets that path's timer, so a burst of saves collapses
// into a single dispatch once settlingDelay has elapsed with no further
// activity.
func (c *UnifiedClient) processEvents() {
	pendingEvents := make(map[string]*FileEvent)
	timers := make(map[string]*time.Timer)

	c.logger.Debug(fmt.Sprintf("Event processor started with settling delay: %v", c.settlingDelay))

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Event processor shutting down")
			return

		case event := <-c.eventChan:
			c.logger.Debug(fmt.Sprintf("Processing event for: %s (type: %v)", event.Path, event.Type))

			if timer, exists := timers[event.Path]; exists {
				timer.Stop()
				delete(timers, event.Path)
			}

			pendingEvents[event.Path] = &event

			eventPath := event.Path
			timers[event.Path] = time.AfterFunc(c.settlingDelay, func() {
				c.mu.Lock()
				delete(timers, eventPath)
				pendingEvent, exists := pendingEvents[eventPath]
				if exists {
					delete(pendingEvents, eventPath)
				}
				c.mu.Unlock()

				if exists {
					c.logger.Debug(fmt.Sprintf("Settling delay expired, dispatching event for: %s", eventPath))
					c.dispatchEvent(*pendingEvent)
				}
			})
		}
	}
}

// dispatchEvent fans a settled event out to every subscription whose scope
// and pattern match it.
func (c *UnifiedClient) dispatchEvent(event FileEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matchCount := 0
	for _, sub := range c.subscriptions {
		if !c.eventMatchesSubscription(event, sub) {
			continue
		}
		matchCount++

		change := interfaces.FileChange{
			Name:   event.Path,
			Exists: event.Type != FileDeleted,
			Type:   getFileType(event),
		}

		if sub.callback == nil {
			c.logger.Warn(fmt.Sprintf("No callback registered for subscription: %s", sub.name))
			continue
		}
		c.logger.Debug(fmt.Sprintf("Invoking callback for subscription: %s", sub.name))
		sub.callback([]interfaces.FileChange{change})
	}

	if matchCount == 0 {
		c.logger.Debug(fmt.Sprintf("No matching subscriptions for event: %s", event.Path))
	}
}

// eventMatchesSubscription scopes an event to sub.root, then — for the
// fsnotify backend only, since Watchman already filtered server-side —
// checks the event against the subscription's patterns.
func (c *UnifiedClient) eventMatchesSubscription(event FileEvent, sub *subscription) bool {
	if !strings.HasPrefix(event.Path, sub.root) {
		return false
	}

	if len(sub.expression) > 0 && c.useWatchman {
		return true
	}

	for _, pattern := range extractPatternsFromExpression(sub.expression) {
		if matched, _ := filepath.Match(pattern, filepath.Base(event.Path)); matched {
			return true
		}

		if !strings.Contains(pattern, "**") {
			continue
		}
		parts := strings.Split(pattern, "**")
		if len(parts) != 2 {
			continue
		}
		relPath, _ := filepath.Rel(sub.root, event.Path)
		if strings.HasPrefix(relPath, parts[0]) {
			if parts[1] == "" || strings.HasSuffix(relPath, strings.TrimPrefix(parts[1], "/")) {
				return true
			}
		}
	}

	return false
}

func getFileType(event FileEvent) string {
	if event.IsDir {
		return "d"
	}
	return "f"
}

// extractPatternsFromExpression pulls glob patterns back out of a Watchman
// expression tree so the fsnotify backend (which has no query engine of its
// own) can approximate the same filtering.
func extractPatternsFromExpression(expr []interface{}) []string {
	if len(expr) == 0 {
		return []string{"**"}
	}

	var patterns []string
	extractPatterns(expr, &patterns)

	if len(patterns) == 0 {
		patterns = []string{"**"}
	}
	return patterns
}

func extractPatterns(expr interface{}, patterns *[]string) {
	v, ok := expr.([]interface{})
	if !ok || len(v) == 0 {
		return
	}

	cmd, ok := v[0].(string)
	if !ok {
		return
	}

	switch cmd {
	case "match":
		if len(v) > 1 {
			if pattern, ok := v[1].(string); ok {
				*patterns = append(*patterns, pattern)
			}
		}
	case "anyof", "allof":
		for i := 1; i < len(v); i++ {
			extractPatterns(v[i], patterns)
		}
	case "not":
		// negations don't contribute a positive pattern
	}
}

// getDefaultExclusions lists directories the Watchman fallback expression
// skips when UseDefaultExclusions is set. The fsnotify backend does not use
// this list; it has its own, fsnotifyDefaultExclusions.
func getDefaultExclusions() []string {
	return []string{
		".git", ".svn", ".hg", ".bzr",
		"node_modules", "vendor", ".idea", ".vscode",
		"__pycache__", ".pytest_cache",
		"target", "build", "dist", "out",
		".poltergeist",
	}
}

// Watch is a convenience entry point that subscribes root to patterns and
// streams every matching change onto events. The subscription is named
// "watch-<unix nanos>"; that name is not returned, and ctx is not consulted.
func (c *UnifiedClient) Watch(ctx context.Context, root string, patterns []string, events chan FileEvent) error {
	if err := c.WatchProject(root); err != nil {
		return err
	}

	var expressions []Expression
	for _, pattern := range patterns {
		expressions = append(expressions, MatchExpression(pattern, strings.Contains(pattern, "**")))
	}

	var finalExpr []interface{}
	if len(expressions) > 0 {
		finalExpr = AnyOfExpression(expressions...).([]interface{})
	} else {
		finalExpr = MatchExpression("**", true).([]interface{})
	}

	config := interfaces.SubscriptionConfig{
		Expression: finalExpr,
		Fields:     []string{"name", "size", "mtime_ms", "exists", "type"},
	}

	callback := func(changes []interfaces.FileChange) {
		for _, change := range changes {
			event := FileEvent{Path: change.Name, IsDir: change.Type == "d"}
			switch {
			case !change.Exists:
				event.Type = FileDeleted
			case change.Type == "f":
				event.Type = FileCreated
			default:
				event.Type = FileModified
			}
			events <- event
		}
	}

	return c.Subscribe(root, fmt.Sprintf("watch-%d", time.Now().UnixNano()), config, callback, nil)
}

// List returns every path the active backend currently has a live watch or
// subscription against.
func (c *UnifiedClient) List() []string {
	if c.fsnotifyWatcher != nil {
		return c.fsnotifyWatcher.List()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		paths = append(paths, sub.root)
	}
	return paths
}
