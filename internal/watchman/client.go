// Package watchman provides file watching capabilities
package watchman

import (
	"context"

	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
)

// Client is the engine-facing file watcher. It is a thin wrapper around
// UnifiedClient, which picks Watchman when a daemon is reachable and falls
// back to fsnotify transparently — callers never need to know which one is
// live.
type Client struct {
	impl *UnifiedClient
}

// NewClient creates a client with conservative watch defaults: default
// directory exclusions on, a one-second settling delay, and a generous
// 1000-event internal event queue.
func NewClient(log logger.Logger) *Client {
	return NewClientWithConfig(log, &types.WatchmanConfig{
		UseDefaultExclusions: true,
		SettlingDelay:        1000,
		MaxFileEvents:        1000,
	})
}

// NewClientWithConfig creates a client using caller-supplied Watchman
// settings (exclusions, settling delay, event queue depth).
func NewClientWithConfig(log logger.Logger, config *types.WatchmanConfig) *Client {
	return &Client{
		impl: NewUnifiedClient(log, config),
	}
}

// Connect establishes connection to watchman
func (c *Client) Connect(ctx context.Context) error {
	return c.impl.Connect(ctx)
}

// Disconnect closes the watchman connection
func (c *Client) Disconnect() error {
	return c.impl.Disconnect()
}

// WatchProject sets up watching for a project
func (c *Client) WatchProject(projectPath string) error {
	return c.impl.WatchProject(projectPath)
}

// Subscribe creates a subscription for file changes
func (c *Client) Subscribe(
	root string,
	name string,
	config interfaces.SubscriptionConfig,
	callback interfaces.FileChangeCallback,
	exclusions []interfaces.ExclusionExpression,
) error {
	return c.impl.Subscribe(root, name, config, callback, exclusions)
}

// Unsubscribe removes a subscription
func (c *Client) Unsubscribe(subscriptionName string) error {
	return c.impl.Unsubscribe(subscriptionName)
}

// IsConnected checks if connected to watchman
func (c *Client) IsConnected() bool {
	return c.impl.IsConnected()
}

// GetVersion returns the watchman version, or "fsnotify" when running on
// the fallback watcher.
func (c *Client) GetVersion() (string, error) {
	return c.impl.GetVersion()
}

// Watch is a simplified method to watch paths
func (c *Client) Watch(ctx context.Context, root string, patterns []string, events chan FileEvent) error {
	return c.impl.Watch(ctx, root, patterns, events)
}

// Watching reports the set of paths the underlying watcher currently has
// subscriptions open against.
func (c *Client) Watching() []string {
	return c.impl.List()
}
