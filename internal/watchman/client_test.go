package watchman

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
)

// newTestClient builds a Client with a short settling delay so tests don't
// wait out the production default. The test environment has no Watchman
// daemon, so every case here exercises the fsnotify fallback path.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	return NewClientWithConfig(logger.CreateLogger("", "error"), &types.WatchmanConfig{
		UseDefaultExclusions: true,
		SettlingDelay:        20,
		MaxFileEvents:        100,
	})
}

func TestClient_FallsBackToFSNotifyWithoutADaemon(t *testing.T) {
	c := newTestClient(t)
	defer c.Disconnect()

	if c.impl.useWatchman {
		t.Fatal("expected no Watchman daemon to be reachable in the test environment")
	}
	if !c.IsConnected() {
		t.Error("expected the fsnotify fallback to report connected")
	}
	version, err := c.GetVersion()
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if version != "fsnotify" {
		t.Errorf("GetVersion() = %q, want %q", version, "fsnotify")
	}
}

func TestClient_WatchProjectAndSubscribeDeliversWriteEvents(t *testing.T) {
	c := newTestClient(t)
	defer c.Disconnect()

	root := t.TempDir()
	if err := c.WatchProject(root); err != nil {
		t.Fatalf("WatchProject: %v", err)
	}

	received := make(chan interfaces.FileChange, 10)
	callback := func(changes []interfaces.FileChange) {
		for _, ch := range changes {
			received <- ch
		}
	}

	err := c.Subscribe(root, "test-sub", interfaces.SubscriptionConfig{
		Fields: []string{"name", "exists", "type"},
	}, callback, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	target := filepath.Join(root, "main.go")
	if err := os.WriteFile(target, []byte("package main\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	select {
	case change := <-received:
		if change.Name != target {
			t.Errorf("change.Name = %q, want %q", change.Name, target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a file change notification")
	}

	if err := c.Unsubscribe("test-sub"); err != nil {
		t.Errorf("Unsubscribe: %v", err)
	}
}

func TestClient_WatchingReportsSubscribedRoot(t *testing.T) {
	c := newTestClient(t)
	defer c.Disconnect()

	root := t.TempDir()
	if err := c.WatchProject(root); err != nil {
		t.Fatalf("WatchProject: %v", err)
	}

	paths := c.Watching()
	found := false
	for _, p := range paths {
		if p == root || filepath.Dir(p) == root || p == filepath.Clean(root) {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("Watching() = %v, want it to include the watched root %s", paths, root)
	}
}

func TestClient_UnsubscribeUnknownNameIsAnError(t *testing.T) {
	c := newTestClient(t)
	defer c.Disconnect()

	if err := c.Unsubscribe("never-registered"); err == nil {
		t.Error("expected an error unsubscribing a name that was never subscribed")
	}
}
