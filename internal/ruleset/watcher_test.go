package ruleset

import (
	"path/filepath"
	"testing"

	"github.com/wardenhq/llm-warden/internal/logger"
)

func TestWatcherReload(t *testing.T) {
	log := logger.NewNop()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "default.json"), validDoc)

	loader := NewLoader(log)
	registry := NewRegistry(log)

	watcher, err := NewWatcher(dir, loader, registry, log)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer watcher.Close()

	t.Run("ReloadActivatesSnapshots", func(t *testing.T) {
		if err := watcher.Reload(); err != nil {
			t.Fatalf("Reload failed: %v", err)
		}
		rs, ok := registry.Current(Scope{})
		if !ok || rs.Version != "v1" {
			t.Fatalf("Expected v1 snapshot after reload, got %v %v", rs, ok)
		}
	})

	t.Run("FailedReloadKeepsPreviousSnapshots", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "default.json"), "{broken")

		if err := watcher.Reload(); err == nil {
			t.Fatal("Expected reload error for broken file")
		}
		rs, ok := registry.Current(Scope{})
		if !ok || rs.Version != "v1" {
			t.Errorf("Previous snapshot should survive a failed reload, got %v %v", rs, ok)
		}
	})
}
