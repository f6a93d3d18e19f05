package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestConfigWatcher(t *testing.T) {
	tmpDir := t.TempDir()

	// Create test config file
	configPath := filepath.Join(tmpDir, "config.yaml")
	initialContent := `chat:
  rate_limit: 30
storage_path: "/tmp/test.db"
log_level: "info"
`

	if err := os.WriteFile(configPath, []byte(initialContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Track onChange calls
	var mu sync.Mutex
	callCount := 0
	var lastConfig *Config

	onChange := func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		lastConfig = cfg
	}

	// Create watcher
	watcher, err := NewConfigWatcher(configPath, onChange)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	// Give watcher time to start
	time.Sleep(100 * time.Millisecond)

	// Modify config file
	updatedContent := `chat:
  rate_limit: 5
  rate_window: 10s
cleanup:
  retention_days: 2
storage_path: "/tmp/test2.db"
log_level: "debug"
`

	if err := os.WriteFile(configPath, []byte(updatedContent), 0644); err != nil {
		t.Fatalf("Failed to update config file: %v", err)
	}

	// Wait for debounce and reload
	time.Sleep(1 * time.Second)

	mu.Lock()
	defer mu.Unlock()

	// Check that onChange was called
	if callCount == 0 {
		t.Fatal("onChange was not called after config file update")
	}

	// Verify the updated config
	if lastConfig.Chat.RateLimit != 5 || lastConfig.Chat.RateWindow != 10*time.Second {
		t.Errorf("Expected 5 per 10s, got %d per %v", lastConfig.Chat.RateLimit, lastConfig.Chat.RateWindow)
	}
	if lastConfig.Cleanup.RetentionDays != 2 {
		t.Errorf("Expected retention 2 days, got %d", lastConfig.Cleanup.RetentionDays)
	}
	if lastConfig.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", lastConfig.LogLevel)
	}
}

func TestConfigWatcherManualReload(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `storage_path: "/tmp/manual.db"
`

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	callCount := 0
	onChange := func(cfg *Config) {
		callCount++
	}

	watcher, err := NewConfigWatcher(configPath, onChange)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	// Trigger manual reload
	if err := watcher.TriggerReload(); err != nil {
		t.Fatalf("Manual reload failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("onChange called %d times, want 1", callCount)
	}
}

func TestConfigWatcherInvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	validContent := `storage_path: "/tmp/valid.db"
`

	if err := os.WriteFile(configPath, []byte(validContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	var mu sync.Mutex
	callCount := 0
	onChange := func(cfg *Config) {
		mu.Lock()
		callCount++
		mu.Unlock()
	}

	watcher, err := NewConfigWatcher(configPath, onChange)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)

	// Write invalid config
	invalidContent := `chat:
  rate_limit: 0
cleanup:
  schedule: "every tuesday"
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to write invalid config: %v", err)
	}

	time.Sleep(1 * time.Second)

	mu.Lock()
	defer mu.Unlock()
	if callCount != 0 {
		t.Errorf("onChange called %d times for an invalid config", callCount)
	}
	if err := watcher.TriggerReload(); err == nil {
		t.Error("TriggerReload accepted an invalid config")
	}
}

func TestConfigWatcherStopTwice(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("log_level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}
	watcher, err := NewConfigWatcher(configPath, nil)
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	watcher.Stop()
	watcher.Stop()
}
