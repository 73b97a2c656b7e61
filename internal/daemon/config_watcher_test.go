package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

func TestStaticConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	sc := NewStaticConfig(cfg, nil)

	if sc.Config() != cfg {
		t.Error("expected the same config back")
	}
	if sc.Rules() == nil {
		t.Error("nil rules must fall back to defaults")
	}
}

func TestConfigWatcherSetRules(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	cw := NewConfigWatcher("", rulesPath, config.DefaultConfig(), nil, NewBroadcaster())

	rules := config.DefaultRules()
	rules.MaxLineLength = 88
	if err := cw.SetRules(rules); err != nil {
		t.Fatalf("set rules: %v", err)
	}
	if cw.Rules().MaxLineLength != 88 {
		t.Error("rules not swapped")
	}
	if cw.ReloadCounter() != 1 {
		t.Errorf("expected reload counter 1, got %d", cw.ReloadCounter())
	}

	// Persisted copy round-trips
	loaded, err := config.LoadRulesFrom(rulesPath)
	if err != nil {
		t.Fatalf("load persisted rules: %v", err)
	}
	if loaded.MaxLineLength != 88 {
		t.Errorf("persisted rules wrong: %+v", loaded)
	}
}

func TestConfigWatcherRejectsInvalidRules(t *testing.T) {
	cw := NewConfigWatcher("", "", config.DefaultConfig(), nil, NewBroadcaster())

	bad := config.DefaultRules()
	bad.SeverityOverrides = map[string]string{"style/line-length": "catastrophic"}
	if err := cw.SetRules(bad); err == nil {
		t.Error("expected validation error")
	}
	if cw.ReloadCounter() != 0 {
		t.Error("failed SetRules must not count as a reload")
	}
}

func TestConfigWatcherReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(configPath, []byte("job_timeout_minutes = 10\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultConfig()
	cfg.JobTimeoutMinutes = 10
	broadcaster := NewBroadcaster()
	_, events := broadcaster.Subscribe("")

	cw := NewConfigWatcher(configPath, "", cfg, nil, broadcaster)
	if err := cw.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer cw.Stop()

	if err := os.WriteFile(configPath, []byte("job_timeout_minutes = 25\n"), 0644); err != nil {
		t.Fatal(err)
	}

	// Debounced reload fires within a few hundred ms
	select {
	case ev := <-events:
		if ev.Type != EventConfigReloaded {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload event after file change")
	}

	if got := cw.Config().JobTimeoutMinutes; got != 25 {
		t.Errorf("expected reloaded timeout 25, got %d", got)
	}
	if cw.ReloadCounter() == 0 {
		t.Error("reload counter not incremented")
	}
}

func TestConfigWatcherNotRestartSafe(t *testing.T) {
	cw := NewConfigWatcher("", "", config.DefaultConfig(), nil, NewBroadcaster())
	if err := cw.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	cw.Stop()
	cw.Stop() // idempotent

	if err := cw.Start(context.Background()); err == nil {
		t.Error("expected error starting a stopped watcher")
	}
}
