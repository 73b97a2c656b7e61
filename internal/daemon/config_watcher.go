package daemon

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
)

// ConfigGetter provides access to the current daemon config and rules.
type ConfigGetter interface {
	Config() *config.Config
	Rules() *config.Rules
}

// StaticConfig wraps a fixed config and rule set for use without
// hot-reloading (e.g., in tests).
type StaticConfig struct {
	cfg   *config.Config
	rules *config.Rules
}

// NewStaticConfig creates a ConfigGetter that always returns the same values.
func NewStaticConfig(cfg *config.Config, rules *config.Rules) *StaticConfig {
	if rules == nil {
		rules = config.DefaultRules()
	}
	return &StaticConfig{cfg: cfg, rules: rules}
}

func (sc *StaticConfig) Config() *config.Config { return sc.cfg }
func (sc *StaticConfig) Rules() *config.Rules   { return sc.rules }

// ConfigWatcher watches config.toml and rules.yaml for changes and
// reloads them.
//
// Hot-reloadable: job_timeout_minutes, rate_limit_per_min, api_token,
// the [github] section and the whole rule set. Settings requiring
// restart: server_addr, max_workers. Those are read at startup and the
// running values are preserved even if the files change.
//
// ConfigWatcher is not restart-safe. Once Stop() is called, Start()
// returns an error; create a new instance instead.
type ConfigWatcher struct {
	configPath string
	rulesPath  string

	mu             sync.RWMutex
	cfg            *config.Config
	rules          *config.Rules
	stopped        bool
	lastReloadedAt time.Time
	reloadCounter  uint64

	broadcaster Broadcaster
	watcher     *fsnotify.Watcher
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewConfigWatcher creates a watcher over the given config and rules files.
func NewConfigWatcher(configPath, rulesPath string, cfg *config.Config, rules *config.Rules, broadcaster Broadcaster) *ConfigWatcher {
	if rules == nil {
		rules = config.DefaultRules()
	}
	return &ConfigWatcher{
		configPath:  configPath,
		rulesPath:   rulesPath,
		cfg:         cfg,
		rules:       rules,
		broadcaster: broadcaster,
		stopCh:      make(chan struct{}),
	}
}

// Start begins watching the config files for changes.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.RLock()
	stopped := cw.stopped
	cw.mu.RUnlock()
	if stopped {
		return fmt.Errorf("config watcher already stopped; create a new instance to restart")
	}

	// Skip watching when no paths are given (e.g., in tests)
	if cw.configPath == "" && cw.rulesPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	cw.watcher = watcher

	// Watch the containing directories, not the files themselves.
	// This handles editors that do atomic writes (delete + create).
	dirs := map[string]bool{}
	for _, p := range []string{cw.configPath, cw.rulesPath} {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			cw.watcher = nil
			return err
		}
	}

	go cw.watchLoop(ctx)
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		cw.mu.Lock()
		cw.stopped = true
		cw.mu.Unlock()
		close(cw.stopCh)
		if cw.watcher != nil {
			cw.watcher.Close()
		}
	})
}

// Config returns the current config.
func (cw *ConfigWatcher) Config() *config.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.cfg
}

// Rules returns the current rule set.
func (cw *ConfigWatcher) Rules() *config.Rules {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.rules
}

// SetRules replaces the rule set, persisting it to rules.yaml when a
// path is configured. Used by PUT /api/config.
func (cw *ConfigWatcher) SetRules(rules *config.Rules) error {
	if err := rules.Validate(); err != nil {
		return err
	}
	if cw.rulesPath != "" {
		if err := config.SaveRulesTo(rules, cw.rulesPath); err != nil {
			return err
		}
	}
	cw.mu.Lock()
	cw.rules = rules
	cw.lastReloadedAt = time.Now()
	cw.reloadCounter++
	cw.mu.Unlock()
	return nil
}

// LastReloadedAt returns the time of the last successful reload.
func (cw *ConfigWatcher) LastReloadedAt() time.Time {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.lastReloadedAt
}

// ReloadCounter returns a monotonic counter incremented on each reload.
// Use this instead of timestamp comparison to detect reloads that
// happen within the same second.
func (cw *ConfigWatcher) ReloadCounter() uint64 {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.reloadCounter
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	// Debounce timer to handle rapid file changes
	var debounceTimer *time.Timer
	debounceDelay := 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopCh:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			name := filepath.Base(event.Name)
			isConfig := cw.configPath != "" && name == filepath.Base(cw.configPath)
			isRules := cw.rulesPath != "" && name == filepath.Base(cw.rulesPath)
			if !isConfig && !isRules {
				continue
			}

			// Rename is needed for editors that do atomic saves via rename
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				cw.reload()
			})

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Config watcher error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) reload() {
	var newCfg *config.Config
	var newRules *config.Rules
	var err error

	if cw.configPath != "" {
		newCfg, err = config.LoadGlobalFrom(cw.configPath)
		if err != nil {
			log.Printf("Failed to reload config: %v", err)
			return
		}
	}
	if cw.rulesPath != "" {
		newRules, err = config.LoadRulesFrom(cw.rulesPath)
		if err != nil {
			log.Printf("Failed to reload rules: %v", err)
			return
		}
	}

	cw.mu.Lock()
	oldCfg := cw.cfg
	if newCfg != nil {
		cw.cfg = newCfg
	}
	if newRules != nil {
		cw.rules = newRules
	}
	cw.lastReloadedAt = time.Now()
	cw.reloadCounter++
	cw.mu.Unlock()

	if newCfg != nil {
		logConfigChanges(oldCfg, newCfg)
	}

	cw.broadcaster.Broadcast(Event{
		Type: EventConfigReloaded,
		TS:   time.Now(),
	})

	log.Printf("Config reloaded successfully")
}

func logConfigChanges(old, new *config.Config) {
	if old.JobTimeoutMinutes != new.JobTimeoutMinutes {
		log.Printf("Config change: job_timeout_minutes %d -> %d", old.JobTimeoutMinutes, new.JobTimeoutMinutes)
	}
	if old.RateLimitPerMin != new.RateLimitPerMin {
		log.Printf("Config change: rate_limit_per_min %d -> %d", old.RateLimitPerMin, new.RateLimitPerMin)
	}
	if old.MaxWorkers != new.MaxWorkers {
		log.Printf("Config change: max_workers %d -> %d (requires daemon restart to take effect)", old.MaxWorkers, new.MaxWorkers)
	}
	if old.ServerAddr != new.ServerAddr {
		log.Printf("Config change: server_addr %q -> %q (requires daemon restart to take effect)", old.ServerAddr, new.ServerAddr)
	}
}
