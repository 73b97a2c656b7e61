package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Roxonn-FutureTech/github-review-agent/internal/config"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/daemon"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/github"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/storage"
	"github.com/Roxonn-FutureTech/github-review-agent/internal/version"
)

func main() {
	// Handle version command before anything else (for CI testing)
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("reviewagentd %s\n", version.Version)
		return
	}

	var (
		dbPath     = flag.String("db", storage.DefaultDBPath(), "path to sqlite database")
		configPath = flag.String("config", config.GlobalConfigPath(), "path to config file")
		rulesPath  = flag.String("rules", config.RulesPath(), "path to review rules file")
		addr       = flag.String("addr", "", "server address (overrides config)")
		workers    = flag.Int("workers", 0, "number of workers (overrides config)")
	)
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting reviewagentd...")

	cfg, err := config.LoadGlobalFrom(*configPath)
	if err != nil {
		log.Printf("Warning: failed to load config from %s: %v", *configPath, err)
		cfg = config.DefaultConfig()
	}
	rules, err := config.LoadRulesFrom(*rulesPath)
	if err != nil {
		log.Printf("Warning: failed to load rules from %s: %v", *rulesPath, err)
		rules = config.DefaultRules()
	}

	// Apply flag overrides
	if *addr != "" {
		cfg.ServerAddr = *addr
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}

	db, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	log.Printf("Database: %s", *dbPath)

	gh, err := buildGitHubClient(cfg)
	if err != nil {
		log.Fatalf("Failed to configure GitHub client: %v", err)
	}
	if gh == nil {
		log.Println("Warning: no GitHub credentials configured; reviews will fail until [github] is set")
	}

	broadcaster := daemon.NewBroadcaster()
	configWatcher := daemon.NewConfigWatcher(*configPath, *rulesPath, cfg, rules, broadcaster)
	workerPool := daemon.NewWorkerPool(db, configWatcher, gh, cfg.MaxWorkers, broadcaster)
	server := daemon.NewServer(db, configWatcher, gh, broadcaster, workerPool, cfg.ServerAddr)

	archiver, err := buildArchiver(db, cfg)
	if err != nil {
		log.Fatalf("Failed to start archiver: %v", err)
	}
	if archiver != nil {
		archiver.Start()
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		if archiver != nil {
			archiver.Stop()
		}
		if err := server.Stop(); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	// Start server (blocks until shutdown)
	if err := server.Start(context.Background()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// buildGitHubClient returns a client for the configured credentials, or
// nil when none are set. GitHub App auth takes precedence over a token.
func buildGitHubClient(cfg *config.Config) (daemon.GitHubClient, error) {
	gh := cfg.GitHub
	if gh.AppConfigured() {
		pemData, err := gh.PrivateKeyResolved()
		if err != nil {
			return nil, err
		}
		provider, err := github.NewAppTokenProvider(gh.AppID, pemData)
		if err != nil {
			return nil, err
		}
		client, err := github.NewAppClient(provider, gh.InstallationID, gh.BaseURL)
		if err != nil {
			return nil, err
		}
		log.Printf("GitHub auth: App %d (installation %d)", gh.AppID, gh.InstallationID)
		return client, nil
	}
	if gh.Token != "" {
		client, err := github.NewClient(gh.Token, gh.BaseURL)
		if err != nil {
			return nil, err
		}
		log.Println("GitHub auth: personal access token")
		return client, nil
	}
	return nil, nil
}

// buildArchiver connects to the Postgres archive when configured.
func buildArchiver(db *storage.DB, cfg *config.Config) (*daemon.Archiver, error) {
	if !cfg.Archive.Enabled() {
		return nil, nil
	}

	pg, err := storage.NewPgPool(context.Background(), cfg.Archive.ConnString, storage.DefaultPgPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(context.Background()); err != nil {
		pg.Close()
		return nil, err
	}

	interval := time.Duration(cfg.Archive.IntervalMinutes) * time.Minute
	log.Printf("Review archive enabled (interval %s)", interval)
	return daemon.NewArchiver(db, pg, interval), nil
}
