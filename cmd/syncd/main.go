// Command syncd runs the jubilee report sync daemon: it watches the
// local entity store for pending changes and reconciles them with the
// remote record service on a battery- and network-aware schedule.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jubileebay/jubileesync/internal/config"
	"github.com/jubileebay/jubileesync/internal/db"
	"github.com/jubileebay/jubileesync/internal/logging"
	"github.com/jubileebay/jubileesync/internal/models"
	syncpkg "github.com/jubileebay/jubileesync/internal/sync"
	"github.com/jubileebay/jubileesync/internal/sync/conflict"
	"github.com/jubileebay/jubileesync/internal/sync/queue"
	"github.com/jubileebay/jubileesync/internal/sync/scheduler"
)

// Version is set at build time.
var Version = "0.1.0"

// hostDevice reports the device state for a mains-powered host. Mobile
// ports supply their own DeviceStateProvider wired to platform APIs.
type hostDevice struct{}

func (hostDevice) State() scheduler.DeviceState {
	return scheduler.DeviceState{
		BatteryLevel: 1.0,
		Charging:     true,
		Network:      scheduler.NetworkWiFi,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(os.Stdout, logging.LogLevel(strings.ToUpper(cfg.Logging.Level)))
	log := logging.Get()
	log.Info("starting jubileesync daemon", map[string]interface{}{
		"version":  Version,
		"data_dir": cfg.DataDir,
	})

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open entity store: %w", err)
	}
	defer database.Close()

	migrator := db.NewMigrator(database.DB)
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	repo := db.NewRepository(database.DB)
	defer repo.Close()

	q := queue.NewPriorityQueue()
	pending, err := repo.FetchPendingSync(10000)
	if err != nil {
		return fmt.Errorf("load pending entities: %w", err)
	}
	q.Rebuild(pending)

	resolver := conflict.NewResolver(cfg.Sync.ResolutionStrategy, models.ReportSchema)

	remote := syncpkg.NewHTTPRecordStore(&syncpkg.HTTPConfig{
		BaseURL:           cfg.Remote.BaseURL,
		Token:             cfg.Remote.Token,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Timeout:           cfg.Remote.Timeout,
	})

	orchCfg := syncpkg.DefaultOrchestratorConfig()
	orchCfg.BatchSize = cfg.Sync.BatchSize
	orchCfg.PageSize = cfg.Sync.PageSize
	orch := syncpkg.NewOrchestrator(repo, remote, resolver, q, orchCfg)

	// Persisted settings win over the environment; first run seeds them
	// from it so UI collaborators see the effective values.
	interval, err := repo.SyncIntervalSetting()
	if err != nil {
		return fmt.Errorf("read sync interval setting: %w", err)
	}
	if interval <= 0 {
		interval = cfg.Sync.Interval
		if err := repo.SetSyncIntervalSetting(interval); err != nil {
			return fmt.Errorf("seed sync interval setting: %w", err)
		}
	}
	backgroundEnabled, err := repo.BackgroundSyncEnabled()
	if err != nil {
		return fmt.Errorf("read background sync setting: %w", err)
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.SyncInterval = interval
	schedCfg.CellularSyncEnabled = cfg.Sync.CellularSyncEnabled
	sched := scheduler.NewScheduler(orch, repo, hostDevice{}, schedCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if backgroundEnabled {
		sched.Start(ctx)
		defer sched.Stop()

		// Catch up on anything queued while the daemon was down.
		sched.TriggerSync(ctx)
	} else {
		log.Info("background sync disabled, waiting for explicit triggers", nil)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info("shutting down", map[string]interface{}{"signal": received.String()})
	return nil
}
