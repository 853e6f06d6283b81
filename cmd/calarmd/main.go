package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calarmd/internal/alarm"
	"calarmd/internal/calendar"
	"calarmd/internal/config"
	"calarmd/internal/db"
	"calarmd/internal/dispatch"
	"calarmd/internal/ics"
	"calarmd/internal/log"
	"calarmd/internal/model"
	"calarmd/internal/reconcile"
)

func main() {
	var (
		configPath = flag.String("config", defaultConfigPath(), "path to config file")
		dbPath     = flag.String("db", "", "sqlite path (overrides config)")
		once       = flag.Bool("once", false, "run one reconciliation and exit")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	log.SetDebug(*debug || cfg.Debug)

	loc, err := cfg.Location()
	if err != nil {
		fatal(fmt.Errorf("resolve timezone %q: %w", cfg.Timezone, err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}
	if err := applyConfigSettings(ctx, store, cfg); err != nil {
		fatal(err)
	}

	alarms := alarm.NewService(func(localID int64, firedAt time.Time) {
		fireCtx, fireCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer fireCancel()
		if err := store.MarkEventFired(fireCtx, localID, firedAt); err != nil {
			log.Error("settle fired alarm", err, "local_id", localID)
			return
		}
		log.Info("alarm fired", "local_id", localID, "fired_at", firedAt)
	})
	defer alarms.Close()

	providers := make(calendar.Multi, 0, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		providers = append(providers, ics.NewFeed(feed.URL, cfg.FetchTimeout))
	}

	dispatcher := dispatch.New(alarms)
	tier := calendar.StaticTier{Premium: cfg.Premium}
	orch := reconcile.NewOrchestrator(store, providers, dispatcher, tier, cfg.DailyAlarmLimit, loc)

	if *once {
		outcome, err := orch.Run(ctx, cfg.AccountID, model.TriggerManual)
		if err != nil {
			log.Error("run failed", err, "status", string(outcome.Status), "reason", outcome.Reason)
			os.Exit(1)
		}
		log.Info("run finished", "status", string(outcome.Status), "failed", outcome.FailedCount)
		return
	}

	queue := reconcile.NewQueue(orch, cfg.AccountID)
	queue.Start(ctx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SyncCron, func() {
		queue.Trigger(model.TriggerPeriodic)
	}); err != nil {
		fatal(fmt.Errorf("invalid sync_cron %q: %w", cfg.SyncCron, err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initial pass on startup so alarms converge before the first cron tick.
	queue.Trigger(model.TriggerManual)

	log.Info("calarmd running",
		"account", cfg.AccountID,
		"feeds", len(cfg.Feeds),
		"sync_cron", cfg.SyncCron,
		"db", cfg.DBPath,
	)
	<-ctx.Done()
	log.Info("calarmd exiting")
}

// applyConfigSettings pushes config-derived knobs onto the account's
// settings row while preserving its last-synced time.
func applyConfigSettings(ctx context.Context, store *db.Store, cfg *config.Config) error {
	settings, err := store.GetSettings(ctx, cfg.AccountID)
	if err != nil {
		return fmt.Errorf("load account settings: %w", err)
	}
	settings.TriggerLeadMinutes = cfg.TriggerLeadMinutes
	settings.SyncWindowDays = cfg.SyncWindowDays
	settings.IsPremium = cfg.Premium
	settings.UpdatedAt = time.Now().UTC()
	if err := store.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("save account settings: %w", err)
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "calarmd.yaml"
	}
	return home + "/.config/calarmd/config.yaml"
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "calarmd: %v\n", err)
	os.Exit(1)
}
