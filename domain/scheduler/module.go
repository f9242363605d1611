package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/giftwell/giftwell/domain/crm"
	"github.com/giftwell/giftwell/internal/config"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler    *Scheduler
	DB           *bun.DB
	Log          *slog.Logger
	Cfg          *Config
	AppCfg       *config.Config
	Repo         *crm.Repository
	Orchestrator *crm.Orchestrator
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	// In demo mode there are no real integrations to sweep; the
	// maintenance tasks still run so demo rows get cleaned up too.
	if p.AppCfg.CRM.DemoMode {
		p.Log.Info("demo mode active, skipping incremental sync sweep registration")
	} else {
		sweepTask := NewIncrementalSyncSweepTask(p.Repo, p.Orchestrator, p.Log)
		sweepInterval := p.Cfg.SyncSweepInterval
		if p.AppCfg.CRM.SweepInterval > 0 {
			sweepInterval = p.AppCfg.CRM.SweepInterval
		}
		if err := addScheduledTask(p.Scheduler, p.Log, "incremental_sync_sweep",
			p.Cfg.SyncSweepSchedule, sweepInterval, sweepTask.Run); err != nil {
			p.Log.Error("failed to register incremental sync sweep task",
				slog.String("error", err.Error()))
		}
	}

	stuckSyncTask := NewStuckSyncCleanupTask(p.DB, p.Log, p.Cfg.StuckSyncMinutes)
	if err := addScheduledTask(p.Scheduler, p.Log, "stuck_sync_cleanup",
		p.Cfg.StuckSyncCleanupSchedule, p.Cfg.StuckSyncCleanupInterval, stuckSyncTask.Run); err != nil {
		p.Log.Error("failed to register stuck sync cleanup task",
			slog.String("error", err.Error()))
	}

	retentionTask := NewSyncLogRetentionTask(p.DB, p.Log, p.Cfg.SyncLogRetentionDays)
	if err := addScheduledTask(p.Scheduler, p.Log, "sync_log_retention",
		p.Cfg.SyncLogRetentionSchedule, p.Cfg.SyncLogRetentionInterval, retentionTask.Run); err != nil {
		p.Log.Error("failed to register sync log retention task",
			slog.String("error", err.Error()))
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// addScheduledTask registers a task by cron schedule when one is set,
// falling back to a fixed interval otherwise.
func addScheduledTask(s *Scheduler, log *slog.Logger, name, schedule string, interval time.Duration, task TaskFunc) error {
	if schedule != "" {
		return s.AddCronTask(name, schedule, task)
	}
	return s.AddIntervalTask(name, interval, task)
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
