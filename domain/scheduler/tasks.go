package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/giftwell/giftwell/domain/crm"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/logger"
)

// IncrementalSyncSweepTask runs an incremental sync for every connected
// integration. One organization failing does not stop the sweep.
type IncrementalSyncSweepTask struct {
	repo         *crm.Repository
	orchestrator *crm.Orchestrator
	log          *slog.Logger
}

// NewIncrementalSyncSweepTask creates a new incremental sync sweep task
func NewIncrementalSyncSweepTask(repo *crm.Repository, orchestrator *crm.Orchestrator, log *slog.Logger) *IncrementalSyncSweepTask {
	return &IncrementalSyncSweepTask{
		repo:         repo,
		orchestrator: orchestrator,
		log:          log.With(logger.Scope("scheduler.sync_sweep")),
	}
}

// Run executes one sweep
func (t *IncrementalSyncSweepTask) Run(ctx context.Context) error {
	start := time.Now()

	integrations, err := t.repo.ListConnected(ctx)
	if err != nil {
		t.log.Error("failed to list connected integrations", logger.Error(err))
		return err
	}
	if len(integrations) == 0 {
		t.log.Debug("no connected integrations to sweep")
		return nil
	}

	swept, failed := 0, 0
	for _, integration := range integrations {
		result, err := t.orchestrator.IncrementalSync(ctx, integration.OrganizationID)
		if err != nil {
			// A full sync may have connected the org between the list and
			// this call; that is not a sweep failure.
			if errors.Is(err, apperror.ErrNotConnected) || errors.Is(err, apperror.ErrSyncInFlight) {
				continue
			}
			failed++
			t.log.Warn("incremental sync failed during sweep",
				logger.Error(err),
				slog.String("organizationId", integration.OrganizationID),
				slog.String("provider", string(integration.Provider)))
			continue
		}
		swept++
		if result.Counts.Processed > 0 {
			t.log.Info("swept integration",
				slog.String("organizationId", integration.OrganizationID),
				slog.String("provider", string(integration.Provider)),
				slog.Int("processed", result.Counts.Processed))
		}
	}

	t.log.Info("incremental sync sweep completed",
		slog.Int("integrations", len(integrations)),
		slog.Int("swept", swept),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// StuckSyncCleanupTask resets integrations stuck in SYNCING back to
// ERROR so the next full sync can take the lock again. An integration
// only gets stuck when the process died mid-sync; a live sync keeps its
// row's updated_at fresh enough to stay under the threshold.
type StuckSyncCleanupTask struct {
	db           *bun.DB
	log          *slog.Logger
	stuckMinutes int
}

// NewStuckSyncCleanupTask creates a new stuck sync cleanup task
func NewStuckSyncCleanupTask(db *bun.DB, log *slog.Logger, stuckMinutes int) *StuckSyncCleanupTask {
	if stuckMinutes <= 0 {
		stuckMinutes = 30
	}
	return &StuckSyncCleanupTask{
		db:           db,
		log:          log.With(logger.Scope("scheduler.stuck_sync_cleanup")),
		stuckMinutes: stuckMinutes,
	}
}

// Run executes the stuck sync cleanup
func (t *StuckSyncCleanupTask) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := time.Now().Add(-time.Duration(t.stuckMinutes) * time.Minute)

	result, err := t.db.ExecContext(ctx, `
		UPDATE crm_integrations
		SET status = 'ERROR',
		    last_sync_error = 'sync abandoned: exceeded maximum runtime',
		    updated_at = NOW()
		WHERE status = 'SYNCING' AND updated_at < ?
	`, cutoff)
	if err != nil {
		t.log.Error("failed to reset stuck syncs", logger.Error(err))
		return err
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		t.log.Warn("reset stuck syncs",
			slog.Int64("count", rowsAffected),
			slog.Int("stuckMinutes", t.stuckMinutes),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no stuck syncs to reset",
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}

// SyncLogRetentionTask prunes completed sync log rows past the
// retention window. Rows still in the started state are kept regardless
// of age; the stuck sync cleanup owns that corner.
type SyncLogRetentionTask struct {
	db            *bun.DB
	log           *slog.Logger
	retentionDays int
}

// NewSyncLogRetentionTask creates a new sync log retention task
func NewSyncLogRetentionTask(db *bun.DB, log *slog.Logger, retentionDays int) *SyncLogRetentionTask {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &SyncLogRetentionTask{
		db:            db,
		log:           log.With(logger.Scope("scheduler.sync_log_retention")),
		retentionDays: retentionDays,
	}
}

// Run executes the sync log retention pass
func (t *SyncLogRetentionTask) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := time.Now().AddDate(0, 0, -t.retentionDays)

	result, err := t.db.ExecContext(ctx, `
		DELETE FROM crm_sync_logs
		WHERE started_at < ? AND status != 'started'
	`, cutoff)
	if err != nil {
		t.log.Error("failed to prune sync logs", logger.Error(err))
		return err
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		t.log.Info("pruned old sync logs",
			slog.Int64("count", rowsAffected),
			slog.Int("retentionDays", t.retentionDays),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no sync logs to prune",
			slog.Duration("duration", time.Since(start)))
	}
	return nil
}
