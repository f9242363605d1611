package crm

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/logger"
)

// Repository handles integration and sync log persistence.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("crm.repo")),
	}
}

// GetByOrganization returns the organization's integration, or nil when
// none exists.
func (r *Repository) GetByOrganization(ctx context.Context, orgID string) (*Integration, error) {
	var integration Integration
	err := r.db.NewSelect().
		Model(&integration).
		Where("organization_id = ?", orgID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &integration, nil
}

// ListConnected returns every integration currently in the CONNECTED
// state, for the periodic incremental sweep.
func (r *Repository) ListConnected(ctx context.Context) ([]Integration, error) {
	var integrations []Integration
	err := r.db.NewSelect().
		Model(&integrations).
		Where("status = ?", StatusConnected).
		Order("organization_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return integrations, nil
}

// Create inserts a new integration, assigning its id.
func (r *Repository) Create(ctx context.Context, integration *Integration) error {
	integration.ID = uuid.NewString()
	integration.CreatedAt = time.Now()
	integration.UpdatedAt = integration.CreatedAt
	if _, err := r.db.NewInsert().Model(integration).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Update persists the full integration row.
func (r *Repository) Update(ctx context.Context, integration *Integration) error {
	integration.UpdatedAt = time.Now()
	if _, err := r.db.NewUpdate().Model(integration).WherePK().Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Delete removes the integration row; its sync logs go with it via the
// ON DELETE CASCADE on crm_sync_logs.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.NewDelete().Model((*Integration)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// TrySetSyncing atomically transitions CONNECTED -> SYNCING. It returns
// false when the row is not currently CONNECTED, which callers treat as
// "a sync is already running or the integration is unhealthy".
func (r *Repository) TrySetSyncing(ctx context.Context, id string) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("status = ?", StatusSyncing).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Where("status = ?", StatusConnected).
		Exec(ctx)
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return affected == 1, nil
}

// SetError transitions the integration to ERROR, recording the reason.
func (r *Repository) SetError(ctx context.Context, id, reason string) error {
	_, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("status = ?", StatusError).
		Set("last_sync_error = ?", reason).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// FinishSync records the end of a full sync: status back to CONNECTED
// (or ERROR), watermark stamped, outcome and error stored.
func (r *Repository) FinishSync(ctx context.Context, id string, status Status, outcome SyncOutcome, syncErr *string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("status = ?", status).
		Set("last_sync_at = ?", at).
		Set("last_sync_status = ?", outcome).
		Set("last_sync_error = ?", syncErr).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// FailSync marks a run failed: status ERROR, outcome FAILED, reason
// stored. The watermark is left alone so the next successful run picks
// up everything the failed one missed.
func (r *Repository) FailSync(ctx context.Context, id, reason string) error {
	_, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("status = ?", StatusError).
		Set("last_sync_status = ?", OutcomeFailed).
		Set("last_sync_error = ?", reason).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// AdvanceWatermark stamps last_sync_at and the outcome without touching
// status; incremental syncs never pass through SYNCING.
func (r *Repository) AdvanceWatermark(ctx context.Context, id string, outcome SyncOutcome, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("last_sync_at = ?", at).
		Set("last_sync_status = ?", outcome).
		Set("last_sync_error = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// UpdateTokens persists a fresh encrypted token set.
func (r *Repository) UpdateTokens(ctx context.Context, id, encAccess string, encRefresh *string, expiresAt *time.Time, instanceURL *string) error {
	q := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("access_token = ?", encAccess).
		Set("token_expires_at = ?", expiresAt).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id)
	if encRefresh != nil {
		q = q.Set("refresh_token = ?", *encRefresh)
	}
	if instanceURL != nil {
		q = q.Set("instance_url = ?", *instanceURL)
	}
	if _, err := q.Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// InsertSyncLog opens a new sync log entry in the started state.
func (r *Repository) InsertSyncLog(ctx context.Context, entry *SyncLog) error {
	entry.ID = uuid.NewString()
	entry.Status = RunStarted
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}
	if _, err := r.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// CompleteSyncLog writes the single completion update. The entry is
// never touched again afterward.
func (r *Repository) CompleteSyncLog(ctx context.Context, id string, status SyncRunStatus, counts Counts, errMsg *string) error {
	_, err := r.db.NewUpdate().
		Model((*SyncLog)(nil)).
		Set("status = ?", status).
		Set("processed = ?", counts.Processed).
		Set("created = ?", counts.Created).
		Set("updated = ?", counts.Updated).
		Set("skipped = ?", counts.Skipped).
		Set("failed = ?", counts.Failed).
		Set("completed_at = ?", time.Now()).
		Set("error_message = ?", errMsg).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// ListSyncLogs returns recent sync history for an integration, newest
// first.
func (r *Repository) ListSyncLogs(ctx context.Context, integrationID string, limit int) ([]SyncLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var logs []SyncLog
	err := r.db.NewSelect().
		Model(&logs).
		Where("integration_id = ?", integrationID).
		Order("started_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return logs, nil
}
