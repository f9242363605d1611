package crm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/domain/crm/mapper"
	"github.com/giftwell/giftwell/domain/pipeline"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/logger"
)

// integrationStore is the slice of the repository the orchestrator needs.
type integrationStore interface {
	GetByOrganization(ctx context.Context, orgID string) (*Integration, error)
	TrySetSyncing(ctx context.Context, id string) (bool, error)
	FinishSync(ctx context.Context, id string, status Status, outcome SyncOutcome, syncErr *string, at time.Time) error
	FailSync(ctx context.Context, id, reason string) error
	AdvanceWatermark(ctx context.Context, id string, outcome SyncOutcome, at time.Time) error
	InsertSyncLog(ctx context.Context, entry *SyncLog) error
	CompleteSyncLog(ctx context.Context, id string, status SyncRunStatus, counts Counts, errMsg *string) error
}

// pipelineStore is the reconciliation surface of the pipeline repository.
type pipelineStore interface {
	UpsertCompany(ctx context.Context, in *pipeline.Company) (bool, error)
	UpsertContact(ctx context.Context, in *pipeline.Contact) (bool, error)
	UpsertLead(ctx context.Context, in *pipeline.Lead) (bool, error)
	UpsertDeal(ctx context.Context, in *pipeline.Deal) (bool, error)
	FindCompanyID(ctx context.Context, orgID, externalID, externalSource string) (*string, error)
	FindContactID(ctx context.Context, orgID, externalID, externalSource string) (*string, error)
	EnsureDefaultStage(ctx context.Context, orgID string) (*pipeline.DealStage, error)
}

// credentialSource hands out currently valid provider credentials.
type credentialSource interface {
	GetValidAccessToken(ctx context.Context, orgID string) (adapter.Credentials, error)
}

// Orchestrator runs full and incremental sync passes and the outbound
// push path. It is the only component that touches both the local store
// and a provider adapter in one operation.
type Orchestrator struct {
	integrations integrationStore
	pipeline     pipelineStore
	creds        credentialSource
	registry     *adapter.Registry
	metrics      *Metrics
	log          *slog.Logger
}

func NewOrchestrator(repo *Repository, pipelineRepo *pipeline.Repository, tokens *TokenService, registry *adapter.Registry, metrics *Metrics, log *slog.Logger) *Orchestrator {
	return newOrchestrator(repo, pipelineRepo, tokens, registry, metrics, log)
}

func newOrchestrator(integrations integrationStore, pipelineStore pipelineStore, creds credentialSource, registry *adapter.Registry, metrics *Metrics, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		integrations: integrations,
		pipeline:     pipelineStore,
		creds:        creds,
		registry:     registry,
		metrics:      metrics,
		log:          log.With(logger.Scope("crm.sync")),
	}
}

// SyncResult is returned by full and incremental sync runs.
type SyncResult struct {
	Outcome  SyncOutcome                   `json:"outcome"`
	Counts   Counts                        `json:"counts"`
	PerType  map[adapter.EntityType]Counts `json:"per_type"`
	Duration time.Duration                 `json:"duration"`
}

// FullSync drains every entity type from the provider in dependency
// order, mapping and upserting each record. The SYNCING status is taken
// as an advisory lock first; a second invocation while one runs is
// rejected, not queued.
func (o *Orchestrator) FullSync(ctx context.Context, orgID string) (*SyncResult, error) {
	integration, err := o.integrations.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, apperror.ErrNotConnected
	}

	locked, err := o.integrations.TrySetSyncing(ctx, integration.ID)
	if err != nil {
		return nil, err
	}
	if !locked {
		if integration.Status == StatusSyncing {
			return nil, apperror.ErrSyncInFlight
		}
		return nil, apperror.ErrNotConnected
	}

	prov, ok := o.registry.Get(integration.Provider)
	if !ok {
		o.failSync(ctx, integration, nil, fmt.Sprintf("provider %s is not configured", integration.Provider))
		return nil, apperror.ErrConfiguration
	}

	entry := &SyncLog{
		IntegrationID: integration.ID,
		EntityScope:   ScopeAll,
		Operation:     OpFullSync,
		Direction:     DirectionInbound,
	}
	if err := o.integrations.InsertSyncLog(ctx, entry); err != nil {
		return nil, err
	}
	started := time.Now()

	creds, err := o.creds.GetValidAccessToken(ctx, orgID)
	if err != nil {
		o.failSync(ctx, integration, entry, err.Error())
		return nil, err
	}

	result := &SyncResult{PerType: make(map[adapter.EntityType]Counts)}
	for _, entityType := range adapter.SyncOrder {
		counts, err := o.syncEntityFull(ctx, integration, prov, creds, entityType)
		result.PerType[entityType] = counts
		result.Counts.Add(counts)
		if err != nil {
			// Paging-level failure aborts the whole run; per-record
			// failures were already absorbed into the counters.
			o.metrics.RecordRun(integration.Provider, OpFullSync, RunFailed)
			o.failSyncWithCounts(ctx, integration, entry, result.Counts, err.Error())
			return nil, err
		}
	}

	outcome := OutcomeSuccess
	if result.Counts.Failed > 0 {
		outcome = OutcomePartial
	}
	result.Outcome = outcome
	result.Duration = time.Since(started)

	now := time.Now()
	if err := o.integrations.FinishSync(ctx, integration.ID, StatusConnected, outcome, nil, now); err != nil {
		return nil, err
	}
	if err := o.integrations.CompleteSyncLog(ctx, entry.ID, RunCompleted, result.Counts, nil); err != nil {
		return nil, err
	}
	o.metrics.RecordRun(integration.Provider, OpFullSync, RunCompleted)

	o.log.Info("full sync finished",
		slog.String("organizationId", orgID),
		slog.String("provider", string(integration.Provider)),
		slog.String("outcome", string(outcome)),
		slog.Int("processed", result.Counts.Processed),
		slog.Int("failed", result.Counts.Failed),
		slog.Duration("duration", result.Duration))
	return result, nil
}

func (o *Orchestrator) syncEntityFull(ctx context.Context, integration *Integration, prov adapter.Adapter, creds adapter.Credentials, entityType adapter.EntityType) (Counts, error) {
	var counts Counts
	cursor := ""
	for {
		page, err := prov.FetchRecords(ctx, entityType, creds, adapter.FetchOptions{Cursor: cursor})
		if err != nil {
			return counts, err
		}
		for _, rec := range page.Records {
			counts.Add(o.upsertRecord(ctx, integration, entityType, rec))
		}
		if page.NextCursor == "" {
			return counts, nil
		}
		cursor = page.NextCursor
	}
}

// IncrementalSync fetches only records modified after the stored
// watermark. It is cheap by design: no SYNCING transition, no
// paging, and the watermark always advances to "now" on completion so
// the next window stays simple (accepting a small overlap).
func (o *Orchestrator) IncrementalSync(ctx context.Context, orgID string) (*SyncResult, error) {
	integration, err := o.integrations.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if integration == nil || integration.Status != StatusConnected {
		return nil, apperror.ErrNotConnected
	}

	prov, ok := o.registry.Get(integration.Provider)
	if !ok {
		return nil, apperror.ErrConfiguration
	}

	watermark := time.Unix(0, 0)
	if integration.LastSyncAt != nil {
		watermark = *integration.LastSyncAt
	}

	entry := &SyncLog{
		IntegrationID: integration.ID,
		EntityScope:   ScopeAll,
		Operation:     OpIncremental,
		Direction:     DirectionInbound,
		Metadata:      map[string]any{"watermark": watermark.UTC().Format(time.RFC3339)},
	}
	if err := o.integrations.InsertSyncLog(ctx, entry); err != nil {
		return nil, err
	}
	started := time.Now()

	creds, err := o.creds.GetValidAccessToken(ctx, orgID)
	if err != nil {
		msg := err.Error()
		_ = o.integrations.CompleteSyncLog(ctx, entry.ID, RunFailed, Counts{}, &msg)
		return nil, err
	}

	result := &SyncResult{PerType: make(map[adapter.EntityType]Counts)}
	for _, entityType := range adapter.SyncOrder {
		records, err := prov.FetchRecordsModifiedSince(ctx, entityType, creds, watermark)
		if err != nil {
			o.metrics.RecordRun(integration.Provider, OpIncremental, RunFailed)
			msg := err.Error()
			_ = o.integrations.CompleteSyncLog(ctx, entry.ID, RunFailed, result.Counts, &msg)
			return nil, err
		}
		var counts Counts
		for _, rec := range records {
			counts.Add(o.upsertRecord(ctx, integration, entityType, rec))
		}
		result.PerType[entityType] = counts
		result.Counts.Add(counts)
	}

	outcome := OutcomeSuccess
	if result.Counts.Failed > 0 {
		outcome = OutcomePartial
	}
	result.Outcome = outcome
	result.Duration = time.Since(started)

	if err := o.integrations.AdvanceWatermark(ctx, integration.ID, outcome, time.Now()); err != nil {
		return nil, err
	}
	if err := o.integrations.CompleteSyncLog(ctx, entry.ID, RunCompleted, result.Counts, nil); err != nil {
		return nil, err
	}
	o.metrics.RecordRun(integration.Provider, OpIncremental, RunCompleted)
	return result, nil
}

// RefreshRecord re-fetches one record from the provider and reconciles
// it, used by webhook ingestion for targeted updates. A record the
// provider no longer has is silently ignored.
func (o *Orchestrator) RefreshRecord(ctx context.Context, orgID string, entityType adapter.EntityType, externalID string) error {
	integration, err := o.integrations.GetByOrganization(ctx, orgID)
	if err != nil {
		return err
	}
	if integration == nil || integration.Status == StatusDisconnected {
		return apperror.ErrNotConnected
	}

	prov, ok := o.registry.Get(integration.Provider)
	if !ok {
		return apperror.ErrConfiguration
	}

	creds, err := o.creds.GetValidAccessToken(ctx, orgID)
	if err != nil {
		return err
	}

	rec, err := prov.FetchRecord(ctx, entityType, creds, externalID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if _, err := o.reconcile(ctx, integration, entityType, *rec); err != nil {
		return err
	}
	o.metrics.RecordEntity(integration.Provider, entityType, "refreshed")
	return nil
}

// upsertRecord maps one raw record and reconciles it into the pipeline
// store. Failures are contained here: one bad record costs one failed
// count, never the batch.
func (o *Orchestrator) upsertRecord(ctx context.Context, integration *Integration, entityType adapter.EntityType, rec adapter.RawRecord) Counts {
	counts := Counts{Processed: 1}
	created, err := o.reconcile(ctx, integration, entityType, rec)
	if err != nil {
		counts.Failed = 1
		o.metrics.RecordEntity(integration.Provider, entityType, "failed")
		o.log.Warn("record upsert failed",
			logger.Error(err),
			slog.String("organizationId", integration.OrganizationID),
			slog.String("entityType", string(entityType)),
			slog.String("externalId", rec.ID))
		return counts
	}
	if created {
		counts.Created = 1
		o.metrics.RecordEntity(integration.Provider, entityType, "created")
	} else {
		counts.Updated = 1
		o.metrics.RecordEntity(integration.Provider, entityType, "updated")
	}
	return counts
}

func (o *Orchestrator) reconcile(ctx context.Context, integration *Integration, entityType adapter.EntityType, rec adapter.RawRecord) (bool, error) {
	orgID := integration.OrganizationID
	provider := integration.Provider
	now := time.Now()

	switch entityType {
	case adapter.EntityCompany:
		company := mapper.MapCompany(provider, rec)
		company.OrganizationID = orgID
		company.LastSyncedAt = &now
		return o.pipeline.UpsertCompany(ctx, company)

	case adapter.EntityContact:
		contact := mapper.MapContact(provider, rec)
		contact.OrganizationID = orgID
		contact.LastSyncedAt = &now
		if contact.ExternalCompanyID != nil {
			// Missing companies link as null and heal on the next pass.
			companyID, err := o.pipeline.FindCompanyID(ctx, orgID, *contact.ExternalCompanyID, string(provider))
			if err != nil {
				return false, err
			}
			contact.CompanyID = companyID
		}
		return o.pipeline.UpsertContact(ctx, contact)

	case adapter.EntityLead:
		lead := mapper.MapLead(provider, rec)
		lead.OrganizationID = orgID
		lead.LastSyncedAt = &now
		return o.pipeline.UpsertLead(ctx, lead)

	case adapter.EntityDeal:
		deal := mapper.MapDeal(provider, rec)
		deal.OrganizationID = orgID
		deal.LastSyncedAt = &now

		stage, err := o.pipeline.EnsureDefaultStage(ctx, orgID)
		if err != nil {
			return false, err
		}
		deal.StageID = stage.ID

		if deal.ExternalCompanyID != nil {
			companyID, err := o.pipeline.FindCompanyID(ctx, orgID, *deal.ExternalCompanyID, string(provider))
			if err != nil {
				return false, err
			}
			deal.CompanyID = companyID
		}
		if deal.ExternalContactID != nil {
			contactID, err := o.pipeline.FindContactID(ctx, orgID, *deal.ExternalContactID, string(provider))
			if err != nil {
				return false, err
			}
			deal.ContactID = contactID
		}
		return o.pipeline.UpsertDeal(ctx, deal)
	}
	return false, fmt.Errorf("unsupported entity type %q", entityType)
}

func (o *Orchestrator) failSync(ctx context.Context, integration *Integration, entry *SyncLog, reason string) {
	o.failSyncWithCounts(ctx, integration, entry, Counts{}, reason)
}

func (o *Orchestrator) failSyncWithCounts(ctx context.Context, integration *Integration, entry *SyncLog, counts Counts, reason string) {
	if err := o.integrations.FailSync(ctx, integration.ID, reason); err != nil {
		o.log.Error("failed to record sync failure", logger.Error(err))
	}
	if entry != nil {
		if err := o.integrations.CompleteSyncLog(ctx, entry.ID, RunFailed, counts, &reason); err != nil {
			o.log.Error("failed to complete sync log", logger.Error(err))
		}
	}
}
