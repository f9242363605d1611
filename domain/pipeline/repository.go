package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/logger"
)

// Repository reconciles canonical records into the pipeline tables. All
// synced writes go through the Upsert* methods, keyed by the external
// correlation triple (organization id, external id, external source).
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("pipeline.repo")),
	}
}

func correlation(orgID string, externalID, externalSource *string) error {
	if externalID == nil || *externalID == "" || externalSource == nil || *externalSource == "" {
		return fmt.Errorf("record for organization %s is missing its external correlation key", orgID)
	}
	return nil
}

// UpsertCompany creates or updates a company by correlation key. The
// returned bool is true when a new row was created.
func (r *Repository) UpsertCompany(ctx context.Context, in *Company) (bool, error) {
	if err := correlation(in.OrganizationID, in.ExternalID, in.ExternalSource); err != nil {
		return false, err
	}

	var existing Company
	err := r.db.NewSelect().
		Model(&existing).
		Where("organization_id = ?", in.OrganizationID).
		Where("external_id = ?", *in.ExternalID).
		Where("external_source = ?", *in.ExternalSource).
		Scan(ctx)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		in.ID = uuid.NewString()
		in.CreatedAt = time.Now()
		in.UpdatedAt = in.CreatedAt
		if _, err := r.db.NewInsert().Model(in).Exec(ctx); err != nil {
			return false, apperror.ErrDatabase.WithInternal(err)
		}
		return true, nil
	case err != nil:
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	in.ID = existing.ID
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = time.Now()
	if _, err := r.db.NewUpdate().Model(in).WherePK().Exec(ctx); err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return false, nil
}

// UpsertContact creates or updates a contact by correlation key.
func (r *Repository) UpsertContact(ctx context.Context, in *Contact) (bool, error) {
	if err := correlation(in.OrganizationID, in.ExternalID, in.ExternalSource); err != nil {
		return false, err
	}

	var existing Contact
	err := r.db.NewSelect().
		Model(&existing).
		Where("organization_id = ?", in.OrganizationID).
		Where("external_id = ?", *in.ExternalID).
		Where("external_source = ?", *in.ExternalSource).
		Scan(ctx)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		in.ID = uuid.NewString()
		in.CreatedAt = time.Now()
		in.UpdatedAt = in.CreatedAt
		if _, err := r.db.NewInsert().Model(in).Exec(ctx); err != nil {
			return false, apperror.ErrDatabase.WithInternal(err)
		}
		return true, nil
	case err != nil:
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	in.ID = existing.ID
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = time.Now()
	if _, err := r.db.NewUpdate().Model(in).WherePK().Exec(ctx); err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return false, nil
}

// UpsertLead creates or updates a lead by correlation key.
func (r *Repository) UpsertLead(ctx context.Context, in *Lead) (bool, error) {
	if err := correlation(in.OrganizationID, in.ExternalID, in.ExternalSource); err != nil {
		return false, err
	}
	if in.Status == "" {
		in.Status = LeadStatusNew
	}
	if in.Source == "" {
		in.Source = LeadSourceOther
	}

	var existing Lead
	err := r.db.NewSelect().
		Model(&existing).
		Where("organization_id = ?", in.OrganizationID).
		Where("external_id = ?", *in.ExternalID).
		Where("external_source = ?", *in.ExternalSource).
		Scan(ctx)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		in.ID = uuid.NewString()
		in.CreatedAt = time.Now()
		in.UpdatedAt = in.CreatedAt
		if _, err := r.db.NewInsert().Model(in).Exec(ctx); err != nil {
			return false, apperror.ErrDatabase.WithInternal(err)
		}
		return true, nil
	case err != nil:
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	in.ID = existing.ID
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = time.Now()
	if _, err := r.db.NewUpdate().Model(in).WherePK().Exec(ctx); err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return false, nil
}

// UpsertDeal creates or updates a deal by correlation key. The caller
// must have resolved StageID first; a deal cannot exist without a stage.
func (r *Repository) UpsertDeal(ctx context.Context, in *Deal) (bool, error) {
	if err := correlation(in.OrganizationID, in.ExternalID, in.ExternalSource); err != nil {
		return false, err
	}
	if in.StageID == "" {
		return false, fmt.Errorf("deal %s has no pipeline stage", *in.ExternalID)
	}
	if in.Status == "" {
		in.Status = DealStatusOpen
	}

	var existing Deal
	err := r.db.NewSelect().
		Model(&existing).
		Where("organization_id = ?", in.OrganizationID).
		Where("external_id = ?", *in.ExternalID).
		Where("external_source = ?", *in.ExternalSource).
		Scan(ctx)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		in.ID = uuid.NewString()
		in.CreatedAt = time.Now()
		in.UpdatedAt = in.CreatedAt
		if _, err := r.db.NewInsert().Model(in).Exec(ctx); err != nil {
			return false, apperror.ErrDatabase.WithInternal(err)
		}
		return true, nil
	case err != nil:
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	in.ID = existing.ID
	in.CreatedAt = existing.CreatedAt
	in.UpdatedAt = time.Now()
	if _, err := r.db.NewUpdate().Model(in).WherePK().Exec(ctx); err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return false, nil
}

// FindCompanyID resolves a local company id from its external id within
// the same organization. Returns nil when the company has not been
// synced yet; callers link with a null foreign key and the next pass
// repairs it.
func (r *Repository) FindCompanyID(ctx context.Context, orgID, externalID, externalSource string) (*string, error) {
	if externalID == "" {
		return nil, nil
	}
	var company Company
	err := r.db.NewSelect().
		Model(&company).
		Column("id").
		Where("organization_id = ?", orgID).
		Where("external_id = ?", externalID).
		Where("external_source = ?", externalSource).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &company.ID, nil
}

// FindContactID resolves a local contact id from its external id.
func (r *Repository) FindContactID(ctx context.Context, orgID, externalID, externalSource string) (*string, error) {
	if externalID == "" {
		return nil, nil
	}
	var contact Contact
	err := r.db.NewSelect().
		Model(&contact).
		Column("id").
		Where("organization_id = ?", orgID).
		Where("external_id = ?", externalID).
		Where("external_source = ?", externalSource).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &contact.ID, nil
}

// EnsureDefaultStage returns the organization's first pipeline stage,
// creating the default Prospecting stage when the organization has no
// pipeline yet.
func (r *Repository) EnsureDefaultStage(ctx context.Context, orgID string) (*DealStage, error) {
	var stage DealStage
	err := r.db.NewSelect().
		Model(&stage).
		Where("organization_id = ?", orgID).
		Order("position ASC").
		Limit(1).
		Scan(ctx)
	if err == nil {
		return &stage, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	stage = DealStage{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Name:           DefaultStageName,
		Position:       DefaultStagePosition,
		Probability:    DefaultStageProbability,
		CreatedAt:      time.Now(),
	}
	if _, err := r.db.NewInsert().Model(&stage).Exec(ctx); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	r.log.Info("created default pipeline stage", slog.String("organizationId", orgID))
	return &stage, nil
}

// ClearExternalRefs nulls the external correlation fields on every
// record the given provider synced for the organization. The records
// themselves survive the disconnect.
func (r *Repository) ClearExternalRefs(ctx context.Context, orgID, externalSource string) error {
	for _, model := range []any{(*Company)(nil), (*Contact)(nil), (*Lead)(nil), (*Deal)(nil)} {
		q := r.db.NewUpdate().
			Model(model).
			Set("external_id = NULL").
			Set("external_source = NULL").
			Set("external_url = NULL").
			Set("last_synced_at = NULL").
			Where("organization_id = ?", orgID).
			Where("external_source = ?", externalSource)
		switch model.(type) {
		case *Contact:
			q = q.Set("external_company_id = NULL")
		case *Deal:
			q = q.Set("external_company_id = NULL").Set("external_contact_id = NULL")
		}
		if _, err := q.Exec(ctx); err != nil {
			return apperror.ErrDatabase.WithInternal(err)
		}
	}
	return nil
}

// GetDealByID loads one deal; used by the outbound push path to map
// local fields onto the provider update.
func (r *Repository) GetDealByID(ctx context.Context, orgID, id string) (*Deal, error) {
	var deal Deal
	err := r.db.NewSelect().
		Model(&deal).
		Where("organization_id = ?", orgID).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &deal, nil
}
