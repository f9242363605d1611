package crm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/domain/pipeline"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/encryption"
	"github.com/giftwell/giftwell/pkg/logger"
)

// demoSyncDelay makes the simulated sync observably pass through the
// SYNCING state, like a real one would.
const demoSyncDelay = 2 * time.Second

// DemoService runs the subsystem without provider credentials. It is
// interface-compatible with the real path: same status transitions,
// same return shapes, no network.
type DemoService struct {
	repo     *Repository
	pipeline *pipeline.Repository
	enc      *encryption.Service
	log      *slog.Logger

	// delay is overridable in tests.
	delay time.Duration
}

func NewDemoService(repo *Repository, pipelineRepo *pipeline.Repository, enc *encryption.Service, log *slog.Logger) *DemoService {
	return &DemoService{
		repo:     repo,
		pipeline: pipelineRepo,
		enc:      enc,
		log:      log.With(logger.Scope("crm.demo")),
		delay:    demoSyncDelay,
	}
}

// CreateDemoIntegration connects a fake integration and seeds
// deterministic sample data so every product surface has something to
// show.
func (s *DemoService) CreateDemoIntegration(ctx context.Context, orgID string, provider adapter.Provider) (*Integration, error) {
	if !provider.Valid() {
		return nil, apperror.ErrBadRequest.WithMessage(fmt.Sprintf("unknown provider %q", provider))
	}

	existing, err := s.repo.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != StatusDisconnected {
		return nil, apperror.ErrConflict.WithMessage("an integration is already connected for this organization")
	}

	encToken, err := s.enc.Encrypt("demo-access-token")
	if err != nil {
		return nil, err
	}

	integration := existing
	if integration == nil {
		integration = &Integration{
			OrganizationID: orgID,
			Provider:       provider,
			AccessToken:    encToken,
			Status:         StatusConnected,
		}
		if err := s.repo.Create(ctx, integration); err != nil {
			return nil, err
		}
	} else {
		integration.Provider = provider
		integration.AccessToken = encToken
		integration.Status = StatusConnected
		if err := s.repo.Update(ctx, integration); err != nil {
			return nil, err
		}
	}

	if err := s.seed(ctx, orgID, provider); err != nil {
		return nil, err
	}

	s.log.Info("demo integration created",
		slog.String("organizationId", orgID),
		slog.String("provider", string(provider)))
	return integration, nil
}

// SimulateDemoSync performs the timed CONNECTED -> SYNCING -> CONNECTED
// transition a real sync would, writing a completed sync log, without
// touching any network.
func (s *DemoService) SimulateDemoSync(ctx context.Context, orgID string) (*SyncResult, error) {
	integration, err := s.repo.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, apperror.ErrNotConnected
	}

	locked, err := s.repo.TrySetSyncing(ctx, integration.ID)
	if err != nil {
		return nil, err
	}
	if !locked {
		return nil, apperror.ErrSyncInFlight
	}

	entry := &SyncLog{
		IntegrationID: integration.ID,
		EntityScope:   ScopeAll,
		Operation:     OpFullSync,
		Direction:     DirectionInbound,
		Metadata:      map[string]any{"demo": true},
	}
	if err := s.repo.InsertSyncLog(ctx, entry); err != nil {
		return nil, err
	}

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	counts := Counts{Processed: len(demoCompanies) + len(demoContacts) + len(demoLeads) + len(demoDeals)}
	counts.Updated = counts.Processed

	now := time.Now()
	if err := s.repo.FinishSync(ctx, integration.ID, StatusConnected, OutcomeSuccess, nil, now); err != nil {
		return nil, err
	}
	if err := s.repo.CompleteSyncLog(ctx, entry.ID, RunCompleted, counts, nil); err != nil {
		return nil, err
	}

	return &SyncResult{Outcome: OutcomeSuccess, Counts: counts, Duration: s.delay}, nil
}

type demoCompany struct {
	id, name, domain, industry string
	employees                  int
}

type demoPerson struct {
	id, first, last, email, title, companyID string
}

type demoDeal struct {
	id, name, stage string
	amount          float64
	companyID       string
}

var demoCompanies = []demoCompany{
	{"demo-co-1", "Globex Corporation", "globex.example", "Manufacturing", 2500},
	{"demo-co-2", "Initech", "initech.example", "Software", 120},
	{"demo-co-3", "Hooli", "hooli.example", "Internet", 8000},
}

var demoContacts = []demoPerson{
	{"demo-ct-1", "Ada", "Lovelace", "ada@globex.example", "CTO", "demo-co-1"},
	{"demo-ct-2", "Grace", "Hopper", "grace@initech.example", "VP Engineering", "demo-co-2"},
	{"demo-ct-3", "Alan", "Turing", "alan@hooli.example", "Head of Research", "demo-co-3"},
}

var demoLeads = []demoPerson{
	{"demo-ld-1", "Katherine", "Johnson", "katherine@orbit.example", "Director of Analytics", ""},
	{"demo-ld-2", "Margaret", "Hamilton", "margaret@apollo.example", "Founder", ""},
}

var demoDeals = []demoDeal{
	{"demo-dl-1", "Globex annual gifting program", "Negotiation", 48000, "demo-co-1"},
	{"demo-dl-2", "Initech onboarding kits", "Prospecting", 7500, "demo-co-2"},
}

// seed upserts the fixture records through the same reconciliation path
// real syncs use, so reseeding is idempotent.
func (s *DemoService) seed(ctx context.Context, orgID string, provider adapter.Provider) error {
	source := string(provider)
	now := time.Now()

	for _, c := range demoCompanies {
		company := &pipeline.Company{
			OrganizationID: orgID,
			Name:           c.name,
			Domain:         ptrStr(c.domain),
			Industry:       ptrStr(c.industry),
			EmployeeCount:  &c.employees,
			ExternalID:     ptrStr(c.id),
			ExternalSource: &source,
			ExternalURL:    ptrStr("https://demo.giftwell.io/crm/" + c.id),
			LastSyncedAt:   &now,
		}
		if _, err := s.pipeline.UpsertCompany(ctx, company); err != nil {
			return err
		}
	}

	for _, p := range demoContacts {
		companyID, err := s.pipeline.FindCompanyID(ctx, orgID, p.companyID, source)
		if err != nil {
			return err
		}
		contact := &pipeline.Contact{
			OrganizationID:    orgID,
			FirstName:         p.first,
			LastName:          p.last,
			Email:             ptrStr(p.email),
			JobTitle:          ptrStr(p.title),
			CompanyID:         companyID,
			ExternalCompanyID: ptrStr(p.companyID),
			ExternalID:        ptrStr(p.id),
			ExternalSource:    &source,
			ExternalURL:       ptrStr("https://demo.giftwell.io/crm/" + p.id),
			LastSyncedAt:      &now,
		}
		if _, err := s.pipeline.UpsertContact(ctx, contact); err != nil {
			return err
		}
	}

	for _, p := range demoLeads {
		lead := &pipeline.Lead{
			OrganizationID: orgID,
			FirstName:      p.first,
			LastName:       p.last,
			Email:          ptrStr(p.email),
			JobTitle:       ptrStr(p.title),
			Status:         pipeline.LeadStatusNew,
			Source:         pipeline.LeadSourceCRMImport,
			ExternalID:     ptrStr(p.id),
			ExternalSource: &source,
			ExternalURL:    ptrStr("https://demo.giftwell.io/crm/" + p.id),
			LastSyncedAt:   &now,
		}
		if _, err := s.pipeline.UpsertLead(ctx, lead); err != nil {
			return err
		}
	}

	stage, err := s.pipeline.EnsureDefaultStage(ctx, orgID)
	if err != nil {
		return err
	}
	for _, d := range demoDeals {
		companyID, err := s.pipeline.FindCompanyID(ctx, orgID, d.companyID, source)
		if err != nil {
			return err
		}
		deal := &pipeline.Deal{
			OrganizationID:    orgID,
			Name:              d.name,
			Amount:            d.amount,
			Status:            pipeline.DealStatusOpen,
			StageID:           stage.ID,
			StageName:         ptrStr(d.stage),
			CompanyID:         companyID,
			ExternalCompanyID: ptrStr(d.companyID),
			ExternalID:        ptrStr(d.id),
			ExternalSource:    &source,
			ExternalURL:       ptrStr("https://demo.giftwell.io/crm/" + d.id),
			LastSyncedAt:      &now,
		}
		if _, err := s.pipeline.UpsertDeal(ctx, deal); err != nil {
			return err
		}
	}
	return nil
}

func ptrStr(s string) *string {
	return &s
}
