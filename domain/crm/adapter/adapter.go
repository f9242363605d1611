// Package adapter defines the capability contract every CRM provider
// implements, plus the normalized wire types shared by the sync engine.
//
// Provider identity is dispatched exactly once, through the Registry; no
// code past that point branches on which CRM it is talking to.
package adapter

import (
	"context"
	"sync"
	"time"
)

// Provider identifies a supported CRM.
type Provider string

const (
	ProviderHubSpot    Provider = "hubspot"
	ProviderSalesforce Provider = "salesforce"
	ProviderAttio      Provider = "attio"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderHubSpot, ProviderSalesforce, ProviderAttio:
		return true
	}
	return false
}

// EntityType identifies a canonical record kind.
type EntityType string

const (
	EntityCompany EntityType = "company"
	EntityContact EntityType = "contact"
	EntityLead    EntityType = "lead"
	EntityDeal    EntityType = "deal"
)

// SyncOrder is the fixed full-sync ordering. Contacts and Deals may
// reference a Company, and Deals a Contact, so dependencies sync first.
var SyncOrder = []EntityType{EntityCompany, EntityContact, EntityLead, EntityDeal}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityCompany, EntityContact, EntityLead, EntityDeal:
		return true
	}
	return false
}

// RawRecord is the provider-neutral record shape. Adapters flatten
// whatever nested or array-based value encoding their API uses into
// Properties before returning, so downstream code never sees provider
// payload structure.
type RawRecord struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	// URL is the deep link into the provider's UI for this record.
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// TokenSet is the result of an OAuth code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is zero when the provider does not report an expiry.
	ExpiresAt time.Time
	// InstanceURL is the per-tenant API base URL (Salesforce); empty for
	// providers with a fixed API host.
	InstanceURL string
}

// Credentials carries what an adapter needs to call the provider API on
// behalf of one integration.
type Credentials struct {
	AccessToken string
	InstanceURL string
}

// FetchOptions bounds a paginated listing call. Cursor is opaque: its
// shape (offset, after-token, or next-page URL) belongs to the adapter
// that produced it.
type FetchOptions struct {
	Cursor        string
	Limit         int
	ModifiedAfter time.Time
}

// Page is one page of a paginated listing. NextCursor is "" on the last
// page. Total is a best-effort count; -1 when the provider does not
// report one.
type Page struct {
	Records    []RawRecord
	NextCursor string
	Total      int
}

// WebhookAction is the change kind carried by a webhook event.
type WebhookAction string

const (
	ActionCreate WebhookAction = "create"
	ActionUpdate WebhookAction = "update"
	ActionDelete WebhookAction = "delete"
)

// WebhookEvent is one normalized change notification.
type WebhookEvent struct {
	EntityType EntityType
	Action     WebhookAction
	ExternalID string
	Timestamp  time.Time
	Data       map[string]any
}

// ManualWebhookID is the sentinel returned by RegisterWebhook for
// providers whose webhooks must be configured in their admin portal.
const ManualWebhookID = "manual-configuration-required"

// Adapter is the capability set implemented by each CRM provider.
type Adapter interface {
	// Provider returns the identity this adapter serves.
	Provider() Provider

	// AuthURL builds the provider's authorization endpoint URL with the
	// required scopes and the given signed state.
	AuthURL(state, redirectURI string) string

	// ExchangeCode trades a one-time authorization code for tokens.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error)

	// RefreshToken obtains a fresh token set. Callers must not assume the
	// old refresh token stays valid: when the response omits a new one the
	// previous token must be reused (Salesforce never rotates it).
	RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error)

	// FetchRecords returns one page of a full listing.
	FetchRecords(ctx context.Context, entityType EntityType, creds Credentials, opts FetchOptions) (*Page, error)

	// FetchRecordsModifiedSince returns records changed after since, up to
	// a generous single-shot cap. Callers that routinely hit the cap
	// should prefer the full-sync path.
	FetchRecordsModifiedSince(ctx context.Context, entityType EntityType, creds Credentials, since time.Time) ([]RawRecord, error)

	// FetchRecord is a point lookup. A 404 returns (nil, nil).
	FetchRecord(ctx context.Context, entityType EntityType, creds Credentials, externalID string) (*RawRecord, error)

	// UpdateRecord writes an allow-listed subset of fields and returns the
	// post-write record. Fields outside the allow list are dropped.
	UpdateRecord(ctx context.Context, entityType EntityType, creds Credentials, externalID string, fields map[string]any) (*RawRecord, error)

	// RegisterWebhook subscribes callbackURL to change events, returning
	// the subscription id, or ManualWebhookID for portal-configured
	// providers.
	RegisterWebhook(ctx context.Context, creds Credentials, callbackURL, secret string) (string, error)

	// DeleteWebhook removes a subscription. Best-effort semantics are the
	// caller's concern.
	DeleteWebhook(ctx context.Context, creds Credentials, webhookID string) error

	// VerifyWebhookSignature checks the provider signature over the raw
	// payload body in constant time.
	VerifyWebhookSignature(payload []byte, signature, secret string) bool

	// ParseWebhookPayload decodes the provider's event envelope.
	ParseWebhookPayload(payload []byte) ([]WebhookEvent, error)
}

// Registry is the single dispatch point from Provider to Adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Provider]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[Provider]Adapter)}
}

// Register adds an adapter, replacing any previous one for the provider.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Provider()] = a
}

// Get retrieves the adapter for a provider.
func (r *Registry) Get(p Provider) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// Providers returns all registered provider identities.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
