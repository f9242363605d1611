package attio

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/logger"
)

const (
	defaultPageLimit = 100
	deltaRecordCap   = 1000
	// deltaScanCap bounds how many records the client-side delta filter
	// will page through before giving up. Attio's record query has no
	// modified-since filter, so deltas scan newest-first and stop early.
	deltaScanCap = 2000
)

// objectSlugs maps canonical entity types to Attio object API slugs.
// Leads are a workspace-defined object; companies, people and deals are
// Attio standard objects.
var objectSlugs = map[adapter.EntityType]string{
	adapter.EntityCompany: "companies",
	adapter.EntityContact: "people",
	adapter.EntityLead:    "leads",
	adapter.EntityDeal:    "deals",
}

// writableAttributes is the allow list for outbound updates.
var writableAttributes = map[adapter.EntityType][]string{
	adapter.EntityCompany: {"name", "domains", "description", "categories"},
	adapter.EntityContact: {"name", "email_addresses", "phone_numbers", "job_title", "description"},
	adapter.EntityLead:    {"name", "email_addresses", "phone_numbers", "job_title", "status"},
	adapter.EntityDeal:    {"name", "stage", "value", "owner"},
}

var oauthScopes = []string{
	"record_permission:read-write",
	"object_configuration:read",
	"webhook:read-write",
}

// Adapter implements the provider contract against the Attio v2 API.
type Adapter struct {
	clientID     string
	clientSecret string
	apiBase      string
	authBase     string
	tokenBase    string
	client       *client
	log          *slog.Logger
}

// Option overrides adapter defaults, primarily for tests.
type Option func(*Adapter)

// WithBaseURLs points the adapter at alternate API and OAuth endpoints.
func WithBaseURLs(api, authorize, token string) Option {
	return func(a *Adapter) {
		a.apiBase = api
		a.authBase = authorize
		a.tokenBase = token
	}
}

func New(clientID, clientSecret string, timeout time.Duration, log *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		apiBase:      apiBaseURL,
		authBase:     authorizeURL,
		tokenBase:    tokenURL,
		client:       newClient(timeout, log),
		log:          log.With(logger.Scope("attio")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Provider() adapter.Provider {
	return adapter.ProviderAttio
}

func (a *Adapter) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       oauthScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.authBase,
			TokenURL:  a.tokenBase,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (a *Adapter) AuthURL(state, redirectURI string) string {
	return a.oauthConfig(redirectURI).AuthCodeURL(state)
}

// ExchangeCode trades the code for an Attio workspace token. Attio access
// tokens are long-lived and come without a refresh token or expiry; the
// token store treats that combination as non-expiring.
func (a *Adapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*adapter.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client.httpClient)
	tok, err := a.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			status := 0
			if rErr.Response != nil {
				status = rErr.Response.StatusCode
			}
			return nil, &adapter.TokenExchangeError{
				Provider: adapter.ProviderAttio,
				Status:   status,
				Body:     string(rErr.Body),
			}
		}
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return &adapter.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}, nil
}

func (a *Adapter) RefreshToken(ctx context.Context, refreshToken string) (*adapter.TokenSet, error) {
	return nil, fmt.Errorf("attio access tokens are long-lived and cannot be refreshed")
}

type recordID struct {
	WorkspaceID string `json:"workspace_id"`
	ObjectID    string `json:"object_id"`
	RecordID    string `json:"record_id"`
}

type attioRecord struct {
	ID        recordID       `json:"id"`
	Values    map[string]any `json:"values"`
	WebURL    string         `json:"web_url"`
	CreatedAt time.Time      `json:"created_at"`
}

type queryResponse struct {
	Data []attioRecord `json:"data"`
}

// FetchRecords queries one page of records. Attio paginates by offset, so
// the opaque cursor is the next offset rendered as a string.
func (a *Adapter) FetchRecords(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, opts adapter.FetchOptions) (*adapter.Page, error) {
	slug, ok := objectSlugs[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	limit := opts.Limit
	if limit <= 0 || limit > defaultPageLimit {
		limit = defaultPageLimit
	}
	offset := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", opts.Cursor)
		}
		offset = n
	}

	urlStr := fmt.Sprintf("%s/v2/objects/%s/records/query", a.apiBase, slug)
	payload := map[string]any{
		"limit":  limit,
		"offset": offset,
		"sorts": []map[string]any{
			{"attribute": "created_at", "direction": "desc"},
		},
	}

	body, _, err := a.client.request(ctx, creds.AccessToken, "POST", urlStr, payload, "query "+slug)
	if err != nil {
		return nil, err
	}

	var result queryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode %s query: %w", slug, err)
	}

	page := &adapter.Page{
		Records: make([]adapter.RawRecord, 0, len(result.Data)),
		Total:   -1,
	}
	for _, rec := range result.Data {
		page.Records = append(page.Records, toRawRecord(rec))
	}
	// A full page means there may be more; a short page is the last one.
	if len(result.Data) == limit {
		page.NextCursor = strconv.Itoa(offset + limit)
	}
	return page, nil
}

// FetchRecordsModifiedSince filters client-side: Attio's record query has
// no server-side modified-since filter. Records are scanned newest-first
// and the scan stops at the first page that is entirely older than since.
func (a *Adapter) FetchRecordsModifiedSince(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, since time.Time) ([]adapter.RawRecord, error) {
	var records []adapter.RawRecord
	cursor := ""
	scanned := 0

	for scanned < deltaScanCap && len(records) < deltaRecordCap {
		page, err := a.FetchRecords(ctx, entityType, creds, adapter.FetchOptions{
			Cursor: cursor,
			Limit:  defaultPageLimit,
		})
		if err != nil {
			return nil, err
		}

		anyFresh := false
		for _, rec := range page.Records {
			scanned++
			ts := rec.UpdatedAt
			if ts.IsZero() {
				ts = rec.CreatedAt
			}
			if ts.After(since) {
				records = append(records, rec)
				anyFresh = true
			}
		}

		if page.NextCursor == "" || !anyFresh {
			break
		}
		cursor = page.NextCursor
	}

	if len(records) > deltaRecordCap {
		records = records[:deltaRecordCap]
	}
	return records, nil
}

func (a *Adapter) FetchRecord(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, externalID string) (*adapter.RawRecord, error) {
	slug, ok := objectSlugs[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	urlStr := fmt.Sprintf("%s/v2/objects/%s/records/%s", a.apiBase, slug, url.PathEscape(externalID))
	body, status, err := a.client.request(ctx, creds.AccessToken, "GET", urlStr, nil, "get "+slug)
	if err != nil {
		if status == 404 {
			return nil, nil
		}
		return nil, err
	}

	var result struct {
		Data attioRecord `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode %s: %w", slug, err)
	}
	raw := toRawRecord(result.Data)
	return &raw, nil
}

func (a *Adapter) UpdateRecord(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, externalID string, fields map[string]any) (*adapter.RawRecord, error) {
	slug, ok := objectSlugs[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	allowed := make(map[string]any)
	for _, name := range writableAttributes[entityType] {
		if v, ok := fields[name]; ok {
			allowed[name] = v
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("no writable attributes in update for %s", slug)
	}

	urlStr := fmt.Sprintf("%s/v2/objects/%s/records/%s", a.apiBase, slug, url.PathEscape(externalID))
	payload := map[string]any{"data": map[string]any{"values": allowed}}

	body, _, err := a.client.request(ctx, creds.AccessToken, "PATCH", urlStr, payload, "update "+slug)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data attioRecord `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode %s update: %w", slug, err)
	}
	raw := toRawRecord(result.Data)
	return &raw, nil
}

// RegisterWebhook creates a workspace webhook subscribed to record
// lifecycle events for all synced objects.
func (a *Adapter) RegisterWebhook(ctx context.Context, creds adapter.Credentials, callbackURL, secret string) (string, error) {
	subscriptions := make([]map[string]any, 0, 3)
	for _, eventType := range []string{"record.created", "record.updated", "record.deleted"} {
		subscriptions = append(subscriptions, map[string]any{
			"event_type": eventType,
			"filter":     nil,
		})
	}

	payload := map[string]any{
		"data": map[string]any{
			"target_url":    callbackURL,
			"subscriptions": subscriptions,
		},
	}

	body, _, err := a.client.request(ctx, creds.AccessToken, "POST", a.apiBase+"/v2/webhooks", payload, "create webhook")
	if err != nil {
		return "", err
	}

	var result struct {
		Data struct {
			ID struct {
				WebhookID string `json:"webhook_id"`
			} `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode webhook response: %w", err)
	}
	if result.Data.ID.WebhookID == "" {
		return "", fmt.Errorf("webhook response missing id")
	}
	return result.Data.ID.WebhookID, nil
}

func (a *Adapter) DeleteWebhook(ctx context.Context, creds adapter.Credentials, webhookID string) error {
	urlStr := fmt.Sprintf("%s/v2/webhooks/%s", a.apiBase, url.PathEscape(webhookID))
	_, status, err := a.client.request(ctx, creds.AccessToken, "DELETE", urlStr, nil, "delete webhook")
	if err != nil && status != 404 {
		return err
	}
	return nil
}

func (a *Adapter) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

type webhookPayload struct {
	WebhookID string `json:"webhook_id"`
	Events    []struct {
		EventType string   `json:"event_type"`
		ID        recordID `json:"id"`
	} `json:"events"`
}

// ParseWebhookPayload decodes Attio's batched event envelope. The object
// id inside each event is the object API slug.
func (a *Adapter) ParseWebhookPayload(payload []byte) ([]adapter.WebhookEvent, error) {
	var parsed webhookPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	events := make([]adapter.WebhookEvent, 0, len(parsed.Events))
	for _, ev := range parsed.Events {
		entityType, ok := entityForSlug(ev.ID.ObjectID)
		if !ok {
			continue
		}
		events = append(events, adapter.WebhookEvent{
			EntityType: entityType,
			Action:     actionForEvent(ev.EventType),
			ExternalID: ev.ID.RecordID,
			Timestamp:  time.Now().UTC(),
		})
	}
	return events, nil
}

func entityForSlug(slug string) (adapter.EntityType, bool) {
	for entityType, s := range objectSlugs {
		if s == slug {
			return entityType, true
		}
	}
	return "", false
}

func actionForEvent(eventType string) adapter.WebhookAction {
	switch eventType {
	case "record.created":
		return adapter.ActionCreate
	case "record.deleted":
		return adapter.ActionDelete
	default:
		return adapter.ActionUpdate
	}
}

// toRawRecord flattens Attio's typed value arrays. Every attribute value
// arrives as an array of versioned value objects; the active value is the
// first element, and the scalar lives under a key that depends on the
// attribute type.
func toRawRecord(rec attioRecord) adapter.RawRecord {
	props := make(map[string]any, len(rec.Values))
	var lastChanged time.Time

	for attr, v := range rec.Values {
		entries, ok := v.([]any)
		if !ok || len(entries) == 0 {
			continue
		}
		entry, ok := entries[0].(map[string]any)
		if !ok {
			continue
		}
		if scalar, ok := scalarValue(entry); ok {
			props[attr] = scalar
		}
		if activeFrom, ok := entry["active_from"].(string); ok {
			if t, err := time.Parse(time.RFC3339, activeFrom); err == nil && t.After(lastChanged) {
				lastChanged = t
			}
		}
	}

	return adapter.RawRecord{
		ID:         rec.ID.RecordID,
		Properties: props,
		URL:        rec.WebURL,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  lastChanged,
	}
}

// scalarValue extracts the useful scalar from one typed value object.
// The candidate keys cover Attio's text, number, email, domain, name,
// select, status and currency attribute types.
func scalarValue(entry map[string]any) (any, bool) {
	for _, key := range []string{"value", "email_address", "domain", "full_name", "phone_number", "currency_value"} {
		if v, ok := entry[key]; ok && v != nil {
			return v, true
		}
	}
	if opt, ok := entry["option"].(map[string]any); ok {
		if title, ok := opt["title"].(string); ok {
			return title, true
		}
	}
	if st, ok := entry["status"].(map[string]any); ok {
		if title, ok := st["title"].(string); ok {
			return title, true
		}
	}
	return nil, false
}
