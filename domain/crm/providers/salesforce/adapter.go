package salesforce

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
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/logger"
)

const (
	defaultPageLimit = 200
	deltaRecordCap   = 1000
)

// sobjectNames maps canonical entity types to Salesforce sObject API names.
var sobjectNames = map[adapter.EntityType]string{
	adapter.EntityCompany: "Account",
	adapter.EntityContact: "Contact",
	adapter.EntityLead:    "Lead",
	adapter.EntityDeal:    "Opportunity",
}

// queryFields are the columns selected per sObject. CreatedDate and
// LastModifiedDate feed record timestamps.
var queryFields = map[adapter.EntityType][]string{
	adapter.EntityCompany: {"Id", "Name", "Website", "Industry", "Phone", "BillingCity", "BillingCountry", "NumberOfEmployees", "Description", "CreatedDate", "LastModifiedDate"},
	adapter.EntityContact: {"Id", "FirstName", "LastName", "Email", "Phone", "Title", "AccountId", "CreatedDate", "LastModifiedDate"},
	adapter.EntityLead:    {"Id", "FirstName", "LastName", "Email", "Phone", "Title", "Company", "Status", "LeadSource", "CreatedDate", "LastModifiedDate"},
	adapter.EntityDeal:    {"Id", "Name", "Amount", "StageName", "CloseDate", "Probability", "AccountId", "Description", "CreatedDate", "LastModifiedDate"},
}

// writableFields is the allow list for outbound updates.
var writableFields = map[adapter.EntityType][]string{
	adapter.EntityCompany: {"Name", "Website", "Industry", "Phone", "BillingCity", "BillingCountry", "NumberOfEmployees", "Description"},
	adapter.EntityContact: {"FirstName", "LastName", "Email", "Phone", "Title"},
	adapter.EntityLead:    {"FirstName", "LastName", "Email", "Phone", "Title", "Company", "Status"},
	adapter.EntityDeal:    {"Name", "Amount", "StageName", "CloseDate", "Description"},
}

var oauthScopes = []string{"api", "refresh_token"}

// Adapter implements the provider contract against the Salesforce REST API.
// All data calls are routed through the integration's instance URL.
type Adapter struct {
	clientID     string
	clientSecret string
	loginBase    string
	client       *client
	log          *slog.Logger
}

// Option overrides adapter defaults, primarily for tests.
type Option func(*Adapter)

// WithLoginBaseURL points the OAuth endpoints at an alternate host.
func WithLoginBaseURL(base string) Option {
	return func(a *Adapter) { a.loginBase = base }
}

func New(clientID, clientSecret string, timeout time.Duration, log *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		loginBase:    loginBaseURL,
		client:       newClient(timeout, log),
		log:          log.With(logger.Scope("salesforce")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Provider() adapter.Provider {
	return adapter.ProviderSalesforce
}

func (a *Adapter) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.clientID,
		ClientSecret: a.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       oauthScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.loginBase + "/services/oauth2/authorize",
			TokenURL:  a.loginBase + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (a *Adapter) AuthURL(state, redirectURI string) string {
	return a.oauthConfig(redirectURI).AuthCodeURL(state)
}

func (a *Adapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*adapter.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client.httpClient)
	tok, err := a.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, wrapTokenError(err, "exchange authorization code")
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	if instanceURL == "" {
		return nil, fmt.Errorf("token response missing instance_url")
	}

	// Salesforce does not report expires_in on this grant; the token store
	// applies its conservative default lifetime for a zero expiry.
	return &adapter.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiryOf(tok),
		InstanceURL:  strings.TrimSuffix(instanceURL, "/"),
	}, nil
}

func (a *Adapter) RefreshToken(ctx context.Context, refreshToken string) (*adapter.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client.httpClient)
	src := a.oauthConfig("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, wrapTokenError(err, "refresh access token")
	}

	instanceURL, _ := tok.Extra("instance_url").(string)
	out := &adapter.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiryOf(tok),
		InstanceURL:  strings.TrimSuffix(instanceURL, "/"),
	}
	// Salesforce never rotates refresh tokens.
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// expiryOf avoids oauth2's habit of synthesizing a near-term expiry when
// the provider reported none.
func expiryOf(tok *oauth2.Token) time.Time {
	if _, ok := tok.Extra("expires_in").(float64); !ok {
		return time.Time{}
	}
	return tok.Expiry
}

func wrapTokenError(err error, op string) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		return &adapter.TokenExchangeError{
			Provider: adapter.ProviderSalesforce,
			Status:   status,
			Body:     string(rErr.Body),
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type queryResponse struct {
	TotalSize      int              `json:"totalSize"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

// FetchRecords runs a SOQL query. The cursor is the nextRecordsUrl path
// Salesforce hands back, resolved against the instance URL.
func (a *Adapter) FetchRecords(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, opts adapter.FetchOptions) (*adapter.Page, error) {
	sobject, ok := sobjectNames[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	if creds.InstanceURL == "" {
		return nil, fmt.Errorf("salesforce credentials missing instance URL")
	}

	var urlStr string
	if opts.Cursor != "" {
		urlStr = creds.InstanceURL + opts.Cursor
	} else {
		// Salesforce chooses its own batch size and pages via
		// nextRecordsUrl, so opts.Limit is advisory here.
		soql := fmt.Sprintf("SELECT %s FROM %s ORDER BY LastModifiedDate DESC",
			strings.Join(queryFields[entityType], ", "), sobject)
		urlStr = fmt.Sprintf("%s/services/data/%s/query?q=%s", creds.InstanceURL, apiVersion, url.QueryEscape(soql))
	}

	body, _, err := a.client.request(ctx, creds.AccessToken, "GET", urlStr, nil, "query "+sobject)
	if err != nil {
		return nil, err
	}

	var result queryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode %s query: %w", sobject, err)
	}

	page := &adapter.Page{
		Records: make([]adapter.RawRecord, 0, len(result.Records)),
		Total:   result.TotalSize,
	}
	for _, rec := range result.Records {
		page.Records = append(page.Records, a.toRawRecord(creds.InstanceURL, sobject, rec))
	}
	if !result.Done && result.NextRecordsURL != "" {
		page.NextCursor = result.NextRecordsURL
	}
	return page, nil
}

func (a *Adapter) FetchRecordsModifiedSince(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, since time.Time) ([]adapter.RawRecord, error) {
	sobject, ok := sobjectNames[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	if creds.InstanceURL == "" {
		return nil, fmt.Errorf("salesforce credentials missing instance URL")
	}

	soql := fmt.Sprintf("SELECT %s FROM %s WHERE LastModifiedDate > %s ORDER BY LastModifiedDate ASC LIMIT %d",
		strings.Join(queryFields[entityType], ", "), sobject,
		since.UTC().Format("2006-01-02T15:04:05Z"), deltaRecordCap)
	urlStr := fmt.Sprintf("%s/services/data/%s/query?q=%s", creds.InstanceURL, apiVersion, url.QueryEscape(soql))

	var records []adapter.RawRecord
	for urlStr != "" && len(records) < deltaRecordCap {
		body, _, err := a.client.request(ctx, creds.AccessToken, "GET", urlStr, nil, "delta query "+sobject)
		if err != nil {
			return nil, err
		}

		var result queryResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("decode %s delta query: %w", sobject, err)
		}
		for _, rec := range result.Records {
			records = append(records, a.toRawRecord(creds.InstanceURL, sobject, rec))
		}
		urlStr = ""
		if !result.Done && result.NextRecordsURL != "" {
			urlStr = creds.InstanceURL + result.NextRecordsURL
		}
	}

	if len(records) > deltaRecordCap {
		records = records[:deltaRecordCap]
	}
	return records, nil
}

func (a *Adapter) FetchRecord(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, externalID string) (*adapter.RawRecord, error) {
	sobject, ok := sobjectNames[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	if creds.InstanceURL == "" {
		return nil, fmt.Errorf("salesforce credentials missing instance URL")
	}

	urlStr := fmt.Sprintf("%s/services/data/%s/sobjects/%s/%s?fields=%s",
		creds.InstanceURL, apiVersion, sobject, url.PathEscape(externalID),
		url.QueryEscape(strings.Join(queryFields[entityType], ",")))

	body, status, err := a.client.request(ctx, creds.AccessToken, "GET", urlStr, nil, "get "+sobject)
	if err != nil {
		if status == 404 {
			return nil, nil
		}
		return nil, err
	}

	var rec map[string]any
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", sobject, err)
	}
	raw := a.toRawRecord(creds.InstanceURL, sobject, rec)
	return &raw, nil
}

// UpdateRecord PATCHes the sObject (Salesforce answers 204 with no body)
// and re-fetches to return the post-write state.
func (a *Adapter) UpdateRecord(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, externalID string, fields map[string]any) (*adapter.RawRecord, error) {
	sobject, ok := sobjectNames[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
	if creds.InstanceURL == "" {
		return nil, fmt.Errorf("salesforce credentials missing instance URL")
	}

	allowed := make(map[string]any)
	for _, name := range writableFields[entityType] {
		if v, ok := fields[name]; ok {
			allowed[name] = v
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("no writable fields in update for %s", sobject)
	}

	urlStr := fmt.Sprintf("%s/services/data/%s/sobjects/%s/%s",
		creds.InstanceURL, apiVersion, sobject, url.PathEscape(externalID))
	if _, _, err := a.client.request(ctx, creds.AccessToken, "PATCH", urlStr, allowed, "update "+sobject); err != nil {
		return nil, err
	}

	rec, err := a.FetchRecord(ctx, entityType, creds, externalID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %s disappeared after update", sobject, externalID)
	}
	return rec, nil
}

// RegisterWebhook returns the manual-configuration sentinel: Salesforce
// change notifications (outbound messages or Change Data Capture) are
// configured in Setup by an org admin.
func (a *Adapter) RegisterWebhook(ctx context.Context, creds adapter.Credentials, callbackURL, secret string) (string, error) {
	a.log.Info("salesforce webhooks require setup-side configuration",
		slog.String("callbackUrl", callbackURL))
	return adapter.ManualWebhookID, nil
}

func (a *Adapter) DeleteWebhook(ctx context.Context, creds adapter.Credentials, webhookID string) error {
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

type webhookEnvelope struct {
	SObjectType string         `json:"sobjectType"`
	EventType   string         `json:"eventType"`
	RecordID    string         `json:"recordId"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Fields      map[string]any `json:"fields"`
}

// ParseWebhookPayload decodes the single-event envelope our manually
// configured Salesforce flows post per record change.
func (a *Adapter) ParseWebhookPayload(payload []byte) ([]adapter.WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	if env.RecordID == "" {
		return nil, fmt.Errorf("webhook payload missing recordId")
	}

	entityType, ok := entityForSObject(env.SObjectType)
	if !ok {
		return nil, fmt.Errorf("unsupported sobject type %q", env.SObjectType)
	}

	return []adapter.WebhookEvent{{
		EntityType: entityType,
		Action:     actionForEvent(env.EventType),
		ExternalID: env.RecordID,
		Timestamp:  env.OccurredAt,
		Data:       env.Fields,
	}}, nil
}

func entityForSObject(sobject string) (adapter.EntityType, bool) {
	switch sobject {
	case "Account":
		return adapter.EntityCompany, true
	case "Contact":
		return adapter.EntityContact, true
	case "Lead":
		return adapter.EntityLead, true
	case "Opportunity":
		return adapter.EntityDeal, true
	}
	return "", false
}

func actionForEvent(eventType string) adapter.WebhookAction {
	switch strings.ToLower(eventType) {
	case "created":
		return adapter.ActionCreate
	case "deleted":
		return adapter.ActionDelete
	default:
		return adapter.ActionUpdate
	}
}

func (a *Adapter) toRawRecord(instanceURL, sobject string, rec map[string]any) adapter.RawRecord {
	id, _ := rec["Id"].(string)

	props := make(map[string]any, len(rec))
	for k, v := range rec {
		if k == "attributes" || k == "Id" {
			continue
		}
		props[k] = v
	}

	raw := adapter.RawRecord{
		ID:         id,
		Properties: props,
		URL:        fmt.Sprintf("%s/lightning/r/%s/%s/view", instanceURL, sobject, id),
	}
	if created, ok := rec["CreatedDate"].(string); ok {
		raw.CreatedAt = parseSFTime(created)
	}
	if modified, ok := rec["LastModifiedDate"].(string); ok {
		raw.UpdatedAt = parseSFTime(modified)
	}
	return raw
}

// parseSFTime handles Salesforce's +0000 zone suffix, which RFC 3339
// parsing rejects.
func parseSFTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
