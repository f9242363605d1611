package hubspot

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
)

// objectNames maps canonical entity types to HubSpot CRM object names.
var objectNames = map[adapter.EntityType]string{
	adapter.EntityCompany: "companies",
	adapter.EntityContact: "contacts",
	adapter.EntityLead:    "leads",
	adapter.EntityDeal:    "deals",
}

// objectTypeIDs are HubSpot's internal object type identifiers, used for
// deep links into the HubSpot UI.
var objectTypeIDs = map[adapter.EntityType]string{
	adapter.EntityCompany: "0-2",
	adapter.EntityContact: "0-1",
	adapter.EntityLead:    "0-421",
	adapter.EntityDeal:    "0-3",
}

// fetchProperties are the properties requested on reads, per entity type.
var fetchProperties = map[adapter.EntityType][]string{
	adapter.EntityCompany: {"name", "domain", "website", "industry", "phone", "city", "country", "numberofemployees", "description"},
	adapter.EntityContact: {"email", "firstname", "lastname", "phone", "jobtitle", "company", "lifecyclestage", "website"},
	adapter.EntityLead:    {"email", "firstname", "lastname", "phone", "jobtitle", "company", "hs_lead_status"},
	adapter.EntityDeal:    {"dealname", "amount", "dealstage", "pipeline", "closedate", "dealtype", "description"},
}

// writableProperties is the allow list for outbound updates. Anything not
// listed here is silently dropped before the PATCH.
var writableProperties = map[adapter.EntityType][]string{
	adapter.EntityCompany: {"name", "domain", "website", "industry", "phone", "city", "country", "numberofemployees", "description"},
	adapter.EntityContact: {"email", "firstname", "lastname", "phone", "jobtitle", "company", "lifecyclestage"},
	adapter.EntityLead:    {"email", "firstname", "lastname", "phone", "jobtitle", "company", "hs_lead_status"},
	adapter.EntityDeal:    {"dealname", "amount", "dealstage", "closedate", "dealtype", "description"},
}

// lastModifiedProperty names the search filter property HubSpot uses for
// modification timestamps. Contacts use a different name than the rest.
var lastModifiedProperty = map[adapter.EntityType]string{
	adapter.EntityCompany: "hs_lastmodifieddate",
	adapter.EntityContact: "lastmodifieddate",
	adapter.EntityLead:    "hs_lastmodifieddate",
	adapter.EntityDeal:    "hs_lastmodifieddate",
}

var oauthScopes = []string{
	"oauth",
	"crm.objects.companies.read",
	"crm.objects.companies.write",
	"crm.objects.contacts.read",
	"crm.objects.contacts.write",
	"crm.objects.deals.read",
	"crm.objects.deals.write",
	"crm.objects.leads.read",
	"crm.objects.leads.write",
}

// Adapter implements the provider contract against the HubSpot CRM v3 API.
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
		log:          log.With(logger.Scope("hubspot")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Provider() adapter.Provider {
	return adapter.ProviderHubSpot
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

func (a *Adapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*adapter.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client.httpClient)
	tok, err := a.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, wrapTokenError(err, "exchange authorization code")
	}
	return &adapter.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

func (a *Adapter) RefreshToken(ctx context.Context, refreshToken string) (*adapter.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client.httpClient)
	src := a.oauthConfig("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, wrapTokenError(err, "refresh access token")
	}
	out := &adapter.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	// HubSpot keeps the refresh token stable across refreshes; preserve it
	// when the response omits one.
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func wrapTokenError(err error, op string) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		return &adapter.TokenExchangeError{
			Provider: adapter.ProviderHubSpot,
			Status:   status,
			Body:     string(rErr.Body),
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

type listResponse struct {
	Results []objectRecord `json:"results"`
	Paging  *struct {
		Next *struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
	Total int `json:"total"`
}

type objectRecord struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

func (a *Adapter) FetchRecords(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, opts adapter.FetchOptions) (*adapter.Page, error) {
	object, ok := objectNames[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	limit := opts.Limit
	if limit <= 0 || limit > defaultPageLimit {
		limit = defaultPageLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("properties", strings.Join(fetchProperties[entityType], ","))
	q.Set("archived", "false")
	if opts.Cursor != "" {
		q.Set("after", opts.Cursor)
	}

	urlStr := fmt.Sprintf("%s/crm/v3/objects/%s?%s", a.apiBase, object, q.Encode())
	body, err := a.client.request(ctx, creds.AccessToken, "GET", urlStr, nil, "list "+object)
	if err != nil {
		return nil, err
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", object, err)
	}

	page := &adapter.Page{
		Records: make([]adapter.RawRecord, 0, len(list.Results)),
		Total:   -1,
	}
	for _, rec := range list.Results {
		page.Records = append(page.Records, a.toRawRecord(entityType, rec))
	}
	if list.Paging != nil && list.Paging.Next != nil {
		page.NextCursor = list.Paging.Next.After
	}
	return page, nil
}

func (a *Adapter) FetchRecordsModifiedSince(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, since time.Time) ([]adapter.RawRecord, error) {
	object, ok := objectNames[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	urlStr := fmt.Sprintf("%s/crm/v3/objects/%s/search", a.apiBase, object)
	after := 0
	var records []adapter.RawRecord

	for len(records) < deltaRecordCap {
		payload := map[string]any{
			"filterGroups": []map[string]any{{
				"filters": []map[string]any{{
					"propertyName": lastModifiedProperty[entityType],
					"operator":     "GT",
					"value":        strconv.FormatInt(since.UnixMilli(), 10),
				}},
			}},
			"properties": fetchProperties[entityType],
			"limit":      defaultPageLimit,
		}
		if after > 0 {
			payload["after"] = strconv.Itoa(after)
		}

		body, err := a.client.request(ctx, creds.AccessToken, "POST", urlStr, payload, "search "+object)
		if err != nil {
			return nil, err
		}

		var list listResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode %s search: %w", object, err)
		}
		for _, rec := range list.Results {
			records = append(records, a.toRawRecord(entityType, rec))
		}
		if list.Paging == nil || list.Paging.Next == nil || list.Paging.Next.After == "" {
			break
		}
		next, err := strconv.Atoi(list.Paging.Next.After)
		if err != nil {
			break
		}
		after = next
	}

	if len(records) > deltaRecordCap {
		records = records[:deltaRecordCap]
	}
	return records, nil
}

func (a *Adapter) FetchRecord(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, externalID string) (*adapter.RawRecord, error) {
	object, ok := objectNames[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	q := url.Values{}
	q.Set("properties", strings.Join(fetchProperties[entityType], ","))
	urlStr := fmt.Sprintf("%s/crm/v3/objects/%s/%s?%s", a.apiBase, object, url.PathEscape(externalID), q.Encode())

	body, err := a.client.request(ctx, creds.AccessToken, "GET", urlStr, nil, "get "+object)
	if err != nil {
		var apiErr *adapter.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			return nil, nil
		}
		return nil, err
	}

	var rec objectRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", object, err)
	}
	raw := a.toRawRecord(entityType, rec)
	return &raw, nil
}

func (a *Adapter) UpdateRecord(ctx context.Context, entityType adapter.EntityType, creds adapter.Credentials, externalID string, fields map[string]any) (*adapter.RawRecord, error) {
	object, ok := objectNames[entityType]
	if !ok {
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	allowed := make(map[string]any)
	for _, name := range writableProperties[entityType] {
		if v, ok := fields[name]; ok {
			allowed[name] = v
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("no writable properties in update for %s", object)
	}

	urlStr := fmt.Sprintf("%s/crm/v3/objects/%s/%s", a.apiBase, object, url.PathEscape(externalID))
	body, err := a.client.request(ctx, creds.AccessToken, "PATCH", urlStr, map[string]any{"properties": allowed}, "update "+object)
	if err != nil {
		return nil, err
	}

	var rec objectRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode %s update: %w", object, err)
	}
	raw := a.toRawRecord(entityType, rec)
	return &raw, nil
}

// RegisterWebhook returns the manual-configuration sentinel: HubSpot webhook
// subscriptions are configured at the app level in the developer portal, not
// per OAuth token.
func (a *Adapter) RegisterWebhook(ctx context.Context, creds adapter.Credentials, callbackURL, secret string) (string, error) {
	a.log.Info("hubspot webhooks require app-level subscription configuration",
		slog.String("callbackUrl", callbackURL))
	return adapter.ManualWebhookID, nil
}

func (a *Adapter) DeleteWebhook(ctx context.Context, creds adapter.Credentials, webhookID string) error {
	return nil
}

// VerifyWebhookSignature checks the hex-encoded HMAC-SHA256 of the raw
// payload against the provided signature.
func (a *Adapter) VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

type webhookNotification struct {
	SubscriptionType string `json:"subscriptionType"`
	ObjectID         int64  `json:"objectId"`
	OccurredAt       int64  `json:"occurredAt"`
	PropertyName     string `json:"propertyName"`
	PropertyValue    string `json:"propertyValue"`
}

// ParseWebhookPayload decodes HubSpot's batched notification array. Each
// element carries a subscriptionType like "contact.propertyChange".
func (a *Adapter) ParseWebhookPayload(payload []byte) ([]adapter.WebhookEvent, error) {
	var notifications []webhookNotification
	if err := json.Unmarshal(payload, &notifications); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	events := make([]adapter.WebhookEvent, 0, len(notifications))
	for _, n := range notifications {
		object, _, found := strings.Cut(n.SubscriptionType, ".")
		if !found {
			continue
		}
		entityType, ok := entityForObject(object)
		if !ok {
			continue
		}
		events = append(events, adapter.WebhookEvent{
			EntityType: entityType,
			Action:     actionForSubscription(n.SubscriptionType),
			ExternalID: strconv.FormatInt(n.ObjectID, 10),
			Timestamp:  time.UnixMilli(n.OccurredAt).UTC(),
			Data: map[string]any{
				"propertyName":  n.PropertyName,
				"propertyValue": n.PropertyValue,
			},
		})
	}
	return events, nil
}

func entityForObject(object string) (adapter.EntityType, bool) {
	switch object {
	case "company":
		return adapter.EntityCompany, true
	case "contact":
		return adapter.EntityContact, true
	case "lead":
		return adapter.EntityLead, true
	case "deal":
		return adapter.EntityDeal, true
	}
	return "", false
}

func actionForSubscription(subscriptionType string) adapter.WebhookAction {
	switch {
	case strings.HasSuffix(subscriptionType, ".creation"):
		return adapter.ActionCreate
	case strings.HasSuffix(subscriptionType, ".deletion"):
		return adapter.ActionDelete
	default:
		return adapter.ActionUpdate
	}
}

func (a *Adapter) toRawRecord(entityType adapter.EntityType, rec objectRecord) adapter.RawRecord {
	props := make(map[string]any, len(rec.Properties))
	for k, v := range rec.Properties {
		props[k] = v
	}
	return adapter.RawRecord{
		ID:         rec.ID,
		Properties: props,
		URL:        fmt.Sprintf("https://app.hubspot.com/contacts/record/%s/%s", objectTypeIDs[entityType], rec.ID),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}
