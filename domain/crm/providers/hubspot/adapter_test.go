package hubspot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftwell/giftwell/domain/crm/adapter"
)

func testAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("client-id", "client-secret", 5*time.Second, slog.Default(),
		WithBaseURLs(srv.URL, srv.URL+"/oauth/authorize", srv.URL+"/oauth/v1/token"))
}

func TestAuthURL(t *testing.T) {
	a := New("client-id", "client-secret", 5*time.Second, slog.Default())

	raw := a.AuthURL("state-token", "https://app.giftwell.io/integrations/hubspot/callback")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "app.hubspot.com", u.Host)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-token", q.Get("state"))
	assert.Equal(t, "https://app.giftwell.io/integrations/hubspot/callback", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "crm.objects.contacts.read")
}

func TestExchangeCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    1800,
		})
	})

	a := testAdapter(t, mux)
	tokens, err := a.ExchangeCode(context.Background(), "the-code", "https://app.giftwell.io/cb")
	require.NoError(t, err)

	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), tokens.ExpiresAt, time.Minute)
}

func TestExchangeCodeProviderError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"BAD_AUTH_CODE"}`))
	})

	a := testAdapter(t, mux)
	_, err := a.ExchangeCode(context.Background(), "expired-code", "https://app.giftwell.io/cb")
	require.Error(t, err)

	var exchangeErr *adapter.TokenExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, http.StatusBadRequest, exchangeErr.Status)
	assert.Contains(t, exchangeErr.Body, "BAD_AUTH_CODE")
}

func TestRefreshTokenKeepsRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-2",
			"expires_in":   1800,
		})
	})

	a := testAdapter(t, mux)
	tokens, err := a.RefreshToken(context.Background(), "refresh-1")
	require.NoError(t, err)

	assert.Equal(t, "access-2", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
}

func TestFetchRecordsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/crm/v3/objects/contacts", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		resp := map[string]any{
			"results": []map[string]any{{
				"id":         "101",
				"properties": map[string]string{"email": "ada@lovelace.dev", "firstname": "Ada"},
				"createdAt":  "2026-01-02T10:00:00Z",
				"updatedAt":  "2026-01-03T10:00:00Z",
			}},
		}
		if r.URL.Query().Get("after") == "" {
			resp["paging"] = map[string]any{"next": map[string]any{"after": "101"}}
		}
		json.NewEncoder(w).Encode(resp)
	})

	a := testAdapter(t, mux)
	creds := adapter.Credentials{AccessToken: "access-1"}

	first, err := a.FetchRecords(context.Background(), adapter.EntityContact, creds, adapter.FetchOptions{Limit: 50})
	require.NoError(t, err)
	require.Len(t, first.Records, 1)
	assert.Equal(t, "101", first.Records[0].ID)
	assert.Equal(t, "ada@lovelace.dev", first.Records[0].Properties["email"])
	assert.Contains(t, first.Records[0].URL, "/0-1/101")
	assert.Equal(t, "101", first.NextCursor)

	second, err := a.FetchRecords(context.Background(), adapter.EntityContact, creds, adapter.FetchOptions{Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.Empty(t, second.NextCursor)
}

func TestFetchRecordsModifiedSince(t *testing.T) {
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/crm/v3/objects/deals/search", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			FilterGroups []struct {
				Filters []struct {
					PropertyName string `json:"propertyName"`
					Operator     string `json:"operator"`
					Value        string `json:"value"`
				} `json:"filters"`
			} `json:"filterGroups"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.FilterGroups, 1)
		filter := payload.FilterGroups[0].Filters[0]
		assert.Equal(t, "hs_lastmodifieddate", filter.PropertyName)
		assert.Equal(t, "GT", filter.Operator)
		assert.Equal(t, "1785542400000", filter.Value)

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"id":         "55",
				"properties": map[string]string{"dealname": "Q3 renewal", "amount": "1200"},
			}},
			"total": 1,
		})
	})

	a := testAdapter(t, mux)
	records, err := a.FetchRecordsModifiedSince(context.Background(), adapter.EntityDeal, adapter.Credentials{AccessToken: "access-1"}, since)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "55", records[0].ID)
}

func TestFetchRecordNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/crm/v3/objects/companies/999", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":"error","category":"OBJECT_NOT_FOUND"}`))
	})

	a := testAdapter(t, mux)
	rec, err := a.FetchRecord(context.Background(), adapter.EntityCompany, adapter.Credentials{AccessToken: "access-1"}, "999")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpdateRecordAllowList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/crm/v3/objects/contacts/101", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)

		var payload struct {
			Properties map[string]any `json:"properties"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Ada", payload.Properties["firstname"])
		assert.NotContains(t, payload.Properties, "hs_object_id")

		json.NewEncoder(w).Encode(map[string]any{
			"id":         "101",
			"properties": map[string]string{"firstname": "Ada"},
		})
	})

	a := testAdapter(t, mux)
	rec, err := a.UpdateRecord(context.Background(), adapter.EntityContact, adapter.Credentials{AccessToken: "access-1"}, "101", map[string]any{
		"firstname":    "Ada",
		"hs_object_id": "101",
	})
	require.NoError(t, err)
	assert.Equal(t, "101", rec.ID)
}

func TestUpdateRecordNothingWritable(t *testing.T) {
	a := New("client-id", "client-secret", 5*time.Second, slog.Default())
	_, err := a.UpdateRecord(context.Background(), adapter.EntityContact, adapter.Credentials{AccessToken: "x"}, "101", map[string]any{
		"hs_object_id": "101",
	})
	assert.Error(t, err)
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`[{"subscriptionType":"contact.creation","objectId":7}]`)
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	a := New("client-id", "client-secret", 5*time.Second, slog.Default())

	assert.True(t, a.VerifyWebhookSignature(payload, signature, "hook-secret"))
	assert.False(t, a.VerifyWebhookSignature(payload, signature, "wrong-secret"))
	assert.False(t, a.VerifyWebhookSignature([]byte("tampered"), signature, "hook-secret"))
	assert.False(t, a.VerifyWebhookSignature(payload, "", "hook-secret"))
}

func TestParseWebhookPayload(t *testing.T) {
	payload := []byte(`[
		{"subscriptionType":"contact.creation","objectId":7,"occurredAt":1756512000000},
		{"subscriptionType":"deal.propertyChange","objectId":55,"occurredAt":1756512060000,"propertyName":"amount","propertyValue":"5000"},
		{"subscriptionType":"company.deletion","objectId":12,"occurredAt":1756512120000},
		{"subscriptionType":"conversation.creation","objectId":1,"occurredAt":1756512180000}
	]`)

	a := New("client-id", "client-secret", 5*time.Second, slog.Default())
	events, err := a.ParseWebhookPayload(payload)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, adapter.EntityContact, events[0].EntityType)
	assert.Equal(t, adapter.ActionCreate, events[0].Action)
	assert.Equal(t, "7", events[0].ExternalID)

	assert.Equal(t, adapter.EntityDeal, events[1].EntityType)
	assert.Equal(t, adapter.ActionUpdate, events[1].Action)
	assert.Equal(t, "amount", events[1].Data["propertyName"])

	assert.Equal(t, adapter.ActionDelete, events[2].Action)
}

func TestParseWebhookPayloadRejectsGarbage(t *testing.T) {
	a := New("client-id", "client-secret", 5*time.Second, slog.Default())
	_, err := a.ParseWebhookPayload([]byte(`{"not":"an array"}`))
	assert.Error(t, err)
}
