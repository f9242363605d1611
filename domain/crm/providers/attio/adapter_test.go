package attio

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
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
		WithBaseURLs(srv.URL, srv.URL+"/authorize", srv.URL+"/oauth/token"))
}

func companyRecord(id, name string, createdAt string) map[string]any {
	return map[string]any{
		"id":         map[string]any{"workspace_id": "ws-1", "object_id": "companies", "record_id": id},
		"web_url":    "https://app.attio.com/giftwell/company/" + id,
		"created_at": createdAt,
		"values": map[string]any{
			"name": []any{map[string]any{"value": name, "active_from": createdAt}},
			"domains": []any{map[string]any{"domain": name + ".com", "active_from": createdAt}},
		},
	}
}

func TestExchangeCodeNoRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "attio-access",
			"token_type":   "Bearer",
		})
	})

	a := testAdapter(t, mux)
	tokens, err := a.ExchangeCode(context.Background(), "the-code", "https://app.giftwell.io/cb")
	require.NoError(t, err)

	assert.Equal(t, "attio-access", tokens.AccessToken)
	assert.Empty(t, tokens.RefreshToken)
	assert.True(t, tokens.ExpiresAt.IsZero())
}

func TestRefreshTokenUnsupported(t *testing.T) {
	a := New("client-id", "client-secret", 5*time.Second, slog.Default())
	_, err := a.RefreshToken(context.Background(), "anything")
	assert.Error(t, err)
}

func TestFetchRecordsFlattensTypedValues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/objects/companies/records/query", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Limit  int `json:"limit"`
			Offset int `json:"offset"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, 2, payload.Limit)

		var data []map[string]any
		if payload.Offset == 0 {
			data = []map[string]any{
				companyRecord("rec-1", "globex", "2026-03-01T08:00:00Z"),
				companyRecord("rec-2", "initech", "2026-02-01T08:00:00Z"),
			}
		} else {
			data = []map[string]any{
				companyRecord("rec-3", "hooli", "2026-01-01T08:00:00Z"),
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	a := testAdapter(t, mux)
	creds := adapter.Credentials{AccessToken: "attio-access"}

	first, err := a.FetchRecords(context.Background(), adapter.EntityCompany, creds, adapter.FetchOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.Equal(t, "rec-1", first.Records[0].ID)
	assert.Equal(t, "globex", first.Records[0].Properties["name"])
	assert.Equal(t, "globex.com", first.Records[0].Properties["domains"])
	assert.Equal(t, "https://app.attio.com/giftwell/company/rec-1", first.Records[0].URL)
	assert.Equal(t, "2", first.NextCursor)

	second, err := a.FetchRecords(context.Background(), adapter.EntityCompany, creds, adapter.FetchOptions{Cursor: first.NextCursor, Limit: 2})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.Empty(t, second.NextCursor)
}

func TestFetchRecordsRejectsBadCursor(t *testing.T) {
	a := New("client-id", "client-secret", 5*time.Second, slog.Default())
	_, err := a.FetchRecords(context.Background(), adapter.EntityCompany, adapter.Credentials{AccessToken: "x"}, adapter.FetchOptions{Cursor: "not-a-number"})
	assert.ErrorContains(t, err, "invalid cursor")
}

func TestFetchRecordsModifiedSinceStopsAtStalePage(t *testing.T) {
	since := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC)

	var queries int
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/objects/people/records/query", func(w http.ResponseWriter, r *http.Request) {
		queries++
		var payload struct {
			Offset int `json:"offset"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		// Newest-first: page one fresh, page two entirely stale.
		data := make([]map[string]any, 0, defaultPageLimit)
		for i := 0; i < defaultPageLimit; i++ {
			createdAt := "2026-03-01T08:00:00Z"
			if payload.Offset > 0 {
				createdAt = "2026-01-01T08:00:00Z"
			}
			data = append(data, map[string]any{
				"id":         map[string]any{"record_id": "rec-" + strconv.Itoa(payload.Offset+i)},
				"created_at": createdAt,
				"values": map[string]any{
					"name": []any{map[string]any{"full_name": "Person", "active_from": createdAt}},
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	a := testAdapter(t, mux)
	records, err := a.FetchRecordsModifiedSince(context.Background(), adapter.EntityContact, adapter.Credentials{AccessToken: "x"}, since)
	require.NoError(t, err)

	assert.Len(t, records, defaultPageLimit)
	assert.Equal(t, 2, queries)
}

func TestFetchRecordNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/objects/deals/records/rec-gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status_code":404,"type":"invalid_request_error","code":"not_found"}`))
	})

	a := testAdapter(t, mux)
	rec, err := a.FetchRecord(context.Background(), adapter.EntityDeal, adapter.Credentials{AccessToken: "x"}, "rec-gone")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUpdateRecordAllowList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/objects/people/records/rec-1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)

		var payload struct {
			Data struct {
				Values map[string]any `json:"values"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "VP Engineering", payload.Data.Values["job_title"])
		assert.NotContains(t, payload.Data.Values, "created_at")

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id": map[string]any{"record_id": "rec-1"},
				"values": map[string]any{
					"job_title": []any{map[string]any{"value": "VP Engineering"}},
				},
			},
		})
	})

	a := testAdapter(t, mux)
	rec, err := a.UpdateRecord(context.Background(), adapter.EntityContact, adapter.Credentials{AccessToken: "x"}, "rec-1", map[string]any{
		"job_title":  "VP Engineering",
		"created_at": "2020-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "VP Engineering", rec.Properties["job_title"])
}

func TestRegisterAndDeleteWebhook(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/webhooks", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Data struct {
				TargetURL     string           `json:"target_url"`
				Subscriptions []map[string]any `json:"subscriptions"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "https://app.giftwell.io/webhooks/attio", payload.Data.TargetURL)
		assert.Len(t, payload.Data.Subscriptions, 3)

		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": map[string]any{"webhook_id": "wh-42"}},
		})
	})
	mux.HandleFunc("/v2/webhooks/wh-42", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	a := testAdapter(t, mux)
	creds := adapter.Credentials{AccessToken: "x"}

	id, err := a.RegisterWebhook(context.Background(), creds, "https://app.giftwell.io/webhooks/attio", "secret")
	require.NoError(t, err)
	assert.Equal(t, "wh-42", id)

	assert.NoError(t, a.DeleteWebhook(context.Background(), creds, "wh-42"))
}

func TestDeleteWebhookToleratesMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/webhooks/wh-gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	a := testAdapter(t, mux)
	assert.NoError(t, a.DeleteWebhook(context.Background(), adapter.Credentials{AccessToken: "x"}, "wh-gone"))
}

func TestParseWebhookPayload(t *testing.T) {
	payload := []byte(`{
		"webhook_id": "wh-42",
		"events": [
			{"event_type": "record.created", "id": {"workspace_id": "ws-1", "object_id": "companies", "record_id": "rec-1"}},
			{"event_type": "record.updated", "id": {"workspace_id": "ws-1", "object_id": "people", "record_id": "rec-2"}},
			{"event_type": "record.deleted", "id": {"workspace_id": "ws-1", "object_id": "tasks", "record_id": "rec-3"}}
		]
	}`)

	a := New("client-id", "client-secret", 5*time.Second, slog.Default())
	events, err := a.ParseWebhookPayload(payload)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, adapter.EntityCompany, events[0].EntityType)
	assert.Equal(t, adapter.ActionCreate, events[0].Action)
	assert.Equal(t, "rec-1", events[0].ExternalID)

	assert.Equal(t, adapter.EntityContact, events[1].EntityType)
	assert.Equal(t, adapter.ActionUpdate, events[1].Action)
}

func TestScalarValue(t *testing.T) {
	cases := []struct {
		name  string
		entry map[string]any
		want  any
		ok    bool
	}{
		{"text", map[string]any{"value": "hello"}, "hello", true},
		{"email", map[string]any{"email_address": "a@b.co"}, "a@b.co", true},
		{"select", map[string]any{"option": map[string]any{"title": "Enterprise"}}, "Enterprise", true},
		{"status", map[string]any{"status": map[string]any{"title": "Open"}}, "Open", true},
		{"unknown", map[string]any{"something_else": 1}, nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := scalarValue(tc.entry)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
