package crm

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/apperror"
)

func newTestWebhookService(t *testing.T, store *fakeIntegrationStore, pipe *fakePipelineStore, fake *fakeAdapter) *WebhookService {
	t.Helper()
	registry := adapter.NewRegistry()
	registry.Register(fake)
	enc := testEncryption(t)

	if store.integration != nil {
		secret := encrypted(t, enc, "webhook-secret")
		store.integration.WebhookSecret = &secret
	}

	return &WebhookService{
		integrations: store,
		orchestrator: newOrchestrator(store, pipe, staticCreds{}, registry, nil, slog.Default()),
		registry:     registry,
		enc:          enc,
		log:          slog.Default(),
	}
}

func TestWebhookIngestRefreshesRecords(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	pipe := newFakePipelineStore()
	fake := newFakeAdapter()
	fake.records[adapter.EntityContact] = []adapter.RawRecord{
		rawContact("ct-1", "ada@globex.example", ""),
	}

	svc := newTestWebhookService(t, store, pipe, fake)
	refreshed, err := svc.Ingest(context.Background(), "org-1", adapter.ProviderHubSpot, []byte(`[{}]`), "valid")
	require.NoError(t, err)

	assert.Equal(t, 1, refreshed)
	assert.Contains(t, pipe.contacts, "ct-1")
}

func TestWebhookIngestRejectsBadSignatureBeforeParsing(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	fake := newFakeAdapter()

	svc := newTestWebhookService(t, store, newFakePipelineStore(), fake)
	_, err := svc.Ingest(context.Background(), "org-1", adapter.ProviderHubSpot, []byte(`[{}]`), "forged")

	assert.ErrorIs(t, err, apperror.ErrBadSignature)
	assert.False(t, fake.parseCalled, "payload must not be parsed when the signature fails")
}

func TestWebhookIngestUnknownIntegration(t *testing.T) {
	svc := newTestWebhookService(t, newFakeIntegrationStore(nil), newFakePipelineStore(), newFakeAdapter())
	_, err := svc.Ingest(context.Background(), "org-1", adapter.ProviderHubSpot, []byte(`[{}]`), "valid")
	assert.ErrorIs(t, err, apperror.ErrNotConnected)
}

func TestWebhookIngestProviderMismatch(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration()) // hubspot integration
	svc := newTestWebhookService(t, store, newFakePipelineStore(), newFakeAdapter())

	_, err := svc.Ingest(context.Background(), "org-1", adapter.ProviderSalesforce, []byte(`[{}]`), "valid")
	assert.ErrorIs(t, err, apperror.ErrNotConnected)
}

func TestWebhookIngestRefreshFailureDoesNotAbortBatch(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	pipe := newFakePipelineStore()
	fake := newFakeAdapter()
	// The referenced record does not exist upstream: refresh is a no-op,
	// not an error, and the delivery still succeeds.
	svc := newTestWebhookService(t, store, pipe, fake)

	refreshed, err := svc.Ingest(context.Background(), "org-1", adapter.ProviderHubSpot, []byte(`[{}]`), "valid")
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)
	assert.Empty(t, pipe.contacts)
}
