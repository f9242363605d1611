package crm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/domain/pipeline"
	"github.com/giftwell/giftwell/internal/config"
	"github.com/giftwell/giftwell/pkg/apperror"
	"github.com/giftwell/giftwell/pkg/encryption"
)

func newTestService(t *testing.T, store *fakeIntegrationStore, pipe *fakePipelineStore, fake *fakeAdapter) (*Service, *encryption.Service) {
	t.Helper()
	enc := testEncryption(t)
	registry := adapter.NewRegistry()
	registry.Register(fake)
	svc := newService(store, pipe, nil, nil, registry, enc, &config.Config{}, slog.Default())
	return svc, enc
}

// seedSyncedPipeline populates the pipeline store the way a completed
// sync would, with external correlation keys on every record.
func seedSyncedPipeline(pipe *fakePipelineStore, source string) {
	now := time.Now()
	pipe.companies["co-1"] = &pipeline.Company{
		OrganizationID: "org-1",
		Name:           "Globex",
		ExternalID:     ptrStr("co-1"),
		ExternalSource: &source,
		ExternalURL:    ptrStr("https://crm.example/co-1"),
		LastSyncedAt:   &now,
	}
	pipe.contacts["ct-1"] = &pipeline.Contact{
		OrganizationID:    "org-1",
		FirstName:         "Ada",
		ExternalID:        ptrStr("ct-1"),
		ExternalSource:    &source,
		ExternalCompanyID: ptrStr("co-1"),
		LastSyncedAt:      &now,
	}
	pipe.deals["dl-1"] = &pipeline.Deal{
		OrganizationID:    "org-1",
		Name:              "Annual program",
		StageID:           "stage-1",
		ExternalID:        ptrStr("dl-1"),
		ExternalSource:    &source,
		ExternalCompanyID: ptrStr("co-1"),
		ExternalContactID: ptrStr("ct-1"),
		LastSyncedAt:      &now,
	}
}

func TestDisconnectRemoteWebhookFailureStillDeletes(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	pipe := newFakePipelineStore()
	fake := newFakeAdapter()
	fake.deleteWebhookErr = errors.New("HTTP 500: upstream down")
	svc, enc := newTestService(t, store, pipe, fake)

	webhookID := "wh-77"
	store.integration.WebhookID = &webhookID
	store.integration.AccessToken = encrypted(t, enc, "live-token")
	seedSyncedPipeline(pipe, "hubspot")

	require.NoError(t, svc.Disconnect(context.Background(), "org-1"))

	assert.Equal(t, int32(1), fake.deleteWebhookCalls.Load())

	gone, err := store.GetByOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Nil(t, gone, "integration row should be deleted despite the remote failure")

	assert.Nil(t, pipe.companies["co-1"].ExternalID)
	assert.Nil(t, pipe.companies["co-1"].ExternalSource)
	assert.Nil(t, pipe.contacts["ct-1"].ExternalID)
	assert.Nil(t, pipe.contacts["ct-1"].ExternalCompanyID)
	assert.Nil(t, pipe.deals["dl-1"].ExternalID)
	assert.Nil(t, pipe.deals["dl-1"].ExternalCompanyID)
	assert.Nil(t, pipe.deals["dl-1"].ExternalContactID)
}

func TestDisconnectManualWebhookSkipsRemoteCall(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	pipe := newFakePipelineStore()
	fake := newFakeAdapter()
	svc, _ := newTestService(t, store, pipe, fake)

	manual := adapter.ManualWebhookID
	store.integration.WebhookID = &manual

	require.NoError(t, svc.Disconnect(context.Background(), "org-1"))

	assert.Equal(t, int32(0), fake.deleteWebhookCalls.Load())
	gone, err := store.GetByOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDisconnectUndecryptableTokenStillDeletes(t *testing.T) {
	store := newFakeIntegrationStore(testIntegration())
	pipe := newFakePipelineStore()
	fake := newFakeAdapter()
	svc, _ := newTestService(t, store, pipe, fake)

	webhookID := "wh-77"
	store.integration.WebhookID = &webhookID
	store.integration.AccessToken = "not-a-ciphertext"

	require.NoError(t, svc.Disconnect(context.Background(), "org-1"))

	assert.Equal(t, int32(0), fake.deleteWebhookCalls.Load(), "cleanup is skipped without usable credentials")
	gone, err := store.GetByOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDisconnectNotConnected(t *testing.T) {
	store := newFakeIntegrationStore(nil)
	svc, _ := newTestService(t, store, newFakePipelineStore(), newFakeAdapter())

	err := svc.Disconnect(context.Background(), "org-1")
	assert.ErrorIs(t, err, apperror.ErrNotConnected)
}
