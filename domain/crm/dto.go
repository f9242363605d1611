package crm

import (
	"time"

	"github.com/giftwell/giftwell/domain/crm/adapter"
)

// IntegrationStatusDTO is what the settings UI renders.
type IntegrationStatusDTO struct {
	Connected         bool             `json:"connected"`
	Provider          adapter.Provider `json:"provider,omitempty"`
	Status            Status           `json:"status,omitempty"`
	LastSyncAt        *time.Time       `json:"lastSyncAt,omitempty"`
	LastSyncStatus    *SyncOutcome     `json:"lastSyncStatus,omitempty"`
	LastSyncError     *string          `json:"lastSyncError,omitempty"`
	WebhookConfigured bool             `json:"webhookConfigured"`
	WebhookManual     bool             `json:"webhookManual"`
	ConnectedAt       *time.Time       `json:"connectedAt,omitempty"`
}

func statusDTO(integration *Integration) IntegrationStatusDTO {
	if integration == nil {
		return IntegrationStatusDTO{Connected: false}
	}
	dto := IntegrationStatusDTO{
		Connected:      integration.Status != StatusDisconnected,
		Provider:       integration.Provider,
		Status:         integration.Status,
		LastSyncAt:     integration.LastSyncAt,
		LastSyncStatus: integration.LastSyncStatus,
		LastSyncError:  integration.LastSyncError,
		ConnectedAt:    &integration.CreatedAt,
	}
	if integration.WebhookID != nil {
		dto.WebhookConfigured = true
		dto.WebhookManual = *integration.WebhookID == adapter.ManualWebhookID
	}
	return dto
}

// ConnectResponseDTO starts the OAuth flow, or reports an immediately
// connected demo integration.
type ConnectResponseDTO struct {
	URL         string                `json:"url,omitempty"`
	Demo        bool                  `json:"demo,omitempty"`
	Integration *IntegrationStatusDTO `json:"integration,omitempty"`
}

// PushRequestDTO is an outbound single-record update.
type PushRequestDTO struct {
	EntityType adapter.EntityType `json:"entityType"`
	ExternalID string             `json:"externalId"`
	Fields     map[string]any     `json:"fields"`
}

// WebhookResponseDTO acknowledges a processed delivery.
type WebhookResponseDTO struct {
	Received  int `json:"received"`
	Refreshed int `json:"refreshed"`
}
