package crm

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/giftwell/giftwell/domain/crm/adapter"
)

// Status is the integration connection state. SYNCING doubles as the
// advisory lock against overlapping full syncs.
type Status string

const (
	StatusConnected    Status = "CONNECTED"
	StatusSyncing      Status = "SYNCING"
	StatusError        Status = "ERROR"
	StatusDisconnected Status = "DISCONNECTED"
)

// SyncOutcome summarizes the last completed sync run.
type SyncOutcome string

const (
	OutcomeSuccess SyncOutcome = "SUCCESS"
	OutcomePartial SyncOutcome = "PARTIAL"
	OutcomeFailed  SyncOutcome = "FAILED"
)

// Integration connects one organization to one CRM. At most one row per
// organization; token columns hold encrypted blobs, never plaintext.
type Integration struct {
	bun.BaseModel `bun:"table:crm_integrations,alias:ci"`

	ID             string           `bun:"id,pk" json:"id"`
	OrganizationID string           `bun:"organization_id,notnull,unique" json:"organization_id"`
	Provider       adapter.Provider `bun:"provider,notnull" json:"provider"`

	AccessToken    string     `bun:"access_token,notnull" json:"-"`
	RefreshToken   *string    `bun:"refresh_token" json:"-"`
	TokenExpiresAt *time.Time `bun:"token_expires_at" json:"token_expires_at,omitempty"`
	InstanceURL    *string    `bun:"instance_url" json:"instance_url,omitempty"`

	Status         Status       `bun:"status,notnull,default:'CONNECTED'" json:"status"`
	LastSyncAt     *time.Time   `bun:"last_sync_at" json:"last_sync_at,omitempty"`
	LastSyncStatus *SyncOutcome `bun:"last_sync_status" json:"last_sync_status,omitempty"`
	LastSyncError  *string      `bun:"last_sync_error" json:"last_sync_error,omitempty"`

	WebhookID     *string `bun:"webhook_id" json:"webhook_id,omitempty"`
	WebhookSecret *string `bun:"webhook_secret" json:"-"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// EntityScope is the entity-type coverage of one sync log entry.
type EntityScope string

const (
	ScopeAll     EntityScope = "all"
	ScopeCompany EntityScope = "company"
	ScopeContact EntityScope = "contact"
	ScopeLead    EntityScope = "lead"
	ScopeDeal    EntityScope = "deal"
)

// SyncOperation identifies the kind of sync run.
type SyncOperation string

const (
	OpFullSync    SyncOperation = "full_sync"
	OpIncremental SyncOperation = "incremental"
	OpPush        SyncOperation = "push"
)

// SyncDirection records which way data moved.
type SyncDirection string

const (
	DirectionInbound  SyncDirection = "inbound"
	DirectionOutbound SyncDirection = "outbound"
)

// SyncRunStatus is the lifecycle of one sync log entry.
type SyncRunStatus string

const (
	RunStarted   SyncRunStatus = "started"
	RunCompleted SyncRunStatus = "completed"
	RunFailed    SyncRunStatus = "failed"
)

// SyncLog is the append-only audit trail of sync runs. A row is
// inserted when a run starts and updated exactly once on completion or
// failure; it is history, not state.
type SyncLog struct {
	bun.BaseModel `bun:"table:crm_sync_logs,alias:sl"`

	ID            string        `bun:"id,pk" json:"id"`
	IntegrationID string        `bun:"integration_id,notnull,type:uuid" json:"integration_id"`
	EntityScope   EntityScope   `bun:"entity_scope,notnull" json:"entity_scope"`
	Operation     SyncOperation `bun:"operation,notnull" json:"operation"`
	Direction     SyncDirection `bun:"direction,notnull" json:"direction"`
	Status        SyncRunStatus `bun:"status,notnull" json:"status"`

	Processed int `bun:"processed,notnull,default:0" json:"processed"`
	Created   int `bun:"created,notnull,default:0" json:"created"`
	Updated   int `bun:"updated,notnull,default:0" json:"updated"`
	Skipped   int `bun:"skipped,notnull,default:0" json:"skipped"`
	Failed    int `bun:"failed,notnull,default:0" json:"failed"`

	StartedAt    time.Time      `bun:"started_at,notnull" json:"started_at"`
	CompletedAt  *time.Time     `bun:"completed_at" json:"completed_at,omitempty"`
	ErrorMessage *string        `bun:"error_message" json:"error_message,omitempty"`
	Metadata     map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
}

// Counts aggregates per-record results across a sync run.
type Counts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Processed += other.Processed
	c.Created += other.Created
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Failed += other.Failed
}
