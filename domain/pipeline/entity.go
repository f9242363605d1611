package pipeline

import (
	"time"

	"github.com/uptrace/bun"
)

// LeadStatus is the product's own lead status vocabulary. Provider
// vocabularies are translated into this set by the CRM mapper.
type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "NEW"
	LeadStatusContacted   LeadStatus = "CONTACTED"
	LeadStatusQualified   LeadStatus = "QUALIFIED"
	LeadStatusUnqualified LeadStatus = "UNQUALIFIED"
	LeadStatusConverted   LeadStatus = "CONVERTED"
)

// LeadSource classifies where a lead came from.
type LeadSource string

const (
	LeadSourceWebsite   LeadSource = "WEBSITE"
	LeadSourceReferral  LeadSource = "REFERRAL"
	LeadSourceEvent     LeadSource = "EVENT"
	LeadSourceOutbound  LeadSource = "OUTBOUND"
	LeadSourceCRMImport LeadSource = "CRM_IMPORT"
	LeadSourceOther     LeadSource = "OTHER"
)

// DealStatus is the product's deal outcome vocabulary.
type DealStatus string

const (
	DealStatusOpen DealStatus = "OPEN"
	DealStatusWon  DealStatus = "WON"
	DealStatusLost DealStatus = "LOST"
)

// Company is a canonical company record. The External* triple links it
// to its CRM counterpart; all three are null for locally created rows.
type Company struct {
	bun.BaseModel `bun:"table:companies,alias:co"`

	ID             string  `bun:"id,pk" json:"id"`
	OrganizationID string  `bun:"organization_id,notnull" json:"organization_id"`
	Name           string  `bun:"name,notnull" json:"name"`
	Domain         *string `bun:"domain" json:"domain,omitempty"`
	Website        *string `bun:"website" json:"website,omitempty"`
	Industry       *string `bun:"industry" json:"industry,omitempty"`
	Phone          *string `bun:"phone" json:"phone,omitempty"`
	City           *string `bun:"city" json:"city,omitempty"`
	Country        *string `bun:"country" json:"country,omitempty"`
	EmployeeCount  *int    `bun:"employee_count" json:"employee_count,omitempty"`
	Description    *string `bun:"description" json:"description,omitempty"`

	ExternalID     *string    `bun:"external_id" json:"external_id,omitempty"`
	ExternalSource *string    `bun:"external_source" json:"external_source,omitempty"`
	ExternalURL    *string    `bun:"external_url" json:"external_url,omitempty"`
	LastSyncedAt   *time.Time `bun:"last_synced_at" json:"last_synced_at,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// Contact is a canonical contact record. CompanyID is resolved from
// ExternalCompanyID on every upsert pass, so a link that could not be
// resolved yet heals on the next sync.
type Contact struct {
	bun.BaseModel `bun:"table:contacts,alias:ct"`

	ID             string  `bun:"id,pk" json:"id"`
	OrganizationID string  `bun:"organization_id,notnull" json:"organization_id"`
	FirstName      string  `bun:"first_name" json:"first_name"`
	LastName       string  `bun:"last_name" json:"last_name"`
	Email          *string `bun:"email" json:"email,omitempty"`
	Phone          *string `bun:"phone" json:"phone,omitempty"`
	JobTitle       *string `bun:"job_title" json:"job_title,omitempty"`

	CompanyID         *string `bun:"company_id,type:uuid" json:"company_id,omitempty"`
	ExternalCompanyID *string `bun:"external_company_id" json:"external_company_id,omitempty"`

	ExternalID     *string    `bun:"external_id" json:"external_id,omitempty"`
	ExternalSource *string    `bun:"external_source" json:"external_source,omitempty"`
	ExternalURL    *string    `bun:"external_url" json:"external_url,omitempty"`
	LastSyncedAt   *time.Time `bun:"last_synced_at" json:"last_synced_at,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// Lead is a canonical lead record.
type Lead struct {
	bun.BaseModel `bun:"table:leads,alias:ld"`

	ID             string     `bun:"id,pk" json:"id"`
	OrganizationID string     `bun:"organization_id,notnull" json:"organization_id"`
	FirstName      string     `bun:"first_name" json:"first_name"`
	LastName       string     `bun:"last_name" json:"last_name"`
	Email          *string    `bun:"email" json:"email,omitempty"`
	Phone          *string    `bun:"phone" json:"phone,omitempty"`
	JobTitle       *string    `bun:"job_title" json:"job_title,omitempty"`
	CompanyName    *string    `bun:"company_name" json:"company_name,omitempty"`
	Status         LeadStatus `bun:"status,notnull,default:'NEW'" json:"status"`
	Source         LeadSource `bun:"source,notnull,default:'OTHER'" json:"source"`

	ExternalID     *string    `bun:"external_id" json:"external_id,omitempty"`
	ExternalSource *string    `bun:"external_source" json:"external_source,omitempty"`
	ExternalURL    *string    `bun:"external_url" json:"external_url,omitempty"`
	LastSyncedAt   *time.Time `bun:"last_synced_at" json:"last_synced_at,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// DealStage is one column of an organization's pipeline board. A Deal
// always belongs to a stage.
type DealStage struct {
	bun.BaseModel `bun:"table:deal_stages,alias:ds"`

	ID             string    `bun:"id,pk" json:"id"`
	OrganizationID string    `bun:"organization_id,notnull" json:"organization_id"`
	Name           string    `bun:"name,notnull" json:"name"`
	Position       int       `bun:"position,notnull" json:"position"`
	Probability    int       `bun:"probability,notnull" json:"probability"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// Deal is a canonical deal record.
type Deal struct {
	bun.BaseModel `bun:"table:deals,alias:dl"`

	ID             string     `bun:"id,pk" json:"id"`
	OrganizationID string     `bun:"organization_id,notnull" json:"organization_id"`
	Name           string     `bun:"name,notnull" json:"name"`
	Amount         float64    `bun:"amount,notnull,default:0" json:"amount"`
	Status         DealStatus `bun:"status,notnull,default:'OPEN'" json:"status"`
	StageID        string     `bun:"stage_id,notnull,type:uuid" json:"stage_id"`
	StageName      *string    `bun:"stage_name" json:"stage_name,omitempty"`
	Probability    *int       `bun:"probability" json:"probability,omitempty"`
	CloseDate      *time.Time `bun:"close_date" json:"close_date,omitempty"`

	CompanyID         *string `bun:"company_id,type:uuid" json:"company_id,omitempty"`
	ContactID         *string `bun:"contact_id,type:uuid" json:"contact_id,omitempty"`
	ExternalCompanyID *string `bun:"external_company_id" json:"external_company_id,omitempty"`
	ExternalContactID *string `bun:"external_contact_id" json:"external_contact_id,omitempty"`

	ExternalID     *string    `bun:"external_id" json:"external_id,omitempty"`
	ExternalSource *string    `bun:"external_source" json:"external_source,omitempty"`
	ExternalURL    *string    `bun:"external_url" json:"external_url,omitempty"`
	LastSyncedAt   *time.Time `bun:"last_synced_at" json:"last_synced_at,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// DefaultStageName, DefaultStagePosition and DefaultStageProbability
// describe the stage created for organizations that have no pipeline yet.
const (
	DefaultStageName        = "Prospecting"
	DefaultStagePosition    = 0
	DefaultStageProbability = 10
)
