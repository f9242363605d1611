package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/domain/pipeline"
)

var allProviders = []adapter.Provider{
	adapter.ProviderHubSpot,
	adapter.ProviderSalesforce,
	adapter.ProviderAttio,
}

// Mapping must be total: an empty record still yields a valid entity
// with the external correlation fields populated.
func TestMappingIsTotalOnEmptyRecords(t *testing.T) {
	rec := adapter.RawRecord{ID: "x-1", Properties: map[string]any{}}

	for _, provider := range allProviders {
		t.Run(string(provider), func(t *testing.T) {
			company := MapCompany(provider, rec)
			assert.NotEmpty(t, company.Name)
			assert.Equal(t, "x-1", *company.ExternalID)
			assert.Equal(t, string(provider), *company.ExternalSource)
			assert.NotEmpty(t, *company.ExternalURL)

			contact := MapContact(provider, rec)
			assert.Equal(t, "x-1", *contact.ExternalID)
			assert.NotEmpty(t, *contact.ExternalURL)

			lead := MapLead(provider, rec)
			assert.Equal(t, pipeline.LeadStatusNew, lead.Status)
			assert.Equal(t, pipeline.LeadSourceCRMImport, lead.Source)

			deal := MapDeal(provider, rec)
			assert.NotEmpty(t, deal.Name)
			assert.Equal(t, pipeline.DealStatusOpen, deal.Status)
			assert.Zero(t, deal.Amount)
		})
	}
}

func TestMappingToleratesNilProperties(t *testing.T) {
	rec := adapter.RawRecord{ID: "x-2"}
	for _, provider := range allProviders {
		assert.NotNil(t, MapCompany(provider, rec))
		assert.NotNil(t, MapContact(provider, rec))
		assert.NotNil(t, MapLead(provider, rec))
		assert.NotNil(t, MapDeal(provider, rec))
	}
}

func TestMapCompanyHubSpot(t *testing.T) {
	rec := adapter.RawRecord{
		ID:  "512",
		URL: "https://app.hubspot.com/contacts/record/0-2/512",
		Properties: map[string]any{
			"name":              "Globex",
			"domain":            "globex.com",
			"industry":          "Manufacturing",
			"numberofemployees": "2500",
		},
	}

	company := MapCompany(adapter.ProviderHubSpot, rec)
	assert.Equal(t, "Globex", company.Name)
	assert.Equal(t, "globex.com", *company.Domain)
	require.NotNil(t, company.EmployeeCount)
	assert.Equal(t, 2500, *company.EmployeeCount)
	assert.Equal(t, "https://app.hubspot.com/contacts/record/0-2/512", *company.ExternalURL)
}

func TestMapContactSalesforce(t *testing.T) {
	rec := adapter.RawRecord{
		ID: "003A",
		Properties: map[string]any{
			"FirstName": "Grace",
			"LastName":  "Hopper",
			"Email":     "grace@hopper.dev",
			"Title":     "Rear Admiral",
			"AccountId": "001A",
		},
	}

	contact := MapContact(adapter.ProviderSalesforce, rec)
	assert.Equal(t, "Grace", contact.FirstName)
	assert.Equal(t, "Hopper", contact.LastName)
	assert.Equal(t, "grace@hopper.dev", *contact.Email)
	require.NotNil(t, contact.ExternalCompanyID)
	assert.Equal(t, "001A", *contact.ExternalCompanyID)
}

func TestMapContactAttioSplitsFullName(t *testing.T) {
	rec := adapter.RawRecord{
		ID: "rec-9",
		Properties: map[string]any{
			"name":            "Ada King Lovelace",
			"email_addresses": "ada@lovelace.dev",
		},
	}

	contact := MapContact(adapter.ProviderAttio, rec)
	assert.Equal(t, "Ada", contact.FirstName)
	assert.Equal(t, "King Lovelace", contact.LastName)
}

func TestLeadStatusVocabulary(t *testing.T) {
	cases := []struct {
		raw  string
		want pipeline.LeadStatus
	}{
		{"NEW", pipeline.LeadStatusNew},
		{"Open - Not Contacted", pipeline.LeadStatusNew},
		{"ATTEMPTED_TO_CONTACT", pipeline.LeadStatusContacted},
		{"Working - Contacted", pipeline.LeadStatusContacted},
		{"QUALIFIED", pipeline.LeadStatusQualified},
		{"Closed - Not Converted", pipeline.LeadStatusUnqualified},
		{"Closed - Converted", pipeline.LeadStatusConverted},
		{"", pipeline.LeadStatusNew},
		{"some future provider value", pipeline.LeadStatusNew},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, leadStatus(tc.raw), "raw=%q", tc.raw)
	}
}

func TestLeadSourceVocabulary(t *testing.T) {
	assert.Equal(t, pipeline.LeadSourceWebsite, leadSource("Web"))
	assert.Equal(t, pipeline.LeadSourceReferral, leadSource("Partner Referral"))
	assert.Equal(t, pipeline.LeadSourceOutbound, leadSource("Phone Inquiry"))
	assert.Equal(t, pipeline.LeadSourceCRMImport, leadSource(""))
	assert.Equal(t, pipeline.LeadSourceOther, leadSource("Purchased List"))
}

func TestMapDealStatusAndAmount(t *testing.T) {
	cases := []struct {
		name     string
		provider adapter.Provider
		props    map[string]any
		status   pipeline.DealStatus
		amount   float64
	}{
		{"hubspot closedwon", adapter.ProviderHubSpot, map[string]any{"dealstage": "closedwon", "amount": "5000"}, pipeline.DealStatusWon, 5000},
		{"hubspot closedlost", adapter.ProviderHubSpot, map[string]any{"dealstage": "closedlost"}, pipeline.DealStatusLost, 0},
		{"salesforce closed won", adapter.ProviderSalesforce, map[string]any{"StageName": "Closed Won", "Amount": float64(1200.50)}, pipeline.DealStatusWon, 1200.50},
		{"salesforce negotiation", adapter.ProviderSalesforce, map[string]any{"StageName": "Negotiation"}, pipeline.DealStatusOpen, 0},
		{"attio in progress", adapter.ProviderAttio, map[string]any{"stage": "In Progress", "value": float64(300)}, pipeline.DealStatusOpen, 300},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deal := MapDeal(tc.provider, adapter.RawRecord{ID: "d-1", Properties: tc.props})
			assert.Equal(t, tc.status, deal.Status)
			assert.Equal(t, tc.amount, deal.Amount)
		})
	}
}

func TestMapDealCloseDate(t *testing.T) {
	deal := MapDeal(adapter.ProviderSalesforce, adapter.RawRecord{
		ID:         "006X",
		Properties: map[string]any{"Name": "Q3 renewal", "CloseDate": "2026-09-30"},
	})
	require.NotNil(t, deal.CloseDate)
	assert.Equal(t, time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC), *deal.CloseDate)
}

// Same input, same output: mapping must be deterministic since it runs
// inside retryable sync loops.
func TestMappingIsDeterministic(t *testing.T) {
	rec := adapter.RawRecord{
		ID: "rec-1",
		Properties: map[string]any{
			"name": "Globex", "domain": "globex.com", "numberofemployees": "10",
		},
	}

	first := MapCompany(adapter.ProviderHubSpot, rec)
	second := MapCompany(adapter.ProviderHubSpot, rec)
	assert.Equal(t, first, second)
}
