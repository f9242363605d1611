// Package mapper translates provider raw records into canonical pipeline
// entities. Mapping is total and deterministic: any record, however
// sparse or malformed, maps to a valid entity, because the sync loop
// cannot afford one bad record aborting a batch.
package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/domain/pipeline"
)

// fieldKeys lists, per provider, which raw property names feed each
// canonical field. This table is the only place provider identity
// influences mapping.
var fieldKeys = map[adapter.Provider]map[string][]string{
	adapter.ProviderHubSpot: {
		"companyName":    {"name"},
		"domain":         {"domain"},
		"website":        {"website"},
		"industry":       {"industry"},
		"phone":          {"phone"},
		"city":           {"city"},
		"country":        {"country"},
		"employees":      {"numberofemployees"},
		"description":    {"description"},
		"firstName":      {"firstname"},
		"lastName":       {"lastname"},
		"email":          {"email"},
		"jobTitle":       {"jobtitle"},
		"contactCompany": {"company", "associatedcompanyid"},
		"leadStatus":     {"hs_lead_status"},
		"leadSource":     {"hs_analytics_source"},
		"dealName":       {"dealname"},
		"dealAmount":     {"amount"},
		"dealStage":      {"dealstage"},
		"closeDate":      {"closedate"},
	},
	adapter.ProviderSalesforce: {
		"companyName":    {"Name"},
		"domain":         {"Website"},
		"website":        {"Website"},
		"industry":       {"Industry"},
		"phone":          {"Phone"},
		"city":           {"BillingCity"},
		"country":        {"BillingCountry"},
		"employees":      {"NumberOfEmployees"},
		"description":    {"Description"},
		"firstName":      {"FirstName"},
		"lastName":       {"LastName"},
		"email":          {"Email"},
		"jobTitle":       {"Title"},
		"contactCompany": {"AccountId", "Company"},
		"leadStatus":     {"Status"},
		"leadSource":     {"LeadSource"},
		"dealName":       {"Name"},
		"dealAmount":     {"Amount"},
		"dealStage":      {"StageName"},
		"closeDate":      {"CloseDate"},
		"probability":    {"Probability"},
		"dealCompany":    {"AccountId"},
	},
	adapter.ProviderAttio: {
		"companyName":    {"name"},
		"domain":         {"domains"},
		"website":        {"domains"},
		"industry":       {"categories"},
		"phone":          {"phone_numbers"},
		"description":    {"description"},
		"fullName":       {"name"},
		"email":          {"email_addresses"},
		"jobTitle":       {"job_title"},
		"contactCompany": {"company"},
		"leadStatus":     {"status"},
		"dealName":       {"name"},
		"dealAmount":     {"value"},
		"dealStage":      {"stage"},
	},
}

// externalURLPatterns supply a deep link when the adapter did not carry
// one on the record.
var externalURLPatterns = map[adapter.Provider]string{
	adapter.ProviderHubSpot:    "https://app.hubspot.com/contacts/record/%s",
	adapter.ProviderSalesforce: "https://login.salesforce.com/%s",
	adapter.ProviderAttio:      "https://app.attio.com/record/%s",
}

// MapCompany builds a canonical company from a raw record.
func MapCompany(provider adapter.Provider, rec adapter.RawRecord) *pipeline.Company {
	keys := fieldKeys[provider]

	name := str(rec, keys["companyName"])
	if name == "" {
		name = "Untitled Company"
	}

	return &pipeline.Company{
		Name:           name,
		Domain:         strPtr(rec, keys["domain"]),
		Website:        strPtr(rec, keys["website"]),
		Industry:       strPtr(rec, keys["industry"]),
		Phone:          strPtr(rec, keys["phone"]),
		City:           strPtr(rec, keys["city"]),
		Country:        strPtr(rec, keys["country"]),
		EmployeeCount:  intPtr(rec, keys["employees"]),
		Description:    strPtr(rec, keys["description"]),
		ExternalID:     ptr(rec.ID),
		ExternalSource: ptr(string(provider)),
		ExternalURL:    ptr(externalURL(provider, rec)),
	}
}

// MapContact builds a canonical contact. The raw company reference, if
// any, lands in ExternalCompanyID for the store to resolve.
func MapContact(provider adapter.Provider, rec adapter.RawRecord) *pipeline.Contact {
	keys := fieldKeys[provider]
	first, last := personName(provider, rec)

	return &pipeline.Contact{
		FirstName:         first,
		LastName:          last,
		Email:             strPtr(rec, keys["email"]),
		Phone:             strPtr(rec, keys["phone"]),
		JobTitle:          strPtr(rec, keys["jobTitle"]),
		ExternalCompanyID: strPtr(rec, keys["contactCompany"]),
		ExternalID:        ptr(rec.ID),
		ExternalSource:    ptr(string(provider)),
		ExternalURL:       ptr(externalURL(provider, rec)),
	}
}

// MapLead builds a canonical lead. Unknown provider status and source
// vocabulary falls back to NEW and OTHER; absent source means the record
// simply arrived via CRM import.
func MapLead(provider adapter.Provider, rec adapter.RawRecord) *pipeline.Lead {
	keys := fieldKeys[provider]
	first, last := personName(provider, rec)

	return &pipeline.Lead{
		FirstName:      first,
		LastName:       last,
		Email:          strPtr(rec, keys["email"]),
		Phone:          strPtr(rec, keys["phone"]),
		JobTitle:       strPtr(rec, keys["jobTitle"]),
		CompanyName:    strPtr(rec, keys["contactCompany"]),
		Status:         leadStatus(str(rec, keys["leadStatus"])),
		Source:         leadSource(str(rec, keys["leadSource"])),
		ExternalID:     ptr(rec.ID),
		ExternalSource: ptr(string(provider)),
		ExternalURL:    ptr(externalURL(provider, rec)),
	}
}

// MapDeal builds a canonical deal. StageID is left empty: stages are an
// organization-local concept the store resolves at upsert time.
func MapDeal(provider adapter.Provider, rec adapter.RawRecord) *pipeline.Deal {
	keys := fieldKeys[provider]

	name := str(rec, keys["dealName"])
	if name == "" {
		name = "Untitled Deal"
	}
	stage := str(rec, keys["dealStage"])

	return &pipeline.Deal{
		Name:              name,
		Amount:            num(rec, keys["dealAmount"]),
		Status:            dealStatus(stage),
		StageName:         optional(stage),
		Probability:       intPtr(rec, keys["probability"]),
		CloseDate:         timePtr(rec, keys["closeDate"]),
		ExternalCompanyID: strPtr(rec, keys["dealCompany"]),
		ExternalContactID: strPtr(rec, keys["dealContact"]),
		ExternalID:        ptr(rec.ID),
		ExternalSource:    ptr(string(provider)),
		ExternalURL:       ptr(externalURL(provider, rec)),
	}
}

func personName(provider adapter.Provider, rec adapter.RawRecord) (string, string) {
	keys := fieldKeys[provider]
	first := str(rec, keys["firstName"])
	last := str(rec, keys["lastName"])
	if first != "" || last != "" {
		return first, last
	}

	// Attio carries one full-name attribute.
	full := str(rec, keys["fullName"])
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func externalURL(provider adapter.Provider, rec adapter.RawRecord) string {
	if rec.URL != "" {
		return rec.URL
	}
	return fmt.Sprintf(externalURLPatterns[provider], rec.ID)
}

func leadStatus(raw string) pipeline.LeadStatus {
	switch normalize(raw) {
	case "", "new", "open", "open not contacted":
		return pipeline.LeadStatusNew
	case "attempted to contact", "contacted", "working contacted", "in progress", "connected":
		return pipeline.LeadStatusContacted
	case "qualified", "open deal", "interested":
		return pipeline.LeadStatusQualified
	case "unqualified", "closed not converted", "bad timing", "not interested":
		return pipeline.LeadStatusUnqualified
	case "converted", "closed converted", "won":
		return pipeline.LeadStatusConverted
	default:
		return pipeline.LeadStatusNew
	}
}

func leadSource(raw string) pipeline.LeadSource {
	switch normalize(raw) {
	case "":
		return pipeline.LeadSourceCRMImport
	case "web", "website", "organic search", "paid search", "direct traffic":
		return pipeline.LeadSourceWebsite
	case "referral", "partner referral", "employee referral", "referrals":
		return pipeline.LeadSourceReferral
	case "event", "trade show", "conference", "webinar":
		return pipeline.LeadSourceEvent
	case "cold call", "phone inquiry", "outbound", "email", "linkedin":
		return pipeline.LeadSourceOutbound
	default:
		return pipeline.LeadSourceOther
	}
}

func dealStatus(stage string) pipeline.DealStatus {
	s := normalize(stage)
	switch {
	case strings.Contains(s, "won"):
		return pipeline.DealStatusWon
	case strings.Contains(s, "lost"):
		return pipeline.DealStatusLost
	default:
		return pipeline.DealStatusOpen
	}
}

// normalize lower-cases and strips the separators providers decorate
// their vocabularies with ("Closed - Not Converted", "closedwon").
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	if strings.HasPrefix(s, "closed") && !strings.Contains(s, " ") {
		// hubspot's closedwon / closedlost
		s = "closed " + strings.TrimPrefix(s, "closed")
	}
	return strings.TrimSpace(s)
}

func str(rec adapter.RawRecord, keys []string) string {
	for _, key := range keys {
		v, ok := rec.Properties[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case int:
			return strconv.Itoa(t)
		case bool:
			return strconv.FormatBool(t)
		}
	}
	return ""
}

func strPtr(rec adapter.RawRecord, keys []string) *string {
	return optional(str(rec, keys))
}

func num(rec adapter.RawRecord, keys []string) float64 {
	for _, key := range keys {
		switch t := rec.Properties[key].(type) {
		case float64:
			return t
		case int:
			return float64(t)
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func intPtr(rec adapter.RawRecord, keys []string) *int {
	for _, key := range keys {
		switch t := rec.Properties[key].(type) {
		case float64:
			n := int(t)
			return &n
		case int:
			return &t
		case string:
			if n, err := strconv.Atoi(t); err == nil {
				return &n
			}
		}
	}
	return nil
}

func timePtr(rec adapter.RawRecord, keys []string) *time.Time {
	raw := str(rec, keys)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptr(s string) *string {
	return &s
}
