package crm

import (
	"context"
	"log/slog"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/apperror"
)

// pushFieldNames translates canonical field names into each provider's
// own naming before an outbound update. Anything without a translation
// is dropped; the adapter's allow list is a second gate behind this one.
var pushFieldNames = map[adapter.Provider]map[adapter.EntityType]map[string]string{
	adapter.ProviderHubSpot: {
		adapter.EntityCompany: {
			"name": "name", "domain": "domain", "website": "website",
			"industry": "industry", "phone": "phone", "city": "city",
			"country": "country", "description": "description",
		},
		adapter.EntityContact: {
			"firstName": "firstname", "lastName": "lastname", "email": "email",
			"phone": "phone", "jobTitle": "jobtitle",
		},
		adapter.EntityLead: {
			"firstName": "firstname", "lastName": "lastname", "email": "email",
			"phone": "phone", "jobTitle": "jobtitle", "status": "hs_lead_status",
		},
		adapter.EntityDeal: {
			"name": "dealname", "amount": "amount", "stage": "dealstage",
			"closeDate": "closedate", "description": "description",
		},
	},
	adapter.ProviderSalesforce: {
		adapter.EntityCompany: {
			"name": "Name", "website": "Website", "industry": "Industry",
			"phone": "Phone", "city": "BillingCity", "country": "BillingCountry",
			"description": "Description",
		},
		adapter.EntityContact: {
			"firstName": "FirstName", "lastName": "LastName", "email": "Email",
			"phone": "Phone", "jobTitle": "Title",
		},
		adapter.EntityLead: {
			"firstName": "FirstName", "lastName": "LastName", "email": "Email",
			"phone": "Phone", "jobTitle": "Title", "status": "Status",
		},
		adapter.EntityDeal: {
			"name": "Name", "amount": "Amount", "stage": "StageName",
			"closeDate": "CloseDate", "description": "Description",
		},
	},
	adapter.ProviderAttio: {
		adapter.EntityCompany: {
			"name": "name", "domain": "domains", "description": "description",
		},
		adapter.EntityContact: {
			"email": "email_addresses", "phone": "phone_numbers", "jobTitle": "job_title",
		},
		adapter.EntityLead: {
			"email": "email_addresses", "phone": "phone_numbers",
			"jobTitle": "job_title", "status": "status",
		},
		adapter.EntityDeal: {
			"name": "name", "amount": "value", "stage": "stage",
		},
	},
}

func translatePushFields(provider adapter.Provider, entityType adapter.EntityType, fields map[string]any) map[string]any {
	table := pushFieldNames[provider][entityType]
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		if providerName, ok := table[name]; ok {
			out[providerName] = value
		}
	}
	return out
}

// PushToCRM writes one record's field changes back to the provider. No
// batching and no retries: a failure propagates straight to the caller,
// logged as an outbound sync entry either way.
func (o *Orchestrator) PushToCRM(ctx context.Context, orgID string, entityType adapter.EntityType, externalID string, fields map[string]any) (*adapter.RawRecord, error) {
	integration, err := o.integrations.GetByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if integration == nil || integration.Status == StatusDisconnected {
		return nil, apperror.ErrNotConnected
	}

	prov, ok := o.registry.Get(integration.Provider)
	if !ok {
		return nil, apperror.ErrConfiguration
	}

	entry := &SyncLog{
		IntegrationID: integration.ID,
		EntityScope:   EntityScope(entityType),
		Operation:     OpPush,
		Direction:     DirectionOutbound,
		Metadata:      map[string]any{"externalId": externalID},
	}
	if err := o.integrations.InsertSyncLog(ctx, entry); err != nil {
		return nil, err
	}

	creds, err := o.creds.GetValidAccessToken(ctx, orgID)
	if err != nil {
		msg := err.Error()
		_ = o.integrations.CompleteSyncLog(ctx, entry.ID, RunFailed, Counts{Processed: 1, Failed: 1}, &msg)
		return nil, err
	}

	translated := translatePushFields(integration.Provider, entityType, fields)
	rec, err := prov.UpdateRecord(ctx, entityType, creds, externalID, translated)
	if err != nil {
		o.metrics.RecordRun(integration.Provider, OpPush, RunFailed)
		msg := err.Error()
		_ = o.integrations.CompleteSyncLog(ctx, entry.ID, RunFailed, Counts{Processed: 1, Failed: 1}, &msg)
		if adapter.IsAPIError(err) {
			return nil, apperror.ErrProviderAPI.WithInternal(err)
		}
		return nil, err
	}

	if err := o.integrations.CompleteSyncLog(ctx, entry.ID, RunCompleted, Counts{Processed: 1, Updated: 1}, nil); err != nil {
		return nil, err
	}
	o.metrics.RecordRun(integration.Provider, OpPush, RunCompleted)

	o.log.Info("pushed record to provider",
		slog.String("organizationId", orgID),
		slog.String("provider", string(integration.Provider)),
		slog.String("entityType", string(entityType)),
		slog.String("externalId", externalID))
	return rec, nil
}
