package crm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/giftwell/giftwell/domain/crm/adapter"
)

var (
	syncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giftwell_crm_sync_runs_total",
		Help: "Sync runs by provider, operation and terminal status",
	}, []string{"provider", "operation", "status"})

	syncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giftwell_crm_sync_records_total",
		Help: "Individual record reconciliations by provider, entity type and result",
	}, []string{"provider", "entity", "result"})

	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "giftwell_crm_webhook_events_total",
		Help: "Webhook deliveries by provider and verification/processing result",
	}, []string{"provider", "result"})
)

// Metrics records sync activity. A nil receiver is a no-op, which keeps
// test construction simple.
type Metrics struct{}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordRun(provider adapter.Provider, op SyncOperation, status SyncRunStatus) {
	if m == nil {
		return
	}
	syncRuns.WithLabelValues(string(provider), string(op), string(status)).Inc()
}

func (m *Metrics) RecordEntity(provider adapter.Provider, entityType adapter.EntityType, result string) {
	if m == nil {
		return
	}
	syncRecords.WithLabelValues(string(provider), string(entityType), result).Inc()
}

func (m *Metrics) RecordWebhook(provider adapter.Provider, result string) {
	if m == nil {
		return
	}
	webhookEvents.WithLabelValues(string(provider), result).Inc()
}
