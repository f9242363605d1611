package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// MetricsHandler serves operational metrics over the CRM sync tables.
type MetricsHandler struct {
	db *bun.DB
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(db *bun.DB) *MetricsHandler {
	return &MetricsHandler{
		db: db,
	}
}

// IntegrationMetrics counts integrations per provider and status.
type IntegrationMetrics struct {
	Provider string `json:"provider"`
	Status   string `json:"status"`
	Count    int64  `json:"count"`
}

// SyncRunMetrics summarizes sync log activity per operation.
type SyncRunMetrics struct {
	Operation   string `json:"operation"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	Running     int64  `json:"running"`
	Total       int64  `json:"total"`
	LastHour    int64  `json:"last_hour"`
	Last24Hours int64  `json:"last_24_hours"`
}

// SyncMetricsResponse is the sync metrics payload.
type SyncMetricsResponse struct {
	Integrations []IntegrationMetrics `json:"integrations"`
	Runs         []SyncRunMetrics     `json:"runs"`
	Timestamp    string               `json:"timestamp"`
}

// SyncMetrics returns integration and sync run counts
func (h *MetricsHandler) SyncMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	integrations, err := h.integrationMetrics(ctx)
	if err != nil {
		return err
	}

	var runs []SyncRunMetrics
	for _, op := range []string{"full_sync", "incremental", "push"} {
		metrics, err := h.runMetrics(ctx, op)
		if err != nil {
			// Keep serving whatever aggregates are available.
			continue
		}
		runs = append(runs, *metrics)
	}

	return c.JSON(http.StatusOK, SyncMetricsResponse{
		Integrations: integrations,
		Runs:         runs,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *MetricsHandler) integrationMetrics(ctx context.Context) ([]IntegrationMetrics, error) {
	var rows []IntegrationMetrics
	err := h.db.NewRaw(`
		SELECT provider, status, COUNT(*) AS count
		FROM crm_integrations
		GROUP BY provider, status
		ORDER BY provider, status
	`).Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (h *MetricsHandler) runMetrics(ctx context.Context, operation string) (*SyncRunMetrics, error) {
	var metrics struct {
		Completed   int64 `bun:"completed"`
		Failed      int64 `bun:"failed"`
		Running     int64 `bun:"running"`
		Total       int64 `bun:"total"`
		LastHour    int64 `bun:"last_hour"`
		Last24Hours int64 `bun:"last_24_hours"`
	}

	err := h.db.NewRaw(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'started') AS running,
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE started_at > NOW() - INTERVAL '1 hour') AS last_hour,
			COUNT(*) FILTER (WHERE started_at > NOW() - INTERVAL '24 hours') AS last_24_hours
		FROM crm_sync_logs
		WHERE operation = ?
	`, operation).Scan(ctx, &metrics)
	if err != nil {
		return nil, err
	}

	return &SyncRunMetrics{
		Operation:   operation,
		Completed:   metrics.Completed,
		Failed:      metrics.Failed,
		Running:     metrics.Running,
		Total:       metrics.Total,
		LastHour:    metrics.LastHour,
		Last24Hours: metrics.Last24Hours,
	}, nil
}
