package attio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/giftwell/giftwell/domain/crm/adapter"
	"github.com/giftwell/giftwell/pkg/logger"
)

const (
	apiBaseURL   = "https://api.attio.com"
	authorizeURL = "https://app.attio.com/authorize"
	tokenURL     = "https://app.attio.com/oauth/token"
)

type client struct {
	httpClient *http.Client
	log        *slog.Logger
}

func newClient(timeout time.Duration, log *slog.Logger) *client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With(logger.Scope("attio.client")),
	}
}

func (c *client) request(ctx context.Context, accessToken, method, urlStr string, body any, op string) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &adapter.APIError{
			Provider:  adapter.ProviderAttio,
			Operation: op,
			Status:    resp.StatusCode,
			Body:      string(respBody),
		}
	}

	return respBody, resp.StatusCode, nil
}
