package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yungbote/neuroagent-backend/internal/apperrors"
	"github.com/yungbote/neuroagent-backend/internal/httpx"
	"github.com/yungbote/neuroagent-backend/internal/logger"
	"github.com/yungbote/neuroagent-backend/internal/utils"
)

// EntityCoreClient is a thin read-only client for the knowledge-graph API.
// The caller's bearer token is forwarded per request; the client itself
// holds no credential.
type EntityCoreClient struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
	maxRetries int
}

func NewEntityCoreClient(log *logger.Logger) *EntityCoreClient {
	baseURL := utils.GetEnv("ENTITYCORE_URL", "http://localhost:8010", log)
	timeout := utils.GetEnvAsInt("ENTITYCORE_TIMEOUT_SECONDS", 30, log)
	return &EntityCoreClient{
		log:        log.With("service", "EntityCoreClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		maxRetries: utils.GetEnvAsInt("ENTITYCORE_MAX_RETRIES", 2, log),
	}
}

type entityCoreHTTPError struct {
	status int
	body   string
}

func (e *entityCoreHTTPError) Error() string {
	return fmt.Sprintf("entitycore http %d: %s", e.status, e.body)
}

func (e *entityCoreHTTPError) HTTPStatusCode() int { return e.status }

func (c *EntityCoreClient) doOnce(ctx context.Context, path, token string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &entityCoreHTTPError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

// Get fetches a JSON document, retrying transient failures.
func (c *EntityCoreClient) Get(ctx context.Context, path, token string, query url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(httpx.JitterSleep(time.Duration(attempt) * 500 * time.Millisecond)):
			}
		}
		raw, err := c.doOnce(ctx, path, token, query)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) {
			break
		}
		c.log.Warn("entitycore request retrying", "path", path, "attempt", attempt, "error", err)
	}
	return nil, apperrors.Upstream("knowledge-graph request failed", lastErr)
}

// Health probes the API root with a short timeout.
func (c *EntityCoreClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := c.doOnce(ctx, "/health", "", nil)
	return err
}
