package matchmaking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/dealroom/pkg/domain"
	"github.com/aretw0/dealroom/pkg/metrics"
)

const (
	tracerName = "github.com/aretw0/dealroom/pkg/matchmaking"

	// DefaultTimeout bounds every scoring call.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
)

// Scorer scores counterparts for a party.
type Scorer interface {
	Score(ctx context.Context, role domain.Role, req Request) ([]domain.Match, error)
}

// Client calls the external scoring service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
	tracer     trace.Tracer
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a scoring client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Score posts req and returns the service's matches verbatim. Every failure
// is an *domain.ExternalServiceError carrying whatever body was received.
func (c *Client) Score(ctx context.Context, role domain.Role, req Request) (matches []domain.Match, err error) {
	path, err := Endpoint(role)
	if err != nil {
		return nil, err
	}
	endpoint := c.baseURL + path

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "matchmaking.score", trace.WithAttributes(
		attribute.String("party.role", string(role)),
		attribute.String("http.url", endpoint),
		attribute.Int("matchmaking.counterparts", len(req.Counterparts)),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.ScoringRequest(string(role), outcome, time.Since(start))
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode scoring request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ExternalServiceError{Endpoint: endpoint, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.ExternalServiceError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.ExternalServiceError{Endpoint: endpoint, StatusCode: resp.StatusCode, Payload: payload, Err: err}
	}

	matches, err = decodeMatches(resp.StatusCode, payload)
	if err != nil {
		c.logger.Warn("scoring call failed", "endpoint", endpoint, "status", resp.StatusCode, "error", err)
		return nil, &domain.ExternalServiceError{Endpoint: endpoint, StatusCode: resp.StatusCode, Payload: payload, Err: err}
	}
	c.logger.Debug("scoring call succeeded", "endpoint", endpoint, "matches", len(matches))
	return matches, nil
}

// decodeMatches refuses anything but a 2xx JSON object with a matches array.
// HTML error pages and truncated bodies are failures, never empty results.
func decodeMatches(status int, payload []byte) ([]domain.Match, error) {
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("unexpected status %d", status)
	}
	if !gjson.ValidBytes(payload) {
		return nil, errors.New("response is not valid JSON")
	}
	result := gjson.ParseBytes(payload)
	if !result.IsObject() {
		return nil, errors.New("response is not a JSON object")
	}
	raw := result.Get("matches")
	if !raw.Exists() || !raw.IsArray() {
		return nil, errors.New("response has no matches array")
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}
	for i, m := range resp.Matches {
		if strings.TrimSpace(m.CounterpartID) == "" {
			return nil, fmt.Errorf("match %d has no counterpartId", i)
		}
		if m.Score < 0 || m.Score > 100 {
			return nil, fmt.Errorf("match %d score %v out of range", i, m.Score)
		}
	}
	if resp.Matches == nil {
		resp.Matches = []domain.Match{}
	}
	return resp.Matches, nil
}
