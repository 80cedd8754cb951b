package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"diagnosai/backend/pkg/logger"
	"diagnosai/backend/pkg/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const maxReplyBytes = 4 << 20

var errEmptyCandidates = errors.New("provider returned no candidates")

// GeminiConfig configures a GeminiClient
type GeminiConfig struct {
	URL    string
	APIKey string
	Retry  resilience.RetryPolicy
	// HTTPClient defaults to a client without a global timeout; each attempt
	// is bounded by Retry.AttemptTimeout instead.
	HTTPClient *http.Client
	// Sleep defaults to resilience.ContextSleep
	Sleep   resilience.Sleeper
	Breaker *resilience.CircuitBreaker
}

// GeminiClient talks to a generateContent style endpoint
type GeminiClient struct {
	url     string
	apiKey  string
	retry   resilience.RetryPolicy
	client  *http.Client
	sleep   resilience.Sleeper
	breaker *resilience.CircuitBreaker
	log     *logger.Logger

	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  Role         `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates *[]json.RawMessage `json:"candidates"`
}

// NewGeminiClient creates a provider client
func NewGeminiClient(cfg GeminiConfig, log *logger.Logger) *GeminiClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = resilience.ContextSleep
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry.Attempts = resilience.DefaultRetryPolicy().Attempts
	}

	meter := otel.Meter("diagnosai/ai")
	attempts, _ := meter.Int64Counter("provider_attempts_total",
		metric.WithDescription("Provider HTTP attempts by result"))
	duration, _ := meter.Float64Histogram("provider_request_duration_seconds",
		metric.WithDescription("Latency of a single provider attempt"),
		metric.WithUnit("s"))

	return &GeminiClient{
		url:      cfg.URL,
		apiKey:   cfg.APIKey,
		retry:    cfg.Retry,
		client:   cfg.HTTPClient,
		sleep:    cfg.Sleep,
		breaker:  cfg.Breaker,
		log:      log,
		attempts: attempts,
		duration: duration,
	}
}

// Send posts the turns and returns candidates[0] unmodified. Transport errors,
// timeouts, non-2xx statuses, malformed JSON and an empty candidate list are
// retried according to the configured policy.
func (c *GeminiClient) Send(ctx context.Context, turns []Turn) (RawReply, error) {
	body, err := json.Marshal(buildRequest(turns))
	if err != nil {
		return nil, fmt.Errorf("encode provider request: %w", err)
	}

	var reply RawReply
	call := func() error {
		return resilience.Retry(ctx, c.retry, c.sleep,
			func(attemptCtx context.Context, _ int) error {
				r, err := c.attempt(attemptCtx, body)
				if err != nil {
					return err
				}
				reply = r
				return nil
			},
			func(attempt int, err error) {
				c.log.Warn("Provider attempt failed",
					"attempt", attempt+1,
					"max_attempts", c.retry.Attempts,
					"error", err.Error(),
				)
			},
		)
	}

	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}

	if err != nil {
		var retryErr *resilience.RetryError
		if errors.As(err, &retryErr) {
			c.log.Error("Provider unavailable", "attempts", retryErr.Attempts, "error", retryErr.Last.Error())
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return reply, nil
}

func (c *GeminiClient) attempt(ctx context.Context, body []byte) (reply RawReply, err error) {
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		attrs := metric.WithAttributes(attribute.String("result", result))
		c.attempts.Add(ctx, 1, attrs)
		c.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	return firstCandidate(payload)
}

func buildRequest(turns []Turn) geminiRequest {
	contents := make([]geminiContent, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, geminiContent{
			Role:  t.Role,
			Parts: []geminiPart{{Text: t.Text}},
		})
	}
	return geminiRequest{Contents: contents}
}

// firstCandidate extracts candidates[0]. A body without a candidates field
// yields an empty object so normalization falls back to the sentinel text.
func firstCandidate(payload []byte) (RawReply, error) {
	var parsed geminiResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	if parsed.Candidates == nil {
		return RawReply("{}"), nil
	}
	if len(*parsed.Candidates) == 0 {
		return nil, errEmptyCandidates
	}
	return RawReply((*parsed.Candidates)[0]), nil
}
