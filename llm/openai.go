package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/mmagent/internal/metrics"
)

const defaultBaseURL = "https://api.openai.com"

// ClientConfig configures an OpenAI-compatible client. One client is built
// per agent role so each role can point at a different endpoint and model.
type ClientConfig struct {
	// Name identifies the client in logs and metrics (the agent role).
	Name string

	// APIKey authenticates the request (Bearer token).
	APIKey string

	// BaseURL is the endpoint root, e.g. "https://api.deepseek.com".
	// Defaults to the OpenAI endpoint when empty.
	BaseURL string

	// Model is the default model for requests that leave Model empty.
	Model string

	// Timeout is the HTTP client timeout. Defaults to 120s.
	Timeout time.Duration
}

// Client talks to any OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg    ClientConfig
	client *http.Client
	logger *zap.Logger
}

// NewClient creates an OpenAI-compatible client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Name returns the client identifier.
func (c *Client) Name() string { return c.cfg.Name }

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int     `json:"index"`
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
	Usage ChatUsage `json:"usage"`
}

// Completion issues a synchronous chat completion request.
func (c *Client) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &Error{Code: ErrInvalidRequest, Message: "empty request", Provider: c.cfg.Name}
	}

	body := *req
	if body.Model == "" {
		body.Model = c.cfg.Model
	}

	payload, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.Default().ObserveLLMRequest(c.cfg.Name, body.Model, "error", time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &Error{Code: ErrUpstreamTimeout, Message: err.Error(), Retryable: true, Provider: c.cfg.Name}
		}
		return nil, &Error{Code: ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: c.cfg.Name}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.Default().ObserveLLMRequest(c.cfg.Name, body.Model, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
		return nil, c.statusError(resp.StatusCode, data)
	}

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &Error{
			Code:     ErrUpstreamError,
			Message:  fmt.Sprintf("decode chat response: %v", err),
			Provider: c.cfg.Name,
		}
	}

	metrics.Default().ObserveLLMRequest(c.cfg.Name, body.Model, "ok", time.Since(start))
	metrics.Default().AddLLMTokens(c.cfg.Name, body.Model, out.Usage.PromptTokens, out.Usage.CompletionTokens)

	result := &ChatResponse{
		ID:    out.ID,
		Model: out.Model,
		Usage: out.Usage,
	}
	if out.Created > 0 {
		result.CreatedAt = time.Unix(out.Created, 0)
	}
	for _, ch := range out.Choices {
		result.Choices = append(result.Choices, ChatChoice{
			Index:        ch.Index,
			FinishReason: ch.FinishReason,
			Message:      ch.Message,
		})
	}

	c.logger.Debug("chat completion",
		zap.String("provider", c.cfg.Name),
		zap.String("model", body.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)))

	return result, nil
}

func (c *Client) statusError(status int, data []byte) error {
	var body apiErrorBody
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}

	e := &Error{Message: msg, HTTPStatus: status, Provider: c.cfg.Name}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Code = ErrUnauthorized
	case status == http.StatusTooManyRequests:
		e.Code = ErrRateLimited
		e.Retryable = true
	case status == http.StatusBadRequest:
		e.Code = ErrInvalidRequest
	case status >= 500:
		e.Code = ErrUpstreamError
		e.Retryable = true
	default:
		e.Code = ErrUpstreamError
	}
	return e
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
