package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Variant selects which target model a call goes to: a cheaper text-only
// model for extraction and generation, a vision-capable model for image
// localization.
type Variant string

const (
	VariantText   Variant = "text"
	VariantVision Variant = "vision"
)

// Part is one piece of a prompt: plain text, or inline binary data
// (base64-encoded on the wire).
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart builds a text prompt part.
func TextPart(s string) Part {
	return Part{Text: s}
}

// ImagePart builds an inline image prompt part.
func ImagePart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// Config holds the generation-service connection settings. It is injected
// so independent pipeline instances (and test doubles) can coexist.
type Config struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string

	// Wall-clock timeout per call. The remote service is not trusted to
	// honor it, so it is enforced locally.
	Timeout time.Duration

	BaseRetryDelay time.Duration
	MaxRetries     int
}

// Caller is the surface the pipeline components depend on; *Client
// implements it, tests substitute fakes.
type Caller interface {
	Generate(ctx context.Context, parts []Part, variant Variant) (string, error)
}

// Client is the single transport to the external generation service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	stats      map[Variant]*CallStats
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		stats: map[Variant]*CallStats{
			VariantText:   NewCallStats(time.Hour),
			VariantVision: NewCallStats(time.Hour),
		},
	}
}

// Model returns the target model for a variant.
func (c *Client) Model(variant Variant) string {
	if variant == VariantVision {
		return c.cfg.VisionModel
	}
	return c.cfg.TextModel
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt parts to the variant's model and returns the raw
// response text. Rate-limit and overload responses are retried up to
// MaxRetries with delay baseDelay * 2^attempt; retries stop early once the
// caller's deadline would be exceeded. All other failures are terminal.
func (c *Client) Generate(ctx context.Context, parts []Part, variant Variant) (string, error) {
	model := c.Model(variant)
	if model == "" {
		return "", &APIError{Kind: KindModelNotFound, Message: fmt.Sprintf("no model configured for %s variant", variant)}
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: encodeParts(parts)}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BaseRetryDelay * (1 << (attempt - 1))
			if deadline, ok := ctx.Deadline(); ok && time.Now().Add(delay).After(deadline) {
				return "", lastErr
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", &APIError{Kind: KindTimeout, Message: ctx.Err().Error()}
			}
		}

		start := time.Now()
		text, err := c.call(ctx, body)
		c.stats[variant].Record(time.Since(start).Milliseconds())
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return "", &APIError{Kind: KindTimeout, Message: err.Error()}
		}
		return "", &APIError{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", &APIError{Kind: KindTransport, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &APIError{Kind: KindTransport, Message: "decode response: " + err.Error()}
	}
	if apiResp.Error != nil {
		return "", &APIError{
			Kind:       kindForStatus(apiResp.Error.Code),
			StatusCode: apiResp.Error.Code,
			Message:    apiResp.Error.Message,
		}
	}
	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return "", &APIError{Kind: KindEmptyResponse, StatusCode: resp.StatusCode, Message: "model returned no content"}
	}
	return apiResp.Choices[0].Message.Content, nil
}

// encodeParts converts prompt parts to wire content. Binary data is copied
// into the base64 encoding; caller-owned buffers are never mutated.
func encodeParts(parts []Part) []contentPart {
	out := make([]contentPart, 0, len(parts))
	for _, p := range parts {
		if len(p.Data) > 0 {
			out = append(out, contentPart{
				Type: "image_url",
				ImageURL: &imageURL{
					URL: "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data),
				},
			})
			continue
		}
		out = append(out, contentPart{Type: "text", Text: p.Text})
	}
	return out
}

// StatsSnapshot returns per-variant latency aggregates.
func (c *Client) StatsSnapshot() map[Variant]StatsSnapshot {
	return map[Variant]StatsSnapshot{
		VariantText:   c.stats[VariantText].Snapshot(),
		VariantVision: c.stats[VariantVision].Snapshot(),
	}
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
