package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quiznerd/internal/config"

	"go.uber.org/zap"
)

// FallbackClient is an OpenAI-compatible chat-completions backend (AIPipe
// proxy or similar). It only carries text; auxiliary media is summarized
// into the prompt since the proxy models are text-only.
type FallbackClient struct {
	endpoint    string
	token       string
	model       string
	maxAttempts int
	httpClient  *http.Client
	log         *zap.Logger
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewFallbackClient creates the secondary backend. Returns nil when the
// endpoint or token is not configured; the failover wrapper treats a nil
// secondary as absent.
func NewFallbackClient(cfg config.OracleConfig, log *zap.Logger) *FallbackClient {
	if cfg.FallbackURL == "" || cfg.FallbackToken == "" {
		return nil
	}
	return &FallbackClient{
		endpoint:    cfg.FallbackURL,
		token:       cfg.FallbackToken,
		model:       cfg.FallbackModel,
		maxAttempts: cfg.Attempts(),
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		log:         log,
	}
}

func (c *FallbackClient) Name() string {
	return fmt.Sprintf("fallback:%s", c.model)
}

// Decide sends the decision context as a chat completion request.
func (c *FallbackClient) Decide(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if len(req.Media) > 0 {
		var kinds []string
		for _, m := range req.Media {
			kinds = append(kinds, m.MIMEType)
		}
		prompt += fmt.Sprintf("\n\n(Note: %d attachment(s) of type %s could not be forwarded to this backend.)",
			len(req.Media), strings.Join(kinds, ", "))
	}

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: prompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("create chat request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("chat request failed: %w", err)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read chat response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("chat request failed with status %d: %s", resp.StatusCode, string(raw))
		}

		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", fmt.Errorf("parse chat response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("chat API error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("no completion returned")
		}

		return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
	}

	return "", fmt.Errorf("fallback exhausted %d attempts: %w", c.maxAttempts, lastErr)
}
