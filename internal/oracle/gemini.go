package oracle

import (
	"context"
	"fmt"
	"time"

	"quiznerd/internal/config"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient is the primary oracle backend, speaking to the Gemini API
// through the official SDK.
type GeminiClient struct {
	client      *genai.Client
	model       string
	maxAttempts int
	timeout     time.Duration
	log         *zap.Logger
}

// NewGeminiClient creates the primary Gemini backend.
func NewGeminiClient(ctx context.Context, cfg config.OracleConfig, log *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		maxAttempts: cfg.Attempts(),
		timeout:     cfg.Timeout(),
		log:         log,
	}, nil
}

func (c *GeminiClient) Name() string {
	return fmt.Sprintf("gemini:%s", c.model)
}

// Decide sends the decision context and returns the raw reply text.
// Attempts are bounded with exponential backoff between them.
func (c *GeminiClient) Decide(ctx context.Context, req Request) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, m := range req.Media {
		parts = append(parts, genai.NewPartFromBytes(m.Data, m.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
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

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(callCtx, c.model, contents, genCfg)
		cancel()
		if err != nil {
			lastErr = fmt.Errorf("gemini generate: %w", err)
			c.log.Warn("gemini call failed",
				zap.Int("attempt", attempt+1),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		text := resp.Text()
		if text == "" {
			lastErr = fmt.Errorf("gemini returned an empty reply")
			continue
		}

		c.log.Debug("gemini decision received",
			zap.Duration("elapsed", time.Since(start)),
			zap.Int("reply_len", len(text)))
		return text, nil
	}

	return "", fmt.Errorf("gemini exhausted %d attempts: %w", c.maxAttempts, lastErr)
}
