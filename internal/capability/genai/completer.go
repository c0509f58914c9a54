// Package genai implements the Completer capability on top of Google
// Gemini. Every call carries an explicit timeout; the capability never
// runs open-ended.
package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jobrover/jobrover/internal/scan"
)

// Config controls the Gemini completer.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

// Completer implements scan.Completer using the Gemini API.
type Completer struct {
	client *genai.Client
	cfg    Config
	logger *zap.Logger
}

// New creates a Completer. The API key is required.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai completer: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("genai completer: create client: %w", err)
	}
	return &Completer{client: client, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying client.
func (c *Completer) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Complete runs one generation. JSON mode sets the response MIME type
// and strips markdown fences from the output.
func (c *Completer) Complete(ctx context.Context, req scan.CompletionRequest) (scan.CompletionResponse, error) {
	if req.Timeout <= 0 {
		return scan.CompletionResponse{}, fmt.Errorf("genai completer: timeout is required")
	}
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	model := c.client.GenerativeModel(c.cfg.Model)
	model.SetTemperature(c.cfg.Temperature)
	if req.Mode == "json" {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return scan.CompletionResponse{}, fmt.Errorf("genai completer: generate content: %w", err)
	}

	text, err := extractText(resp)
	if err != nil {
		return scan.CompletionResponse{}, fmt.Errorf("genai completer: %w", err)
	}
	if req.Mode == "json" {
		text = stripJSONFences(text)
	}

	out := scan.CompletionResponse{Text: text}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int64(resp.UsageMetadata.TotalTokenCount)
	}
	c.logger.Debug("completion finished",
		zap.String("model", c.cfg.Model),
		zap.String("mode", req.Mode),
		zap.Int64("tokens", out.TokensUsed),
	)
	return out, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

func stripJSONFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
