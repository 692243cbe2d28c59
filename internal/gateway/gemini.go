package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiConfig configures the hosted Gemini API backend.
type GeminiConfig struct {
	APIKey string
	Model  string // e.g. "gemini-2.0-flash"
}

// Gemini is the remote backend: a stateless HTTPS call per request, no
// session lifecycle, requires an API key.
type Gemini struct {
	cfg    GeminiConfig
	logger *slog.Logger
}

func NewGemini(cfg GeminiConfig, logger *slog.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{cfg: cfg, logger: logger}
}

func (g *Gemini) Name() string { return "gemini/" + g.cfg.Model }

// CheckAvailability only verifies a credential is present; the hosted API
// has no download state to wait on.
func (g *Gemini) CheckAvailability(ctx context.Context) error {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return NewUnavailable(StatusNo, fmt.Errorf("missing API key"))
	}
	return nil
}

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.cfg.APIKey))
	if err != nil {
		return "", NewBackendError(fmt.Errorf("create client: %w", err))
	}
	defer client.Close()

	model := client.GenerativeModel(g.cfg.Model)
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}

	prompt := req.UserPrompt
	if req.Schema != nil {
		// the hosted API is steered with MIME type plus the schema inlined
		// in the prompt text
		model.ResponseMIMEType = "application/json"
		if sb, err := json.MarshalIndent(req.Schema, "", "  "); err == nil {
			prompt += "\n\nReturn ONLY JSON matching this JSON Schema:\n" + string(sb)
		}
	}

	parts := []genai.Part{genai.Text(prompt)}
	if req.Image != nil {
		parts = append(parts, genai.Blob{
			MIMEType: req.Image.MIMEType,
			Data:     req.Image.Data,
		})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", wrapGenerateErr(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", NewBackendError(fmt.Errorf("empty response"))
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := b.String()
	if out == "" {
		return "", NewBackendError(fmt.Errorf("no text parts in response"))
	}

	g.logger.Info("gateway.gemini.generate",
		"model", g.cfg.Model,
		"prompt_len", len(req.UserPrompt),
		"has_image", req.Image != nil,
		"response_len", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
