package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LocalConfig points at an Ollama-compatible runtime on this machine.
type LocalConfig struct {
	Host      string        // default http://127.0.0.1:11434
	Model     string        // e.g. "llama3.2-vision"
	KeepAlive time.Duration // how long the runtime keeps the model loaded mid-extraction
}

// Local drives an on-device model runtime. The loaded model is a scarce
// resource: OpenSession warms it into memory and CloseSession releases it.
// The orchestrator guarantees CloseSession runs on every exit path.
type Local struct {
	cfg        LocalConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewLocal(cfg LocalConfig, logger *slog.Logger) *Local {
	if cfg.Host == "" {
		cfg.Host = "http://127.0.0.1:11434"
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (l *Local) Name() string { return "local/" + l.cfg.Model }

// CheckAvailability maps the runtime state onto the availability taxonomy:
// daemon unreachable means "no", model not pulled means "after-download".
func (l *Local) CheckAvailability(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(l.cfg.Host, "/")+"/api/tags", nil)
	if err != nil {
		return NewBackendError(err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return NewUnavailable(StatusNo, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return NewUnavailable(StatusNo, fmt.Errorf("runtime status %d", resp.StatusCode))
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return NewBackendError(fmt.Errorf("decode tags: %w", err))
	}
	for _, m := range tags.Models {
		if m.Name == l.cfg.Model || m.Name == l.cfg.Model+":latest" {
			return nil
		}
	}
	return NewUnavailable(StatusAfterDownload, fmt.Errorf("model %q not pulled", l.cfg.Model))
}

// OpenSession loads the model with a keep-alive so subsequent prompts in
// this extraction hit a warm runtime.
func (l *Local) OpenSession(ctx context.Context) error {
	body := map[string]any{
		"model":      l.cfg.Model,
		"keep_alive": l.cfg.KeepAlive.String(),
		"stream":     false,
	}
	if _, _, err := sendJSON(ctx, l.httpClient, l.generateURL(), body, l.logger); err != nil {
		return NewBackendError(fmt.Errorf("open session: %w", err))
	}
	l.logger.Debug("gateway.local.session_open", "model", l.cfg.Model)
	return nil
}

// CloseSession asks the runtime to unload the model immediately. Best
// effort: a failed unload only costs memory on the local machine.
func (l *Local) CloseSession(ctx context.Context) error {
	body := map[string]any{
		"model":      l.cfg.Model,
		"keep_alive": 0,
		"stream":     false,
	}
	if _, _, err := sendJSON(ctx, l.httpClient, l.generateURL(), body, l.logger); err != nil {
		l.logger.Warn("gateway.local.session_close_failed", "model", l.cfg.Model, "error", err)
		return NewBackendError(fmt.Errorf("close session: %w", err))
	}
	l.logger.Debug("gateway.local.session_closed", "model", l.cfg.Model)
	return nil
}

func (l *Local) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	body := map[string]any{
		"model":      l.cfg.Model,
		"system":     req.SystemPrompt,
		"prompt":     req.UserPrompt,
		"stream":     false,
		"keep_alive": l.cfg.KeepAlive.String(),
	}
	if req.Image != nil {
		body["images"] = []string{base64.StdEncoding.EncodeToString(req.Image.Data)}
	}
	if req.Schema != nil {
		body["format"] = req.Schema
	}

	raw, _, err := sendJSON(ctx, l.httpClient, l.generateURL(), body, l.logger)
	if err != nil {
		return "", wrapGenerateErr(err)
	}

	var out struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", NewBackendError(fmt.Errorf("decode generate response: %w", err))
	}
	if out.Error != "" {
		return "", NewBackendError(fmt.Errorf("runtime error: %s", out.Error))
	}

	l.logger.Info("gateway.local.generate",
		"model", l.cfg.Model,
		"prompt_len", len(req.UserPrompt),
		"has_image", req.Image != nil,
		"response_len", len(out.Response),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out.Response, nil
}

func (l *Local) generateURL() string {
	return strings.TrimRight(l.cfg.Host, "/") + "/api/generate"
}
