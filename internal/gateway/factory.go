package gateway

import (
	"fmt"
	"log/slog"

	"github.com/mbdelacruz/invoice-extract/internal/common"
)

// New builds the backend named by cfg.Kind. Backends are cheap to construct;
// callers may build one per extraction job.
func New(cfg common.BackendConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Kind {
	case "local":
		return NewLocal(LocalConfig{
			Host:      cfg.LocalHost,
			Model:     cfg.LocalModel,
			KeepAlive: cfg.LocalKeepAlive,
		}, logger), nil
	case "gemini":
		return NewGemini(GeminiConfig{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %q (supported: local, gemini)", cfg.Kind)
	}
}
