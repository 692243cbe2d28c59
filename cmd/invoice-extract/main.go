package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbdelacruz/invoice-extract/internal/common"
	"github.com/mbdelacruz/invoice-extract/internal/extract"
	"github.com/mbdelacruz/invoice-extract/internal/gateway"
	"github.com/mbdelacruz/invoice-extract/internal/imageprep"
	"github.com/mbdelacruz/invoice-extract/internal/normalize"
	"github.com/mbdelacruz/invoice-extract/internal/registry"
	"github.com/mbdelacruz/invoice-extract/internal/resolve"
)

func main() {
	var (
		imagePath   = flag.String("image", "", "path to the invoice photo (required)")
		backendKind = flag.String("backend", "", "model backend override: local or gemini")
		pretty      = flag.Bool("pretty", false, "indent the result JSON")
	)
	flag.Parse()

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --image is required")
		os.Exit(1)
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if *backendKind != "" {
		cfg.Backend.Kind = *backendKind
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := registry.Open(ctx, cfg.Registry, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: opening registry: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := registry.Migrate(db, cfg.Registry.Driver, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: migrating registry: %v\n", err)
		os.Exit(1)
	}

	backend, err := gateway.New(cfg.Backend, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading image: %v\n", err)
		os.Exit(1)
	}
	img, err := imageprep.New(logger).Prepare(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: preparing image: %v\n", err)
		os.Exit(1)
	}

	resolver := resolve.New(logger,
		registry.NewMerchantRepository(db, logger),
		registry.NewStoreRepository(db, logger),
		registry.NewAgentRepository(db, logger))
	orch := extract.New(logger, backend, normalize.New(logger, nil), resolver,
		cfg.Backend.StructuredTimeout, cfg.Backend.FollowupTimeout)

	started := time.Now()
	result := orch.Extract(ctx, extract.Request{
		Image:       img,
		Description: "file:" + *imagePath,
	})

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encoding result: %v\n", err)
		os.Exit(1)
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "Completed with warnings in %s: %v\n", time.Since(started).Round(time.Millisecond), result.Errors)
	}
}
