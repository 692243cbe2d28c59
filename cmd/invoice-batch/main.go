package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mbdelacruz/invoice-extract/internal/archive"
	"github.com/mbdelacruz/invoice-extract/internal/common"
	"github.com/mbdelacruz/invoice-extract/internal/extract"
	"github.com/mbdelacruz/invoice-extract/internal/gateway"
	"github.com/mbdelacruz/invoice-extract/internal/imageprep"
	"github.com/mbdelacruz/invoice-extract/internal/normalize"
	"github.com/mbdelacruz/invoice-extract/internal/registry"
	"github.com/mbdelacruz/invoice-extract/internal/resolve"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

func main() {
	var (
		dir = flag.String("dir", "", "directory of invoice photos to process (required)")
		out = flag.String("out", "", "output JSONL file path (optional, defaults to <dir>/results.jsonl)")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Error: --dir is required")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(*dir, "results.jsonl")
	}

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := registry.Open(ctx, cfg.Registry, logger)
	if err != nil {
		logger.Error("failed to open registry", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := registry.Migrate(db, cfg.Registry.Driver, logger); err != nil {
		logger.Error("failed to migrate registry", "error", err)
		os.Exit(1)
	}

	backend, err := gateway.New(cfg.Backend, logger)
	if err != nil {
		logger.Error("failed to build model backend", "error", err)
		os.Exit(1)
	}

	archiver, err := archive.New(cfg.Archive, logger)
	if err != nil {
		logger.Error("failed to build archiver", "error", err)
		os.Exit(1)
	}
	if archiver != nil {
		if err := archiver.EnsureBucket(ctx); err != nil {
			logger.Warn("archive bucket unavailable, archival disabled", "error", err)
			archiver = nil
		}
	}

	resolver := resolve.New(logger,
		registry.NewMerchantRepository(db, logger),
		registry.NewStoreRepository(db, logger),
		registry.NewAgentRepository(db, logger))
	preparer := imageprep.New(logger)
	orch := extract.New(logger, backend, normalize.New(logger, nil), resolver,
		cfg.Backend.StructuredTimeout, cfg.Backend.FollowupTimeout)

	entries, err := os.ReadDir(*dir)
	if err != nil {
		logger.Error("failed to read directory", "dir", *dir, "error", err)
		os.Exit(1)
	}

	outFile, err := os.Create(*out)
	if err != nil {
		logger.Error("failed to create output file", "path", *out, "error", err)
		os.Exit(1)
	}
	defer outFile.Close()
	enc := json.NewEncoder(outFile)

	// one image at a time: a local model holds the device, and serial
	// processing keeps worst-case memory flat
	var processed, degraded, skipped int
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(*dir, e.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("failed to read image", "path", path, "error", err)
			skipped++
			continue
		}
		img, err := preparer.Prepare(data)
		if err != nil {
			logger.Warn("unreadable image skipped", "path", path, "error", err)
			skipped++
			continue
		}

		logger.Info("batch.processing", "file", e.Name())
		result := orch.Extract(ctx, extract.Request{
			Image:       img,
			Description: "file:" + path,
		})
		archiver.Store(ctx, result.ID, img.Data, img.MIMEType)

		if err := enc.Encode(result); err != nil {
			logger.Error("failed to write result", "file", e.Name(), "error", err)
			os.Exit(1)
		}
		processed++
		if result.Invoice.Confidence == 0 {
			degraded++
		}
	}

	logger.Info("batch.complete", "processed", processed, "degraded", degraded, "skipped", skipped, "output", *out)

	fmt.Printf("Batch complete!\n")
	fmt.Printf("- Processed: %d\n", processed)
	fmt.Printf("- Degraded:  %d\n", degraded)
	fmt.Printf("- Skipped:   %d\n", skipped)
	fmt.Printf("- Output:    %s\n", *out)
}
