// Package archive stores source images in an S3-compatible bucket so a
// reviewer can pull up the photo behind any extraction. Strictly
// best-effort: archival failures are logged and never surface to callers.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mbdelacruz/invoice-extract/internal/common"
)

type Archiver struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// New returns a nil Archiver when no endpoint is configured; all methods
// are nil-safe no-ops in that case.
func New(cfg common.ArchiveConfig, logger *slog.Logger) (*Archiver, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	return &Archiver{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	if a == nil {
		return nil
	}
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	a.logger.Info("archive.bucket_created", "bucket", a.bucket)
	return nil
}

// Store uploads the image under the extraction result id. Failure is
// logged and swallowed.
func (a *Archiver) Store(ctx context.Context, resultID string, data []byte, contentType string) {
	if a == nil {
		return
	}
	key := resultID + ".jpg"
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		a.logger.Warn("archive.store_failed", "key", key, "error", err)
		return
	}
	a.logger.Info("archive.stored", "key", key, "bytes", len(data))
}
