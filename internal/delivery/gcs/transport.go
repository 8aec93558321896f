// Package gcs provides a delivery transport backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Config captures the parameters required to deliver into GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
}

// Transport writes deliveries to a configured GCS bucket.
type Transport struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates a GCS-backed transport. The transport owns client.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*Transport, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// ObjectName is the key remoteDir/filename is stored under.
func (t *Transport) ObjectName(remoteDir, filename string) string {
	return strings.TrimPrefix(path.Join(t.prefix, remoteDir, filename), "/")
}

// EnsureDirectory is a no-op; object stores have no directories.
func (t *Transport) EnsureDirectory(context.Context, string) error {
	return nil
}

// Upload streams localDir/filename into the bucket.
func (t *Transport) Upload(ctx context.Context, localDir, remoteDir, filename string) bool {
	object := t.ObjectName(remoteDir, filename)
	if err := t.put(ctx, filepath.Join(localDir, filename), object); err != nil {
		t.logger.Error("transfer not completed",
			zap.String("object", fmt.Sprintf("gs://%s/%s", t.bucket, object)),
			zap.Error(err))
		return false
	}
	return true
}

func (t *Transport) put(ctx context.Context, localPath, object string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	writer := t.client.Bucket(t.bucket).Object(object).NewWriter(ctx)
	if ct := mime.TypeByExtension(filepath.Ext(localPath)); ct != "" {
		writer.ContentType = ct
	}
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Close releases the storage client.
func (t *Transport) Close() error {
	return t.client.Close()
}
