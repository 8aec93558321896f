// Package local implements a delivery transport over a local directory tree.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Config captures the parameters for the local filesystem transport.
type Config struct {
	// BaseDir is the root the remote layout is created under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Transport writes deliveries below BaseDir.
type Transport struct {
	baseDir string
	logger  *zap.Logger
}

// New creates a local transport, creating BaseDir when it is missing.
func New(cfg Config, logger *zap.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}
	return &Transport{baseDir: filepath.Clean(cfg.BaseDir), logger: logger}, nil
}

// resolve maps a remote path into baseDir, rejecting traversal.
func (t *Transport) resolve(remote string) (string, error) {
	full := filepath.Clean(filepath.Join(t.baseDir, filepath.FromSlash(remote)))
	if full != t.baseDir && !strings.HasPrefix(full, t.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %s", remote)
	}
	return full, nil
}

// EnsureDirectory creates dir and its parents.
func (t *Transport) EnsureDirectory(_ context.Context, dir string) error {
	full, err := t.resolve(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(full, 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Upload copies localDir/filename to remoteDir/filename.
func (t *Transport) Upload(ctx context.Context, localDir, remoteDir, filename string) bool {
	if err := t.upload(ctx, localDir, remoteDir, filename); err != nil {
		t.logger.Error("transfer not completed",
			zap.String("file", filename),
			zap.String("remote_dir", remoteDir),
			zap.Error(err))
		return false
	}
	return true
}

func (t *Transport) upload(ctx context.Context, localDir, remoteDir, filename string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("invalid filename %q", filename)
	}
	dst, err := t.resolve(remoteDir + "/" + filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	src, err := os.Open(filepath.Join(localDir, filename))
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	return out.Close()
}

// Close implements delivery.Transport.
func (t *Transport) Close() error {
	return nil
}
