// Package memory records deliveries in-memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Upload is one recorded delivery.
type Upload struct {
	RemotePath string
	Data       []byte
}

// Transport stores uploaded files and created directories.
type Transport struct {
	mu      sync.RWMutex
	dirs    []string
	seen    map[string]struct{}
	uploads map[string][]byte
	order   []string

	// FailDirs forces EnsureDirectory errors per path.
	FailDirs map[string]error
	// FailUploads makes Upload return false for these remote paths.
	FailUploads map[string]bool

	logger *zap.Logger
}

// New creates an empty transport.
func New(logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		seen:    make(map[string]struct{}),
		uploads: make(map[string][]byte),
		logger:  logger,
	}
}

// EnsureDirectory records dir once.
func (t *Transport) EnsureDirectory(_ context.Context, dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.FailDirs[dir]; err != nil {
		return err
	}
	if _, ok := t.seen[dir]; ok {
		return nil
	}
	t.seen[dir] = struct{}{}
	t.dirs = append(t.dirs, dir)
	return nil
}

// Upload copies the local file into memory.
func (t *Transport) Upload(_ context.Context, localDir, remoteDir, filename string) bool {
	remote := path.Join(remoteDir, filename)
	data, err := os.ReadFile(filepath.Join(localDir, filename))
	if err != nil {
		t.logger.Error("upload failed", zap.String("remote_path", remote), zap.Error(err))
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailUploads[remote] {
		t.logger.Error("upload failed", zap.String("remote_path", remote), zap.Error(fmt.Errorf("forced failure")))
		return false
	}
	if _, ok := t.uploads[remote]; !ok {
		t.order = append(t.order, remote)
	}
	t.uploads[remote] = data
	return true
}

// Close implements delivery.Transport.
func (t *Transport) Close() error {
	return nil
}

// Directories returns ensured directories in creation order.
func (t *Transport) Directories() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.dirs...)
}

// Uploads returns recorded uploads in first-upload order.
func (t *Transport) Uploads() []Upload {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Upload, 0, len(t.order))
	for _, p := range t.order {
		out = append(out, Upload{RemotePath: p, Data: append([]byte(nil), t.uploads[p]...)})
	}
	return out
}

// Get returns the bytes stored at remotePath.
func (t *Transport) Get(remotePath string) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	data, ok := t.uploads[remotePath]
	return data, ok
}
