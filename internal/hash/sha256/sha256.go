// Package sha256 provides SHA-256 checksums for delivered artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Hasher implements domain.Hasher over files in the staging directory.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum digests everything read from r.
func Sum(r io.Reader) (digest string, size int64, err error) {
	h := sha256.New()
	size, err = io.Copy(h, r)
	if err != nil {
		return "", size, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// HashFile streams the file at path through Sum.
func (h *Hasher) HashFile(path string) (string, int64, error) {
	f, err := os.Open(path) // #nosec G304 -- staging paths are built internally
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	digest, size, err := Sum(f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return digest, size, nil
}
