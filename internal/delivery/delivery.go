// Package delivery lays out the remote directory tree and defines the
// transports that publish delivered editions.
package delivery

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/datefmt"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

// Transport is a remote file store.
type Transport interface {
	// EnsureDirectory creates path if needed. An existing directory is not an error.
	EnsureDirectory(ctx context.Context, path string) error
	// Upload copies localDir/filename to remoteDir/filename. Failures are
	// logged by the transport and reported as false.
	Upload(ctx context.Context, localDir, remoteDir, filename string) bool
	Close() error
}

// DailyDir is the top-level directory for now's deliveries (YYYYMMDD).
func DailyDir(now time.Time) string {
	return datefmt.Compact(now)
}

// RootDir is /{YYYYMMDD}/{root}.
func RootDir(now time.Time, root *domain.RootSource) string {
	return "/" + path.Join(DailyDir(now), root.Dirname)
}

// RemoteDir is /{YYYYMMDD}/{root}/{source}.
func RemoteDir(now time.Time, root *domain.RootSource, src *domain.Source) string {
	return "/" + path.Join(DailyDir(now), root.Dirname, src.Dirname)
}

// Filename renders {name}_{DDMMYYYY}[_{page:03d}].{ext}. A page below 1 is omitted.
func Filename(name string, now time.Time, page int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if page > 0 {
		return fmt.Sprintf("%s_%s_%03d.%s", name, datefmt.DayFirst(now), page, ext)
	}
	return fmt.Sprintf("%s_%s.%s", name, datefmt.DayFirst(now), ext)
}

// PrecreateDaily creates today's directory, then a directory for every active
// root source with at least one weekday-relevant source, then one per relevant
// source. Errors are logged and skipped. It returns how many directories were
// ensured.
func PrecreateDaily(ctx context.Context, t Transport, roots []*domain.RootSource, now time.Time, logger *zap.Logger) int {
	if logger == nil {
		logger = zap.NewNop()
	}
	ensured := 0
	ensure := func(dir string) bool {
		if err := t.EnsureDirectory(ctx, dir); err != nil {
			logger.Warn("ensure directory failed", zap.String("dir", dir), zap.Error(err))
			return false
		}
		ensured++
		return true
	}

	ensure("/" + DailyDir(now))
	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		if !root.Active {
			continue
		}
		relevant := root.RelevantSources()
		if len(relevant) == 0 {
			continue
		}
		if !ensure(RootDir(now, root)) {
			continue
		}
		for _, src := range relevant {
			ensure(RemoteDir(now, root, src))
		}
	}
	logger.Info("daily directories ensured", zap.Int("count", ensured), zap.String("day", DailyDir(now)))
	return ensured
}
