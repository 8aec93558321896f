package extract

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/assembly"
	"github.com/JakeFAU/edition-fetcher/internal/delivery"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/hash/sha256"
)

// Runner wraps strategies with dispatch, classification, validation and delivery.
type Runner struct {
	registry  *Registry
	transport delivery.Transport
	hasher    domain.Hasher
	validate  func(path string) (int, error)
	logger    *zap.Logger
}

// NewRunner builds a Runner delivering through transport.
func NewRunner(registry *Registry, transport delivery.Transport, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		registry:  registry,
		transport: transport,
		hasher:    sha256.New(),
		validate:  assembly.Validate,
		logger:    logger,
	}
}

// Extract runs the root source's strategy for job and returns the outcome.
// The staging directory is emptied before it returns.
func (r *Runner) Extract(ctx context.Context, job *Job) domain.Status {
	logger := r.logger.With(
		zap.String("root_source", job.Root.Name),
		zap.String("source", job.Source.Name),
		zap.String("type", job.Root.Extract.Type),
	)
	job.Delivered = nil
	defer r.cleanStaging(job, logger)

	strategy, ok := r.registry.Lookup(job.Root.Extract.Type)
	if !ok {
		logger.Error("unknown extraction type")
		return domain.StatusFailed
	}

	start := time.Now()
	artifacts, err := r.fetch(ctx, strategy, job)
	logger = logger.With(zap.Duration("elapsed", time.Since(start)))
	switch {
	case errors.Is(err, ErrUnavailable):
		status := domain.StatusUnavailable
		if job.Root.Extract.MissingEdition == domain.MissingFailed {
			status = domain.StatusFailed
		}
		logger.Info("edition not available", zap.String("status", string(status)), zap.Error(err))
		return status
	case err != nil:
		logger.Error("extraction failed", zap.Error(err))
		return domain.StatusFailed
	case len(artifacts) == 0:
		logger.Info("no artifacts produced")
		return domain.StatusUnavailable
	}

	for _, a := range artifacts {
		pages, err := r.validate(a.Path)
		if err != nil {
			logger.Error("invalid document", zap.String("file", a.Name), zap.Error(err))
			return domain.StatusFailed
		}
		logger.Debug("document validated", zap.String("file", a.Name), zap.Int("pages", pages))
	}

	remoteDir := delivery.RemoteDir(job.Now, job.Root, job.Source)
	delivered := make([]domain.DeliveredFile, 0, len(artifacts))
	for _, a := range artifacts {
		sum, size, err := r.hasher.HashFile(a.Path)
		if err != nil {
			logger.Error("hash artifact", zap.String("file", a.Name), zap.Error(err))
			return domain.StatusFailed
		}
		if !r.transport.Upload(ctx, job.Staging, remoteDir, a.Name) {
			logger.Error("upload failed", zap.String("file", a.Name), zap.String("remote_dir", remoteDir))
			return domain.StatusFailed
		}
		delivered = append(delivered, domain.DeliveredFile{
			RemotePath: path.Join(remoteDir, a.Name),
			Bytes:      size,
			SHA256:     sum,
		})
	}
	job.Delivered = delivered
	logger.Info("edition delivered", zap.Int("files", len(delivered)), zap.String("remote_dir", remoteDir))
	return domain.StatusSuccess
}

func (r *Runner) fetch(ctx context.Context, s Strategy, job *Job) (artifacts []Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			artifacts, err = nil, fmt.Errorf("strategy panic: %v", p)
		}
	}()
	return s.Fetch(ctx, job)
}

func (r *Runner) cleanStaging(job *Job, logger *zap.Logger) {
	if job.Session == nil {
		return
	}
	if err := job.Session.CleanStaging(); err != nil {
		logger.Warn("clean staging", zap.Error(err))
	}
}
