// Package orchestrator runs one delivery pass: schedule, log in once per root
// source, extract every due source in order and record each outcome.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/goodsign/monday"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/datefmt"
	"github.com/JakeFAU/edition-fetcher/internal/delivery"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/extract"
	"github.com/JakeFAU/edition-fetcher/internal/policy/ratelimit"
	"github.com/JakeFAU/edition-fetcher/internal/publisher"
	"github.com/JakeFAU/edition-fetcher/internal/session"
)

// Scheduler attaches due entries to sources.
type Scheduler interface {
	SelectSources(ctx context.Context, roots []*domain.RootSource, filter domain.Recurrence) (int, error)
}

// Ledger persists attempt outcomes.
type Ledger interface {
	RecordOutcome(ctx context.Context, entry *domain.Entry, status domain.Status) error
}

// Authenticator logs a session in; auth.Registry satisfies it.
type Authenticator interface {
	Login(ctx context.Context, s *session.Session) bool
}

// Extractor runs one extraction attempt; extract.Runner satisfies it.
type Extractor interface {
	Extract(ctx context.Context, job *extract.Job) domain.Status
}

// Recorder receives run metrics; metrics.Recorder satisfies it.
type Recorder interface {
	ObserveEdition(root, extractType, status string, elapsed time.Duration)
	ObserveDelivered(root string, bytes int64)
	ObserveLogin(authType string, ok bool)
	ObserveLedgerWriteError()
	ObserveRun(result string, finished time.Time, elapsed time.Duration)
}

// Deps are the collaborators of an Orchestrator. Publisher, Metrics and IDs
// are optional.
type Deps struct {
	Scheduler Scheduler
	Ledger    Ledger
	Auth      Authenticator
	Extractor Extractor
	Transport delivery.Transport
	Publisher domain.Publisher
	Clock     domain.Clock
	IDs       domain.IDGenerator
	Metrics   Recorder
	Limiter   *ratelimit.Limiter
	Session   session.Config
	// Locale is used for root sources that do not set extract.locale.
	Locale monday.Locale
	Logger *zap.Logger
}

// Orchestrator executes delivery runs sequentially.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
}

// New builds an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Locale == "" {
		deps.Locale = datefmt.DefaultLocale
	}
	return &Orchestrator{deps: deps, logger: deps.Logger}
}

// Result is the outcome of one due source.
type Result struct {
	Root   string        `json:"root_source"`
	Source string        `json:"source"`
	Status domain.Status `json:"status"`
}

// Summary describes a finished run.
type Summary struct {
	RunID       string                `json:"run_id"`
	Filter      domain.Recurrence     `json:"recurrence"`
	Started     time.Time             `json:"started"`
	Finished    time.Time             `json:"finished"`
	Directories int                   `json:"directories"`
	Scheduled   int                   `json:"scheduled"`
	Counts      map[domain.Status]int `json:"counts"`
	Results     []Result              `json:"results"`
	Interrupted bool                  `json:"interrupted"`
}

// Attempted is the number of sources that reached an outcome.
func (s Summary) Attempted() int {
	return len(s.Results)
}

// Run executes one pass over roots for sources matching filter. Only
// scheduling errors abort the run; per-source failures are recorded and the
// batch continues.
func (o *Orchestrator) Run(ctx context.Context, roots []*domain.RootSource, filter domain.Recurrence) (Summary, error) {
	roots = activeRoots(roots)
	now := o.deps.Clock.Now()
	sum := Summary{
		RunID:   o.newRunID(),
		Filter:  filter,
		Started: now,
		Counts:  make(map[domain.Status]int, len(domain.Statuses)),
	}
	logger := o.logger.With(zap.String("run_id", sum.RunID))
	logger.Info("run started", zap.String("recurrence", string(filter)), zap.Int("root_sources", len(roots)))

	if o.deps.Transport != nil {
		sum.Directories = delivery.PrecreateDaily(ctx, o.deps.Transport, roots, now, logger)
	}

	scheduled, err := o.deps.Scheduler.SelectSources(ctx, roots, filter)
	if err != nil {
		o.finish(&sum, "error", logger)
		return sum, fmt.Errorf("select sources: %w", err)
	}
	sum.Scheduled = scheduled

	for _, root := range roots {
		due := root.DueSources()
		if len(due) == 0 {
			continue
		}
		if ctx.Err() != nil {
			sum.Interrupted = true
			break
		}
		if !o.processRoot(ctx, &sum, root, due, now, logger) {
			sum.Interrupted = true
			break
		}
	}

	result := "completed"
	if sum.Interrupted {
		result = "interrupted"
	}
	o.finish(&sum, result, logger)
	return sum, nil
}

// activeRoots drops inactive root sources so their sources are never
// materialized in the ledger nor scheduled.
func activeRoots(roots []*domain.RootSource) []*domain.RootSource {
	out := make([]*domain.RootSource, 0, len(roots))
	for _, r := range roots {
		if r.Active {
			out = append(out, r)
		}
	}
	return out
}

// processRoot returns false when the run was cancelled mid-batch.
func (o *Orchestrator) processRoot(ctx context.Context, sum *Summary, root *domain.RootSource, due []*domain.Source, now time.Time, logger *zap.Logger) bool {
	logger = logger.With(zap.String("root_source", root.Name))

	sess, err := session.Open(root, o.deps.Session, logger)
	if err != nil {
		logger.Error("open session", zap.Error(err))
		o.failAll(ctx, sum, root, due, logger)
		return true
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn("close session", zap.Error(err))
		}
	}()

	ok := o.deps.Auth.Login(ctx, sess)
	o.deps.Metrics.ObserveLogin(root.Auth.Type, ok)
	if !ok {
		logger.Warn("login failed, skipping due sources", zap.Int("due", len(due)))
		o.failAll(ctx, sum, root, due, logger)
		return true
	}

	locale := o.locale(root, logger)
	for _, src := range due {
		if ctx.Err() != nil {
			return false
		}
		o.processSource(ctx, sum, root, src, sess, locale, now, logger)
	}
	return true
}

func (o *Orchestrator) processSource(
	ctx context.Context,
	sum *Summary,
	root *domain.RootSource,
	src *domain.Source,
	sess *session.Session,
	locale monday.Locale,
	now time.Time,
	logger *zap.Logger,
) {
	logger = logger.With(zap.String("source", src.Name))
	start := time.Now()

	status := domain.StatusFailed
	var job *extract.Job
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("source attempt panicked", zap.Any("panic", r))
				status = domain.StatusFailed
			}
		}()
		job = extract.NewJob(root, src, sess, now, locale)
		job.Limiter = o.deps.Limiter
		status = o.deps.Extractor.Extract(ctx, job)
	}()

	o.deps.Metrics.ObserveEdition(root.Name, root.Extract.Type, string(status), time.Since(start))
	o.record(ctx, sum, root, src, status, logger)

	if status == domain.StatusSuccess && job != nil {
		o.notify(ctx, sum.RunID, root, src, now, job.Delivered, logger)
	}
}

func (o *Orchestrator) failAll(ctx context.Context, sum *Summary, root *domain.RootSource, due []*domain.Source, logger *zap.Logger) {
	for _, src := range due {
		o.record(ctx, sum, root, src, domain.StatusFailed, logger.With(zap.String("source", src.Name)))
	}
}

// record writes the outcome even if ctx was cancelled during the attempt.
func (o *Orchestrator) record(ctx context.Context, sum *Summary, root *domain.RootSource, src *domain.Source, status domain.Status, logger *zap.Logger) {
	sum.Counts[status]++
	sum.Results = append(sum.Results, Result{Root: root.Name, Source: src.Name, Status: status})
	if err := o.deps.Ledger.RecordOutcome(context.WithoutCancel(ctx), src.Entry, status); err != nil {
		o.deps.Metrics.ObserveLedgerWriteError()
		logger.Error("record outcome", zap.String("status", string(status)), zap.Error(err))
		return
	}
	logger.Info("outcome recorded", zap.String("status", string(status)))
}

func (o *Orchestrator) notify(ctx context.Context, runID string, root *domain.RootSource, src *domain.Source, now time.Time, files []domain.DeliveredFile, logger *zap.Logger) {
	var total int64
	for _, f := range files {
		total += f.Bytes
	}
	o.deps.Metrics.ObserveDelivered(root.Name, total)

	if o.deps.Publisher == nil {
		return
	}
	event := domain.DeliveryEvent{
		RunID:       runID,
		Root:        root.Name,
		Source:      src.Name,
		Channel:     src.Channel,
		Date:        domain.DateKey(now),
		DeliveredAt: o.deps.Clock.Now(),
		Files:       files,
	}
	if _, err := o.deps.Publisher.Publish(ctx, publisher.EventDelivered, event); err != nil {
		logger.Warn("publish delivery event", zap.Error(err))
	}
}

func (o *Orchestrator) locale(root *domain.RootSource, logger *zap.Logger) monday.Locale {
	if root.Extract.Locale == "" {
		return o.deps.Locale
	}
	loc, err := datefmt.ParseLocale(root.Extract.Locale)
	if err != nil {
		logger.Warn("unknown locale, using default", zap.String("locale", root.Extract.Locale), zap.Error(err))
		return o.deps.Locale
	}
	return loc
}

func (o *Orchestrator) newRunID() string {
	if o.deps.IDs == nil {
		return ""
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		o.logger.Warn("generate run id", zap.Error(err))
		return ""
	}
	return id
}

func (o *Orchestrator) finish(sum *Summary, result string, logger *zap.Logger) {
	sum.Finished = o.deps.Clock.Now()
	elapsed := sum.Finished.Sub(sum.Started)
	o.deps.Metrics.ObserveRun(result, sum.Finished, elapsed)

	fields := []zap.Field{
		zap.String("result", result),
		zap.Int("scheduled", sum.Scheduled),
		zap.Int("attempted", sum.Attempted()),
		zap.Duration("elapsed", elapsed),
	}
	for _, st := range domain.Statuses {
		fields = append(fields, zap.Int(string(st), sum.Counts[st]))
	}
	logger.Info("run finished", fields...)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEdition(string, string, string, time.Duration) {}
func (nopRecorder) ObserveDelivered(string, int64)                       {}
func (nopRecorder) ObserveLogin(string, bool)                            {}
func (nopRecorder) ObserveLedgerWriteError()                             {}
func (nopRecorder) ObserveRun(string, time.Time, time.Duration)          {}
