// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/goodsign/monday"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/api"
	"github.com/JakeFAU/edition-fetcher/internal/auth"
	"github.com/JakeFAU/edition-fetcher/internal/catalog"
	"github.com/JakeFAU/edition-fetcher/internal/clock/system"
	"github.com/JakeFAU/edition-fetcher/internal/config"
	"github.com/JakeFAU/edition-fetcher/internal/datefmt"
	"github.com/JakeFAU/edition-fetcher/internal/delivery"
	ftptransport "github.com/JakeFAU/edition-fetcher/internal/delivery/ftp"
	gcstransport "github.com/JakeFAU/edition-fetcher/internal/delivery/gcs"
	localtransport "github.com/JakeFAU/edition-fetcher/internal/delivery/local"
	memorytransport "github.com/JakeFAU/edition-fetcher/internal/delivery/memory"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/extract"
	collyfetcher "github.com/JakeFAU/edition-fetcher/internal/fetcher/colly"
	"github.com/JakeFAU/edition-fetcher/internal/fetcher/headless"
	"github.com/JakeFAU/edition-fetcher/internal/fetcher/httpclient"
	"github.com/JakeFAU/edition-fetcher/internal/id/uuid"
	"github.com/JakeFAU/edition-fetcher/internal/ledger"
	boltledger "github.com/JakeFAU/edition-fetcher/internal/ledger/bolt"
	memoryledger "github.com/JakeFAU/edition-fetcher/internal/ledger/memory"
	postgresledger "github.com/JakeFAU/edition-fetcher/internal/ledger/postgres"
	sqliteledger "github.com/JakeFAU/edition-fetcher/internal/ledger/sqlite"
	"github.com/JakeFAU/edition-fetcher/internal/metrics"
	"github.com/JakeFAU/edition-fetcher/internal/orchestrator"
	"github.com/JakeFAU/edition-fetcher/internal/policy/ratelimit"
	"github.com/JakeFAU/edition-fetcher/internal/publisher"
	logpublisher "github.com/JakeFAU/edition-fetcher/internal/publisher/log"
	pubsubpublisher "github.com/JakeFAU/edition-fetcher/internal/publisher/pubsub"
	snspublisher "github.com/JakeFAU/edition-fetcher/internal/publisher/sns"
	"github.com/JakeFAU/edition-fetcher/internal/scheduler"
	"github.com/JakeFAU/edition-fetcher/internal/session"
)

// App holds the shared, long-lived services built from configuration. It is
// initialized once per command and closed by a cobra hook.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Clock        *system.Clock
	Locale       monday.Locale
	Ledger       *ledger.Ledger
	Transport    delivery.Transport
	Publisher    *publisher.Fanout
	Limiter      *ratelimit.Limiter
	Auth         *auth.Registry
	Extract      *extract.Registry
	Runner       *extract.Runner
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// New builds every provider named by cfg. It fails fast when a backend cannot
// be initialized and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	built := false
	defer func() {
		if !built {
			_ = a.Close()
		}
	}()

	var err error
	a.Clock, err = system.NewInZone(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	a.Locale, err = datefmt.ParseLocale(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("locale: %w", err)
	}

	store, err := newLedgerStore(ctx, cfg.Ledger)
	if err != nil {
		return nil, err
	}
	a.Ledger = ledger.New(store, a.Clock, logger.Named("ledger"))
	a.closers = append(a.closers, a.Ledger.Close)
	logger.Info("ledger ready", zap.String("backend", cfg.Ledger.Backend))

	a.Transport, err = newTransport(ctx, cfg.Delivery, a.Clock, logger.Named("delivery"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Transport.Close)
	logger.Info("delivery transport ready", zap.String("transport", cfg.Delivery.Transport))

	pubs, err := a.newPublishers(ctx, cfg.Notify, logger.Named("notify"))
	if err != nil {
		return nil, err
	}
	a.Publisher = publisher.NewFanout(pubs...)

	recorder := metrics.NewRecorder()
	a.Limiter = ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RequestsPerSecond,
		DefaultBurst: cfg.HTTP.Burst,
		Observe:      metrics.ObserveRateLimitDelay,
	})

	a.Auth = auth.Default(auth.Options{
		SessionAttempts:     cfg.Auth.SessionAttempts,
		SessionWait:         config.Seconds(cfg.Auth.SessionWaitSeconds),
		InteractiveAttempts: cfg.Auth.InteractiveAttempts,
		InteractiveWait:     config.Seconds(cfg.Auth.InteractiveWaitSeconds),
		ElementTimeout:      config.Seconds(cfg.Headless.ElementTimeoutSeconds),
		Sleeper:             a.Clock,
	}, logger.Named("auth"))

	a.Extract = extract.Default(extract.Options{
		MaxPages:        cfg.Extract.MaxPages,
		DownloadTimeout: config.Seconds(cfg.Extract.DownloadTimeoutSeconds),
		PollInterval:    config.Seconds(cfg.Extract.PollIntervalSeconds),
		ElementTimeout:  config.Seconds(cfg.Headless.ElementTimeoutSeconds),
		Sleeper:         a.Clock,
	})
	a.Runner = extract.NewRunner(a.Extract, a.Transport, logger.Named("extract"))

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Scheduler: scheduler.New(a.Ledger, a.Clock, logger.Named("scheduler")),
		Ledger:    a.Ledger,
		Auth:      a.Auth,
		Extractor: a.Runner,
		Transport: a.Transport,
		Publisher: a.Publisher,
		Clock:     a.Clock,
		IDs:       uuid.New(),
		Metrics:   recorder,
		Limiter:   a.Limiter,
		Session:   a.sessionConfig(),
		Locale:    a.Locale,
		Logger:    logger.Named("run"),
	})

	logger.Info("application services initialized",
		zap.Strings("extract_types", a.Extract.Tags()),
		zap.Int("publishers", a.Publisher.Size()),
	)
	built = true
	return a, nil
}

func (a *App) sessionConfig() session.Config {
	cfg := a.Config
	userAgent := cfg.HTTP.UserAgent
	timeout := config.Seconds(cfg.HTTP.TimeoutSeconds)
	sc := session.Config{
		HTTP: httpclient.Config{
			Timeout:   timeout,
			UserAgent: userAgent,
			Limiter:   a.Limiter,
		},
		Pages: collyfetcher.Config{
			UserAgent: userAgent,
			Timeout:   timeout,
		},
		StagingRoot: cfg.Staging.Dir,
		StepDelay:   config.Seconds(cfg.Headless.StepDelaySeconds),
		Sleeper:     a.Clock,
	}
	if cfg.Headless.Enabled {
		browserCfg := headless.Config{
			Headless:          cfg.Headless.Headless,
			ExecPath:          cfg.Headless.ExecPath,
			UserAgent:         userAgent,
			WindowWidth:       cfg.Headless.WindowWidth,
			WindowHeight:      cfg.Headless.WindowHeight,
			NavigationTimeout: config.Seconds(cfg.Headless.NavTimeoutSeconds),
			ElementTimeout:    config.Seconds(cfg.Headless.ElementTimeoutSeconds),
		}
		sc.NewBrowser = func(context.Context) (session.Browser, error) {
			b, err := headless.Launch(browserCfg)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	return sc
}

func newLedgerStore(ctx context.Context, cfg config.LedgerConfig) (ledger.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := sqliteledger.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return store, nil
	case "bolt":
		store, err := boltledger.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open bolt ledger: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgresledger.New(ctx, postgresledger.Config{
			DSN:      cfg.DSN,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return store, nil
	case "memory":
		return memoryledger.New(), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend: %s", cfg.Backend)
	}
}

func newTransport(ctx context.Context, cfg config.DeliveryConfig, clock *system.Clock, logger *zap.Logger) (delivery.Transport, error) {
	switch cfg.Transport {
	case "ftp":
		return ftptransport.New(ftptransport.Config{
			Address:       cfg.FTP.Address,
			User:          cfg.FTP.User,
			Password:      cfg.FTP.Password,
			BasePath:      cfg.FTP.BasePath,
			ConnectWindow: config.Seconds(cfg.FTP.ConnectWindowSeconds),
			RetryInterval: config.Seconds(cfg.FTP.RetryIntervalSeconds),
			Timeout:       config.Seconds(cfg.FTP.TimeoutSeconds),
			Sleeper:       clock,
		}, logger)
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		t, err := gcstransport.New(client, gcstransport.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix}, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return t, nil
	case "local":
		base, err := filepath.Abs(cfg.Local.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("resolve delivery base dir: %w", err)
		}
		return localtransport.New(localtransport.Config{BaseDir: base}, logger)
	case "memory":
		return memorytransport.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown delivery transport: %s", cfg.Transport)
	}
}

func (a *App) newPublishers(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) ([]publisher.Named, error) {
	var pubs []publisher.Named
	if cfg.Log {
		pubs = append(pubs, publisher.Named{Name: "log", Publisher: logpublisher.New(logger)})
	}
	if cfg.PubSub.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		p := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
		a.closers = append(a.closers, func() error {
			_ = p.Close()
			return client.Close()
		})
		pubs = append(pubs, publisher.Named{Name: "pubsub", Publisher: p})
		logger.Info("pubsub notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	}
	if cfg.SNS.Enabled {
		p, err := snspublisher.NewFromConfig(ctx, snspublisher.Config{TopicARN: cfg.SNS.TopicARN, Region: cfg.SNS.Region})
		if err != nil {
			return nil, fmt.Errorf("create sns publisher: %w", err)
		}
		pubs = append(pubs, publisher.Named{Name: "sns", Publisher: p})
		logger.Info("sns notifications enabled", zap.String("topic_arn", cfg.SNS.TopicARN))
	}
	return pubs, nil
}

// LoadCatalog reads the catalog for today and checks that every root source
// names a registered auth and extraction type.
func (a *App) LoadCatalog() ([]*domain.RootSource, error) {
	roots, err := catalog.Load(a.Config.Catalog.Path, a.Clock.Now())
	if err != nil {
		return nil, err
	}
	if err := a.validateTypes(roots); err != nil {
		return nil, err
	}
	return roots, nil
}

func (a *App) validateTypes(roots []*domain.RootSource) error {
	var errs []error
	for _, r := range roots {
		if !a.Auth.Has(r.Auth.Type) {
			errs = append(errs, fmt.Errorf("%w: root source %q: unknown login type %q", catalog.ErrInvalid, r.Name, r.Auth.Type))
		}
		if _, ok := a.Extract.Lookup(r.Extract.Type); !ok {
			errs = append(errs, fmt.Errorf("%w: root source %q: unknown extract type %q", catalog.ErrInvalid, r.Name, r.Extract.Type))
		}
	}
	return errors.Join(errs...)
}

// Run loads the catalog and executes one delivery run.
func (a *App) Run(ctx context.Context, filter domain.Recurrence) (orchestrator.Summary, error) {
	roots, err := a.LoadCatalog()
	if err != nil {
		return orchestrator.Summary{}, fmt.Errorf("load catalog: %w", err)
	}
	return a.Orchestrator.Run(ctx, roots, filter)
}

// PrecreateDirs creates today's remote directory tree without fetching.
func (a *App) PrecreateDirs(ctx context.Context) (int, error) {
	roots, err := a.LoadCatalog()
	if err != nil {
		return 0, fmt.Errorf("load catalog: %w", err)
	}
	return delivery.PrecreateDaily(ctx, a.Transport, roots, a.Clock.Now(), a.Logger.Named("delivery")), nil
}

// ReportRow is one line of the daily report.
type ReportRow struct {
	Root         string
	Source       string
	Recurrence   domain.Recurrence
	Date         string
	Status       domain.Status
	DownloadedAt *time.Time
}

// Report lists today's relevant ledger entries joined with their catalog
// recurrence. Entries whose source left the catalog keep an empty root.
func (a *App) Report(ctx context.Context) ([]ReportRow, error) {
	roots, err := catalog.Load(a.Config.Catalog.Path, a.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	owners := make(map[string]*domain.RootSource)
	sources := make(map[string]*domain.Source)
	for _, r := range roots {
		for _, s := range r.Sources {
			owners[s.Name] = r
			sources[s.Name] = s
		}
	}

	entries, err := a.Ledger.EntriesDueForDelivery(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	rows := make([]ReportRow, 0, len(entries))
	for _, e := range entries {
		row := ReportRow{
			Source:       e.SourceName,
			Date:         e.DateKey(),
			Status:       e.Status,
			DownloadedAt: e.DownloadedAt,
		}
		if s, ok := sources[e.SourceName]; ok {
			row.Root = owners[e.SourceName].Name
			row.Recurrence = s.Recurrence
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// PushMetrics sends the collected metrics to the configured pushgateway.
func (a *App) PushMetrics() {
	if a.Config.Metrics.PushURL == "" {
		return
	}
	if err := metrics.Push(a.Config.Metrics.PushURL, a.Config.Metrics.Job); err != nil {
		a.Logger.Warn("metrics push failed", zap.Error(err))
	}
}

// GetLogger returns the application logger.
func (a *App) GetLogger() *zap.Logger { return a.Logger }

// GetConfig returns the configuration the app was built from.
func (a *App) GetConfig() config.Config { return a.Config }

// Entries exposes the ledger read side to the status API.
func (a *App) Entries() api.Entries { return a.Ledger }

// Close shuts down services in reverse order of creation and flushes the logger.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		a.Logger.Warn("error shutting down services", zap.Error(errors.Join(errs...)))
	}
	return errors.Join(errs...)
}
