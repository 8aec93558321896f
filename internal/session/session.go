// Package session owns the per-root-source fetch state: the HTTP client and
// its cookie jar, the page fetcher, a lazily started browser and a private
// staging directory. A session is opened for one root source and closed
// when that root's batch ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	collyfetcher "github.com/JakeFAU/edition-fetcher/internal/fetcher/colly"
	"github.com/JakeFAU/edition-fetcher/internal/fetcher/httpclient"
)

// Browser is the browser surface used by logins and browser-driven extraction.
// Selectors starting with "/" or "(" are XPath, anything else is CSS.
type Browser interface {
	Navigate(ctx context.Context, url string) (int, error)
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Location(ctx context.Context) (string, error)
	Count(ctx context.Context, selector string) (int, error)
	Exists(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, text string) error
	PressEnter(ctx context.Context, selector string) error
	Text(ctx context.Context, selector string) (string, error)
	EnterFrame(ctx context.Context, selector string) error
	LeaveFrame()
	Screenshot(ctx context.Context, path string) error
	AllowDownloads(ctx context.Context, dir string) error
	Close() error
}

// BrowserFactory starts a browser.
type BrowserFactory func(ctx context.Context) (Browser, error)

// ErrNoBrowser is returned when a browser is needed but none is configured.
var ErrNoBrowser = errors.New("session: browser not configured")

// Sleeper pauses between browser steps.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Config controls how sessions are opened.
type Config struct {
	HTTP        httpclient.Config
	Pages       collyfetcher.Config
	StagingRoot string
	StepDelay   time.Duration
	NewBrowser  BrowserFactory
	Sleeper     Sleeper
}

// Session is the state shared by one root source's login and extractions.
type Session struct {
	Root     *domain.RootSource
	HTTP     *httpclient.Client
	Pages    *collyfetcher.Fetcher
	Staging  string
	LoggedIn bool

	stepDelay  time.Duration
	sleeper    Sleeper
	newBrowser BrowserFactory
	logger     *zap.Logger

	mu      sync.Mutex
	browser Browser
}

// Open creates a session for root with its own cookie jar and staging dir.
func Open(root *domain.RootSource, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := httpclient.New(cfg.HTTP)
	if err != nil {
		return nil, fmt.Errorf("session http client: %w", err)
	}
	pagesCfg := cfg.Pages
	pagesCfg.Jar = client.Jar()

	stagingRoot := cfg.StagingRoot
	if stagingRoot == "" {
		stagingRoot = os.TempDir()
	}
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	staging, err := os.MkdirTemp(stagingRoot, root.Dirname+"-*")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}

	return &Session{
		Root:       root,
		HTTP:       client,
		Pages:      collyfetcher.New(pagesCfg),
		Staging:    staging,
		stepDelay:  cfg.StepDelay,
		sleeper:    cfg.Sleeper,
		newBrowser: cfg.NewBrowser,
		logger:     logger.With(zap.String("root_source", root.Name)),
	}, nil
}

// Browser returns the session browser, starting it on first use.
func (s *Session) Browser(ctx context.Context) (Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		return s.browser, nil
	}
	if s.newBrowser == nil {
		return nil, ErrNoBrowser
	}
	b, err := s.newBrowser(ctx)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	s.logger.Debug("browser started")
	s.browser = b
	return b, nil
}

// Pause waits the configured step delay.
func (s *Session) Pause(ctx context.Context) error {
	if s.stepDelay <= 0 || s.sleeper == nil {
		return ctx.Err()
	}
	return s.sleeper.Sleep(ctx, s.stepDelay)
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *zap.Logger {
	return s.logger
}

// CleanStaging empties the staging directory, leaving it in place.
func (s *Session) CleanStaging() error {
	entries, err := os.ReadDir(s.Staging)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(s.Staging, 0o755)
		}
		return fmt.Errorf("read staging: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.Staging, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the browser and removes the staging directory.
func (s *Session) Close() error {
	s.mu.Lock()
	b := s.browser
	s.browser = nil
	s.mu.Unlock()

	var errs []error
	if b != nil {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.Staging != "" {
		if err := os.RemoveAll(s.Staging); err != nil {
			errs = append(errs, fmt.Errorf("remove staging: %w", err))
		}
	}
	return errors.Join(errs...)
}
