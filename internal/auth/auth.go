// Package auth establishes a logged-in session for a root source.
package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/retry"
	"github.com/JakeFAU/edition-fetcher/internal/session"
)

// Authenticator logs a session in. It never panics and never returns an
// error: a failed login is false.
type Authenticator interface {
	Login(ctx context.Context, s *session.Session, cfg domain.AuthConfig) bool
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, s *session.Session, cfg domain.AuthConfig) bool

// Login implements Authenticator.
func (f AuthenticatorFunc) Login(ctx context.Context, s *session.Session, cfg domain.AuthConfig) bool {
	return f(ctx, s, cfg)
}

// Options tunes the built-in authenticators.
type Options struct {
	SessionAttempts     int
	SessionWait         time.Duration
	InteractiveAttempts int
	InteractiveWait     time.Duration
	ElementTimeout      time.Duration
	Sleeper             retry.Sleeper
}

func (o Options) withDefaults() Options {
	if o.SessionAttempts <= 0 {
		o.SessionAttempts = 3
	}
	if o.SessionWait < 0 {
		o.SessionWait = 0
	}
	if o.InteractiveAttempts <= 0 {
		o.InteractiveAttempts = 2
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = 15 * time.Second
	}
	return o
}

// Registry maps auth type tags to authenticators.
type Registry struct {
	authenticators map[string]Authenticator
	logger         *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{authenticators: make(map[string]Authenticator), logger: logger}
}

// Default registers nologin, basic, session_header and interactive.
func Default(opts Options, logger *zap.Logger) *Registry {
	opts = opts.withDefaults()
	r := NewRegistry(logger)
	r.Register(domain.AuthNone, NoLogin{})
	r.Register(domain.AuthBasic, Basic{})
	r.Register(domain.AuthSessionHeader, &SessionHeader{
		Policy:  retry.Fixed(opts.SessionAttempts, opts.SessionWait),
		Sleeper: opts.Sleeper,
		Logger:  r.logger,
	})
	r.Register(domain.AuthInteractive, &Interactive{
		Policy:         retry.Fixed(opts.InteractiveAttempts, opts.InteractiveWait),
		Sleeper:        opts.Sleeper,
		ElementTimeout: opts.ElementTimeout,
		Logger:         r.logger,
	})
	return r
}

// Register binds tag to a.
func (r *Registry) Register(tag string, a Authenticator) {
	r.authenticators[tag] = a
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag string) bool {
	_, ok := r.authenticators[tag]
	return ok
}

// Login runs the root's authenticator and records the result on the session.
func (r *Registry) Login(ctx context.Context, s *session.Session) bool {
	cfg := s.Root.Auth
	a, ok := r.authenticators[cfg.Type]
	if !ok {
		r.logger.Error("unknown auth type",
			zap.String("root_source", s.Root.Name),
			zap.String("auth_type", cfg.Type),
		)
		s.LoggedIn = false
		return false
	}
	s.LoggedIn = a.Login(ctx, s, cfg)
	if s.LoggedIn {
		r.logger.Info("login succeeded", zap.String("root_source", s.Root.Name), zap.String("auth_type", cfg.Type))
	} else {
		r.logger.Warn("login failed", zap.String("root_source", s.Root.Name), zap.String("auth_type", cfg.Type))
	}
	return s.LoggedIn
}

// NoLogin is for public sources.
type NoLogin struct{}

// Login implements Authenticator.
func (NoLogin) Login(context.Context, *session.Session, domain.AuthConfig) bool { return true }

// Basic installs HTTP basic credentials on the session's fetchers.
type Basic struct{}

// Login implements Authenticator.
func (Basic) Login(_ context.Context, s *session.Session, cfg domain.AuthConfig) bool {
	s.HTTP.SetBasicAuth(cfg.User, cfg.Password)
	s.Pages.SetBasicAuth(cfg.User, cfg.Password)
	return true
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
