package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/retry"
	"github.com/JakeFAU/edition-fetcher/internal/session"
)

// SessionHeader posts the login form through the session client; the cookie
// jar keeps whatever session the site hands back.
type SessionHeader struct {
	Policy  retry.Policy
	Sleeper retry.Sleeper
	Logger  *zap.Logger
}

// Login implements Authenticator.
func (a *SessionHeader) Login(ctx context.Context, s *session.Session, cfg domain.AuthConfig) bool {
	logger := orNop(a.Logger)
	if cfg.LoginURL == "" {
		logger.Error("session_header login has no login_url", zap.String("root_source", s.Root.Name))
		return false
	}
	_, err := retry.Do(ctx, a.Policy, a.Sleeper, func(ctx context.Context, _ int) error {
		page, err := s.HTTP.PostForm(ctx, cfg.LoginURL, cfg.Payload)
		if err != nil {
			return err
		}
		if !page.OK() {
			return fmt.Errorf("login status %d", page.StatusCode)
		}
		return nil
	}, func(attempt int, err error) {
		logger.Warn("login attempt failed",
			zap.String("root_source", s.Root.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.Policy.Attempts),
			zap.Error(err),
		)
	})
	return err == nil
}
