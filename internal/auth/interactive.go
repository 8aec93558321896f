package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/retry"
	"github.com/JakeFAU/edition-fetcher/internal/session"
)

// Interactive drives a multi-step login form in the session browser.
type Interactive struct {
	Policy         retry.Policy
	Sleeper        retry.Sleeper
	ElementTimeout time.Duration
	Logger         *zap.Logger
}

// Login implements Authenticator.
func (a *Interactive) Login(ctx context.Context, s *session.Session, cfg domain.AuthConfig) bool {
	logger := orNop(a.Logger)
	b, err := s.Browser(ctx)
	if err != nil {
		logger.Error("interactive login needs a browser", zap.String("root_source", s.Root.Name), zap.Error(err))
		return false
	}
	_, err = retry.Do(ctx, a.Policy, a.Sleeper, func(ctx context.Context, _ int) error {
		return a.attempt(ctx, s, b, cfg)
	}, func(attempt int, err error) {
		b.LeaveFrame()
		logger.Warn("interactive login attempt failed",
			zap.String("root_source", s.Root.Name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	})
	return err == nil
}

func (a *Interactive) attempt(ctx context.Context, s *session.Session, b session.Browser, cfg domain.AuthConfig) error {
	if _, err := b.Navigate(ctx, cfg.LoginURL); err != nil {
		return err
	}
	if err := s.Pause(ctx); err != nil {
		return err
	}

	if cfg.LandingFrameXPath != "" {
		if err := b.EnterFrame(ctx, cfg.LandingFrameXPath); err != nil {
			return fmt.Errorf("landing frame: %w", err)
		}
	}
	if err := a.consent(ctx, b, cfg.ConsentXPaths); err != nil {
		return err
	}
	if cfg.PageLoadedXPath != "" {
		if err := b.WaitVisible(ctx, cfg.PageLoadedXPath, a.ElementTimeout); err != nil {
			return fmt.Errorf("page loaded marker: %w", err)
		}
	}
	b.LeaveFrame()

	for _, button := range cfg.LoginButtonXPaths {
		if err := b.Click(ctx, button); err != nil {
			return fmt.Errorf("login button: %w", err)
		}
		if err := s.Pause(ctx); err != nil {
			return err
		}
	}
	if cfg.FormFrameXPath != "" {
		if err := b.EnterFrame(ctx, cfg.FormFrameXPath); err != nil {
			return fmt.Errorf("form frame: %w", err)
		}
	}

	if err := b.SendKeys(ctx, cfg.UserXPath, cfg.User); err != nil {
		return fmt.Errorf("user box: %w", err)
	}
	if cfg.FirstSubmitXPath != "" {
		if err := b.Click(ctx, cfg.FirstSubmitXPath); err != nil {
			return fmt.Errorf("first submit: %w", err)
		}
		if err := s.Pause(ctx); err != nil {
			return err
		}
	}
	if err := b.SendKeys(ctx, cfg.PasswordXPath, cfg.Password); err != nil {
		return fmt.Errorf("password box: %w", err)
	}
	if cfg.SubmitWithEnter {
		if err := b.PressEnter(ctx, cfg.PasswordXPath); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
	} else if err := b.Click(ctx, cfg.SubmitXPath); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := s.Pause(ctx); err != nil {
		return err
	}

	if err := a.consent(ctx, b, cfg.ConsentXPaths); err != nil {
		return err
	}
	b.LeaveFrame()
	if cfg.ValidationXPath != "" {
		if err := b.WaitVisible(ctx, cfg.ValidationXPath, a.ElementTimeout); err != nil {
			return fmt.Errorf("login validation: %w", err)
		}
	}
	return nil
}

// consent clicks whichever consent buttons are present; absent ones are fine.
func (a *Interactive) consent(ctx context.Context, b session.Browser, selectors []string) error {
	for _, sel := range selectors {
		present, err := b.Exists(ctx, sel)
		if err != nil {
			return fmt.Errorf("consent %q: %w", sel, err)
		}
		if !present {
			continue
		}
		if err := b.Click(ctx, sel); err != nil {
			return fmt.Errorf("consent %q: %w", sel, err)
		}
	}
	return nil
}
