// Package ftp delivers editions to an FTP server.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/clock/system"
	"github.com/JakeFAU/edition-fetcher/internal/retry"
)

// Conn is the subset of *ftp.ServerConn the transport uses.
type Conn interface {
	Login(user, password string) error
	NoOp() error
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// Dialer opens a control connection.
type Dialer func(ctx context.Context, addr string, timeout time.Duration) (Conn, error)

// Config controls the FTP transport.
type Config struct {
	Address  string
	User     string
	Password string
	BasePath string
	// ConnectWindow bounds how long connecting is retried.
	ConnectWindow time.Duration
	RetryInterval time.Duration
	Timeout       time.Duration

	Dial    Dialer
	Sleeper retry.Sleeper
}

// Transport keeps one control connection, reconnecting when it goes stale.
type Transport struct {
	cfg    Config
	policy retry.Policy
	logger *zap.Logger

	mu   sync.Mutex
	conn Conn
}

// New validates cfg. The connection is opened on first use.
func New(cfg Config, logger *zap.Logger) (*Transport, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("ftp address is required")
	}
	if cfg.ConnectWindow <= 0 {
		cfg.ConnectWindow = 300 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	if cfg.Dial == nil {
		cfg.Dial = dial
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = system.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := int(cfg.ConnectWindow/cfg.RetryInterval) + 1
	return &Transport{
		cfg:    cfg,
		policy: retry.Fixed(attempts, cfg.RetryInterval),
		logger: logger.With(zap.String("ftp", cfg.Address)),
	}, nil
}

func dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	return ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
}

// session returns a live connection, reconnecting within the connect window.
func (t *Transport) session(ctx context.Context) (Conn, error) {
	if t.conn != nil {
		if err := t.conn.NoOp(); err == nil {
			return t.conn, nil
		}
		t.logger.Warn("ftp connection lost, reconnecting")
		_ = t.conn.Quit()
		t.conn = nil
	}

	var conn Conn
	_, err := retry.Do(ctx, t.policy, t.cfg.Sleeper, func(ctx context.Context, _ int) error {
		c, err := t.cfg.Dial(ctx, t.cfg.Address, t.cfg.Timeout)
		if err != nil {
			return err
		}
		if err := c.Login(t.cfg.User, t.cfg.Password); err != nil {
			_ = c.Quit()
			return fmt.Errorf("login: %w", err)
		}
		conn = c
		return nil
	}, func(attempt int, err error) {
		t.logger.Error("ftp connection error", zap.Int("attempt", attempt), zap.Error(err))
	})
	if err != nil {
		return nil, fmt.Errorf("connect to ftp: %w", err)
	}
	t.logger.Info("connected to ftp")
	t.conn = conn
	return conn, nil
}

func (t *Transport) remote(p string) string {
	return path.Join("/", t.cfg.BasePath, p)
}

// EnsureDirectory creates every missing segment of dir below the base path.
func (t *Transport) EnsureDirectory(ctx context.Context, dir string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, err := t.session(ctx)
	if err != nil {
		return err
	}
	full := t.remote(dir)
	current := "/"
	for _, seg := range strings.Split(strings.Trim(full, "/"), "/") {
		if seg == "" {
			continue
		}
		current = path.Join(current, seg)
		if conn.ChangeDir(current) == nil {
			continue
		}
		mkErr := conn.MakeDir(current)
		if mkErr == nil {
			continue
		}
		// Lost a race or the server refused the probe; exists is success.
		if conn.ChangeDir(current) == nil {
			continue
		}
		return fmt.Errorf("make dir %s: %w", current, mkErr)
	}
	return nil
}

// Upload stores localDir/filename at remoteDir/filename.
func (t *Transport) Upload(ctx context.Context, localDir, remoteDir, filename string) bool {
	dst := t.remote(path.Join(remoteDir, filename))
	if err := t.upload(ctx, filepath.Join(localDir, filename), dst); err != nil {
		t.logger.Error("transfer not completed", zap.String("file", filename), zap.String("remote_path", dst), zap.Error(err))
		return false
	}
	t.logger.Debug("file uploaded", zap.String("remote_path", dst))
	return true
}

func (t *Transport) upload(ctx context.Context, localPath, dst string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	conn, err := t.session(ctx)
	if err != nil {
		return err
	}
	if err := conn.Stor(dst, f); err != nil {
		return fmt.Errorf("stor: %w", err)
	}
	return nil
}

// Close quits the control connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Quit()
	t.conn = nil
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("quit ftp: %w", err)
	}
	return nil
}
