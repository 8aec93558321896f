package ftp

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	dirs   map[string]bool
	files  map[string]string
	noop   error
	stor   error
	mkdirs []string
	quit   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{dirs: map[string]bool{"/": true}, files: map[string]string{}}
}

func (c *fakeConn) Login(string, string) error { return nil }
func (c *fakeConn) NoOp() error               { return c.noop }

func (c *fakeConn) ChangeDir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirs[p] {
		return errors.New("550 no such directory")
	}
	return nil
}

func (c *fakeConn) MakeDir(p string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirs[p] {
		return errors.New("550 exists")
	}
	c.dirs[p] = true
	c.mkdirs = append(c.mkdirs, p)
	return nil
}

func (c *fakeConn) Stor(p string, r io.Reader) error {
	if c.stor != nil {
		return c.stor
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files[p] = string(data)
	return nil
}

func (c *fakeConn) Quit() error {
	c.quit = true
	return nil
}

type countingSleeper struct {
	waits []time.Duration
}

func (s *countingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func TestEnsureDirectoryIsIdempotent(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	tr, err := New(Config{
		Address:  "ftp.example:21",
		BasePath: "/incoming",
		Dial:     func(context.Context, string, time.Duration) (Conn, error) { return conn, nil },
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, tr.EnsureDirectory(ctx, "/20240309/root"))
	require.NoError(t, tr.EnsureDirectory(ctx, "/20240309/root"))
	assert.Equal(t, []string{"/incoming", "/incoming/20240309", "/incoming/20240309/root"}, conn.mkdirs)
}

func TestUploadStoresUnderBasePath(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	tr, err := New(Config{
		Address:  "ftp.example:21",
		BasePath: "incoming",
		Dial:     func(context.Context, string, time.Duration) (Conn, error) { return conn, nil },
	}, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A_09032024.pdf"), []byte("%PDF"), 0o600))
	require.True(t, tr.Upload(context.Background(), dir, "/20240309/r/s", "A_09032024.pdf"))
	assert.Equal(t, "%PDF", conn.files["/incoming/20240309/r/s/A_09032024.pdf"])

	conn.stor = errors.New("451 aborted")
	assert.False(t, tr.Upload(context.Background(), dir, "/20240309/r/s", "A_09032024.pdf"))
	assert.False(t, tr.Upload(context.Background(), dir, "/20240309/r/s", "missing.pdf"))

	require.NoError(t, tr.Close())
	assert.True(t, conn.quit)
}

func TestConnectRetriesWithinWindow(t *testing.T) {
	t.Parallel()

	sleeper := &countingSleeper{}
	dials := 0
	tr, err := New(Config{
		Address:       "ftp.example:21",
		ConnectWindow: 30 * time.Second,
		RetryInterval: 10 * time.Second,
		Sleeper:       sleeper,
		Dial: func(context.Context, string, time.Duration) (Conn, error) {
			dials++
			return nil, errors.New("connection refused")
		},
	}, nil)
	require.NoError(t, err)

	require.Error(t, tr.EnsureDirectory(context.Background(), "/20240309"))
	assert.Equal(t, 4, dials)
	assert.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second, 10 * time.Second}, sleeper.waits)
}

func TestReconnectsWhenConnectionIsStale(t *testing.T) {
	t.Parallel()

	first, second := newFakeConn(), newFakeConn()
	conns := []*fakeConn{first, second}
	tr, err := New(Config{
		Address: "ftp.example:21",
		Dial: func(context.Context, string, time.Duration) (Conn, error) {
			c := conns[0]
			conns = conns[1:]
			return c, nil
		},
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, tr.EnsureDirectory(ctx, "/a"))
	first.noop = errors.New("421 timeout")
	require.NoError(t, tr.EnsureDirectory(ctx, "/b"))

	assert.True(t, first.quit)
	assert.Equal(t, []string{"/b"}, second.mkdirs)
}
