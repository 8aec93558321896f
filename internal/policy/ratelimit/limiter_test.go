package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesSameHost(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		observed []string
	)
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
		Observe: func(host string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			observed = append(observed, host)
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://issuu.test/page/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://issuu.test/page/2"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"issuu.test"}, observed)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.test/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.test/1"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Wait(ctx, "https://slow.test/"))
	require.Error(t, l.Wait(ctx, "https://slow.test/"))
}

func TestUnlimitedAndNilLimiter(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://fast.test/"))
	}
	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://fast.test/"))
	assert.Equal(t, "unknown", Host("::bad"))
	assert.Equal(t, "example.com", Host("https://example.com:8443/a"))
}
