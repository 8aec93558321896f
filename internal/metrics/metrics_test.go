package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	NewRecorder()

	rec.ObserveEdition("Grupo Test", "direct", "success", 2*time.Second)
	rec.ObserveEdition("Grupo Test", "direct", "success", time.Second)
	rec.ObserveDelivered("Grupo Test", 2048)
	rec.ObserveDelivered("Grupo Test", 0)
	rec.ObserveLogin("interactive", false)
	rec.ObserveLedgerWriteError()
	rec.ObserveRun("completed", time.Unix(1_700_000_000, 0), 90*time.Second)
	ObserveRateLimitDelay("kiosk.test", 500*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(editionOutcomesTotal.WithLabelValues("Grupo Test", "success")), 0)
	assert.InDelta(t, 2048, testutil.ToFloat64(deliveredBytesTotal.WithLabelValues("Grupo Test")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(loginAttemptsTotal.WithLabelValues("interactive", "failure")), 0)
	assert.InDelta(t, 1_700_000_000, testutil.ToFloat64(lastRunTimestampSeconds), 0)
	assert.InDelta(t, 90, testutil.ToFloat64(lastRunDurationSeconds), 0)
	assert.Positive(t, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

func TestPush(t *testing.T) {
	Init()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Contains(t, r.URL.Path, "/metrics/job/edition-fetcher")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, Push(srv.URL, "edition-fetcher"))
	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, Push("", "edition-fetcher"))
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
