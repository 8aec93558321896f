package extract_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodsign/monday"
	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/assembly"
	"github.com/JakeFAU/edition-fetcher/internal/delivery/memory"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/extract"
	"github.com/JakeFAU/edition-fetcher/internal/session"
	"github.com/JakeFAU/edition-fetcher/internal/session/sessiontest"
)

var saturday = time.Date(2024, 3, 9, 9, 15, 0, 0, time.UTC)

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	root      *domain.RootSource
	source    *domain.Source
	session   *session.Session
	transport *memory.Transport
	runner    *extract.Runner
}

func newHarness(t *testing.T, cfg domain.ExtractConfig, browser *sessiontest.Browser) *harness {
	t.Helper()

	src := domain.NewSource("La Gaceta", []int{6}, domain.Daily, saturday)
	src.Edition = "ed1"
	root := &domain.RootSource{
		Name:    "Grupo Gaceta",
		Dirname: domain.DirName("Grupo Gaceta"),
		Active:  true,
		Extract: cfg,
		Sources: []*domain.Source{src},
	}
	sessCfg := session.Config{StagingRoot: t.TempDir()}
	if browser != nil {
		sessCfg.NewBrowser = func(context.Context) (session.Browser, error) { return browser, nil }
	}
	sess, err := session.Open(root, sessCfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	tr := memory.New(zap.NewNop())
	registry := extract.Default(extract.Options{
		Sleeper:         noSleep{},
		PollInterval:    time.Second,
		DownloadTimeout: 3 * time.Second,
	})
	return &harness{
		root:      root,
		source:    src,
		session:   sess,
		transport: tr,
		runner:    extract.NewRunner(registry, tr, zap.NewNop()),
	}
}

func (h *harness) job() *extract.Job {
	return extract.NewJob(h.root, h.source, h.session, saturday, monday.LocaleEsES)
}

func (h *harness) run(t *testing.T) (domain.Status, *extract.Job) {
	t.Helper()
	job := h.job()
	status := h.runner.Extract(context.Background(), job)
	entries, err := os.ReadDir(h.session.Staging)
	require.NoError(t, err)
	require.Empty(t, entries, "staging must be emptied")
	return status, job
}

// uploadedPages writes an uploaded document to disk and returns its page count.
func uploadedPages(t *testing.T, h *harness, remotePath string) int {
	t.Helper()
	data, ok := h.transport.Get(remotePath)
	require.True(t, ok, "missing upload %s", remotePath)
	p := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(p, data, 0o600))
	n, err := assembly.Validate(p)
	require.NoError(t, err)
	return n
}

func pdfBytes(t *testing.T, pages int) []byte {
	t.Helper()
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.Cell(40, 10, "edition")
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func fill(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, fill(16, 24, color.White), nil))
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, fill(16, 24, color.NRGBA{B: 255, A: 90})))
	return buf.Bytes()
}
