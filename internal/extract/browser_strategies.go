package extract

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/assembly"
	"github.com/JakeFAU/edition-fetcher/internal/markup"
	"github.com/JakeFAU/edition-fetcher/internal/session"
)

func selectorOf(job *Job) string {
	loc := job.EditionLocator()
	if loc.XPath != "" {
		return loc.XPath
	}
	return loc.CSS
}

// open navigates the session browser to url and waits for ready_locator.
func open(ctx context.Context, job *Job, url string) (session.Browser, int, error) {
	b, err := job.Session.Browser(ctx)
	if err != nil {
		return nil, 0, err
	}
	if err := job.Limiter.Wait(ctx, url); err != nil {
		return nil, 0, err
	}
	status, err := b.Navigate(ctx, url)
	if err != nil {
		return nil, 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	if ready := job.cfg().ReadyLocator; ready != "" && status < 400 {
		if err := b.WaitVisible(ctx, ready, 0); err != nil {
			return b, status, fmt.Errorf("wait for %s: %w", url, err)
		}
	}
	return b, status, nil
}

func present(ctx context.Context, b session.Browser, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	return b.Exists(ctx, selector)
}

// browserDownload clicks through to a document the site serves as a download.
type browserDownload struct {
	opts Options
}

func (s browserDownload) Fetch(ctx context.Context, job *Job) ([]Artifact, error) {
	cfg := job.cfg()
	sel := selectorOf(job)
	if cfg.URL == "" || sel == "" {
		return nil, fmt.Errorf("browser_download: url and an edition locator are required")
	}
	dlDir, err := job.WorkDir("downloads")
	if err != nil {
		return nil, err
	}
	b, err := job.Session.Browser(ctx)
	if err != nil {
		return nil, err
	}
	if err := b.AllowDownloads(ctx, dlDir); err != nil {
		return nil, fmt.Errorf("allow downloads: %w", err)
	}
	b, status, err := open(ctx, job, job.Expand(cfg.URL))
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &StatusError{URL: job.Expand(cfg.URL), Code: status}
	}
	if gone, err := present(ctx, b, cfg.UnavailableLocator); err != nil {
		return nil, err
	} else if gone {
		return nil, fmt.Errorf("%w: unavailable marker present", ErrUnavailable)
	}
	ok, err := b.Exists(ctx, sel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s not on page", ErrUnavailable, sel)
	}

	if err := b.Click(ctx, sel); err != nil {
		return nil, fmt.Errorf("open edition: %w", err)
	}
	if err := job.Session.Pause(ctx); err != nil {
		return nil, err
	}
	for _, step := range cfg.ClickSequence {
		if err := b.WaitVisible(ctx, step, s.opts.ElementTimeout); err != nil {
			return nil, err
		}
		if err := b.Click(ctx, step); err != nil {
			return nil, fmt.Errorf("click %s: %w", step, err)
		}
		if err := job.Session.Pause(ctx); err != nil {
			return nil, err
		}
	}

	timeout := s.opts.DownloadTimeout
	if cfg.DownloadTimeout > 0 {
		timeout = time.Duration(cfg.DownloadTimeout) * time.Second
	}
	path, err := awaitDownload(ctx, dlDir, timeout, s.opts)
	if err != nil {
		return nil, err
	}
	a := job.artifact(job.Filename(0, "pdf"))
	if err := os.Rename(path, a.Path); err != nil {
		return nil, fmt.Errorf("rename download: %w", err)
	}
	return []Artifact{a}, nil
}

// awaitDownload polls dir for a completed .pdf.
func awaitDownload(ctx context.Context, dir string, timeout time.Duration, opts Options) (string, error) {
	polls := int(timeout / opts.PollInterval)
	for i := 0; ; i++ {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", fmt.Errorf("read downloads: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				continue
			}
			if info, err := e.Info(); err == nil && info.Size() > 0 {
				return filepath.Join(dir, e.Name()), nil
			}
		}
		if i >= polls {
			return "", fmt.Errorf("no completed download after %s", timeout)
		}
		if err := opts.Sleeper.Sleep(ctx, opts.PollInterval); err != nil {
			return "", err
		}
	}
}

// browserPaginated screenshots each page of a reader and assembles them.
type browserPaginated struct {
	opts Options
}

func (s browserPaginated) Fetch(ctx context.Context, job *Job) ([]Artifact, error) {
	cfg := job.cfg()
	if cfg.URL == "" || cfg.PageURL == "" || cfg.TotalPagesLocator == "" {
		return nil, fmt.Errorf("browser_paginated: url, page_url and total_pages_locator are required")
	}
	url := job.Expand(cfg.URL)
	b, status, err := open(ctx, job, url)
	if err != nil {
		return nil, err
	}
	title, err := b.Title(ctx)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || strings.Contains(title, "404 Not Found") {
		return nil, fmt.Errorf("%w: %s not found", ErrUnavailable, url)
	}
	if status >= 400 {
		return nil, &StatusError{URL: url, Code: status}
	}
	if gone, err := present(ctx, b, cfg.UnavailableLocator); err != nil {
		return nil, err
	} else if gone {
		return nil, fmt.Errorf("%w: unavailable marker present", ErrUnavailable)
	}

	text, err := b.Text(ctx, cfg.TotalPagesLocator)
	if err != nil {
		return nil, fmt.Errorf("read page total: %w", err)
	}
	total, err := lastNumber(text)
	if err != nil {
		return nil, fmt.Errorf("read page total: %w", err)
	}
	if limit := job.maxPages(s.opts.MaxPages); total > limit {
		job.Session.Logger().Warn("page total capped", zap.Int("total", total), zap.Int("max_pages", limit))
		total = limit
	}

	dir, err := job.WorkDir("pages")
	if err != nil {
		return nil, err
	}
	tmpl := job.Expand(cfg.PageURL)
	for p := 1; p <= total; p++ {
		pageURL := strings.ReplaceAll(tmpl, "{page}", strconv.Itoa(p))
		_, status, err := open(ctx, job, pageURL)
		if err == nil && status >= 400 {
			err = &StatusError{URL: pageURL, Code: status}
		}
		if err == nil {
			err = b.Screenshot(ctx, filepath.Join(dir, fmt.Sprintf("page_%03d.png", p)))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			job.Session.Logger().Warn("page loop ended", zap.Int("page", p), zap.Error(err))
			break
		}
	}
	shots, err := assembly.PageImages(dir)
	if err != nil {
		return nil, err
	}
	if len(shots) == 0 {
		return nil, fmt.Errorf("%w: no page captured", ErrUnavailable)
	}
	if len(shots) < total {
		return nil, fmt.Errorf("captured %d of %d pages", len(shots), total)
	}
	a := job.artifact(job.Filename(0, "pdf"))
	if err := assembly.Assemble(shots, a.Path); err != nil {
		return nil, err
	}
	return []Artifact{a}, nil
}

// layeredPages downloads background and foreground layers per page,
// composites them and assembles the result.
type layeredPages struct {
	opts Options
}

func (s layeredPages) Fetch(ctx context.Context, job *Job) ([]Artifact, error) {
	cfg := job.cfg()
	sel := selectorOf(job)
	if cfg.URL == "" || sel == "" || cfg.PageCountLocator == "" || cfg.LayerLocator == "" {
		return nil, fmt.Errorf("layered_pages: url, edition locator, page_count_locator and layer_locator are required")
	}
	b, _, err := open(ctx, job, job.Expand(cfg.URL))
	if err != nil {
		return nil, err
	}
	ok, err := b.Exists(ctx, sel)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s not on page", ErrUnavailable, sel)
	}

	reader, err := b.Location(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.PDFLinkLocator != "" {
		doc, err := b.HTML(ctx)
		if err != nil {
			return nil, err
		}
		href, found, err := markup.First([]byte(doc), markup.Selector(cfg.PDFLinkLocator, "href"))
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("layered_pages: reader link %s not found", cfg.PDFLinkLocator)
		}
		if reader, err = markup.Resolve(reader, href); err != nil {
			return nil, err
		}
		if _, _, err := open(ctx, job, reader); err != nil {
			return nil, err
		}
	}

	total, err := b.Count(ctx, cfg.PageCountLocator)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("layered_pages: no pages counted with %s", cfg.PageCountLocator)
	}
	if limit := job.maxPages(s.opts.MaxPages); total > limit {
		total = limit
	}

	layers, err := job.WorkDir("layers")
	if err != nil {
		return nil, err
	}
	reader = strings.TrimRight(reader, "/")
	for p := 1; p <= total; p++ {
		if err := s.fetchLayers(ctx, job, b, fmt.Sprintf("%s/page/%d", reader, p), p, layers); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			job.Session.Logger().Warn("page loop ended", zap.Int("page", p), zap.Error(err))
			break
		}
	}

	mounted, err := job.WorkDir("mounted")
	if err != nil {
		return nil, err
	}
	pages, err := assembly.BuildLayeredPages(layers, mounted, total)
	if err != nil {
		return nil, err
	}
	a := job.artifact(job.Filename(0, "pdf"))
	if err := assembly.Assemble(pages, a.Path); err != nil {
		return nil, err
	}
	return []Artifact{a}, nil
}

func (s layeredPages) fetchLayers(ctx context.Context, job *Job, b session.Browser, pageURL string, p int, dir string) error {
	_, status, err := open(ctx, job, pageURL)
	if err != nil {
		return err
	}
	if status >= 400 {
		return &StatusError{URL: pageURL, Code: status}
	}
	doc, err := b.HTML(ctx)
	if err != nil {
		return err
	}
	sel := strings.ReplaceAll(job.cfg().LayerLocator, "{page}", strconv.Itoa(p))
	srcs, err := markup.Find([]byte(doc), markup.Selector(sel, "src"))
	if err != nil {
		return err
	}
	if len(srcs) < 2 {
		return fmt.Errorf("found %d layers", len(srcs))
	}
	for _, src := range srcs[:2] {
		abs, err := markup.Resolve(pageURL, src)
		if err != nil {
			return err
		}
		suffix := "_bg.jpeg"
		if strings.Contains(src, "fg") {
			suffix = "_fg.png"
		}
		if err := job.download(ctx, abs, filepath.Join(dir, fmt.Sprintf("page%03d%s", p, suffix))); err != nil {
			return err
		}
	}
	return nil
}
