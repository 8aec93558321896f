package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/assembly"
	"github.com/JakeFAU/edition-fetcher/internal/markup"
)

// direct fetches a document from a dated URL.
type direct struct{}

func (direct) Fetch(ctx context.Context, job *Job) ([]Artifact, error) {
	cfg := job.cfg()
	if cfg.URL == "" {
		return nil, fmt.Errorf("direct: url is required")
	}
	url := job.Expand(cfg.URL)
	page, err := job.request(ctx, url, cfg.Post)
	if err != nil {
		return nil, err
	}
	if page.StatusCode == http.StatusNotFound || (page.OK() && len(page.Body) == 0) {
		return nil, fmt.Errorf("%w: %s answered %d with %d bytes", ErrUnavailable, url, page.StatusCode, len(page.Body))
	}
	if !page.OK() {
		return nil, &StatusError{URL: url, Code: page.StatusCode}
	}
	a, err := job.writeArtifact(job.Filename(0, "pdf"), page.Body)
	if err != nil {
		return nil, err
	}
	return []Artifact{a}, nil
}

// archiveLink finds today's edition link on an archive page and downloads it.
type archiveLink struct{}

func (archiveLink) Fetch(ctx context.Context, job *Job) ([]Artifact, error) {
	cfg := job.cfg()
	loc := job.EditionLocator()
	if loc.Empty() {
		return nil, fmt.Errorf("archive_link: edition_locator is required")
	}
	if len(cfg.ArchiveURLs) == 0 {
		return nil, fmt.Errorf("archive_link: archive_urls is required")
	}

	var (
		link, base string
		fetched    int
		lastErr    error
	)
	for _, tmpl := range cfg.ArchiveURLs {
		url := job.Expand(tmpl)
		body, err := job.html(ctx, url, cfg.Render)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			job.Session.Logger().Debug("archive page unavailable", zap.String("url", url), zap.Error(err))
			lastErr = err
			continue
		}
		fetched++
		value, ok, err := markup.First(body, loc)
		if err != nil {
			return nil, err
		}
		if ok {
			link, base = value, url
			break
		}
	}
	if link == "" {
		if fetched == 0 {
			return nil, fmt.Errorf("archive_link: no archive page reachable: %w", lastErr)
		}
		return nil, fmt.Errorf("%w: no link matches %+v", ErrUnavailable, loc)
	}

	docURL, err := job.documentURL(base, link)
	if err != nil {
		return nil, err
	}
	a := job.artifact(job.Filename(0, "pdf"))
	if err := job.download(ctx, docURL, a.Path); err != nil {
		return nil, err
	}
	return []Artifact{a}, nil
}

// multipageRequest delivers one document per page until a page is missing.
type multipageRequest struct {
	opts Options
}

func (m multipageRequest) Fetch(ctx context.Context, job *Job) ([]Artifact, error) {
	cfg := job.cfg()
	if !strings.Contains(cfg.URL, "{P}") {
		return nil, fmt.Errorf("multipage_request: url needs a {P} token")
	}
	limit := job.maxPages(m.opts.MaxPages)
	var out []Artifact
	for p := 1; p <= limit; p++ {
		url := job.Expand(strings.ReplaceAll(cfg.URL, "{P}", pageToken(p, cfg.PageTokenWidth)))
		page, err := job.request(ctx, url, cfg.Post)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil || !page.OK() || len(page.Body) == 0 {
			job.Session.Logger().Debug("page loop ended", zap.Int("page", p), zap.String("url", url))
			break
		}
		a, err := job.writeArtifact(job.Filename(p, "pdf"), page.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: first page missing", ErrUnavailable)
	}
	return out, nil
}

// pageImages downloads numbered page images and assembles them into one document.
type pageImages struct {
	opts Options
}

func (s pageImages) Fetch(ctx context.Context, job *Job) ([]Artifact, error) {
	tmpl, err := s.template(ctx, job)
	if err != nil {
		return nil, err
	}
	dir, err := job.WorkDir("pages")
	if err != nil {
		return nil, err
	}
	limit := job.maxPages(s.opts.MaxPages)
	for c := 1; c <= limit; c++ {
		url := strings.ReplaceAll(tmpl, "{page}", strconv.Itoa(c))
		dst := filepath.Join(dir, fmt.Sprintf("page_%03d.jpg", c))
		err := job.download(ctx, url, dst)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var se *StatusError
			if !errors.As(err, &se) {
				job.Session.Logger().Warn("page image fetch failed", zap.Int("page", c), zap.Error(err))
			}
			break
		}
	}
	images, err := assembly.PageImages(dir)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no page images", ErrUnavailable)
	}
	if len(images) == limit {
		job.Session.Logger().Warn("page limit reached", zap.Int("max_pages", limit))
	}
	a := job.artifact(job.Filename(0, "pdf"))
	if err := assembly.Assemble(images, a.Path); err != nil {
		return nil, err
	}
	return []Artifact{a}, nil
}

// template returns the page image URL with a {page} placeholder.
func (s pageImages) template(ctx context.Context, job *Job) (string, error) {
	cfg := job.cfg()
	if cfg.PageURL != "" {
		return job.Expand(cfg.PageURL), nil
	}
	if cfg.EditionURL == "" || cfg.FirstPageLocator.Empty() {
		return "", fmt.Errorf("page_images: page_url or edition_url with first_page_locator is required")
	}
	url := job.Expand(cfg.EditionURL)
	body, err := job.html(ctx, url, cfg.Render)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", err
	}
	loc := job.ExpandLocator(cfg.FirstPageLocator)
	first, ok, err := markup.First(body, loc)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: no first page at %s", ErrUnavailable, url)
	}
	first, err = markup.Resolve(url, first)
	if err != nil {
		return "", err
	}
	if cfg.PageToken == "" {
		if !strings.Contains(first, "{page}") {
			return "", fmt.Errorf("page_images: %s has no {page} placeholder and no page_token is set", first)
		}
		return first, nil
	}
	idx := strings.LastIndex(first, cfg.PageToken)
	if idx < 0 {
		return "", fmt.Errorf("page_images: page_token %q not in %s", cfg.PageToken, first)
	}
	replacement := cfg.PageReplacement
	if replacement == "" {
		replacement = "{page}"
	}
	return first[:idx] + replacement + first[idx+len(cfg.PageToken):], nil
}
