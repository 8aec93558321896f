package extract

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goodsign/monday"

	"github.com/JakeFAU/edition-fetcher/internal/datefmt"
	"github.com/JakeFAU/edition-fetcher/internal/delivery"
	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/fetcher"
	"github.com/JakeFAU/edition-fetcher/internal/markup"
	"github.com/JakeFAU/edition-fetcher/internal/policy/ratelimit"
	"github.com/JakeFAU/edition-fetcher/internal/session"
)

// Job is one extraction attempt for a due source.
type Job struct {
	Root    *domain.RootSource
	Source  *domain.Source
	Session *session.Session
	Now     time.Time
	Locale  monday.Locale
	Staging string
	// Limiter paces browser page loops; HTTP requests are paced by the session client.
	Limiter *ratelimit.Limiter

	// Delivered is set by Runner.Extract after a successful delivery.
	Delivered []domain.DeliveredFile
}

// NewJob builds a job staging into the session's directory.
func NewJob(root *domain.RootSource, src *domain.Source, sess *session.Session, now time.Time, locale monday.Locale) *Job {
	job := &Job{Root: root, Source: src, Session: sess, Now: now, Locale: locale}
	if sess != nil {
		job.Staging = sess.Staging
	}
	return job
}

func (j *Job) cfg() domain.ExtractConfig {
	return j.Root.Extract
}

// Filename is the delivered name for page (0 for a single document).
func (j *Job) Filename(page int, ext string) string {
	return delivery.Filename(j.Source.Name, j.Now, page, ext)
}

// Expand fills date tokens, {edition} and {format_date} in template.
func (j *Job) Expand(template string) string {
	out := strings.ReplaceAll(template, "{edition}", j.Source.Edition)
	if strings.Contains(out, "{format_date}") {
		out = strings.ReplaceAll(out, "{format_date}", j.FormatDate())
	}
	return datefmt.Expand(out, j.Now, j.Locale)
}

// FormatDate renders the configured date_format in the job locale.
func (j *Job) FormatDate() string {
	layout := j.cfg().DateFormat
	if layout == "" {
		return ""
	}
	s := datefmt.Format(j.Now, layout, j.Locale)
	if j.cfg().CapitalizeDate {
		s = datefmt.Capitalize(s)
	}
	return s
}

// EditionLocator is the source override or the root's edition_locator with
// every template token filled in.
func (j *Job) EditionLocator() domain.Locator {
	loc := j.cfg().EditionLocator
	if override := strings.TrimSpace(j.Source.Locator); override != "" {
		loc = markup.Selector(override, loc.Attr)
	}
	return j.ExpandLocator(loc)
}

// ExpandLocator runs both selectors of loc through Expand.
func (j *Job) ExpandLocator(loc domain.Locator) domain.Locator {
	return loc.Map(j.Expand)
}

// StagingPath is where an artifact called name is written.
func (j *Job) StagingPath(name string) string {
	return filepath.Join(j.Staging, name)
}

// WorkDir creates a scratch directory inside staging.
func (j *Job) WorkDir(name string) (string, error) {
	dir := filepath.Join(j.Staging, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	return dir, nil
}

func (j *Job) maxPages(def int) int {
	if n := j.cfg().MaxPages; n > 0 {
		return n
	}
	return def
}

func (j *Job) artifact(name string) Artifact {
	return Artifact{Path: j.StagingPath(name), Name: name}
}

func (j *Job) writeArtifact(name string, body []byte) (Artifact, error) {
	a := j.artifact(name)
	if err := os.WriteFile(a.Path, body, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("write %s: %w", name, err)
	}
	return a, nil
}

// request GETs url, or POSTs it when post is set.
func (j *Job) request(ctx context.Context, url string, post bool) (fetcher.Page, error) {
	if post {
		return j.Session.HTTP.Post(ctx, url)
	}
	return j.Session.HTTP.Get(ctx, url, nil)
}

// download fetches url into dst, treating any non-2xx status as an error.
func (j *Job) download(ctx context.Context, url, dst string) error {
	status, err := j.Session.HTTP.Download(ctx, url, dst)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &StatusError{URL: url, Code: status}
	}
	return nil
}

// html fetches url with the page fetcher, or through the browser when render is set.
func (j *Job) html(ctx context.Context, url string, render bool) ([]byte, error) {
	if !render {
		page, err := j.Session.Pages.Get(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		if !page.OK() {
			return nil, &StatusError{URL: url, Code: page.StatusCode}
		}
		return page.Body, nil
	}
	b, err := j.Session.Browser(ctx)
	if err != nil {
		return nil, err
	}
	status, err := b.Navigate(ctx, url)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, &StatusError{URL: url, Code: status}
	}
	if ready := j.cfg().ReadyLocator; ready != "" {
		if err := b.WaitVisible(ctx, ready, 0); err != nil {
			return nil, fmt.Errorf("wait for %s: %w", url, err)
		}
	}
	doc, err := b.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

// documentURL builds the document URL from a located link, applying
// code_pattern and the pdf_url template when configured.
func (j *Job) documentURL(base, link string) (string, error) {
	cfg := j.cfg()
	code := link
	if cfg.CodePattern != "" {
		re, err := regexp.Compile(cfg.CodePattern)
		if err != nil {
			return "", fmt.Errorf("code_pattern: %w", err)
		}
		m := re.FindStringSubmatch(link)
		if m == nil {
			return "", fmt.Errorf("code_pattern %q does not match %q", cfg.CodePattern, link)
		}
		code = m[0]
		if len(m) > 1 {
			code = m[1]
		}
	}
	if cfg.PDFURL == "" {
		return markup.Resolve(base, link)
	}
	tmpl := strings.NewReplacer("{link}", link, "{code}", code).Replace(cfg.PDFURL)
	return markup.Resolve(base, j.Expand(tmpl))
}

// StatusError is a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

func pageToken(p, width int) string {
	if width <= 0 {
		width = 2
	}
	return fmt.Sprintf("%0*d", width, p)
}

var numberPattern = regexp.MustCompile(`\d+`)

// lastNumber returns the last integer in text ("1 / 48" → 48).
func lastNumber(text string) (int, error) {
	all := numberPattern.FindAllString(text, -1)
	if len(all) == 0 {
		return 0, fmt.Errorf("no number in %q", text)
	}
	return strconv.Atoi(all[len(all)-1])
}
