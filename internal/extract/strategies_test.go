package extract_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
	"github.com/JakeFAU/edition-fetcher/internal/extract"
	"github.com/JakeFAU/edition-fetcher/internal/session/sessiontest"
)

type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) add(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, p)
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func TestMultipageRequestStopsAtFirstMissingPage(t *testing.T) {
	t.Parallel()

	doc := pdfBytes(t, 1)
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		switch r.URL.Path {
		case "/lv/20240309/01.pdf", "/lv/20240309/02.pdf", "/lv/20240309/03.pdf", "/lv/20240309/05.pdf":
			_, _ = w.Write(doc)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, domain.ExtractConfig{Type: extract.TypeMultipageRequest, URL: srv.URL + "/lv/{YYYYMMDD}/{P}.pdf"}, nil)
	status, job := h.run(t)

	require.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, []string{"/lv/20240309/01.pdf", "/lv/20240309/02.pdf", "/lv/20240309/03.pdf", "/lv/20240309/04.pdf"}, log.all())
	require.Len(t, job.Delivered, 3)
	assert.Equal(t, remoteDir+"/La Gaceta_09032024_001.pdf", job.Delivered[0].RemotePath)
	assert.Equal(t, remoteDir+"/La Gaceta_09032024_003.pdf", job.Delivered[2].RemotePath)
}

func TestMultipageRequestWithoutFirstPageIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	h := newHarness(t, domain.ExtractConfig{Type: extract.TypeMultipageRequest, URL: srv.URL + "/{P}.pdf", PageTokenWidth: 3}, nil)
	status, _ := h.run(t)
	assert.Equal(t, domain.StatusUnavailable, status)
	assert.Empty(t, h.transport.Uploads())
}

func TestPageImagesStopAtFirstFailure(t *testing.T) {
	t.Parallel()

	img := jpegBytes(t)
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		switch r.URL.Path {
		case "/img/09/1.jpg", "/img/09/2.jpg", "/img/09/4.jpg":
			_, _ = w.Write(img)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, domain.ExtractConfig{Type: extract.TypePageImages, PageURL: srv.URL + "/img/{DD}/{page}.jpg"}, nil)
	status, job := h.run(t)

	require.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, []string{"/img/09/1.jpg", "/img/09/2.jpg", "/img/09/3.jpg"}, log.all())
	require.Len(t, job.Delivered, 1)
	assert.Equal(t, 2, uploadedPages(t, h, job.Delivered[0].RemotePath))
}

func TestPageImagesZeroPagesIsUnavailable(t *testing.T) {
	t.Parallel()

	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, domain.ExtractConfig{Type: extract.TypePageImages, PageURL: srv.URL + "/img/{page}.jpg"}, nil)
	status, job := h.run(t)

	assert.Equal(t, domain.StatusUnavailable, status)
	assert.Equal(t, []string{"/img/1.jpg"}, log.all())
	assert.Empty(t, job.Delivered)
	assert.Empty(t, h.transport.Uploads())
}

func TestPageImagesFromFirstPageLocator(t *testing.T) {
	t.Parallel()

	img := jpegBytes(t)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc/20240309":
			fmt.Fprintf(w, `<html><head><meta property="og:image:secure_url" content="%s/cdn/x/page_1.jpg"></head></html>`, srv.URL)
		case "/cdn/x/page_1.jpg", "/cdn/x/page_2.jpg", "/cdn/x/page_3.jpg":
			_, _ = w.Write(img)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, domain.ExtractConfig{
		Type:             extract.TypePageImages,
		EditionURL:       srv.URL + "/doc/{YYYYMMDD}",
		FirstPageLocator: domain.Locator{CSS: "meta[property='og:image:secure_url']", Attr: "content"},
		PageToken:        "page_1",
		PageReplacement:  "page_{page}",
	}, nil)
	status, job := h.run(t)

	require.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, 3, uploadedPages(t, h, job.Delivered[0].RemotePath))
}

func archiveServer(t *testing.T, doc []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/archive/2024/03":
			_, _ = w.Write([]byte(`<ul class="editions">
<li><a href="/pdf/X-ed0-8.pdf">8 de marzo de 2024</a></li>
<li><a href="/pdf/X-ed1-9.pdf">9 de marzo de 2024</a></li>
</ul>`))
		case "/archive/old":
			_, _ = w.Write([]byte(`<ul class="editions"><li><a href="/a.pdf">1 de enero de 2024</a></li></ul>`))
		case "/docs/ed1/09032024.pdf":
			_, _ = w.Write(doc)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestArchiveLink(t *testing.T) {
	t.Parallel()

	srv := archiveServer(t, pdfBytes(t, 1))
	base := domain.ExtractConfig{
		Type:           extract.TypeArchiveLink,
		DateFormat:     "2 de January de 2006",
		EditionLocator: domain.Locator{XPath: "//a[text()='{format_date}']", Attr: "href"},
		CodePattern:    `X-(\w+)-`,
		PDFURL:         "/docs/{code}/{DDMMYYYY}.pdf",
	}

	t.Run("located and delivered", func(t *testing.T) {
		t.Parallel()
		cfg := base
		cfg.ArchiveURLs = []string{srv.URL + "/missing", srv.URL + "/archive/{YYYY}/{MM}"}
		status, job := newHarness(t, cfg, nil).run(t)
		require.Equal(t, domain.StatusSuccess, status)
		assert.Equal(t, remoteDir+"/La Gaceta_09032024.pdf", job.Delivered[0].RemotePath)
	})

	t.Run("no link for today", func(t *testing.T) {
		t.Parallel()
		cfg := base
		cfg.ArchiveURLs = []string{srv.URL + "/archive/old"}
		status, _ := newHarness(t, cfg, nil).run(t)
		assert.Equal(t, domain.StatusUnavailable, status)
	})

	t.Run("no archive reachable", func(t *testing.T) {
		t.Parallel()
		cfg := base
		cfg.ArchiveURLs = []string{srv.URL + "/down"}
		status, _ := newHarness(t, cfg, nil).run(t)
		assert.Equal(t, domain.StatusFailed, status)
	})
}

func TestArchiveLinkSourceLocatorOverride(t *testing.T) {
	t.Parallel()

	doc := pdfBytes(t, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/archive":
			_, _ = w.Write([]byte(`<a class="ed1" href="/ed1.pdf">hoy</a><a class="ed2" href="/ed2.pdf">hoy</a>`))
		case "/ed1.pdf":
			_, _ = w.Write(doc)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, domain.ExtractConfig{
		Type:           extract.TypeArchiveLink,
		ArchiveURLs:    []string{srv.URL + "/archive"},
		EditionLocator: domain.Locator{CSS: "a.ed2", Attr: "href"},
	}, nil)
	h.source.Locator = "//a[@class='{edition}']"

	status, _ := h.run(t)
	require.Equal(t, domain.StatusSuccess, status)
}

func TestLocatorsExpandDateTokens(t *testing.T) {
	t.Parallel()

	doc := pdfBytes(t, 1)
	img := jpegBytes(t)
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/archive":
			_, _ = w.Write([]byte(`<a data-day="08" href="/20240308.pdf">ayer</a><a data-day="09" href="/20240309.pdf">hoy</a>`))
		case "/doc":
			fmt.Fprintf(w, `<img id="p-20240308" src="%[1]s/old/page_1.jpg"><img id="p-20240309" src="%[1]s/cdn/page_1.jpg">`, srv.URL)
		case "/20240309.pdf":
			_, _ = w.Write(doc)
		case "/cdn/page_1.jpg", "/cdn/page_2.jpg":
			_, _ = w.Write(img)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	t.Run("edition locator", func(t *testing.T) {
		t.Parallel()
		status, job := newHarness(t, domain.ExtractConfig{
			Type:           extract.TypeArchiveLink,
			ArchiveURLs:    []string{srv.URL + "/archive"},
			EditionLocator: domain.Locator{XPath: "//a[@data-day='{DD}']", Attr: "href"},
		}, nil).run(t)
		require.Equal(t, domain.StatusSuccess, status)
		assert.Len(t, job.Delivered, 1)
	})

	t.Run("first page locator", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, domain.ExtractConfig{
			Type:             extract.TypePageImages,
			EditionURL:       srv.URL + "/doc",
			FirstPageLocator: domain.Locator{CSS: "img#p-{YYYYMMDD}", Attr: "src"},
			PageToken:        "page_1",
			PageReplacement:  "page_{page}",
		}, nil)
		status, job := h.run(t)
		require.Equal(t, domain.StatusSuccess, status)
		assert.Equal(t, 2, uploadedPages(t, h, job.Delivered[0].RemotePath))
	})
}

const editionLink = "//a[contains(text(),'09/03/2024')]"

func downloadConfig() domain.ExtractConfig {
	return domain.ExtractConfig{
		Type:               extract.TypeBrowserDownload,
		URL:                "https://kiosk.test/{YYYY-MM-DD}",
		DateFormat:         "02/01/2006",
		EditionLocator:     domain.Locator{XPath: "//a[contains(text(),'{format_date}')]"},
		ClickSequence:      []string{"#pdf"},
		UnavailableLocator: ".sin-edicion",
	}
}

func TestBrowserDownload(t *testing.T) {
	t.Parallel()

	doc := pdfBytes(t, 3)
	b := sessiontest.NewBrowser(map[string]*sessiontest.Page{
		"https://kiosk.test/2024-03-09": {Elements: map[string]int{editionLink: 1, "#pdf": 1}},
	})
	b.OnClick = func(sel string) error {
		if sel != "#pdf" {
			return nil
		}
		return os.WriteFile(filepath.Join(b.DownloadDir, "edicion-20240309.pdf"), doc, 0o600)
	}

	h := newHarness(t, downloadConfig(), b)
	status, job := h.run(t)

	require.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, 3, uploadedPages(t, h, job.Delivered[0].RemotePath))
	assert.Equal(t, []string{
		"navigate https://kiosk.test/2024-03-09",
		"click " + editionLink,
		"wait #pdf",
		"click #pdf",
	}, b.Recorded())
}

func TestBrowserDownloadClassification(t *testing.T) {
	t.Parallel()

	t.Run("unavailable marker", func(t *testing.T) {
		t.Parallel()
		b := sessiontest.NewBrowser(map[string]*sessiontest.Page{
			"https://kiosk.test/2024-03-09": {Elements: map[string]int{editionLink: 1, ".sin-edicion": 1}},
		})
		status, _ := newHarness(t, downloadConfig(), b).run(t)
		assert.Equal(t, domain.StatusUnavailable, status)
	})

	t.Run("edition link absent", func(t *testing.T) {
		t.Parallel()
		b := sessiontest.NewBrowser(map[string]*sessiontest.Page{
			"https://kiosk.test/2024-03-09": {Elements: map[string]int{"#pdf": 1}},
		})
		status, _ := newHarness(t, downloadConfig(), b).run(t)
		assert.Equal(t, domain.StatusUnavailable, status)
	})

	t.Run("download never completes", func(t *testing.T) {
		t.Parallel()
		b := sessiontest.NewBrowser(map[string]*sessiontest.Page{
			"https://kiosk.test/2024-03-09": {Elements: map[string]int{editionLink: 1, "#pdf": 1}},
		})
		status, _ := newHarness(t, downloadConfig(), b).run(t)
		assert.Equal(t, domain.StatusFailed, status)
	})
}

func paginatedConfig() domain.ExtractConfig {
	return domain.ExtractConfig{
		Type:              extract.TypeBrowserPaginated,
		URL:               "https://reader.test/{YYYY-MM-DD}/{edition}",
		PageURL:           "https://reader.test/{YYYY-MM-DD}/{edition}/p/{page}",
		TotalPagesLocator: "#total",
	}
}

func TestBrowserPaginated(t *testing.T) {
	t.Parallel()

	b := sessiontest.NewBrowser(map[string]*sessiontest.Page{
		"https://reader.test/2024-03-09/ed1":     {Title: "Edición", Elements: map[string]int{"#total": 1}, Texts: map[string]string{"#total": "1 / 2"}},
		"https://reader.test/2024-03-09/ed1/p/1": {},
		"https://reader.test/2024-03-09/ed1/p/2": {},
	})
	h := newHarness(t, paginatedConfig(), b)
	status, job := h.run(t)

	require.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, 2, uploadedPages(t, h, job.Delivered[0].RemotePath))
}

func TestBrowserPaginatedNotFoundIsUnavailable(t *testing.T) {
	t.Parallel()

	b := sessiontest.NewBrowser(map[string]*sessiontest.Page{})
	status, _ := newHarness(t, paginatedConfig(), b).run(t)
	assert.Equal(t, domain.StatusUnavailable, status)
}

func TestBrowserPaginatedStopsAtFirstFailedPage(t *testing.T) {
	t.Parallel()

	b := sessiontest.NewBrowser(map[string]*sessiontest.Page{
		"https://reader.test/2024-03-09/ed1":     {Elements: map[string]int{"#total": 1}, Texts: map[string]string{"#total": "3"}},
		"https://reader.test/2024-03-09/ed1/p/1": {},
		"https://reader.test/2024-03-09/ed1/p/3": {},
	})
	h := newHarness(t, paginatedConfig(), b)
	status, _ := h.run(t)

	assert.Equal(t, domain.StatusFailed, status)
	assert.NotContains(t, b.Recorded(), "navigate https://reader.test/2024-03-09/ed1/p/3")
	assert.Empty(t, h.transport.Uploads())
}

func layeredServer(t *testing.T) *httptest.Server {
	t.Helper()
	bg, fg := jpegBytes(t), pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/bg.jpg"):
			_, _ = w.Write(bg)
		case strings.HasSuffix(r.URL.Path, "/fg.png"):
			_, _ = w.Write(fg)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func layers(srv *httptest.Server, page int, count int) string {
	var b strings.Builder
	names := []string{"bg.jpg", "fg.png"}
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, `<img data-page="%d" src="%s/l/%d/%s">`, page, srv.URL, page, names[i])
	}
	return b.String()
}

func layeredConfig() domain.ExtractConfig {
	return domain.ExtractConfig{
		Type:             extract.TypeLayeredPages,
		URL:              "https://kiosko.test/{YYYYMMDD}",
		EditionLocator:   domain.Locator{XPath: "//span[contains(text(),'{format_date}')]"},
		DateFormat:       "Monday, 2",
		CapitalizeDate:   true,
		PageCountLocator: "//p[contains(@id,'thumb')]",
		LayerLocator:     "//img[@data-page='{page}']",
	}
}

func TestLayeredPages(t *testing.T) {
	t.Parallel()

	srv := layeredServer(t)
	edition := "//span[contains(text(),'Sábado, 9')]"
	b := sessiontest.NewBrowser(map[string]*sessiontest.Page{
		"https://kiosko.test/20240309":        {Elements: map[string]int{edition: 1, "//p[contains(@id,'thumb')]": 2}},
		"https://kiosko.test/20240309/page/1": {HTML: layers(srv, 1, 2)},
		"https://kiosko.test/20240309/page/2": {HTML: layers(srv, 2, 2)},
	})
	h := newHarness(t, layeredConfig(), b)
	status, job := h.run(t)

	require.Equal(t, domain.StatusSuccess, status)
	assert.Equal(t, 2, uploadedPages(t, h, job.Delivered[0].RemotePath))
}

func TestLayeredPagesRejectsIncompleteSet(t *testing.T) {
	t.Parallel()

	srv := layeredServer(t)
	edition := "//span[contains(text(),'Sábado, 9')]"
	b := sessiontest.NewBrowser(map[string]*sessiontest.Page{
		"https://kiosko.test/20240309":        {Elements: map[string]int{edition: 1, "//p[contains(@id,'thumb')]": 3}},
		"https://kiosko.test/20240309/page/1": {HTML: layers(srv, 1, 2)},
		"https://kiosko.test/20240309/page/2": {HTML: layers(srv, 2, 1)},
		"https://kiosko.test/20240309/page/3": {HTML: layers(srv, 3, 2)},
	})
	h := newHarness(t, layeredConfig(), b)
	status, _ := h.run(t)

	assert.Equal(t, domain.StatusFailed, status)
	assert.NotContains(t, b.Recorded(), "navigate https://kiosko.test/20240309/page/3")
	assert.Empty(t, h.transport.Uploads())
}
