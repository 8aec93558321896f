// Package domain defines the core types shared across subsystems.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the delivery state persisted for a ledger entry.
type Status string

// Status values persisted in the ledger.
const (
	StatusUnprocessed Status = "unprocessed"
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
	StatusUnavailable Status = "unavailable"
)

// Statuses lists every status in reporting order.
var Statuses = []Status{StatusUnprocessed, StatusSuccess, StatusFailed, StatusUnavailable}

// Valid reports whether s is part of the outcome vocabulary.
func (s Status) Valid() bool {
	switch s {
	case StatusUnprocessed, StatusSuccess, StatusFailed, StatusUnavailable:
		return true
	}
	return false
}

// Pending reports whether an entry with this status still needs delivery.
func (s Status) Pending() bool {
	return s == StatusUnprocessed || s == StatusFailed || s == StatusUnavailable
}

// Recurrence is the publication cadence of a source.
type Recurrence string

// Recurrence classes.
const (
	Daily   Recurrence = "daily"
	Weekly  Recurrence = "weekly"
	Monthly Recurrence = "monthly"
)

// RecurrenceAll is the filter value that matches every recurrence class.
const RecurrenceAll Recurrence = "all"

// ParseRecurrenceFilter validates a CLI/API recurrence filter.
func ParseRecurrenceFilter(raw string) (Recurrence, error) {
	r := Recurrence(strings.ToLower(strings.TrimSpace(raw)))
	if r == "" {
		return RecurrenceAll, nil
	}
	switch r {
	case RecurrenceAll, Daily, Weekly, Monthly:
		return r, nil
	}
	return "", fmt.Errorf("unknown recurrence %q (want all|daily|weekly|monthly)", raw)
}

// Matches reports whether the filter selects recurrence r.
func (f Recurrence) Matches(r Recurrence) bool {
	return f == RecurrenceAll || f == r
}

// Entry is one ledger row per (source name, date).
type Entry struct {
	SourceName   string     `json:"source_name"`
	Date         time.Time  `json:"date"`
	Relevant     bool       `json:"is_relevant"`
	Status       Status     `json:"status"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
}

// DateKey formats the entry date as YYYY-MM-DD.
func (e Entry) DateKey() string {
	return DateKey(e.Date)
}

// DateKey formats t as a civil date key.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}

// CivilDate truncates t to midnight in its own location.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Source is one deliverable publication.
type Source struct {
	Name            string
	Dirname         string
	Weekdays        []int
	Edition         string
	Recurrence      Recurrence
	PeriodDay       int
	StartAt         int
	Channel         string
	Locator         string
	WeekdayRelevant bool

	// Entry is attached by the scheduler when the source is due this run.
	Entry *Entry
}

// Due reports whether the scheduler attached a ledger entry to the source.
func (s *Source) Due() bool {
	return s != nil && s.Entry != nil
}

// NewSource builds a Source and derives its dirname and weekday relevance for now.
func NewSource(name string, weekdays []int, recurrence Recurrence, now time.Time) *Source {
	return &Source{
		Name:            name,
		Dirname:         DirName(name),
		Weekdays:        append([]int(nil), weekdays...),
		Recurrence:      recurrence,
		WeekdayRelevant: IsWeekdayRelevant(weekdays, now),
	}
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// IsWeekdayRelevant reports whether now's ISO weekday is in weekdays.
func IsWeekdayRelevant(weekdays []int, now time.Time) bool {
	today := ISOWeekday(now)
	for _, wd := range weekdays {
		if wd == today {
			return true
		}
	}
	return false
}

// MaterializesOn reports whether a ledger entry for the source is created on day.
func (s *Source) MaterializesOn(day time.Time) bool {
	periodDay := s.PeriodDay
	if periodDay <= 0 {
		periodDay = 1
	}
	switch s.Recurrence {
	case Daily:
		return true
	case Weekly:
		return ISOWeekday(day) == periodDay
	case Monthly:
		return day.Day() == periodDay
	}
	return false
}

// RootSource groups sources published by the same publisher.
type RootSource struct {
	ID      string
	Name    string
	Dirname string
	Active  bool
	Auth    AuthConfig
	Extract ExtractConfig
	Sources []*Source
}

// SourceByName returns the child source with exactly the given name.
func (r *RootSource) SourceByName(name string) *Source {
	for _, s := range r.Sources {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// DueSources returns the sources the scheduler attached an entry to.
func (r *RootSource) DueSources() []*Source {
	var due []*Source
	for _, s := range r.Sources {
		if s.Due() {
			due = append(due, s)
		}
	}
	return due
}

// RelevantSources returns the sources whose weekday set includes today.
func (r *RootSource) RelevantSources() []*Source {
	var out []*Source
	for _, s := range r.Sources {
		if s.WeekdayRelevant {
			out = append(out, s)
		}
	}
	return out
}

// Auth types.
const (
	AuthNone          = "nologin"
	AuthBasic         = "basic"
	AuthSessionHeader = "session_header"
	AuthInteractive   = "interactive"
)

// AuthConfig describes how a root source establishes a session.
type AuthConfig struct {
	Type     string            `yaml:"type"`
	LoginURL string            `yaml:"login_url"`
	Payload  map[string]string `yaml:"payload"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`

	LandingFrameXPath string   `yaml:"landing_iframe"`
	ConsentXPaths     []string `yaml:"consent"`
	PageLoadedXPath   string   `yaml:"page_loaded"`
	LoginButtonXPaths []string `yaml:"login_buttons"`
	FormFrameXPath    string   `yaml:"form_iframe"`
	UserXPath         string   `yaml:"user_box"`
	FirstSubmitXPath  string   `yaml:"first_submit"`
	PasswordXPath     string   `yaml:"password_box"`
	SubmitXPath       string   `yaml:"submit"`
	SubmitWithEnter   bool     `yaml:"submit_with_enter"`
	ValidationXPath   string   `yaml:"validation"`
}

// Missing-edition policies.
const (
	MissingUnavailable = "unavailable"
	MissingFailed      = "failed"
)

// ExtractConfig describes how a root source's editions are located and fetched.
type ExtractConfig struct {
	Type string `yaml:"type"`

	URL         string   `yaml:"url"`
	Post        bool     `yaml:"post"`
	ArchiveURLs []string `yaml:"archive_urls"`
	Render      bool     `yaml:"render"`
	EditionURL  string   `yaml:"edition_url"`
	PDFURL      string   `yaml:"pdf_url"`
	PageURL     string   `yaml:"page_url"`

	DateFormat     string `yaml:"date_format"`
	Locale         string `yaml:"locale"`
	CapitalizeDate bool   `yaml:"capitalize_date"`

	EditionLocator     Locator  `yaml:"edition_locator"`
	CodePattern        string   `yaml:"code_pattern"`
	FirstPageLocator   Locator  `yaml:"first_page_locator"`
	PageToken          string   `yaml:"page_token"`
	PageReplacement    string   `yaml:"page_replacement"`
	PageTokenWidth     int      `yaml:"page_token_width"`
	UnavailableLocator string   `yaml:"unavailable_locator"`
	ClickSequence      []string `yaml:"click_sequence"`
	TotalPagesLocator  string   `yaml:"total_pages_locator"`
	PDFLinkLocator     string   `yaml:"pdf_link_locator"`
	PageCountLocator   string   `yaml:"page_count_locator"`
	LayerLocator       string   `yaml:"layer_locator"`
	ReadyLocator       string   `yaml:"ready_locator"`

	MaxPages        int    `yaml:"max_pages"`
	// DownloadTimeout is in seconds.
	DownloadTimeout int    `yaml:"download_timeout"`
	MissingEdition  string `yaml:"missing_edition"`
}

// Locator selects a node in an HTML document by XPath or CSS selector.
type Locator struct {
	XPath string `yaml:"xpath"`
	CSS   string `yaml:"css"`
	Attr  string `yaml:"attr"`
}

// Empty reports whether no selector is configured.
func (l Locator) Empty() bool {
	return strings.TrimSpace(l.XPath) == "" && strings.TrimSpace(l.CSS) == ""
}

// Map returns a copy with fn applied to both selectors.
func (l Locator) Map(fn func(string) string) Locator {
	l.XPath = fn(l.XPath)
	l.CSS = fn(l.CSS)
	return l
}
