// Package datefmt renders dates into URL templates and locator expressions.
// The locale is always an explicit argument.
package datefmt

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goodsign/monday"
)

// DefaultLocale is used when a root source does not name one.
const DefaultLocale = monday.LocaleEsES

// ParseLocale validates a locale name such as "es_ES" or "ca_ES".
func ParseLocale(name string) (monday.Locale, error) {
	if strings.TrimSpace(name) == "" {
		return DefaultLocale, nil
	}
	for _, l := range monday.ListLocales() {
		if string(l) == name {
			return l, nil
		}
	}
	return "", fmt.Errorf("unsupported locale %q", name)
}

// Format renders t with a Go reference layout, translating month and day
// names into locale.
func Format(t time.Time, layout string, locale monday.Locale) string {
	return monday.Format(t, layout, locale)
}

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// tokens are replaced longest first so {YYYYMMDD} wins over {YYYY}.
var tokens = []struct {
	name   string
	layout string
}{
	{"{YYYYMMDD}", "20060102"},
	{"{DDMMYYYY}", "02012006"},
	{"{YYYY-MM-DD}", "2006-01-02"},
	{"{DD-MM-YYYY}", "02-01-2006"},
	{"{DD_MM_YYYY}", "02_01_2006"},
	{"{DD/MM/YYYY}", "02/01/2006"},
	{"{YYYY}", "2006"},
	{"{YY}", "06"},
	{"{MM}", "01"},
	{"{DD}", "02"},
	{"{M}", "1"},
	{"{D}", "2"},
}

// Expand replaces date tokens in template with t rendered in locale.
// Besides the numeric tokens it understands {MONTHNAME} (localized month
// name) and {MNAME} (the same, upper-cased).
func Expand(template string, t time.Time, locale monday.Locale) string {
	if !strings.Contains(template, "{") {
		return template
	}
	out := template
	if strings.Contains(out, "{MNAME}") || strings.Contains(out, "{MONTHNAME}") {
		month := monday.Format(t, "January", locale)
		out = strings.ReplaceAll(out, "{MNAME}", strings.ToUpper(month))
		out = strings.ReplaceAll(out, "{MONTHNAME}", month)
	}
	for _, tok := range tokens {
		if strings.Contains(out, tok.name) {
			out = strings.ReplaceAll(out, tok.name, t.Format(tok.layout))
		}
	}
	return out
}

// Compact returns YYYYMMDD.
func Compact(t time.Time) string {
	return t.Format("20060102")
}

// DayFirst returns DDMMYYYY.
func DayFirst(t time.Time) string {
	return t.Format("02012006")
}
