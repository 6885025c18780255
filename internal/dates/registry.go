package dates

import (
	"regexp"
	"time"

	"cloud.google.com/go/civil"
)

// Layout is a token-level date layout. Name is the human form used in logs and
// tests, Go is the equivalent time.Parse layout. Day and month use the
// non-padded verbs so that both "1/6/2025" and "01/06/2025" parse.
type Layout struct {
	Name string
	Go   string
}

// Layouts are tried in this order; the first one that parses wins for
// pattern-located matches.
var defaultLayouts = []Layout{
	{Name: "dd/MM/yyyy", Go: "2/1/2006"},
	{Name: "MM/dd/yyyy", Go: "1/2/2006"},
	{Name: "yyyy-MM-dd", Go: "2006-1-2"},
	{Name: "dd-MM-yyyy", Go: "2-1-2006"},
	{Name: "MM-dd-yyyy", Go: "1-2-2006"},
	{Name: "dd.MM.yyyy", Go: "2.1.2006"},
	{Name: "MM.dd.yyyy", Go: "1.2.2006"},
	{Name: "yyyy.MM.dd", Go: "2006.1.2"},
	{Name: "yyyy/MM/dd", Go: "2006/1/2"},
	{Name: "dd/MM/yy", Go: "2/1/06"},
	{Name: "MM/dd/yy", Go: "1/2/06"},
	{Name: "dd-MM-yy", Go: "2-1-06"},
	{Name: "MM-dd-yy", Go: "1-2-06"},
	{Name: "dd.MM.yy", Go: "2.1.06"},
	{Name: "MM.dd.yy", Go: "1.2.06"},
}

var (
	reDayMonthYear  = regexp.MustCompile(`\d{1,2}[/\-.]\d{1,2}[/\-.]\d{4}`)
	reYearMonthDay  = regexp.MustCompile(`\d{4}[/\-.]\d{1,2}[/\-.]\d{1,2}`)
	reDayMonthShort = regexp.MustCompile(`\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2}`)
	reISO           = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// Registry holds the layouts and locator patterns used by the Extractor.
// It is read-only after construction and safe to share.
type Registry struct {
	Layouts  []Layout
	Locators []*regexp.Regexp
	ISO      *regexp.Regexp
}

// DefaultRegistry returns the numeric layouts for day-first, month-first and
// year-first dates separated by '/', '-' or '.', with 4- and 2-digit years.
func DefaultRegistry() *Registry {
	layouts := make([]Layout, len(defaultLayouts))
	copy(layouts, defaultLayouts)
	return &Registry{
		Layouts:  layouts,
		Locators: []*regexp.Regexp{reDayMonthYear, reYearMonthDay, reDayMonthShort},
		ISO:      reISO,
	}
}

// Parse returns the date produced by the first layout that accepts s.
func (r *Registry) Parse(s string) (civil.Date, bool) {
	for _, l := range r.Layouts {
		if t, err := time.Parse(l.Go, s); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

// ParseAll returns the date produced by every layout that accepts s, in layout
// order. Ambiguous tokens such as "05/06/2025" yield both readings.
func (r *Registry) ParseAll(s string) []civil.Date {
	var out []civil.Date
	for _, l := range r.Layouts {
		if t, err := time.Parse(l.Go, s); err == nil {
			out = append(out, civil.DateOf(t))
		}
	}
	return out
}

// Format renders d using the layout named name. It is the inverse of Parse for
// that single layout and is mostly useful in tests and fixtures.
func (r *Registry) Format(d civil.Date, name string) (string, bool) {
	for _, l := range r.Layouts {
		if l.Name == name {
			return d.In(time.UTC).Format(l.Go), true
		}
	}
	return "", false
}
