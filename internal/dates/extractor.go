package dates

import (
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"
)

// Config holds the tunables of the Extractor.
type Config struct {
	// MinTokenLength is the shortest whitespace token tried as a whole-word
	// date. "1/1/25" is 6 characters.
	MinTokenLength int
	// MinYear and MaxYear bound accepted years; OCR digit misreads outside
	// this window are dropped.
	MinYear int
	MaxYear int
}

// DefaultConfig returns the thresholds used in production.
func DefaultConfig() Config {
	return Config{
		MinTokenLength: 6,
		MinYear:        1900,
		MaxYear:        2030,
	}
}

// Extractor recovers candidate calendar dates from noisy OCR text.
type Extractor struct {
	registry *Registry
	cfg      Config
}

// NewExtractor creates an Extractor. A nil registry means DefaultRegistry and
// zero config fields fall back to DefaultConfig values.
func NewExtractor(registry *Registry, cfg Config) *Extractor {
	if registry == nil {
		registry = DefaultRegistry()
	}
	def := DefaultConfig()
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = def.MinTokenLength
	}
	if cfg.MinYear == 0 {
		cfg.MinYear = def.MinYear
	}
	if cfg.MaxYear == 0 {
		cfg.MaxYear = def.MaxYear
	}
	return &Extractor{registry: registry, cfg: cfg}
}

// Extract runs the pattern-located, whole-word and ISO strategies over text and
// returns the union of their results with duplicate calendar days removed.
// Order is first-seen: pattern matches, then tokens, then ISO literals.
// Unparseable fragments are skipped; the result is never nil.
func (e *Extractor) Extract(text string) []civil.Date {
	text = Normalize(text)

	var found []civil.Date
	found = append(found, e.byPattern(text)...)
	found = append(found, e.byWord(text)...)
	found = append(found, e.byISO(text)...)

	out := dedupe(found)
	slog.Debug("extracted dates", "candidates", len(found), "unique", len(out))
	return out
}

func (e *Extractor) byPattern(text string) []civil.Date {
	var out []civil.Date
	for _, re := range e.registry.Locators {
		for _, m := range locate(re, text) {
			d, ok := e.registry.Parse(m)
			if ok && e.inRange(d) {
				out = append(out, d)
			}
		}
	}
	return out
}

func (e *Extractor) byWord(text string) []civil.Date {
	var out []civil.Date
	for _, tok := range strings.Fields(text) {
		if utf8.RuneCountInString(tok) < e.cfg.MinTokenLength {
			continue
		}
		for _, d := range e.registry.ParseAll(tok) {
			if e.inRange(d) {
				out = append(out, d)
			}
		}
	}
	return out
}

func (e *Extractor) byISO(text string) []civil.Date {
	var out []civil.Date
	for _, m := range e.registry.ISO.FindAllString(text, -1) {
		t, err := time.Parse("2006-01-02", m)
		if err != nil {
			continue
		}
		if d := civil.DateOf(t); e.inRange(d) {
			out = append(out, d)
		}
	}
	return out
}

func (e *Extractor) inRange(d civil.Date) bool {
	return d.Year >= e.cfg.MinYear && d.Year <= e.cfg.MaxYear
}

// locate returns the non-overlapping matches of re in text that are not glued
// to a neighbouring digit. A rejected match only advances the scan by one
// byte so a valid match starting inside it is still found.
func locate(re *regexp.Regexp, text string) []string {
	var out []string
	pos := 0
	for pos < len(text) {
		loc := re.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if isDigitAt(text, start-1) || isDigitAt(text, end) {
			pos = start + 1
			continue
		}
		out = append(out, text[start:end])
		pos = end
	}
	return out
}

func isDigitAt(s string, i int) bool {
	return i >= 0 && i < len(s) && s[i] >= '0' && s[i] <= '9'
}

func dedupe(in []civil.Date) []civil.Date {
	seen := make(map[civil.Date]struct{}, len(in))
	out := make([]civil.Date, 0, len(in))
	for _, d := range in {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
