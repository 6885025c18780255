package scanning

import (
	"context"
	"strings"
)

// Options constrains a single recognition attempt
type Options struct {
	// CharWhitelist lists every character the engine may emit. Empty means no restriction.
	CharWhitelist string
	// LanguageHints are ISO 639-2 codes, in order of preference
	LanguageHints []string
}

// Recognition is the text produced by one attempt
type Recognition struct {
	Text string
	// Confidence is in [0, 1] when the engine reports one
	Confidence *float64
}

// Worker is a recognition session acquired from an Engine. It must be closed
// once the caller is done with it.
type Worker interface {
	// Recognize reads the text of the image at imagePath
	Recognize(ctx context.Context, imagePath string, opts Options) (Recognition, error)
	// Close releases the resources held by the worker
	Close() error
}

// Engine defines the interface for text recognition backends
type Engine interface {
	// Acquire starts a new recognition session
	Acquire(ctx context.Context) (Worker, error)
	// Name identifies the engine in logs
	Name() string
}

// DefaultLanguages are the invoice languages seen in practice
var DefaultLanguages = []string{"eng", "heb", "ara"}

const (
	latinLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits       = "0123456789"
	dateMarks    = "/.:- "
	brackets     = "()[]{}"
)

// hebrewLetters returns alef through tav (U+05D0..U+05EA).
func hebrewLetters() string {
	var b strings.Builder
	for r := 'א'; r <= 'ת'; r++ {
		b.WriteRune(r)
	}
	return b.String()
}

// PrimaryOptions are used for the first attempt: letters and the characters
// that make up a numeric date.
func PrimaryOptions() Options {
	return Options{
		CharWhitelist: digits + latinLetters + hebrewLetters() + dateMarks,
		LanguageHints: append([]string(nil), DefaultLanguages...),
	}
}

// FallbackOptions widen the primary whitelist with brackets, which invoices
// often wrap dates in.
func FallbackOptions() Options {
	opts := PrimaryOptions()
	opts.CharWhitelist += brackets
	return opts
}
