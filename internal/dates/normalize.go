package dates

import (
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// digitFolder maps Arabic-Indic (U+0660..U+0669) and Extended Arabic-Indic
// (U+06F0..U+06F9) digits to ASCII. Arabic invoices print dates with either.
var digitFolder = runes.Map(func(r rune) rune {
	switch {
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	}
	return r
})

// Normalize folds compatibility characters (full-width digits and slashes)
// and Arabic digits so the locators only have to deal with ASCII.
func Normalize(text string) string {
	if text == "" {
		return text
	}
	t := transform.Chain(norm.NFKC, digitFolder)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}
