package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"cloud.google.com/go/civil"

	"github.com/warrantyocr/warranty-ocr/internal/scanning"
)

// TextAcquirer turns an invoice image into raw text.
type TextAcquirer interface {
	AcquireText(ctx context.Context, imagePath string) (string, error)
}

// DateExtractor finds candidate calendar dates in raw text.
type DateExtractor interface {
	Extract(text string) []civil.Date
}

const (
	msgInsufficientText = "insufficient text extracted"
	msgPoorQuality      = "Image quality too poor for text recognition"
	msgRetryFailed      = "Text recognition failed after retry"
)

// Orchestrator runs the whole pipeline for one invoice image: text
// acquisition, date extraction and tolerance validation.
type Orchestrator struct {
	acquirer      TextAcquirer
	extractor     DateExtractor
	validator     *ToleranceValidator
	minTextLength int
}

// NewOrchestrator wires the pipeline stages together. A ToleranceDays of zero
// accepts only the installation day itself; start from DefaultConfig for the
// production window. A non-positive MinTextLength falls back to the default.
func NewOrchestrator(acquirer TextAcquirer, extractor DateExtractor, cfg Config) *Orchestrator {
	if cfg.MinTextLength <= 0 {
		cfg.MinTextLength = DefaultConfig().MinTextLength
	}
	return &Orchestrator{
		acquirer:      acquirer,
		extractor:     extractor,
		validator:     NewToleranceValidator(cfg.ToleranceDays),
		minTextLength: cfg.MinTextLength,
	}
}

// ValidateWarrantyByOCR validates the invoice at imagePath against the
// claimed installation date. It never returns an error: every failure,
// including a panic in a lower stage, becomes an IN_PROGRESS result with a
// human readable Error so the claim falls to manual review.
func (o *Orchestrator) ValidateWarrantyByOCR(ctx context.Context, imagePath string, installation civil.Date) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("validation panicked", "path", imagePath, "panic", r)
			result = inProgress("", fmt.Sprintf("OCR processing failed: %v", r))
		}
	}()

	text, err := o.acquirer.AcquireText(ctx, imagePath)
	if err != nil {
		slog.Warn("text acquisition failed", "path", imagePath, "error", err)
		return inProgress("", describe(err))
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < o.minTextLength {
		slog.Info("insufficient text extracted", "path", imagePath, "length", n, "min", o.minTextLength)
		return inProgress(text, msgInsufficientText)
	}

	candidates := o.extractor.Extract(text)
	if candidates == nil {
		candidates = []civil.Date{}
	}
	decision := o.validator.Validate(installation, candidates)

	slog.Info("warranty validated",
		"path", imagePath,
		"installation_date", installation.String(),
		"candidates", len(candidates),
		"status", decision.Status,
	)

	return Result{
		Status:         decision.Status,
		MatchingDate:   decision.MatchingDate,
		DaysDifference: decision.DaysDifference,
		ExtractedDates: candidates,
		RawText:        text,
	}
}

// describe maps an acquisition error to the message stored on the result.
// RecognitionFailedError takes precedence over any fatal error it wraps.
func describe(err error) string {
	var invalid *scanning.ImageInvalidError
	var failed *scanning.RecognitionFailedError
	var fatal *scanning.RecognitionFatalError

	switch {
	case errors.As(err, &invalid):
		return "Image validation failed: " + invalid.Reason
	case errors.As(err, &failed):
		return msgRetryFailed
	case errors.As(err, &fatal):
		return msgPoorQuality
	default:
		return "OCR processing failed: " + err.Error()
	}
}
