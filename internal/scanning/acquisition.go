package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// AcquisitionConfig holds the pre-flight limits and the retry threshold
type AcquisitionConfig struct {
	MinFileSize int64
	MaxFileSize int64
	// Extensions are lower case and without the leading dot
	Extensions []string
	// MinPrimaryTextLength is the trimmed rune count at or below which the
	// primary result is considered too short and the fallback is tried.
	MinPrimaryTextLength int
}

// DefaultAcquisitionConfig returns the production limits.
func DefaultAcquisitionConfig() AcquisitionConfig {
	return AcquisitionConfig{
		MinFileSize:          1024,
		MaxFileSize:          50 << 20,
		Extensions:           []string{"jpg", "jpeg", "png", "gif", "bmp", "tiff", "pdf"},
		MinPrimaryTextLength: 10,
	}
}

// Acquirer turns an invoice image into raw text using at most two
// recognition attempts on a single worker.
type Acquirer struct {
	engine   Engine
	cfg      AcquisitionConfig
	primary  Options
	fallback Options
}

// NewAcquirer creates an Acquirer. Zero config fields take their defaults.
func NewAcquirer(engine Engine, cfg AcquisitionConfig) *Acquirer {
	def := DefaultAcquisitionConfig()
	if cfg.MinFileSize <= 0 {
		cfg.MinFileSize = def.MinFileSize
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = def.Extensions
	}
	if cfg.MinPrimaryTextLength <= 0 {
		cfg.MinPrimaryTextLength = def.MinPrimaryTextLength
	}
	return &Acquirer{
		engine:   engine,
		cfg:      cfg,
		primary:  PrimaryOptions(),
		fallback: FallbackOptions(),
	}
}

// AcquireText validates the file at imagePath and returns its recognized text.
//
// The primary attempt is retried once with the fallback options when it
// yields too little text or fails with a non-fatal error. A fatal error
// returns *RecognitionFatalError straight away. When both attempts fail the
// result is *RecognitionFailedError, unless the primary attempt produced
// some text, in which case that text is returned.
func (a *Acquirer) AcquireText(ctx context.Context, imagePath string) (string, error) {
	if err := a.preflight(imagePath); err != nil {
		return "", err
	}

	worker, err := a.engine.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquiring %s worker: %w", a.engine.Name(), err)
	}
	defer func() {
		if cerr := worker.Close(); cerr != nil {
			slog.Warn("closing recognition worker", "engine", a.engine.Name(), "error", cerr)
		}
	}()

	primary, perr := worker.Recognize(ctx, imagePath, a.primary)
	if perr == nil {
		logConfidence(a.engine.Name(), "primary", primary)
		if a.sufficient(primary.Text) {
			return primary.Text, nil
		}
	} else if IsFatal(perr) {
		return "", &RecognitionFatalError{Err: perr}
	}

	retry := &RecognitionRetryableError{Reason: "primary text too short"}
	if perr != nil {
		retry = &RecognitionRetryableError{Reason: "primary attempt failed", Err: perr}
	}
	slog.Info("retrying recognition with fallback options",
		"engine", a.engine.Name(),
		"path", imagePath,
		"reason", retry.Error(),
	)

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("recognizing %s: %w", imagePath, err)
	}

	fallback, ferr := worker.Recognize(ctx, imagePath, a.fallback)
	if ferr == nil {
		logConfidence(a.engine.Name(), "fallback", fallback)
		return fallback.Text, nil
	}

	if perr == nil {
		slog.Warn("fallback recognition failed, keeping primary text",
			"engine", a.engine.Name(),
			"path", imagePath,
			"error", ferr,
		)
		return primary.Text, nil
	}

	return "", &RecognitionFailedError{Err: ferr}
}

func (a *Acquirer) sufficient(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) > a.cfg.MinPrimaryTextLength
}

func (a *Acquirer) preflight(imagePath string) error {
	info, err := os.Stat(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ImageInvalidError{Path: imagePath, Reason: "file does not exist"}
		}
		return &ImageInvalidError{Path: imagePath, Reason: err.Error()}
	}
	if !info.Mode().IsRegular() {
		return &ImageInvalidError{Path: imagePath, Reason: "not a regular file"}
	}

	if info.Size() < a.cfg.MinFileSize {
		return &ImageInvalidError{
			Path:   imagePath,
			Reason: fmt.Sprintf("file too small (%d bytes, minimum %d)", info.Size(), a.cfg.MinFileSize),
		}
	}
	if info.Size() > a.cfg.MaxFileSize {
		return &ImageInvalidError{
			Path:   imagePath,
			Reason: fmt.Sprintf("file too large (%d bytes, maximum %d)", info.Size(), a.cfg.MaxFileSize),
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(imagePath)), ".")
	for _, allowed := range a.cfg.Extensions {
		if ext == allowed {
			return nil
		}
	}
	return &ImageInvalidError{
		Path:   imagePath,
		Reason: fmt.Sprintf("unsupported file type %q", filepath.Ext(imagePath)),
	}
}

func logConfidence(engine, attempt string, r Recognition) {
	if r.Confidence == nil {
		return
	}
	slog.Debug("recognition confidence",
		"engine", engine,
		"attempt", attempt,
		"confidence", *r.Confidence,
		"length", utf8.RuneCountInString(r.Text),
	)
}
