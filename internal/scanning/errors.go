package scanning

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies a recognition failure
type Code int

const (
	// CodeEngine is an engine failure that may succeed with other options
	CodeEngine Code = iota
	// CodeTransport is a network or process level failure
	CodeTransport
	// CodeImageQuality means the image cannot yield text at all
	CodeImageQuality
	// CodeUnsupportedImage means the image could not be decoded
	CodeUnsupportedImage
)

func (c Code) String() string {
	switch c {
	case CodeEngine:
		return "engine"
	case CodeTransport:
		return "transport"
	case CodeImageQuality:
		return "image quality"
	case CodeUnsupportedImage:
		return "unsupported image"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Fatal reports whether a retry with different options cannot help.
func (c Code) Fatal() bool {
	return c == CodeImageQuality || c == CodeUnsupportedImage
}

// RecognitionError is returned by engines with a structured failure code
type RecognitionError struct {
	Code Code
	Err  error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

func newRecognitionError(code Code, format string, args ...any) *RecognitionError {
	return &RecognitionError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ImageInvalidError is returned when a file fails the pre-flight checks. No
// engine work has been done.
type ImageInvalidError struct {
	Path   string
	Reason string
}

func (e *ImageInvalidError) Error() string {
	return fmt.Sprintf("invalid image %s: %s", e.Path, e.Reason)
}

// RecognitionRetryableError records why the primary attempt was retried.
// Err is nil when the primary attempt succeeded with too little text.
type RecognitionRetryableError struct {
	Reason string
	Err    error
}

func (e *RecognitionRetryableError) Error() string {
	if e.Err == nil {
		return "retrying recognition: " + e.Reason
	}
	return fmt.Sprintf("retrying recognition: %s: %v", e.Reason, e.Err)
}

func (e *RecognitionRetryableError) Unwrap() error {
	return e.Err
}

// RecognitionFatalError means the image cannot be recognized and was not retried
type RecognitionFatalError struct {
	Err error
}

func (e *RecognitionFatalError) Error() string {
	return fmt.Sprintf("recognition failed permanently: %v", e.Err)
}

func (e *RecognitionFatalError) Unwrap() error {
	return e.Err
}

// RecognitionFailedError means both the primary and the fallback attempt failed
type RecognitionFailedError struct {
	Err error
}

func (e *RecognitionFailedError) Error() string {
	return fmt.Sprintf("recognition failed after retry: %v", e.Err)
}

func (e *RecognitionFailedError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err means the image cannot be recognized, so a
// retry is pointless.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var fe *RecognitionFatalError
	if errors.As(err, &fe) {
		return true
	}
	return codeOf(err).Fatal()
}

// codeOf returns the structured code carried by err, falling back to the
// message classifier for engines that only produce plain errors.
func codeOf(err error) Code {
	var re *RecognitionError
	if errors.As(err, &re) {
		return re.Code
	}
	return classifyMessage(err.Error())
}

var (
	qualityPatterns = []string{
		"too small",
		"low quality",
		"image quality",
		"empty page",
		"image too large",
	}
	unsupportedPatterns = []string{
		"corrupt",
		"unknown format",
		"unsupported image",
		"unsupported format",
		"not a valid image",
		"cannot read image",
		"image file not read",
		"error in pixreadstream",
	}
	transportPatterns = []string{
		"connection refused",
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"deadline exceeded",
		"executable file not found",
		"signal: killed",
	}
)

// classifyMessage maps the text of an unstructured engine error to a Code.
func classifyMessage(msg string) Code {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, qualityPatterns):
		return CodeImageQuality
	case containsAny(msg, unsupportedPatterns):
		return CodeUnsupportedImage
	case containsAny(msg, transportPatterns):
		return CodeTransport
	default:
		return CodeEngine
	}
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
