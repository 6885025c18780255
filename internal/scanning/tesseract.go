package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Runner runs an external command and returns what it wrote to stdout and
// stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	return out.Bytes(), errb.Bytes(), err
}

// maxStderr caps how much tesseract diagnostics end up in an error message.
const maxStderr = 512

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// TesseractConfig locates the tesseract binary and its tuning flags
type TesseractConfig struct {
	Binary      string
	TessdataDir string
	PSM         int
	OEM         int
}

// Tesseract implements the Engine interface with the tesseract CLI
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner
}

// NewTesseract creates a Tesseract engine. A nil runner executes the real binary.
func NewTesseract(cfg TesseractConfig, runner Runner) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Tesseract{cfg: cfg, runner: runner}
}

func (t *Tesseract) Name() string { return "tesseract" }

// Acquire creates a worker with its own scratch directory for converted images
func (t *Tesseract) Acquire(ctx context.Context) (Worker, error) {
	dir, err := os.MkdirTemp("", "warranty-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	return &tesseractWorker{
		engine:   t,
		scratch:  dir,
		prepared: map[string]string{},
	}, nil
}

type tesseractWorker struct {
	engine  *Tesseract
	scratch string
	// prepared maps an input path to the file handed to tesseract
	prepared map[string]string
}

func (w *tesseractWorker) Recognize(ctx context.Context, imagePath string, opts Options) (Recognition, error) {
	input, err := w.prepare(imagePath)
	if err != nil {
		return Recognition{}, err
	}

	start := time.Now()
	out, errb, err := w.engine.runner.Run(ctx, w.engine.cfg.Binary, w.engine.args(input, opts)...)
	if err != nil {
		return Recognition{}, tesseractError(err, errb)
	}

	text, conf := parseTSV(string(out))
	slog.Debug("tesseract recognized",
		"path", imagePath,
		"languages", strings.Join(opts.LanguageHints, "+"),
		"runes", utf8.RuneCountInString(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Recognition{Text: text, Confidence: conf}, nil
}

func (w *tesseractWorker) Close() error {
	if err := os.RemoveAll(w.scratch); err != nil {
		return fmt.Errorf("removing scratch directory: %w", err)
	}
	return nil
}

// prepare returns a path tesseract can read, rendering PDFs and HEIC files to
// PNG in the scratch directory once per worker.
func (w *tesseractWorker) prepare(imagePath string) (string, error) {
	if p, ok := w.prepared[imagePath]; ok {
		return p, nil
	}

	convert, err := needsConversion(imagePath)
	if err != nil {
		return "", err
	}
	if !convert {
		w.prepared[imagePath] = imagePath
		return imagePath, nil
	}

	data, err := loadPNG(imagePath)
	if err != nil {
		return "", err
	}
	out := filepath.Join(w.scratch, fmt.Sprintf("page-%d.png", len(w.prepared)))
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return "", newRecognitionError(CodeEngine, "writing converted image: %w", err)
	}
	w.prepared[imagePath] = out
	return out, nil
}

func (t *Tesseract) args(input string, opts Options) []string {
	// tesseract <file> stdout -l <langs> [-c whitelist] [--psm] [--oem] [--tessdata-dir] tsv
	args := []string{input, "stdout"}
	if len(opts.LanguageHints) > 0 {
		args = append(args, "-l", strings.Join(opts.LanguageHints, "+"))
	}
	if opts.CharWhitelist != "" {
		args = append(args, "-c", "tessedit_char_whitelist="+opts.CharWhitelist)
	}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return append(args, "tsv")
}

func tesseractError(err error, stderr []byte) error {
	msg := clip(strings.TrimSpace(string(stderr)), maxStderr)
	switch {
	case errors.Is(err, exec.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return &RecognitionError{Code: CodeTransport, Err: fmt.Errorf("tesseract: %w", err)}
	case msg == "":
		return &RecognitionError{Code: classifyMessage(err.Error()), Err: fmt.Errorf("tesseract: %w", err)}
	default:
		return &RecognitionError{Code: classifyMessage(msg), Err: fmt.Errorf("tesseract: %s: %w", msg, err)}
	}
}

// TSV columns: level page_num block_num par_num line_num word_num left top
// width height conf text
const (
	tsvLevel = 0
	tsvPage  = 1
	tsvBlock = 2
	tsvPar   = 3
	tsvLine  = 4
	tsvConf  = 10
	tsvText  = 11

	tsvWordLevel = "5"
)

// parseTSV rebuilds the recognized text line by line from tesseract's TSV
// output and returns the mean word confidence in [0, 1], or nil when no word
// carries one.
func parseTSV(tsv string) (string, *float64) {
	var (
		b        strings.Builder
		lastLine string
		sum, n   float64
	)

	for _, ln := range strings.Split(tsv, "\n") {
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) <= tsvText || cols[tsvLevel] != tsvWordLevel {
			continue
		}
		word := strings.TrimSpace(cols[tsvText])
		if word == "" {
			continue
		}

		key := strings.Join(cols[tsvPage:tsvLine+1], ".")
		switch {
		case b.Len() == 0:
		case key != lastLine:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(word)
		lastLine = key

		if c, err := strconv.ParseFloat(cols[tsvConf], 64); err == nil && c >= 0 {
			sum += c
			n++
		}
	}

	if n == 0 {
		return b.String(), nil
	}
	mean := sum / n / 100
	return b.String(), &mean
}
