package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cloud.google.com/go/civil"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/warrantyocr/warranty-ocr/internal/dates"
	"github.com/warrantyocr/warranty-ocr/internal/scanning"
	"github.com/warrantyocr/warranty-ocr/internal/validation"
	"github.com/warrantyocr/warranty-ocr/internal/warranty"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

// pipelineFlags are shared by every subcommand
type pipelineFlags struct {
	engine      *string
	tesseract   *string
	tessdataDir *string
	psm         *int
	oem         *int
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string

	toleranceDays        *int
	minFileSize          *int
	maxFileSize          *int
	minTextLength        *int
	minPrimaryTextLength *int
	minTokenLength       *int

	logLevel  *string
	logFormat *string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootFlags := ff.NewFlagSet("warranty-ocr")
	pf := pipelineFlags{
		engine:      rootFlags.StringLong("engine", "tesseract", "Recognition engine: 'tesseract', 'gemini' or 'ollama'"),
		tesseract:   rootFlags.StringLong("tesseract", "tesseract", "Path to the tesseract binary"),
		tessdataDir: rootFlags.StringLong("tessdata-dir", "", "Tesseract language data directory"),
		psm:         rootFlags.IntLong("psm", 0, "Tesseract page segmentation mode (0 = tesseract default)"),
		oem:         rootFlags.IntLong("oem", 0, "Tesseract OCR engine mode (0 = tesseract default)"),
		geminiKey:   rootFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)"),
		geminiModel: rootFlags.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name"),
		ollamaURL:   rootFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL"),
		ollamaModel: rootFlags.StringLong("ollama-model", "qwen2.5vl", "Ollama vision model name"),

		toleranceDays:        rootFlags.IntLong("tolerance-days", 21, "Largest accepted distance in days between invoice and installation date"),
		minFileSize:          rootFlags.IntLong("min-file-size", 1024, "Smallest accepted invoice file in bytes"),
		maxFileSize:          rootFlags.IntLong("max-file-size", 50<<20, "Largest accepted invoice file in bytes"),
		minTextLength:        rootFlags.IntLong("min-text-length", 5, "Shortest recognized text worth searching for dates"),
		minPrimaryTextLength: rootFlags.IntLong("min-primary-text-length", 10, "Primary text at or below this length triggers the fallback attempt"),
		minTokenLength:       rootFlags.IntLong("min-token-length", 6, "Shortest whitespace token tried as a date"),

		logLevel:  rootFlags.StringLong("log-level", "info", "Log level: debug, info, warn or error"),
		logFormat: rootFlags.StringLong("log-format", "text", "Log format: 'text' or 'json'"),
	}
	showVersion := rootFlags.BoolLong("version", "Show version information")

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		port        = serveFlags.IntLong("port", 8080, "HTTP server port")
		dbPath      = serveFlags.StringLong("db", "warranty-ocr.db", "Database file path")
		storagePath = serveFlags.StringLong("storage", "./invoices", "Invoice storage directory path")
		authUser    = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "warranty-ocr serve [FLAGS]",
		ShortHelp: "run the warranty submission HTTP server",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, pf, serveOptions{
				addr:        fmt.Sprintf(":%d", *port),
				dbPath:      *dbPath,
				storagePath: *storagePath,
				auth:        warranty.BasicAuth{Username: *authUser, Password: *authPass},
			})
		},
	}

	validateFlags := ff.NewFlagSet("validate").SetParent(rootFlags)
	var (
		installationDate = validateFlags.StringLong("installation-date", "", "Claimed installation date (YYYY-MM-DD)")
		concurrency      = validateFlags.IntLong("concurrency", 4, "Number of invoices validated at once")
	)
	validateCmd := &ff.Command{
		Name:      "validate",
		Usage:     "warranty-ocr validate --installation-date YYYY-MM-DD IMAGE [IMAGE...]",
		ShortHelp: "validate invoice images and print one JSON result per line",
		Flags:     validateFlags,
		Exec: func(ctx context.Context, args []string) error {
			installation, err := civil.ParseDate(*installationDate)
			if err != nil {
				return fmt.Errorf("--installation-date must be formatted as YYYY-MM-DD: %w", err)
			}
			if len(args) == 0 {
				return fmt.Errorf("at least one image path is required")
			}
			return runValidate(ctx, pf, installation, args, *concurrency, stdout)
		},
	}

	rootCmd := &ff.Command{
		Name:        "warranty-ocr",
		Usage:       "warranty-ocr [FLAGS] <SUBCOMMAND> ...",
		ShortHelp:   "validate warranty invoices against installation dates with OCR",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{serveCmd, validateCmd},
		Exec: func(ctx context.Context, args []string) error {
			if *showVersion {
				fmt.Fprintln(stdout, version)
				return nil
			}
			return ff.ErrHelp
		},
	}

	if err := rootCmd.Parse(args, ff.WithEnvVarPrefix("WARRANTY_OCR")); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
		return err
	}

	if *showVersion {
		fmt.Fprintln(stdout, version)
		return nil
	}

	if err := setupLogging(*pf.logLevel, *pf.logFormat, stderr); err != nil {
		return err
	}

	err := rootCmd.Run(ctx)
	if errors.Is(err, ff.ErrHelp) {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
	}
	return err
}

func setupLogging(level, format string, w io.Writer) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
	default:
		return fmt.Errorf("invalid --log-format %q, valid: text or json", format)
	}
	return nil
}

// newEngine builds the recognition engine selected by --engine
func newEngine(pf pipelineFlags) (scanning.Engine, error) {
	switch *pf.engine {
	case "tesseract":
		slog.Info("Initializing Tesseract engine...", "binary", *pf.tesseract)
		return scanning.NewTesseract(scanning.TesseractConfig{
			Binary:      *pf.tesseract,
			TessdataDir: *pf.tessdataDir,
			PSM:         *pf.psm,
			OEM:         *pf.oem,
		}, nil), nil
	case "gemini":
		apiKey := *pf.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini engine...", "model", *pf.geminiModel)
		return scanning.NewGemini(apiKey, *pf.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", *pf.ollamaURL, "model", *pf.ollamaModel)
		return scanning.NewOllama(*pf.ollamaURL, *pf.ollamaModel)
	default:
		return nil, fmt.Errorf("invalid engine %q, valid: tesseract, gemini or ollama", *pf.engine)
	}
}

// newOrchestrator wires the validation pipeline from the shared flags
func newOrchestrator(pf pipelineFlags) (*validation.Orchestrator, error) {
	engine, err := newEngine(pf)
	if err != nil {
		return nil, err
	}

	acqCfg := scanning.DefaultAcquisitionConfig()
	acqCfg.MinFileSize = int64(*pf.minFileSize)
	acqCfg.MaxFileSize = int64(*pf.maxFileSize)
	acqCfg.MinPrimaryTextLength = *pf.minPrimaryTextLength

	extCfg := dates.DefaultConfig()
	extCfg.MinTokenLength = *pf.minTokenLength

	valCfg := validation.DefaultConfig()
	valCfg.ToleranceDays = *pf.toleranceDays
	valCfg.MinTextLength = *pf.minTextLength

	return validation.NewOrchestrator(
		scanning.NewAcquirer(engine, acqCfg),
		dates.NewExtractor(dates.DefaultRegistry(), extCfg),
		valCfg,
	), nil
}

type serveOptions struct {
	addr        string
	dbPath      string
	storagePath string
	auth        warranty.BasicAuth
}

func runServe(ctx context.Context, pf pipelineFlags, opts serveOptions) error {
	slog.Info("Initializing database...", "path", opts.dbPath)
	db, err := warranty.NewBoltDB(opts.dbPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	slog.Info("Initializing storage...", "path", opts.storagePath)
	store, err := warranty.NewLocalStorage(opts.storagePath)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	orchestrator, err := newOrchestrator(pf)
	if err != nil {
		return err
	}

	service := warranty.NewService(db, orchestrator, store)
	server := warranty.NewServer(service, opts.auth)

	if opts.auth.Username != "" || opts.auth.Password != "" {
		slog.Info("Basic auth enabled", "user", opts.auth.Username)
	}

	return server.Run(ctx, opts.addr)
}

// validateLine is one line of validate output
type validateLine struct {
	Path string `json:"path"`
	validation.Result
}

func runValidate(ctx context.Context, pf pipelineFlags, installation civil.Date, paths []string, concurrency int, out io.Writer) error {
	orchestrator, err := newOrchestrator(pf)
	if err != nil {
		return err
	}

	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]validation.Result, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, p := range paths {
		g.Go(func() error {
			results[i] = orchestrator.ValidateWarrantyByOCR(gctx, p, installation)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	for i, p := range paths {
		if err := enc.Encode(validateLine{Path: p, Result: results[i]}); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}
	return nil
}
