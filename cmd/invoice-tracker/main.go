package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/invoice-tracker/internal/invoice"
	"github.com/zombor/invoice-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the server from args and serves until ctx is done. Everything it opens is
// closed again before it returns.
func run(ctx context.Context, args []string) error {
	flags := ff.NewFlagSet("invoice-tracker")
	var (
		port           = flags.IntLong("port", 8080, "HTTP server port")
		storeType      = flags.StringLong("store", "bolt", "Store type: 'bolt' or 'postgres'")
		dbPath         = flags.StringLong("db", "invoice-tracker.db", "BoltDB file path")
		postgresDSN    = flags.StringLong("postgres-dsn", "", "Postgres connection string")
		storeTimeout   = flags.DurationLong("store-timeout", 10*time.Second, "Timeout for each store operation")
		scannerType    = flags.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey      = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = flags.StringLong("gemini-model", "gemini-2.0-flash", "Google Gemini model name")
		ollamaURL      = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = flags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		extractTimeout = flags.DurationLong("extract-timeout", 60*time.Second, "Timeout for one extraction, retries included")
		attempts       = flags.IntLong("extract-attempts", 1, "Provider calls per document; 1 disables retries")
		backoff        = flags.DurationLong("extract-backoff", 2*time.Second, "Wait before the first retry, doubled for each later one")
		rate           = flags.Float64Long("extract-rate", 0, "Maximum provider calls per second; 0 disables pacing")
		tempDir        = flags.StringLong("temp-dir", "", "Directory for temporary PDF copies (default: OS temp dir)")
		pdfDPI         = flags.Float64Long("pdf-dpi", 150, "Resolution PDF pages are rendered at")
		maxDimension   = flags.IntLong("max-image-dimension", 2400, "Largest width or height of a rendered page")
		corsOrigins    = flags.StringLong("cors-origins", "*", "Comma-separated list of allowed CORS origins")
		maxUpload      = flags.IntLong("max-upload", 50<<20, "Largest accepted upload in bytes")
		logLevel       = flags.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logFormat      = flags.StringLong("log-format", "text", "Log format: text or json")
		_              = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, args,
		ff.WithEnvVarPrefix("INVOICE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		return err
	}

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// Initialize store
	slog.Info("Initializing store...", "type", *storeType)
	store, err := openStore(ctx, *storeType, *dbPath, *postgresDSN, logger)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(ctx, *storeTimeout)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("store is not reachable: %w", err)
	}

	// Initialize scanner based on type
	var scanner scanning.Scanner
	switch *scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			return fmt.Errorf("initializing gemini: %w", err)
		}
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *ollamaURL, "model", *ollamaModel)
		scanner, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			return fmt.Errorf("initializing ollama: %w", err)
		}
	default:
		return fmt.Errorf("invalid scanner type %q: use gemini or ollama", *scannerType)
	}
	scanner = scanning.NewRetrying(scanner, scanning.RetryOptions{
		Attempts:      *attempts,
		Backoff:       *backoff,
		RatePerSecond: *rate,
		Logger:        logger,
	})
	defer scanner.Close()

	// Initialize normalizer
	normalizer, err := scanning.NewNormalizer(scanning.NormalizerOptions{
		TempDir:      *tempDir,
		DPI:          *pdfDPI,
		MaxDimension: *maxDimension,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("initializing document normalizer: %w", err)
	}

	// Initialize service
	invoiceService := invoice.NewService(store, normalizer, scanner, invoice.ServiceOptions{
		ExtractTimeout: *extractTimeout,
		StoreTimeout:   *storeTimeout,
		Logger:         logger,
	})

	// Initialize server
	server := invoice.NewServer(invoiceService, invoice.ServerOptions{
		Version:        version,
		AllowedOrigins: splitList(*corsOrigins),
		MaxUploadBytes: int64(*maxUpload),
		Logger:         logger,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	// in-flight extractions get the full extraction budget to finish
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), *extractTimeout+*storeTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, storeType, dbPath, dsn string, logger *slog.Logger) (invoice.Store, error) {
	switch storeType {
	case "bolt":
		return invoice.NewBoltDB(dbPath)
	case "postgres":
		if dsn == "" {
			return nil, errors.New("--postgres-dsn is required for the postgres store")
		}
		return invoice.NewPostgres(ctx, invoice.PostgresConfig{DSN: dsn}, logger)
	default:
		return nil, fmt.Errorf("invalid store type %q: use bolt or postgres", storeType)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: use text or json", format)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
