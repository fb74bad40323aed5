package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/viraj-mahida/betting-contract/config"
	"github.com/viraj-mahida/betting-contract/core/events"
	"github.com/viraj-mahida/betting-contract/core/runtime"
	"github.com/viraj-mahida/betting-contract/observability"
	"github.com/viraj-mahida/betting-contract/observability/logging"
	telemetry "github.com/viraj-mahida/betting-contract/observability/otel"
	"github.com/viraj-mahida/betting-contract/rpc"
	"github.com/viraj-mahida/betting-contract/storage"
	"github.com/viraj-mahida/betting-contract/storage/journal"
)

const (
	serviceName     = "marketd"
	secretEnvVar    = "MARKET_JWT_SECRET"
	environmentVar  = "MARKET_ENV"
	journalFileName = "journal.db"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "marketd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to the YAML configuration (defaults apply when empty)")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := loadEnvFile(*envFile); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	logger, logCloser := logging.SetupWithOptions(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer func() { _ = logCloser.Close() }()

	if cfg.Telemetry.Traces || cfg.Telemetry.Metrics {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: serviceName,
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     cfg.Telemetry.Headers,
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("close daemon", slog.String("error", err.Error()))
		}
	}()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddress, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- d.server.Serve(listener)
	}()
	logger.Info("marketd started",
		slog.String("addr", listener.Addr().String()),
		slog.String("payoutMode", cfg.PayoutModeValue().String()),
		slog.Bool("inMemory", cfg.InMemory),
		logging.MaskField("hmacSecret", cfg.Auth.HMACSecret))

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errs
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig reads path when given. Without a file the defaults apply and the
// HMAC secret and environment come from the process environment.
func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) != "" {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg := config.Default()
	cfg.Environment = strings.TrimSpace(os.Getenv(environmentVar))
	cfg.Auth.HMACSecret = strings.TrimSpace(os.Getenv(secretEnvVar))
	if cfg.Auth.HMACSecret == "" {
		return cfg, fmt.Errorf("no config file given and %s is empty", secretEnvVar)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

type daemon struct {
	db      storage.Database
	journal *journal.Journal
	stream  *events.Broadcaster
	runtime *runtime.Runtime
	server  *rpc.Server
	tempDir string
}

// newDaemon opens storage and the journal and wires the runtime and RPC
// server. Close releases everything it opened.
func newDaemon(cfg config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{}
	ok := false
	defer func() {
		if !ok {
			_ = d.Close()
		}
	}()

	journalPath := cfg.JournalPath
	if cfg.InMemory {
		d.db = storage.NewMemDB()
		dir, err := os.MkdirTemp("", "marketd-journal-")
		if err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		d.tempDir = dir
		journalPath = filepath.Join(dir, journalFileName)
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		db, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.DataDir, err)
		}
		d.db = db
	}
	if dir := filepath.Dir(journalPath); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	j, err := journal.Open(journalPath)
	if err != nil {
		return nil, err
	}
	d.journal = j
	d.stream = events.NewBroadcaster(cfg.Stream.Buffer)

	rt, err := runtime.New(d.db,
		runtime.WithLogger(logger),
		runtime.WithPayoutMode(cfg.PayoutModeValue()),
		runtime.WithMetrics(observability.Markets()),
		runtime.WithTracer(telemetry.Tracer("marketd/runtime")),
		runtime.WithSink("journal", runtime.JournalSink{Journal: d.journal}),
		runtime.WithSink("stream", runtime.EmitterSink{Emitter: d.stream}),
	)
	if err != nil {
		return nil, err
	}
	d.runtime = rt

	d.server = rpc.NewServer(rt, d.journal, d.stream, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			AdminScope: cfg.Auth.AdminScope,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			TrustForwardedFor: cfg.RateLimit.TrustForwardedFor,
		},
		MaxRequestBytes:    cfg.Server.MaxRequestBytes,
		ReadTimeout:        cfg.Server.ReadTimeout.Duration,
		WriteTimeout:       cfg.Server.WriteTimeout.Duration,
		IdleTimeout:        cfg.Server.IdleTimeout.Duration,
		StreamWriteTimeout: cfg.Stream.WriteTimeout.Duration,
	}, logger)
	ok = true
	return d, nil
}

func (d *daemon) Close() error {
	var errs []error
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
		d.journal = nil
	}
	if d.db != nil {
		d.db.Close()
		d.db = nil
	}
	if d.tempDir != "" {
		if err := os.RemoveAll(d.tempDir); err != nil {
			errs = append(errs, fmt.Errorf("remove journal dir: %w", err))
		}
		d.tempDir = ""
	}
	return errors.Join(errs...)
}
