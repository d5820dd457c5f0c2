// Package main implements the kvbench binary: it runs the bulk-write
// benchmark end-to-end against the configured backend and prints the
// phase timings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kvbench/kvbench/internal/backend"
	"github.com/kvbench/kvbench/internal/config"
	"github.com/kvbench/kvbench/internal/serializer"
	"github.com/kvbench/kvbench/internal/service"
	"github.com/kvbench/kvbench/internal/writer"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile     string
		backendType    string
		numItems       int
		strategyFlag   string
		serializerFlag string
		runMassGet     bool
		showVersion    bool
		showHelp       bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&backendType, "backend", "", "Backend type: memory, sqlite, s3")
	flag.IntVar(&numItems, "items", 0, "Number of records to write")
	flag.StringVar(&strategyFlag, "strategy", "", "Write strategy: SEQUENTIAL, PARALLEL_ADAPTER, PIPELINED")
	flag.StringVar(&serializerFlag, "serializer", "", "Payload serializer: RAW, STRUCTURED, BASE64")
	flag.BoolVar(&runMassGet, "mass-get", false, "Also run the multi-query pipelined read exercise")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "kvbench - KV bulk-write strategy benchmark\n\n")
		fmt.Fprintf(os.Stderr, "Usage: kvbench [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  kvbench --items 100 --strategy PIPELINED\n")
		fmt.Fprintf(os.Stderr, "  kvbench --backend sqlite --strategy PARALLEL_ADAPTER --serializer BASE64\n")
		fmt.Fprintf(os.Stderr, "  kvbench --config /etc/kvbench/config.yaml --mass-get\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  KVBENCH_BACKEND       Backend type (memory, sqlite, s3)\n")
		fmt.Fprintf(os.Stderr, "  KVBENCH_SQLITE_PATH   SQLite database file\n")
		fmt.Fprintf(os.Stderr, "  KVBENCH_S3_BUCKET     S3 bucket name\n")
		fmt.Fprintf(os.Stderr, "  KVBENCH_S3_ENDPOINT   Custom S3 endpoint (MinIO, LocalStack)\n")
		fmt.Fprintf(os.Stderr, "  KVBENCH_NUM_ITEMS     Number of records to write\n")
		fmt.Fprintf(os.Stderr, "  KVBENCH_STRATEGY      Write strategy\n")
		fmt.Fprintf(os.Stderr, "  KVBENCH_SERIALIZER    Payload serializer\n")
		fmt.Fprintf(os.Stderr, "  KVBENCH_LOG_LEVEL     Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("kvbench version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// A local .env is optional; missing files are fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile, backendType, numItems, strategyFlag, serializerFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	printBanner(cfg)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	b, err := newBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}
	defer b.Close()

	strategy, err := writer.ParseStrategy(cfg.Bench.Strategy)
	if err != nil {
		log.Fatalf("Invalid strategy: %v", err)
	}
	st, err := serializer.ParseType(cfg.Bench.Serializer)
	if err != nil {
		log.Fatalf("Invalid serializer: %v", err)
	}

	svc := service.NewDataService(b, logger)

	report, err := svc.SaveBigData(ctx, cfg.Bench.NumItems, strategy, st)
	if err != nil {
		log.Fatalf("Benchmark run failed: %v", err)
	}
	log.Printf("Run complete: transaction=%s written=%d verified=%d totalValues=%d",
		report.TID, report.Written, len(report.Verified), report.TotalValues)

	if runMassGet {
		result, err := svc.MassGet(ctx)
		if err != nil {
			log.Fatalf("Mass get failed: %v", err)
		}
		log.Printf("Mass get complete: values=%d keys=%d", len(result.ValueIDs), len(result.KeyIDs))
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(configFile, backendType string, numItems int, strategy, serializerName string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	cfg, err = config.LoadFromEnv(cfg)
	if err != nil {
		return nil, err
	}

	// Command line flags take highest priority.
	if backendType != "" {
		cfg.Backend.Type = backendType
	}
	if numItems > 0 {
		cfg.Bench.NumItems = numItems
	}
	if strategy != "" {
		cfg.Bench.Strategy = strategy
	}
	if serializerName != "" {
		cfg.Bench.Serializer = serializerName
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the structured logger at the configured level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// newBackend constructs the configured backend.
func newBackend(ctx context.Context, cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend.Type {
	case "memory":
		return backend.NewMemory(), nil
	case "sqlite":
		return backend.NewSQLite(cfg.Backend.SQLite.Path)
	case "s3":
		return backend.NewS3(ctx, cfg.Backend.S3.Bucket, backend.S3Config{
			Region:       cfg.Backend.S3.Region,
			Endpoint:     cfg.Backend.S3.Endpoint,
			UsePathStyle: cfg.Backend.S3.UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("kvbench - KV bulk-write strategy benchmark")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Backend:    %s", cfg.Backend.Type)
	log.Printf("  Items:      %d", cfg.Bench.NumItems)
	log.Printf("  Strategy:   %s", cfg.Bench.Strategy)
	log.Printf("  Serializer: %s", cfg.Bench.Serializer)
	log.Printf("")
}
