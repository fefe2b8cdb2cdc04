package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/audit"
	"github.com/raaihank/ad-sentinel/internal/batch"
	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/config"
	"github.com/raaihank/ad-sentinel/internal/engine"
	"github.com/raaihank/ad-sentinel/internal/filter"
	"github.com/raaihank/ad-sentinel/internal/gemini"
	"github.com/raaihank/ad-sentinel/internal/logger"
	"github.com/raaihank/ad-sentinel/internal/match"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/score"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Configuration file path")
		inputFile    = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		outputFile   = flag.String("output", "", "Output file for results (default: stdout)")
		batchSize    = flag.Int("batch-size", 500, "Documents per batch")
		workers      = flag.Int("workers", 4, "Number of worker goroutines")
		withAudit    = flag.Bool("audit", false, "Run the external model audit pass per document")
		validateOnly = flag.Bool("validate-only", false, "Only validate input records, don't analyze")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input documents.csv --batch-size 200\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input documents.parquet --workers 8 --output results.jsonl\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling batch run...")
		cancel()
	}()

	lib, err := pattern.LoadLibrary(cfg.Patterns.File)
	if err != nil {
		log.Fatal("Failed to load pattern library", zap.Error(err))
	}
	snap := pattern.NewSnapshot(lib, log.WithComponent("pattern").Logger)

	classifier := classify.NewDefault()
	matcher := match.New(classifier, cfg.Engine.WindowChars, log.WithComponent("match").Logger)
	exceptionFilter := filter.New(nil, filter.NopRecorder{}, log.WithComponent("filter").Logger)
	scorer, err := score.New(cfg.Scoring, log.WithComponent("score").Logger)
	if err != nil {
		log.Fatal("Failed to initialize scorer", zap.Error(err))
	}
	reconciler := audit.New(cfg.Audit, log.WithComponent("audit").Logger)

	var auditor engine.Auditor
	if *withAudit {
		auditor = gemini.NewClient(cfg.Gemini, log.WithComponent("gemini").Logger)
	}

	eng := engine.New(matcher, exceptionFilter, scorer, reconciler, auditor, nil,
		log.WithComponent("engine").Logger)
	eng.Reload(snap, nil)

	out := os.Stdout
	if *outputFile != "" {
		f, err := os.Create(*outputFile)
		if err != nil {
			log.Fatal("Failed to create output file", zap.Error(err))
		}
		defer f.Close()
		out = f
	}

	pipeline := batch.New(&batch.Config{
		BatchSize:    *batchSize,
		Workers:      *workers,
		SkipAudit:    !*withAudit,
		ValidateOnly: *validateOnly,
	}, eng, log.WithComponent("batch").Logger)

	result, err := pipeline.Run(ctx, *inputFile, out)
	if err != nil {
		log.Fatal("Batch run failed", zap.Error(err))
	}

	fmt.Fprintf(os.Stderr, "\nBatch analysis summary:\n")
	fmt.Fprintf(os.Stderr, "  Total records:   %d\n", result.TotalRecords)
	fmt.Fprintf(os.Stderr, "  Processed OK:    %d\n", result.ProcessedOK)
	fmt.Fprintf(os.Stderr, "  Failed:          %d\n", result.ProcessedFailed)
	fmt.Fprintf(os.Stderr, "  Skipped invalid: %d\n", result.SkippedInvalid)
	fmt.Fprintf(os.Stderr, "  With violations: %d\n", result.ViolationDocs)
	fmt.Fprintf(os.Stderr, "  Clean:           %d\n", result.CleanDocs)
	for grade, count := range result.GradeCounts {
		fmt.Fprintf(os.Stderr, "  Grade %-2s        %d\n", grade+":", count)
	}
	fmt.Fprintf(os.Stderr, "  Duration:        %s\n", result.Duration)
}
