package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/ad-sentinel/internal/audit"
	"github.com/raaihank/ad-sentinel/internal/cache"
	"github.com/raaihank/ad-sentinel/internal/classify"
	"github.com/raaihank/ad-sentinel/internal/config"
	"github.com/raaihank/ad-sentinel/internal/engine"
	"github.com/raaihank/ad-sentinel/internal/feedback"
	"github.com/raaihank/ad-sentinel/internal/filter"
	"github.com/raaihank/ad-sentinel/internal/gemini"
	"github.com/raaihank/ad-sentinel/internal/logger"
	"github.com/raaihank/ad-sentinel/internal/match"
	"github.com/raaihank/ad-sentinel/internal/pattern"
	"github.com/raaihank/ad-sentinel/internal/score"
	"github.com/raaihank/ad-sentinel/internal/server"
	"github.com/raaihank/ad-sentinel/internal/store"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("ad-sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting ad-sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("port", cfg.Server.Port))

	// Pattern library and compiled snapshot.
	lib, err := pattern.LoadLibrary(cfg.Patterns.File)
	if err != nil {
		log.Fatal("Failed to load pattern library", zap.Error(err))
	}
	var snapHolder atomic.Pointer[pattern.Snapshot]
	snapHolder.Store(pattern.NewSnapshot(lib, log.WithComponent("pattern").Logger))

	// Optional persistence.
	var st *store.Store
	var hitRecorder filter.HitRecorder = filter.NopRecorder{}
	exceptions := map[string][]pattern.ExceptionRule{}
	if cfg.Store.Enabled {
		st, err = store.New(&cfg.Store, log.WithComponent("store").Logger)
		if err != nil {
			log.Fatal("Failed to initialize store", zap.Error(err))
		}
		defer st.Close()
		hitRecorder = st

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		exceptions, err = st.ActiveExceptions(ctx)
		cancel()
		if err != nil {
			log.Fatal("Failed to load exception rules", zap.Error(err))
		}
	}

	// Optional result cache.
	var resultCache engine.ResultCache
	if cfg.Cache.Enabled {
		rc, err := cache.NewResultCache(&cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to initialize result cache", zap.Error(err))
		}
		defer rc.Close()
		resultCache = rc
	}

	// Pipeline stages.
	classifier := classify.NewDefault()
	matcher := match.New(classifier, cfg.Engine.WindowChars, log.WithComponent("match").Logger)
	exceptionFilter := filter.New(modifierTable(cfg), hitRecorder, log.WithComponent("filter").Logger)
	scorer, err := score.New(cfg.Scoring, log.WithComponent("score").Logger)
	if err != nil {
		log.Fatal("Failed to initialize scorer", zap.Error(err))
	}
	reconciler := audit.New(cfg.Audit, log.WithComponent("audit").Logger)

	var auditor engine.Auditor
	if cfg.Engine.AuditEnabled {
		auditor = gemini.NewClient(cfg.Gemini, log.WithComponent("gemini").Logger)
	}

	eng := engine.New(matcher, exceptionFilter, scorer, reconciler, auditor, resultCache,
		log.WithComponent("engine").Logger)
	eng.Reload(snapHolder.Load(), exceptions)

	var feedbackSvc *feedback.Service
	if st != nil {
		feedbackSvc = feedback.NewService(st, cfg.Feedback, log.WithComponent("feedback").Logger)
	}

	srv, err := server.New(cfg, log, server.Options{
		Engine:   eng,
		Snapshot: snapHolder.Load,
		Feedback: feedbackSvc,
		Store:    st,
	})
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	// Config changes reload the pattern snapshot; in-flight analyses keep
	// the snapshot they started with.
	err = config.Watch(func(newCfg *config.Config) {
		newLib, err := pattern.LoadLibrary(newCfg.Patterns.File)
		if err != nil {
			log.Error("Pattern reload failed, keeping previous snapshot", zap.Error(err))
			return
		}
		snap := pattern.NewSnapshot(newLib, log.WithComponent("pattern").Logger)
		snapHolder.Store(snap)

		exc := map[string][]pattern.ExceptionRule{}
		if st != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if loaded, err := st.ActiveExceptions(ctx); err == nil {
				exc = loaded
			} else {
				log.Error("Exception reload failed", zap.Error(err))
			}
			cancel()
		}
		eng.Reload(snap, exc)
	})
	if err != nil {
		log.Warn("Config watching unavailable", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}
		log.Info("Server shutdown complete")
	}
}

// modifierTable converts the config's string-keyed modifier map into the
// filter's typed table.
func modifierTable(cfg *config.Config) filter.ModifierTable {
	table := make(filter.ModifierTable, len(cfg.Engine.ConfidenceModifiers))
	for patternID, byContext := range cfg.Engine.ConfidenceModifiers {
		entry := make(map[classify.ContextType]float64, len(byContext))
		for ctx, mod := range byContext {
			entry[classify.ContextType(ctx)] = mod
		}
		table[patternID] = entry
	}
	return table
}

// performHealthCheck probes the running server.
func performHealthCheck() {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
