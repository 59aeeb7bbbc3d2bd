package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"citetrail/internal/activities"
	"citetrail/internal/config"
	"citetrail/internal/gateway"
	"citetrail/internal/observability"
	"citetrail/internal/pdf"
	"citetrail/internal/storage"
	"citetrail/internal/workflows"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := newLogger(cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		APIKey:  cfg.GatewayAPIKey,
		Timeout: cfg.GatewayTimeout,
		RPS:     cfg.GatewayRPS,
	})
	fetcher := pdf.NewHTTPFetcher(cfg.PDFFetchTimeout, cfg.PDFMaxBytes)
	parser := pdf.NewTextParser()

	w := worker.New(tc, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	a := activities.New(cfg, db, gw, fetcher, parser, logger)
	activities.Register(w, a)

	go reclaimStalePapers(storage.NewPaperRepo(db), cfg, logger)
	go serveMetrics(cfg.WorkerAddr, logger)

	logger.Info().
		Str("temporal", cfg.TemporalAddress).
		Str("task_queue", cfg.TemporalTaskQueue).
		Msg("citetrail worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
}

// reclaimStalePapers resets papers stuck mid-pipeline (worker crash,
// lost workflow) back to pending so a later ingest can pick them up.
func reclaimStalePapers(repo *storage.PaperRepo, cfg config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.ReclaimInterval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		ids, err := repo.ReclaimStale(ctx, cfg.StaleAfter)
		cancel()
		if err != nil {
			logger.Error().Err(err).Msg("stale paper reclaim failed")
			continue
		}
		if len(ids) > 0 {
			observability.StalePapersReclaimed.Add(float64(len(ids)))
			logger.Warn().Strs("paper_ids", ids).Msg("reset stale papers to pending")
		}
	}
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("worker metrics server stopped")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
