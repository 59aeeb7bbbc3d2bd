package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	tclient "go.temporal.io/sdk/client"

	"citetrail/internal/api"
	"citetrail/internal/config"
	"citetrail/internal/gateway"
	"citetrail/internal/llm"
	"citetrail/internal/papersearch"
	"citetrail/internal/provenance"
	"citetrail/internal/research"
	"citetrail/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := newLogger(cfg.AppEnv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

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
	var search papersearch.Client = papersearch.NewHTTPClient(papersearch.Config{
		BaseURL: cfg.PaperSearchBaseURL,
		APIKey:  cfg.PaperSearchAPIKey,
		Timeout: cfg.PaperSearchTimeout,
		RPS:     cfg.PaperSearchRPS,
	})
	if cfg.CrossrefBaseURL != "" {
		crossref := papersearch.NewCrossrefClient(papersearch.Config{
			BaseURL: cfg.CrossrefBaseURL,
			APIKey:  cfg.CrossrefMailto,
			Timeout: cfg.PaperSearchTimeout,
			RPS:     cfg.CrossrefRPS,
		})
		search = papersearch.NewMulti(logger, search, crossref)
	}
	generator := llm.NewOpenAI(llm.Config{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		RPS:     cfg.LLMRPS,
	})

	chunkRepo := storage.NewChunkRepo(db)
	query := research.NewQueryService(gw, chunkRepo, storage.NewSynthesisRepo(db), generator, logger)
	linker := provenance.NewLinker(
		storage.NewCitationRepo(db),
		storage.NewPaperRepo(db),
		chunkRepo,
		storage.NewSynthesisRepo(db),
		gw,
		logger,
	)

	srv := api.NewServer(cfg, db, search, gw, query, linker, tc, logger)
	logger.Info().Str("addr", cfg.APIAddr).Msg("citetrail api listening")
	if err := http.ListenAndServe(cfg.APIAddr, srv.Routes()); err != nil {
		logger.Fatal().Err(err).Msg("api server stopped")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
