// Command api runs the ingestion HTTP server and the in-process workers
// that advance statement parsing in the background.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/finledger/finledger/internal/api"
	"github.com/finledger/finledger/internal/api/handlers"
	"github.com/finledger/finledger/internal/config"
	"github.com/finledger/finledger/internal/csvimport"
	"github.com/finledger/finledger/internal/extract"
	"github.com/finledger/finledger/internal/filestore"
	infrabq "github.com/finledger/finledger/internal/infra/bigquery"
	"github.com/finledger/finledger/internal/jobtrack"
	"github.com/finledger/finledger/internal/llm"
	"github.com/finledger/finledger/internal/logger"
	"github.com/finledger/finledger/internal/queue"
	"github.com/finledger/finledger/internal/staging"
	"github.com/finledger/finledger/internal/statement"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("finledger-api")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bqClient, err := infrabq.NewClient(ctx, cfg.GCP.ProjectID, cfg.GCP.Dataset, cfg.GCP.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to BigQuery")
	}
	defer bqClient.Close()

	files, err := filestore.NewGCSStore(ctx, cfg.GCP.Bucket, cfg.GCP.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to GCS")
	}
	defer files.Close()

	var stage staging.Store
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("parsing REDIS_URL")
		}
		stage = staging.NewRedisStore(redis.NewClient(opts), cfg.Staging.TTL)
		log.Info().Msg("using redis candidate staging")
	} else {
		mem := staging.NewMemoryStore(cfg.Staging.TTL)
		stage = mem
		go func() {
			ticker := time.NewTicker(cfg.Staging.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if removed := mem.Sweep(ctx); removed > 0 {
						log.Info().Int("removed", removed).Msg("swept expired staged batches")
					}
				}
			}
		}()
		log.Info().Msg("using in-memory candidate staging")
	}

	tracker := jobtrack.New(infrabq.NewJobTrackStore(bqClient))
	ledgerRepo := infrabq.NewLedgerRepo(bqClient)
	accounts := infrabq.NewAccountsRepo(bqClient)
	categories := infrabq.NewCategoriesRepo(bqClient)

	q := queue.New(cfg.Queue.BufferSize, cfg.Queue.Workers)

	importSvc := csvimport.NewService(csvimport.ServiceConfig{
		Repo:        infrabq.NewImportRepo(bqClient),
		Ledger:      ledgerRepo,
		Accounts:    accounts,
		Categories:  categories,
		Files:       files,
		Stage:       stage,
		Tracker:     tracker,
		MaxFileSize: cfg.Upload.MaxFileSize,
		Log:         log,
	})

	stmtSvc := statement.NewService(statement.ServiceConfig{
		Repo:        infrabq.NewStatementRepo(bqClient),
		Ledger:      ledgerRepo,
		Accounts:    accounts,
		Categories:  categories,
		Files:       files,
		Stage:       stage,
		Extractor:   extract.NewHTTPExtractor(cfg.Extract.BaseURL, cfg.Extract.APIKey, cfg.Extract.Timeout),
		Parser:      llm.NewGeminiParser(cfg.LLM.Model),
		Tracker:     tracker,
		Queue:       q,
		MaxFileSize: cfg.Upload.MaxFileSize,
		Log:         log,
	})

	if err := q.Start(ctx, stmtSvc.HandleTask); err != nil {
		log.Fatal().Err(err).Msg("starting queue workers")
	}

	router := api.NewRouter(api.RouterConfig{
		Imports:    handlers.NewImportsHandler(importSvc, tracker, cfg.Upload.MaxFileSize, log),
		Statements: handlers.NewStatementsHandler(stmtSvc, tracker, cfg.Upload.MaxFileSize, log),
		Jobs:       handlers.NewJobsHandler(tracker, log),
		Log:        log,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := q.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("queue shutdown")
	}
	log.Info().Msg("goodbye")
}
