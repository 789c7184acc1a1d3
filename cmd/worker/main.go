// Command worker is the recovery sweeper for the statement pipeline. The
// parse queue is in-process, so a statement stuck in TEXT_EXTRACTED after a
// restart has lost its task; this worker periodically picks those up and
// runs the parsing stage. The per-statement compare-and-swap makes an
// overlap with a live api instance harmless.
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/config"
	"github.com/finledger/finledger/internal/domain"
	"github.com/finledger/finledger/internal/filestore"
	infrabq "github.com/finledger/finledger/internal/infra/bigquery"
	"github.com/finledger/finledger/internal/jobtrack"
	"github.com/finledger/finledger/internal/llm"
	"github.com/finledger/finledger/internal/logger"
	"github.com/finledger/finledger/internal/queue"
	"github.com/finledger/finledger/internal/staging"
	"github.com/finledger/finledger/internal/statement"
)

var (
	interval = flag.Duration("interval", time.Minute, "how often to scan for stuck statements")
	minAge   = flag.Duration("min-age", 5*time.Minute, "leave statements younger than this to the in-process queue")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()
	log := logger.New("finledger-worker")

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

	// Staged candidates must land where the api instance reads them, which
	// means redis staging is effectively required for a separate worker.
	var stage staging.Store
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("parsing REDIS_URL")
		}
		stage = staging.NewRedisStore(redis.NewClient(opts), cfg.Staging.TTL)
	} else {
		log.Warn().Msg("REDIS_URL not set; staged candidates will not be visible to other instances")
		stage = staging.NewMemoryStore(cfg.Staging.TTL)
	}

	stmtRepo := infrabq.NewStatementRepo(bqClient)
	tracker := jobtrack.New(infrabq.NewJobTrackStore(bqClient))

	// The worker never publishes; the queue only satisfies the service's
	// collaborator set.
	q := queue.New(1, 1)

	svc := statement.NewService(statement.ServiceConfig{
		Repo:        stmtRepo,
		Ledger:      infrabq.NewLedgerRepo(bqClient),
		Accounts:    infrabq.NewAccountsRepo(bqClient),
		Categories:  infrabq.NewCategoriesRepo(bqClient),
		Files:       files,
		Stage:       stage,
		Parser:      llm.NewGeminiParser(cfg.LLM.Model),
		Tracker:     tracker,
		Queue:       q,
		MaxFileSize: cfg.Upload.MaxFileSize,
		Log:         log,
	})

	log.Info().Dur("interval", *interval).Msg("recovery worker started")
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("recovery worker stopping")
			return
		case <-ticker.C:
			sweep(ctx, log, stmtRepo, svc)
		}
	}
}

func sweep(ctx context.Context, log zerolog.Logger, repo *infrabq.StatementRepo, svc *statement.Service) {
	stuck, err := repo.ListByStatus(ctx, domain.StatementStatusTextExtracted, time.Now().UTC().Add(-*minAge))
	if err != nil {
		log.Error().Err(err).Msg("listing stuck statements")
		return
	}
	for _, st := range stuck {
		log.Info().Str("statement_id", st.ID).Msg("reprocessing stuck statement")
		if err := svc.ProcessParsing(ctx, st.ID); err != nil {
			log.Error().Err(err).Str("statement_id", st.ID).Msg("reprocessing failed")
		}
	}
}
