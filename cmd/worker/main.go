// cmd/worker runs the background half of the system: the Mailbox Sync
// Engine's scheduled passes and the Summarizer Worker pool, plus the
// periodic stale-lease sweep. Grounded on the teacher's
// cmd/worker/main.go (DB pool setup, signal handling, graceful
// shutdown) and QueueRecoveryWorker's periodic-ticker pattern, adapted
// from send-queue draining to job-queue draining.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	_ "github.com/lib/pq"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/config"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/auditlog"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/credentials"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/cursorstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/emailstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/events"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/jobstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/distlock"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/logging"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/schemacheck"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/preprocess"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/provider"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/summarizer"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/summarystore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/syncengine"
)

// numSummarizerThreads is the default worker thread count (spec.md §5
// "Multiple worker threads run per process (default 5)").
const numSummarizerThreads = 5

// syncSchedulerInterval is how often the background loop re-syncs every
// known account. Not configurable — spec.md §6's configuration surface
// deliberately excludes scheduling cadence beyond the per-process
// MAX_EMAILS_PER_CYCLE budget.
const syncSchedulerInterval = time.Minute

// staleLeaseSweepInterval bounds how long a crashed worker's claimed job
// sits before the scheduled sweep reclaims it, independent of the
// opportunistic reclamation Claim performs inline.
const staleLeaseSweepInterval = 5 * time.Minute

// envRefreshTokenLookup is a stand-in for the external credential vault
// (spec.md §1 Non-goals: "the credential vault itself"). It resolves an
// account's stored Gmail OAuth refresh token from
// GMAIL_REFRESH_TOKEN_<ACCOUNT_ID> — a deployment wires a real vault
// lookup here instead once one exists.
func envRefreshTokenLookup(ctx context.Context, accountID string) (string, error) {
	return os.Getenv("GMAIL_REFRESH_TOKEN_" + accountID), nil
}

func preprocessConfig(cfg *config.Config) preprocess.Config {
	c := preprocess.DefaultConfig
	c.StripReplyChains = cfg.Worker.StripReplyChains
	return c
}

func main() {
	log.Println("Starting mailbox intelligence worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if !cfg.Worker.WorkerMode {
		log.Println("WORKER_MODE disabled, exiting")
		return
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("failed to ping database: %v", err)
	}
	pingCancel()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := schemacheck.Verify(checkCtx, db); err != nil {
		checkCancel()
		log.Fatalf("schema pre-flight check FAILED: %v", err)
	}
	checkCancel()
	log.Println("schema pre-flight check passed")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
	}

	emails := emailstore.NewPostgresStore(db)
	cursors := cursorstore.NewPostgresStore(db)
	jobs := jobstore.NewPostgresStore(db, prometheus.DefaultRegisterer)
	summaries := summarystore.NewPostgresStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(cfg.Database.URL, db)
	hub.Start(ctx)

	refresher := credentials.NewGoogleRefresher(cfg.Google.ClientID, cfg.Google.ClientSecret,
		[]string{"https://www.googleapis.com/auth/gmail.readonly"})
	accessor := credentials.NewCachingAccessor(envRefreshTokenLookup, refresher)

	policy := func(ctx context.Context) (domain.GlobalPolicy, error) {
		return domain.GlobalPolicy{WorkerEnabled: true, MaxEmailsPerCycle: cfg.Worker.MaxEmailsPerCycle}, nil
	}

	engine := &syncengine.Engine{
		Credentials: accessor,
		Provider:    provider.NewGmailAdapter(nil),
		Emails:      emails,
		Cursors:     cursors,
		Jobs:        jobs,
		Emitter:     hub,
		Policy:      policy,
	}
	serialized := &syncengine.Serialized{
		Engine: engine,
		Locks: func(accountID string) distlock.DistLock {
			return distlock.NewLock(redisClient, db, "sync:"+accountID, 2*time.Minute)
		},
		Audit: auditlog.NewPostgresStore(db),
	}

	go runSyncScheduler(ctx, serialized, emails)
	go runStaleLeaseSweep(ctx, jobs)

	if cfg.Worker.AISummEnabled {
		llm, err := summarizer.NewBedrockClient(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID)
		if err != nil {
			log.Fatalf("failed to build bedrock client: %v", err)
		}

		sem := semaphore.NewWeighted(int64(summarizer.MaxConcurrentRequests))
		breaker := summarizer.NewCircuitBreaker()
		preprocessCfg := preprocessConfig(cfg)

		for i := 0; i < numSummarizerThreads; i++ {
			w := &summarizer.Worker{
				WorkerID:         summarizer.NewWorkerID() + "-" + strconv.Itoa(i),
				Jobs:             jobs,
				Emails:           emails,
				Summaries:        summaries,
				LLM:              llm,
				Emitter:          hub,
				Semaphore:        sem,
				Breaker:          breaker,
				BatchSize:        cfg.Worker.AIJobsBatch,
				IdleSleep:        cfg.Worker.IdleSleep(),
				PreprocessConfig: preprocessCfg,
				Model:            cfg.Bedrock.ModelID,
			}
			go w.Run(ctx)
		}
		log.Printf("summarizer worker pool started: %d threads", numSummarizerThreads)
	} else {
		log.Println("AI_SUMM_ENABLED disabled, summarizer pool not started")
	}

	log.Println("worker is ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	log.Println("worker stopped")
}

// runSyncScheduler re-syncs every known account on a fixed interval.
// Grounded on the teacher's QueueRecoveryWorker ticker loop
// (internal/worker/queue_recovery.go), generalized from a single sweep
// query to one Sync call per discovered account.
func runSyncScheduler(ctx context.Context, syncer *syncengine.Serialized, emails emailstore.Store) {
	log := logging.Component("cmd/worker")
	ticker := time.NewTicker(syncSchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			accounts, err := emails.Accounts(ctx)
			if err != nil {
				log.Error().Err(err).Msg("list accounts for sync scheduler failed")
				continue
			}
			for _, accountID := range accounts {
				if _, err := syncer.Sync(ctx, accountID); err != nil {
					log.Error().Str("account_id", accountID).Err(err).Msg("scheduled sync failed")
				}
			}
		}
	}
}

// runStaleLeaseSweep periodically requeues jobs whose lease expired
// without a worker actively polling for them (SPEC_FULL.md §12.3; Claim
// already reclaims stale leases opportunistically at claim time).
func runStaleLeaseSweep(ctx context.Context, jobs jobstore.Store) {
	log := logging.Component("cmd/worker")
	ticker := time.NewTicker(staleLeaseSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := jobs.ReclaimStale(ctx)
			if err != nil {
				log.Error().Err(err).Msg("stale lease sweep failed")
				continue
			}
			if n > 0 {
				log.Warn().Int64("count", n).Msg("reclaimed stale leases")
			}
		}
	}
}
