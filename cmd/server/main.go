// cmd/server runs the HTTP/event half of the system: the Sync Trigger
// API (internal/httpapi) and the Event Fabric's websocket/long-poll
// transports (internal/events). Grounded on the teacher's
// cmd/server/main.go (pre-flight check before binding, graceful
// shutdown with a timeout context), trimmed of every ESP-specific
// service the teacher wires (SparkPost, Mailgun, SES, Ongage, Everflow,
// Kanban, financial, intelligence, auth) — none of those have a home in
// this core; account/session auth is an external collaborator
// (spec.md §1 Non-goals).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/config"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/auditlog"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/credentials"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/cursorstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/domain"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/emailstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/events"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/httpapi"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/jobstore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/distlock"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/schemacheck"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/provider"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/summarystore"
	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/syncengine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies the target port is free before binding,
// grounded verbatim on the teacher's cmd/server/main.go pre-flight
// check (a stale process holding the port fails loud, not silently).
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %w", port, addr, err)
	}
	ln.Close()
	return nil
}

func envRefreshTokenLookup(ctx context.Context, accountID string) (string, error) {
	return os.Getenv("GMAIL_REFRESH_TOKEN_" + accountID), nil
}

func main() {
	log.Println("Starting mailbox intelligence server...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("pre-flight check FAILED: %v", err)
	}
	log.Printf("pre-flight check passed: port %d is available", cfg.Server.Port)

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

	handlers := &httpapi.Handlers{
		Emails:        emails,
		Summaries:     summaries,
		Jobs:          jobs,
		Sync:          serialized,
		Hub:           hub,
		DB:            db,
		AISummEnabled: cfg.Worker.AISummEnabled,
	}
	router := httpapi.NewRouter(handlers)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	log.Println("server is ready")

	<-done
	log.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("server stopped")
}
