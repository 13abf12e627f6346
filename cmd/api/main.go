package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"aidgate.org/internal/access"
	"aidgate.org/internal/audit"
	"aidgate.org/internal/auth"
	"aidgate.org/internal/config"
	"aidgate.org/internal/guard"
	"aidgate.org/internal/httpapi"
	"aidgate.org/internal/obs"
	"aidgate.org/internal/vault"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.VaultSecret == "" {
		log.Fatal("AIDGATE_VAULT_SECRET is required")
	}
	if cfg.TokenSecret == "" {
		log.Fatal("AIDGATE_TOKEN_SECRET is required")
	}

	fieldVault, err := vault.New(cfg.VaultSecret)
	if err != nil {
		log.Fatalf("init vault: %v", err)
	}

	// Storage: Postgres when a DSN is configured, in-process otherwise.
	var (
		db      *sql.DB
		store   auth.Store
		records access.Store
		sink    audit.Sink
	)
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = auth.NewPGStore(db)
		records = access.NewPGStore(db)
		sink = audit.NewPGSink(db)
	} else {
		store = auth.NewMemStore()
		records = access.NewMemStore()
		sink = audit.LogSink{}
	}

	recorder := audit.NewRecorder(sink, cfg.Policy.AuditQueueSize)

	abuse := guard.New(guard.Config{
		LoginMaxFailures:   cfg.Policy.LoginMaxFailures,
		LoginFailureWindow: cfg.Policy.LoginFailureWindow.Duration,
		ResourceViewMax:    cfg.Policy.ResourceViewMax,
		ResourceViewWindow: cfg.Policy.ResourceViewWindow.Duration,
		APICallMax:         cfg.Policy.APICallMax,
		APICallWindow:      cfg.Policy.APICallWindow.Duration,
	})

	sessions, err := auth.NewSessionAuthority(store, recorder, cfg.TokenSecret,
		auth.WithSessionTTL(cfg.Policy.SessionTTL.Duration),
		auth.WithSessionCap(cfg.Policy.SessionCap),
		auth.WithRetention(cfg.Policy.SessionRetention.Duration),
	)
	if err != nil {
		log.Fatalf("init session authority: %v", err)
	}

	gate := auth.NewGate(store, abuse, recorder, sessions,
		auth.WithMaxFailures(cfg.Policy.LoginMaxFailures),
		auth.WithLockoutDuration(cfg.Policy.LockoutDuration.Duration),
		auth.WithMFAIssuer(cfg.Policy.MFAIssuer),
	)

	ctx := context.Background()
	engine := access.NewEngine(records, store.Organizations(ctx), fieldVault, abuse, recorder)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, gate, sessions, engine, abuse)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	go recorder.Run(bgCtx)
	go abuse.Run(bgCtx, time.Minute)
	go sessions.Run(bgCtx, time.Hour)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				gate.SweepEnrollments()
			}
		}
	}()

	log.Printf("Starting aidgate %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	bgCancel()
	// Give the recorder a moment to drain queued audit entries.
	time.Sleep(200 * time.Millisecond)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
