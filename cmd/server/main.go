package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mail-aggregator/internal/api"
	"github.com/ignite/mail-aggregator/internal/archive"
	"github.com/ignite/mail-aggregator/internal/auth"
	"github.com/ignite/mail-aggregator/internal/cipher"
	"github.com/ignite/mail-aggregator/internal/config"
	"github.com/ignite/mail-aggregator/internal/delivery"
	"github.com/ignite/mail-aggregator/internal/fetcher"
	"github.com/ignite/mail-aggregator/internal/imapcli"
	"github.com/ignite/mail-aggregator/internal/pkg/distlock"
	"github.com/ignite/mail-aggregator/internal/scheduler"
	"github.com/ignite/mail-aggregator/internal/settings"
	"github.com/ignite/mail-aggregator/internal/status"
	"github.com/ignite/mail-aggregator/internal/store"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("╔══════════════════════════════════════════════════════════╗")
	log.Println("║  Mail Aggregator Server (cmd/server/main.go)             ║")
	log.Println("║  IMAP polling, rule engine, Telegram push, REST API      ║")
	log.Println("╚══════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	// The encryption key is required; without it account passwords
	// could not be stored.
	keychain, err := cipher.New(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential encryption (set ENCRYPTION_KEY): %v", err)
	}

	// Open the database and run migrations
	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Printf("Database ready (driver: %s)", st.Driver())

	// Runtime settings: DB-stored values override config defaults
	svc := settings.New(st, cfg)
	if err := svc.Load(ctx); err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	// Poll status survives restarts; a failed restore is not fatal
	tracker := status.NewTracker(st)
	if err := tracker.Load(ctx); err != nil {
		log.Printf("Warning: failed to restore poll status: %v", err)
	}

	// Notification delivery
	renderer, err := delivery.NewRenderer()
	if err != nil {
		log.Fatalf("Failed to initialize push template renderer: %v", err)
	}
	telegram := delivery.NewTelegramClient(cfg.Telegram)
	webhook := delivery.NewWebhookClient(cfg.Webhook)
	if svc.Get(settings.KeyTelegramBotToken) == "" || svc.Get(settings.KeyTelegramChatID) == "" {
		log.Println("Telegram push not configured (missing bot token or chat id)")
	}
	if svc.Get(settings.KeyWebhookURL) == "" {
		log.Println("Webhook notifications not configured (WEBHOOK_URL not set)")
	}

	// Optional Redis for poll locking across replicas
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v, falling back to single-instance poll locking", cfg.Redis.URL, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (distributed poll locking enabled)", cfg.Redis.URL)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured (REDIS_URL not set), using in-process poll locking")
	}

	// Fetch pipeline
	dialer := imapcli.NewDialer(cfg.IMAP)
	locks := distlock.NewTable()
	fetchRunner := fetcher.NewFetcher(st, keychain, svc, tracker, renderer, telegram, webhook,
		locks, redisClient, dialer, cfg.Poll, cfg.IMAP)

	// Archive exporter, optionally mirrored to S3
	var mirror archive.Mirror
	if cfg.Archive.S3Bucket != "" {
		m, err := archive.NewS3Mirror(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Region)
		if err != nil {
			log.Printf("Warning: S3 archive mirror init failed (archives stay local only): %v", err)
		} else {
			mirror = m
			log.Printf("S3 archive mirror configured (bucket: %s)", cfg.Archive.S3Bucket)
		}
	} else {
		log.Println("S3 archive mirror not configured (ARCHIVE_S3_BUCKET not set)")
	}
	archiver := archive.NewArchiver(st, cfg.Archive.Dir, mirror)

	// One poll loop per active account
	sched := scheduler.NewScheduler(st, fetchRunner, svc, cfg.Server.ShutdownGrace())

	authManager := auth.NewAuthManager(st, svc, cfg.Auth)
	if authManager.LoginRequired(ctx) {
		log.Println("Admin login enabled")
	} else {
		log.Println("Admin login disabled (no admin credentials configured)")
	}

	// API server
	h := api.NewHandlers(st, keychain, svc, tracker, cfg)
	h.SetFetchRunner(fetchRunner)
	h.SetArchiver(archiver)
	h.SetReconciler(sched)
	h.SetAuthManager(authManager)
	server := api.NewServer(cfg.Server, h, authManager)

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start poll scheduler: %v", err)
	}
	log.Printf("Poll scheduler started (%d account loops)", sched.LoopCount())

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized, server is ready")

	<-done
	log.Println("Shutting down...")

	// Stop poll loops first so no pass is cut off mid-write
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Println("Server stopped")
}
