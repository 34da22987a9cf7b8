package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maxretain/lifecycle-mailer/internal/api"
	"github.com/maxretain/lifecycle-mailer/internal/config"
	"github.com/maxretain/lifecycle-mailer/internal/orgs"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/logger"
	"github.com/maxretain/lifecycle-mailer/internal/provider"
	"github.com/maxretain/lifecycle-mailer/internal/quote"
	"github.com/maxretain/lifecycle-mailer/internal/rules"
	"github.com/maxretain/lifecycle-mailer/internal/schedule"
	"github.com/maxretain/lifecycle-mailer/internal/status"
	"github.com/maxretain/lifecycle-mailer/internal/templates"
	"github.com/maxretain/lifecycle-mailer/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  MaxRetain Lifecycle Mailer (cmd/server/main.go)           ║")
	log.Println("║  Enrollment-window scheduling, dispatch and tracking       ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.File != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755)
	}
	if err := logger.Setup(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.File, cfg.Logging.Console); err != nil {
		log.Printf("Warning: log file unavailable, console only: %v", err)
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	// Open the org registry and per-org stores
	manager, err := orgs.Open(cfg.Storage.DataDir)
	if err != nil {
		log.Fatalf("Failed to open org storage at %s: %v", cfg.Storage.DataDir, err)
	}
	defer manager.Close()
	log.Printf("Org storage ready (data dir: %s)", cfg.Storage.DataDir)

	// State rules: file if configured, otherwise the compiled-in set
	ruleSet := rules.Default()
	if cfg.Rules.Path != "" {
		ruleSet, err = rules.Load(cfg.Rules.Path)
		if err != nil {
			log.Fatalf("Failed to load state rules from %s: %v", cfg.Rules.Path, err)
		}
		log.Printf("State rules loaded from %s", cfg.Rules.Path)
	} else {
		log.Println("State rules: using built-in rule set")
	}
	engine := schedule.New(ruleSet)

	// Templates: directory if configured, otherwise the embedded set
	renderer := templates.Default()
	if cfg.Templates.Dir != "" {
		renderer, err = templates.New(cfg.Templates.Dir)
		if err != nil {
			log.Fatalf("Failed to load templates from %s: %v", cfg.Templates.Dir, err)
		}
		log.Printf("Templates loaded from %s", cfg.Templates.Dir)
	}
	if err := renderer.Validate(); err != nil {
		log.Fatalf("Template validation FAILED: %v", err)
	}
	log.Println("Templates validated")

	// SendGrid client serves both sending and status queries
	if cfg.SendGrid.APIKey == "" {
		log.Println("Warning: SENDGRID_API_KEY not set - only dry-run sends will work")
	}
	sg := provider.NewSendGrid(provider.Config{
		APIKey:    cfg.SendGrid.APIKey,
		FromEmail: cfg.SendGrid.FromEmail,
		FromName:  cfg.SendGrid.FromName,
		BaseURL:   cfg.SendGrid.BaseURL,
		Timeout:   cfg.SendGrid.Timeout(),
	})

	if cfg.SendGrid.WebhookKey == "" {
		log.Println("Warning: SENDGRID_WEBHOOK_KEY not set - webhook signatures will not be verified")
	}
	webhook := status.NewProcessor(manager, cfg.SendGrid.WebhookKey)

	signer := quote.New(cfg.Quote.BaseURL, cfg.Quote.Secret)

	// Redis is optional: without it rate limiting and the status worker
	// lock degrade to single-process behavior.
	redisClient := cfg.Redis.Client()
	if redisClient != nil {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v - continuing without it", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (rate limiting and worker locks enabled)", cfg.Redis.Addr)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured (REDIS_ADDR not set) - single-process rate limiting")
	}
	limiter := worker.NewSendRateLimiter(redisClient, worker.DefaultSendLimits())

	handlers := api.NewHandlers(manager, engine, renderer, sg, sg, webhook)
	handlers.SetSigner(signer)
	handlers.SetLimiter(limiter)

	// Background workers
	var sendWorker *worker.SendWorker
	if cfg.Workers.SendEnabled {
		sendWorker = worker.NewSendWorker(manager, sg, renderer, worker.SendConfig{
			Interval:  cfg.Workers.SendInterval(),
			ChunkSize: cfg.Workers.SendChunkSize,
			Signer:    signer,
			Limiter:   limiter,
		})
		if err := sendWorker.Start(); err != nil {
			log.Fatalf("Failed to start send worker: %v", err)
		}
		log.Printf("Send worker started (interval: %s, chunk size: %d)",
			cfg.Workers.SendInterval(), cfg.Workers.SendChunkSize)
	} else {
		log.Println("Send worker disabled (SEND_WORKER_ENABLED not set)")
	}

	var statusWorker *worker.StatusWorker
	if cfg.Workers.StatusEnabled {
		statusWorker = worker.NewStatusWorker(manager, sg, worker.StatusConfig{
			Interval: cfg.Workers.StatusInterval(),
			Redis:    redisClient,
		})
		if err := statusWorker.Start(); err != nil {
			log.Fatalf("Failed to start status worker: %v", err)
		}
		log.Printf("Status worker started (interval: %s)", cfg.Workers.StatusInterval())
	} else {
		log.Println("Status worker disabled (STATUS_WORKER_ENABLED not set)")
	}
	handlers.SetWorkers(sendWorker, statusWorker)

	server := api.NewServer(cfg, handlers)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized - server is ready")

	<-done
	log.Println("Shutting down...")

	if sendWorker != nil {
		sendWorker.Stop()
	}
	if statusWorker != nil {
		statusWorker.Stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if redisClient != nil {
		redisClient.Close()
	}

	log.Println("Server stopped")
}
