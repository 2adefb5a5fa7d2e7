package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/visscan/api/internal/config"
	"github.com/visscan/api/internal/infra/gitlab"
	"github.com/visscan/api/internal/infra/http"
	"github.com/visscan/api/internal/infra/http/middleware"
	"github.com/visscan/api/internal/infra/http/routes"
	"github.com/visscan/api/internal/infra/jobs"
	"github.com/visscan/api/internal/infra/postgres"
	"github.com/visscan/api/internal/infra/redis"
	"github.com/visscan/api/pkg/logger"
	"github.com/visscan/api/pkg/validator"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	db, err := postgres.New(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return 1
	}
	defer closeWithLog(db, "database", log)
	log.Info("database connected")

	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)

	ci := gitlab.NewClient(&cfg.GitLab, log)

	encryptor, err := newEncryptor(cfg, log)
	if err != nil {
		log.Error("failed to initialize encryptor", "error", err)
		return 1
	}

	// ==========================================================================
	// Repositories & Services
	// ==========================================================================
	repos := NewRepositories(db)

	jobClient, err := jobs.NewClient(jobs.ClientConfig{
		RedisAddr:     cfg.Redis.Addr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, log)
	if err != nil {
		log.Error("failed to initialize job client", "error", err)
		return 1
	}
	defer closeWithLog(jobClient, "job client", log)

	services := NewServices(&ServiceDeps{
		Config:    cfg,
		Log:       log,
		Repos:     repos,
		CI:        ci,
		JobClient: jobClient,
		Encryptor: encryptor,
	})
	log.Info("services initialized")

	// ==========================================================================
	// Handlers & HTTP Server
	// ==========================================================================
	v := validator.New()
	handlers := NewHandlers(&HandlerDeps{
		Config:      cfg,
		Log:         log,
		Validator:   v,
		DB:          db,
		RedisClient: redisClient,
		Services:    services,
	})

	server := http.NewServer(cfg, log)

	webhookLimiter := middleware.NewRateLimiter(cfg.Webhook.RatePerSecond, cfg.Webhook.Burst, log)
	server.OnShutdown(webhookLimiter.Stop)

	routes.Register(server.Router(), handlers, routes.Options{
		WebhookRateLimit: webhookLimiter.Middleware(),
	})

	// ==========================================================================
	// Workers
	// ==========================================================================
	workers := NewWorkers(&WorkerDeps{
		Config:   cfg,
		Log:      log,
		Repos:    repos,
		Services: services,
		CI:       ci,
	})

	if err := workers.Start(log); err != nil {
		log.Error("failed to start workers", "error", err)
		return 1
	}

	// ==========================================================================
	// Start Server
	// ==========================================================================
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	workers.Stop(log)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

func initLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
