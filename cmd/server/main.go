package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"flaggate/internal/audit"
	"flaggate/internal/flag/cache"
	"flaggate/internal/flag/handler"
	"flaggate/internal/flag/metrics"
	"flaggate/internal/flag/service"
	"flaggate/internal/flag/store"
	apphttp "flaggate/internal/http"
	"flaggate/internal/platform/config"
	"flaggate/internal/platform/httpserver"
	"flaggate/internal/platform/logger"
	"flaggate/internal/platform/middleware"
	platformredis "flaggate/internal/platform/redis"
)

// main wires dependencies and owns process lifecycle. Everything that can be
// absent (Redis, Kafka, Postgres) degrades instead of failing startup, except
// a configured-but-unreachable dependency, which is a hard error.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	ctx := context.Background()

	m := metrics.New()

	// Source of truth: Postgres when configured, in-memory otherwise. The
	// in-memory store is for development; it forgets everything on restart.
	var flagStore store.Store
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("ensure schema", "error", err)
			os.Exit(1)
		}
		flagStore = pg
		log.Info("using postgres store")
	} else {
		flagStore = store.NewInMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}

	var redisClient *goredis.Client
	rc, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if rc != nil {
		redisClient = rc.Client
		defer rc.Close()
		log.Info("cache enabled", "ttl", cfg.CacheTTL)
	} else {
		log.Warn("REDIS_URL not set, cache disabled")
	}
	flagCache := cache.New(redisClient, cfg.CacheTTL, log, m)

	var stream *audit.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		stream = audit.NewPublisher(sink, log, audit.WithAsyncBuffer(1024))
		defer stream.Close()
		log.Info("audit stream enabled", "topic", cfg.AuditTopic)
	}

	svc := service.New(flagStore, flagCache, stream, log, m)
	auth := middleware.NewAdminAuth(cfg.APIKey, cfg.JWTSigningKey, log)
	if !auth.Enabled() {
		log.Warn("API_KEY not set, mutations are unauthenticated")
	}

	router := apphttp.NewRouter(handler.New(svc, log), auth, svc.Health)
	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting flaggate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	if db != nil {
		_ = db.Close()
	}
}
