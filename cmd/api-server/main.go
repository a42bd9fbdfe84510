package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebridge/patient-referral/internal/api"
	"github.com/carebridge/patient-referral/internal/config"
	"github.com/carebridge/patient-referral/internal/db"
	"github.com/carebridge/patient-referral/internal/fixtures"
	"github.com/carebridge/patient-referral/internal/notify"
	redisclient "github.com/carebridge/patient-referral/internal/redis"
	"github.com/carebridge/patient-referral/internal/referral"
	"github.com/carebridge/patient-referral/internal/session"
)

const version = "0.3.0"

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stdout })).
		With().Timestamp().Caller().Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configuration loaded")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.Connect(pgCtx, cfg.PostgresDSN, db.PoolSettings{})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.Connect(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := referral.NewPgRepository(pgPool)
	guard := redisclient.NewRedisPatientGuard(rdb, cfg.AcceptGuardTTL)
	broker := notify.NewRedisBroker(rdb, log)
	svc := referral.NewService(repo, guard, broker, log)
	sessions := session.NewManager(rdb, repo, cfg.SessionTTL)
	registry := api.NewDashboardRegistry(rootCtx, repo, broker, log)
	defer registry.CloseAll()

	var fixtureStore *fixtures.Store
	if cfg.FixturesDir != "" {
		fixtureStore = fixtures.NewStore(cfg.FixturesDir)
	}

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		Repo:      repo,
		Sessions:  sessions,
		Dashboard: registry,
		Fixtures:  fixtureStore,
		PgPool:    pgPool,
		Redis:     rdb,
		Logger:    log,
		Env:       cfg.Env,
		Version:   version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
