package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carebridge/patient-referral/internal/fixtures"
	"github.com/carebridge/patient-referral/internal/referral"
)

type RouterConfig struct {
	Service   *referral.Service
	Repo      referral.Repository
	Sessions  SessionStore
	Dashboard *DashboardRegistry
	Fixtures  *fixtures.Store
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(SessionMiddleware(cfg.Sessions))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Auth
	r.Post("/auth/login", loginHandler(cfg.Sessions))
	r.Post("/auth/logout", logoutHandler(cfg.Sessions, cfg.Dashboard))

	// Patients and the accept workflow
	r.Post("/patients", registerPatientHandler(cfg.Service))
	r.Get("/patients", listPatientsHandler(cfg.Repo))
	r.Post("/patients/{id}/accept", acceptPatientHandler(cfg.Service, cfg.Dashboard))
	r.Post("/patients/{id}/status", transitionPatientHandler(cfg.Service))

	// Dashboards
	r.Get("/dashboard", dashboardHandler(cfg.Dashboard))
	r.Post("/dashboard/refresh", dashboardRefreshHandler(cfg.Dashboard))

	// Organizations
	r.Get("/hospitals/{id}", getHospitalHandler(cfg.Repo))
	r.Get("/ngos/{id}", getNGOHandler(cfg.Repo))
	r.Post("/ngos/capacity", updateCapacityHandler(cfg.Service))

	// Legacy demo/offline data surface
	if cfg.Fixtures != nil {
		r.Get("/data", dataHandler(cfg.Fixtures))
	}

	return r
}
