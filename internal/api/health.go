package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// depProbe checks one backing dependency within the given context.
type depProbe struct {
	name string
	// hard dependencies fail readiness; soft ones only degrade it. Redis
	// is soft: sessions and notifications suffer but reads keep working.
	hard  bool
	check func(ctx context.Context) error
}

type HealthHandler struct {
	probes  []depProbe
	env     string
	version string
}

func NewHealthHandler(pgPool *pgxpool.Pool, rdb *redis.Client, env, version string) *HealthHandler {
	return &HealthHandler{
		env:     env,
		version: version,
		probes: []depProbe{
			{name: "postgres", hard: true, check: func(ctx context.Context) error {
				return pgPool.Ping(ctx)
			}},
			{name: "redis", hard: false, check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}},
		},
	}
}

type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type HealthResponse struct {
	Status       string                      `json:"status"`
	Version      string                      `json:"version,omitempty"`
	Env          string                      `json:"env,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]DependencyStatus, len(h.probes))
	status := "ok"

	for _, p := range h.probes {
		probeCtx, probeCancel := context.WithTimeout(ctx, time.Second)
		start := time.Now()
		err := p.check(probeCtx)
		probeCancel()

		ds := DependencyStatus{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}
		if err != nil {
			ds.Status = "down"
			if p.hard {
				status = "error"
			} else if status == "ok" {
				status = "degraded"
			}
		}
		deps[p.name] = ds
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}
