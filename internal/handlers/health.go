package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/quimera-ai/commerce-api/internal/services"
)

const readinessCheckTimeout = 5 * time.Second

// ReadinessCheck probes one dependency; a non-nil error marks the service degraded.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  services.BuildInfo
	clock  func() time.Time
	checks map[string]ReadinessCheck
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo attaches build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the time source, primarily for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithReadinessCheck registers a named dependency probe for /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name == "" || check == nil {
			return
		}
		h.checks[name] = check
	}
}

// NewHealthHandlers constructs probe handlers with the provided options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:  time.Now,
		checks: make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	UptimeSecs  int64  `json:"uptimeSeconds,omitempty"`
}

type readyzResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Details []string          `json:"details,omitempty"`
}

// Healthz reports process liveness together with build metadata.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status:      "ok",
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
	}
	if !h.build.StartedAt.IsZero() {
		resp.UptimeSecs = int64(h.clock().Sub(h.build.StartedAt).Seconds())
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// Readyz runs every registered dependency probe and reports 503 when any fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := readyzResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), readinessCheckTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = "failed"
			resp.Details = append(resp.Details, name+": "+err.Error())
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}
