// Package admin exposes operator-only diagnostics and control
// endpoints: host resource stats, a manual maintenance-sweep trigger,
// and settlement circuit breaker state, mirroring the teacher's own
// applications/httpapi/handler_system.go / handler_admin_config.go
// split between end-user and operator surfaces.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/finova-network/reward-engine/infrastructure/resilience"
)

// Sweeper triggers the engine's periodic maintenance pass on demand,
// for an operator who doesn't want to wait for the next cron tick.
type Sweeper interface {
	MaintenanceSweep(ctx context.Context, userIDs []string, now time.Time) error
}

// UserLister supplies the user population a manual sweep should cover.
type UserLister func(ctx context.Context) ([]string, error)

// Handler serves the admin surface.
type Handler struct {
	engine    Sweeper
	users     UserLister
	breaker   *resilience.CircuitBreaker
	startedAt time.Time
}

// New constructs an admin Handler. breaker may be nil if the caller
// doesn't want circuit breaker state exposed.
func New(engine Sweeper, users UserLister, breaker *resilience.CircuitBreaker) *Handler {
	return &Handler{engine: engine, users: users, breaker: breaker, startedAt: time.Now()}
}

type hostStatsResponse struct {
	UptimeSeconds   uint64  `json:"uptime_seconds"`
	CPUPercent      float64 `json:"cpu_percent"`
	MemUsedPercent  float64 `json:"mem_used_percent"`
	MemTotalBytes   uint64  `json:"mem_total_bytes"`
	ServiceUptime   string  `json:"service_uptime"`
	CircuitBreaker  string  `json:"settlement_circuit_breaker,omitempty"`
}

// HandleHostStats reports host CPU/memory/uptime, the operator's
// "is this box healthy" endpoint, via gopsutil rather than parsing
// /proc directly — the teacher's own health checks never went deeper
// than process-level metrics, but the spec's operator surface (§9)
// calls out host-level visibility as part of operations tooling.
func (h *Handler) HandleHostStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := hostStatsResponse{ServiceUptime: time.Since(h.startedAt).String()}

	if info, err := host.InfoWithContext(ctx); err == nil {
		resp.UptimeSeconds = info.Uptime
	}
	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
		resp.MemTotalBytes = vm.Total
	}
	if h.breaker != nil {
		resp.CircuitBreaker = h.breaker.State().String()
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleMaintenanceSweep runs Engine.MaintenanceSweep against every
// user UserLister reports, synchronously, for an operator-triggered
// RP-tier hysteresis reconciliation outside the cron schedule.
func (h *Handler) HandleMaintenanceSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userIDs, err := h.users(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := h.engine.MaintenanceSweep(ctx, userIDs, time.Now()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"users_swept": len(userIDs)})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
