package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devrev/tableview/internal/model"
	"github.com/devrev/tableview/internal/service"
)

// ServiceName is the gRPC health service name reported for the view service
const ServiceName = "tableview.ViewService"

// HealthChecker derives service health from the registered table views
type HealthChecker struct {
	views        *service.ViewService
	grpcHealth   *health.Server
	logger       *zap.Logger
	interval     time.Duration
	maxStale     time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.ServiceStatus
	tables      []model.TableHealth
	livenessOK  bool
	readinessOK bool
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	// Interval between checks
	Interval time.Duration
	// MaxStaleness marks a table degraded when its last successful sync is
	// older; zero disables the check
	MaxStaleness time.Duration
	// ProbeTimeout bounds the timeline listing used as reachability probe
	ProbeTimeout time.Duration
}

// NewHealthChecker creates a health checker. grpcHealth may be nil.
func NewHealthChecker(cfg *HealthCheckConfig, views *service.ViewService, grpcHealth *health.Server, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &HealthChecker{
		views:        views,
		grpcHealth:   grpcHealth,
		logger:       logger,
		interval:     interval,
		maxStale:     cfg.MaxStaleness,
		probeTimeout: probeTimeout,
		now:          time.Now,
		livenessOK:   true,
		status:       model.ServiceStatusHealthy,
	}
}

// Start runs checks until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks(ctx)
	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks checks every registered table once and publishes the result
func (h *HealthChecker) RunChecks(ctx context.Context) {
	names := h.views.Tables()
	tables := make([]model.TableHealth, 0, len(names))
	status := model.ServiceStatusHealthy
	for _, name := range names {
		th := h.checkTable(ctx, name)
		tables = append(tables, th)
		status = worse(status, th.Status)
	}
	ready := len(names) > 0 && status != model.ServiceStatusUnhealthy

	h.mu.Lock()
	h.lastCheck = h.now()
	h.tables = tables
	h.status = status
	h.livenessOK = true
	h.readinessOK = ready
	h.mu.Unlock()

	if h.grpcHealth != nil {
		serving := healthpb.HealthCheckResponse_SERVING
		if !ready {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.grpcHealth.SetServingStatus(ServiceName, serving)
		h.grpcHealth.SetServingStatus("", serving)
	}

	h.logger.Debug("Health check completed",
		zap.String("status", string(status)),
		zap.Bool("readiness", ready),
		zap.Int("tables", len(tables)))
}

// checkTable rates one table: an unreachable timeline is unhealthy, a failed
// or stale last sync is degraded
func (h *HealthChecker) checkTable(ctx context.Context, name string) model.TableHealth {
	th := model.TableHealth{Table: name, Status: model.ServiceStatusHealthy}

	v, err := h.views.View(name)
	if err != nil {
		th.Status = model.ServiceStatusUnhealthy
		th.Message = err.Error()
		return th
	}
	if last, ok := v.LastInstant(); ok {
		th.LastInstant = last.Timestamp
	}

	if tl, ok := h.views.Timeline(name); ok {
		probeCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
		_, err := tl.ListInstants(probeCtx)
		cancel()
		if err != nil {
			th.Status = model.ServiceStatusUnhealthy
			th.Message = fmt.Sprintf("timeline unreachable: %v", err)
			return th
		}
	}

	status, err := h.views.Status(name)
	if err != nil {
		th.Status = model.ServiceStatusUnhealthy
		th.Message = err.Error()
		return th
	}
	th.LastSyncOK = status.LastSyncOK
	th.LastSyncAt = status.LastSyncAt.Unix()
	switch {
	case !status.LastSyncOK:
		th.Status = model.ServiceStatusDegraded
		if status.LastError != nil {
			th.Message = status.LastError.Error()
		} else {
			th.Message = "last sync failed"
		}
	case h.maxStale > 0 && h.now().Sub(status.LastSyncAt) > h.maxStale:
		th.Status = model.ServiceStatusDegraded
		th.Message = fmt.Sprintf("last sync %s ago", h.now().Sub(status.LastSyncAt).Truncate(time.Second))
	}
	return th
}

func worse(a, b model.ServiceStatus) model.ServiceStatus {
	rank := map[model.ServiceStatus]int{
		model.ServiceStatusHealthy:   0,
		model.ServiceStatusDegraded:  1,
		model.ServiceStatusUnhealthy: 2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// IsLive returns whether the process is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the views can serve queries (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the result of the last check
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tables := make([]model.TableHealth, len(h.tables))
	copy(tables, h.tables)
	return model.HealthStatus{
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Tables:    tables,
	}
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
	if h.grpcHealth != nil && !ready {
		h.grpcHealth.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()
	status := h.GetStatus()
	writeProbe(w, live, map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	status := h.GetStatus()
	writeProbe(w, ready, map[string]interface{}{
		"ready":  ready,
		"status": status.Status,
		"tables": status.Tables,
	})
}

func writeProbe(w http.ResponseWriter, ok bool, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(body)
}
