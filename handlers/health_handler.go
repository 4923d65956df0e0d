package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/devportal-backend/services/audit"
	"github.com/upb/devportal-backend/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProviderCounter reports how many sign-in providers are registered
type ProviderCounter interface {
	Count() int
}

// DatabaseChecker verifies the audit store is reachable
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// AuditQueue reports the state of the asynchronous audit writer
type AuditQueue interface {
	GetStats() audit.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db        DatabaseChecker
	providers ProviderCounter
	audit     AuditQueue
	logger    *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db and queue are nil when no audit store is configured.
func NewHealthHandler(db DatabaseChecker, providers ProviderCounter, queue AuditQueue, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		providers: providers,
		audit:     queue,
		logger:    logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
// Readiness check - validates that all configured dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db == nil {
		checks["database"] = "disabled"
	} else if err := h.db.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		checks["database"] = "unhealthy"
		allHealthy = false
	} else {
		checks["database"] = "healthy"
	}

	if h.audit == nil {
		checks["audit"] = "disabled"
	} else {
		stats := h.audit.GetStats()
		checks["audit"] = "running"
		if !stats.Started {
			checks["audit"] = "stopped"
			allHealthy = false
		}
		checks["audit_pending"] = strconv.Itoa(stats.PendingEvents)
		checks["audit_dropped"] = strconv.FormatInt(stats.Dropped, 10)
		checks["audit_failed"] = strconv.FormatInt(stats.Failed, 10)
	}

	count := 0
	if h.providers != nil {
		count = h.providers.Count()
	}
	checks["providers"] = strconv.Itoa(count)

	timestamp := time.Now().UTC().Format(time.RFC3339)
	var err error
	if allHealthy {
		err = utils.WriteOK(w, HealthResponse{
			Status:    "healthy",
			Timestamp: timestamp,
			Checks:    checks,
		})
	} else {
		err = utils.WriteServiceUnavailable(w, "Service is not ready", map[string]interface{}{
			"status":    "unhealthy",
			"timestamp": timestamp,
			"checks":    checks,
		})
	}
	if err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
