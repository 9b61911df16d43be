package handler

import (
	"context"
	"net/http"
	"time"

	"HouseholdTelemetryAPI/internal/logger"

	"github.com/gorilla/mux"
)

// DatabaseChecker is satisfied by *database.Database.
type DatabaseChecker interface {
	Health(ctx context.Context) error
}

// BrokerStatus is satisfied by *mqtt.Client.
type BrokerStatus interface {
	IsConnected() bool
}

type SamplerStatus interface {
	Running() bool
}

// ServiceStatus is nil for components that are not configured.
type ServiceStatus struct {
	Sampler  bool  `json:"sampler"`
	Database *bool `json:"database,omitempty"`
	MQTT     *bool `json:"mqtt,omitempty"`
}

type HealthResponse struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Services  ServiceStatus `json:"services"`
}

type HealthHandler struct {
	sampler   SamplerStatus
	db        DatabaseChecker
	broker    BrokerStatus
	log       *logger.Logger
	startedAt time.Time
}

// NewHealthHandler accepts nil db or broker when those integrations are disabled.
func NewHealthHandler(sampler SamplerStatus, db DatabaseChecker, broker BrokerStatus, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		sampler:   sampler,
		db:        db,
		broker:    broker,
		log:       log,
		startedAt: time.Now(),
	}
}

func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health/live", h.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", h.Readiness).Methods("GET")
}

func (h *HealthHandler) check(ctx context.Context) (ServiceStatus, bool) {
	status := ServiceStatus{Sampler: h.sampler.Running()}
	healthy := status.Sampler

	if h.db != nil {
		ok := h.db.Health(ctx) == nil
		status.Database = &ok
		healthy = healthy && ok
	}
	if h.broker != nil {
		ok := h.broker.IsConnected()
		status.MQTT = &ok
		healthy = healthy && ok
	}
	return status, healthy
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services, healthy := h.check(ctx)
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Services:  services,
	}

	statusCode := http.StatusOK
	if !healthy {
		response.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
		h.log.Warn("Health check degraded - sampler: %v, DB: %v, MQTT: %v",
			services.Sampler, fmtOptional(services.Database), fmtOptional(services.MQTT))
	}

	respondJSON(w, statusCode, response)
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, healthy := h.check(ctx); !healthy {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func fmtOptional(b *bool) string {
	if b == nil {
		return "disabled"
	}
	if *b {
		return "up"
	}
	return "down"
}
