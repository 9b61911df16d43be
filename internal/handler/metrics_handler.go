package handler

import (
	"fmt"
	"net/http"
	"time"

	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"
	"HouseholdTelemetryAPI/internal/service"

	"github.com/gorilla/mux"
)

// MetricsSampler is the sampler surface exposed over HTTP.
type MetricsSampler interface {
	Config() service.SamplerConfig
	UpdateConfig(u service.SamplerConfigUpdate) (service.SamplerConfig, error)
	Snapshot() models.MetricSnapshot
	Events() []models.Event
	EventsSince(d time.Duration) []models.Event
}

// SamplerConfigDTO carries intervals in milliseconds on the wire.
type SamplerConfigDTO struct {
	SystemIntervalMs      int64 `json:"system_interval_ms"`
	ApplicationIntervalMs int64 `json:"application_interval_ms"`
	DatabaseIntervalMs    int64 `json:"database_interval_ms"`
	RetentionPeriodMs     int64 `json:"retention_period_ms"`
	MaxEventsStored       int   `json:"max_events_stored"`
}

type SamplerConfigPatch struct {
	SystemIntervalMs      *int64 `json:"system_interval_ms"`
	ApplicationIntervalMs *int64 `json:"application_interval_ms"`
	DatabaseIntervalMs    *int64 `json:"database_interval_ms"`
	RetentionPeriodMs     *int64 `json:"retention_period_ms"`
	MaxEventsStored       *int   `json:"max_events_stored"`
}

func toSamplerDTO(c service.SamplerConfig) SamplerConfigDTO {
	return SamplerConfigDTO{
		SystemIntervalMs:      c.SystemInterval.Milliseconds(),
		ApplicationIntervalMs: c.ApplicationInterval.Milliseconds(),
		DatabaseIntervalMs:    c.DatabaseInterval.Milliseconds(),
		RetentionPeriodMs:     c.RetentionPeriod.Milliseconds(),
		MaxEventsStored:       c.MaxEventsStored,
	}
}

func durationPtr(field string, ms *int64) (*time.Duration, error) {
	if ms == nil {
		return nil, nil
	}
	d, err := msToDuration(*ms)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return &d, nil
}

func (p SamplerConfigPatch) toUpdate() (service.SamplerConfigUpdate, error) {
	u := service.SamplerConfigUpdate{MaxEventsStored: p.MaxEventsStored}
	fields := []struct {
		name string
		ms   *int64
		dst  **time.Duration
	}{
		{"system_interval_ms", p.SystemIntervalMs, &u.SystemInterval},
		{"application_interval_ms", p.ApplicationIntervalMs, &u.ApplicationInterval},
		{"database_interval_ms", p.DatabaseIntervalMs, &u.DatabaseInterval},
		{"retention_period_ms", p.RetentionPeriodMs, &u.RetentionPeriod},
	}
	for _, f := range fields {
		d, err := durationPtr(f.name, f.ms)
		if err != nil {
			return service.SamplerConfigUpdate{}, err
		}
		*f.dst = d
	}
	return u, nil
}

type MetricsHandler struct {
	sampler MetricsSampler
	log     *logger.Logger
}

func NewMetricsHandler(sampler MetricsSampler, log *logger.Logger) *MetricsHandler {
	return &MetricsHandler{
		sampler: sampler,
		log:     log,
	}
}

func (h *MetricsHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/metrics/config", h.GetConfig).Methods("GET")
	r.HandleFunc("/metrics/config", h.UpdateConfig).Methods("PUT")
	r.HandleFunc("/metrics/snapshot", h.GetSnapshot).Methods("GET")
	r.HandleFunc("/metrics/events", h.GetEvents).Methods("GET")
}

func (h *MetricsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, toSamplerDTO(h.sampler.Config()))
}

func (h *MetricsHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch SamplerConfigPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	update, err := patch.toUpdate()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.sampler.UpdateConfig(update)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Info("Sampler config updated: system=%v application=%v database=%v",
		cfg.SystemInterval, cfg.ApplicationInterval, cfg.DatabaseInterval)
	respondJSON(w, http.StatusOK, toSamplerDTO(cfg))
}

func (h *MetricsHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sampler.Snapshot())
}

// GetEvents returns recorded events, newest first. ?duration=<ms> limits the
// window and ?limit=<n> caps the count.
func (h *MetricsHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	durationMs, err := queryInt(r, "duration", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	window, err := msToDuration(int64(durationMs))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var events []models.Event
	if window > 0 {
		events = h.sampler.EventsSince(window)
	} else {
		events = h.sampler.Events()
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	if events == nil {
		events = []models.Event{}
	}

	respondJSON(w, http.StatusOK, events)
}
