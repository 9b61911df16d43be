package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"
	"HouseholdTelemetryAPI/internal/report"
	"HouseholdTelemetryAPI/internal/service"

	"github.com/gorilla/mux"
)

type CreateAlertConfigRequest struct {
	Name       string             `json:"name"`
	Thresholds *models.Thresholds `json:"thresholds"`
}

type AlertActionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

type AlertHandler struct {
	alerts service.IAlertEngine
	log    *logger.Logger
}

func NewAlertHandler(alerts service.IAlertEngine, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		alerts: alerts,
		log:    log,
	}
}

func (h *AlertHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/alerts/configs", h.ListConfigs).Methods("GET")
	r.HandleFunc("/alerts/configs", h.CreateConfig).Methods("POST")
	r.HandleFunc("/alerts/configs/{id}", h.GetConfig).Methods("GET")
	r.HandleFunc("/alerts/configs/{id}", h.UpdateConfig).Methods("PUT")
	r.HandleFunc("/alerts/configs/{id}", h.DeleteConfig).Methods("DELETE")
	r.HandleFunc("/alerts/active", h.GetActiveAlerts).Methods("GET")
	r.HandleFunc("/alerts/history", h.GetAlertHistory).Methods("GET")
	r.HandleFunc("/alerts/history/report", h.GetHistoryReport).Methods("GET")
	r.HandleFunc("/alerts/{id}/acknowledge", h.Acknowledge).Methods("PUT")
	r.HandleFunc("/alerts/{id}/resolve", h.Resolve).Methods("PUT")
}

func (h *AlertHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.alerts.ListConfigs())
}

func (h *AlertHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var req CreateAlertConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	thresholds := models.DefaultThresholds
	if req.Thresholds != nil {
		thresholds = *req.Thresholds
	}

	cfg, err := h.alerts.Configure(req.Name, thresholds)
	if err != nil {
		respondError(w, statusOrBadRequest(err), err.Error())
		return
	}

	h.log.Info("Alert config created: %s (%s)", cfg.Name, cfg.ID)
	respondJSON(w, http.StatusCreated, cfg)
}

func (h *AlertHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.alerts.GetConfig(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *AlertHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update service.AlertConfigUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := h.alerts.UpdateConfig(mux.Vars(r)["id"], update)
	if err != nil {
		respondError(w, statusOrBadRequest(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (h *AlertHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.alerts.DeleteConfig(id); err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}

	h.log.Info("Alert config deleted: %s", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AlertHandler) GetActiveAlerts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.alerts.ActiveAlerts())
}

func (h *AlertHandler) GetAlertHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r, 50)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.alerts.History(filter))
}

func (h *AlertHandler) GetHistoryReport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r, 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	rep := report.AlertReport{
		Title:       "Household telemetry alert history",
		GeneratedAt: now,
		Filter:      filter,
		Alerts:      h.alerts.History(filter),
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="alert-history-%s.pdf"`, now.Format("20060102-150405")))
	if err := rep.Write(w); err != nil {
		h.log.Error("Failed to render alert report: %v", err)
	}
}

func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req, err := decodeAction(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := h.alerts.Acknowledge(id, req.Actor)
	if err != nil {
		h.log.Warn("Failed to acknowledge alert %s: %v", id, err)
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	req, err := decodeAction(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := h.alerts.Resolve(id, req.Actor, req.Note)
	if err != nil {
		h.log.Warn("Failed to resolve alert %s: %v", id, err)
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, alert)
}

// decodeAction accepts an empty body.
func decodeAction(w http.ResponseWriter, r *http.Request) (AlertActionRequest, error) {
	var req AlertActionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	if req.Actor == "" {
		req.Actor = "api"
	}
	return req, nil
}

func parseAlertFilter(r *http.Request, defaultLimit int) (models.AlertFilter, error) {
	q := r.URL.Query()
	filter := models.AlertFilter{
		Severity: models.Severity(q.Get("severity")),
		State:    models.AlertState(q.Get("state")),
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return filter, fmt.Errorf("invalid severity: %q", filter.Severity)
	}

	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryInt(r, "limit", defaultLimit); err != nil {
		return filter, err
	}
	return filter, nil
}

// statusOrBadRequest treats unclassified errors from config writes as client errors.
func statusOrBadRequest(err error) int {
	if code := statusForError(err); code != http.StatusInternalServerError {
		return code
	}
	return http.StatusBadRequest
}
