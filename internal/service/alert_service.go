package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"

	"github.com/google/uuid"
)

var (
	ErrAlertNotFound        = errors.New("alert not found")
	ErrAlertNotActive       = errors.New("alert is not active")
	ErrAlertAlreadyResolved = errors.New("alert already resolved")
	ErrConfigNotFound       = errors.New("alert config not found")
	ErrInvalidThresholds    = errors.New("invalid thresholds")
)

// DefaultConfigID names the config registered at construction.
const DefaultConfigID = "default"

// IAlertEngine is the management surface used by the HTTP layer.
type IAlertEngine interface {
	Configure(name string, thresholds models.Thresholds) (models.AlertConfig, error)
	UpdateConfig(id string, update AlertConfigUpdate) (models.AlertConfig, error)
	DeleteConfig(id string) error
	GetConfig(id string) (models.AlertConfig, error)
	ListConfigs() []models.AlertConfig
	Acknowledge(id, actor string) (models.Alert, error)
	Resolve(id, actor, note string) (models.Alert, error)
	ActiveAlerts() []models.Alert
	History(filter models.AlertFilter) []models.Alert
}

type AlertEventType string

const (
	AlertCreated      AlertEventType = "created"
	AlertAcknowledged AlertEventType = "acknowledged"
	AlertResolved     AlertEventType = "resolved"
)

type AlertNotification struct {
	Event AlertEventType `json:"event"`
	Alert models.Alert   `json:"alert"`
}

type AlertCallback func(AlertNotification)

// Broadcaster delivers an envelope to every live client.
type Broadcaster interface {
	Broadcast(env Envelope) int
}

type AlertEngineConfig struct {
	// Deduplicate suppresses a new alert while one of the same type from the
	// same config is still unresolved.
	Deduplicate bool
	// HistoryLimit caps resolved alerts kept; the oldest are dropped. 0 keeps all.
	HistoryLimit int
	Defaults     models.Thresholds
}

func DefaultAlertEngineConfig() AlertEngineConfig {
	return AlertEngineConfig{
		Deduplicate:  true,
		HistoryLimit: 1000,
		Defaults:     models.DefaultThresholds,
	}
}

type AlertConfigUpdate struct {
	Name       *string            `json:"name"`
	Thresholds *models.Thresholds `json:"thresholds"`
	Enabled    *bool              `json:"enabled"`
}

type alertSubscriber struct {
	id string
	fn AlertCallback
}

// AlertEngine evaluates samples against tiered thresholds and owns the
// alert state machine ACTIVE -> ACKNOWLEDGED -> RESOLVED.
type AlertEngine struct {
	broadcaster Broadcaster
	cfg         AlertEngineConfig
	instr       *Instrumentation
	log         *logger.Logger
	now         func() time.Time

	mu          sync.RWMutex
	configs     map[string]*models.AlertConfig
	active      map[string]*models.Alert
	history     []models.Alert
	subscribers []alertSubscriber
}

func NewAlertEngine(broadcaster Broadcaster, cfg AlertEngineConfig, instr *Instrumentation, log *logger.Logger) (*AlertEngine, error) {
	if err := validateThresholds(cfg.Defaults); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	e := &AlertEngine{
		broadcaster: broadcaster,
		cfg:         cfg,
		instr:       instr,
		log:         log,
		now:         time.Now,
		configs:     make(map[string]*models.AlertConfig),
		active:      make(map[string]*models.Alert),
	}

	now := e.now()
	e.configs[DefaultConfigID] = &models.AlertConfig{
		ID:         DefaultConfigID,
		Name:       "Default thresholds",
		Thresholds: cfg.Defaults,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return e, nil
}

func (e *AlertEngine) Configure(name string, thresholds models.Thresholds) (models.AlertConfig, error) {
	if strings.TrimSpace(name) == "" {
		return models.AlertConfig{}, errors.New("config name is required")
	}
	if err := validateThresholds(thresholds); err != nil {
		return models.AlertConfig{}, err
	}

	now := e.now()
	cfg := &models.AlertConfig{
		ID:         uuid.NewString(),
		Name:       name,
		Thresholds: thresholds,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	e.mu.Lock()
	e.configs[cfg.ID] = cfg
	e.mu.Unlock()

	e.log.Info("Alert config %s (%s) created", cfg.ID, name)
	return *cfg, nil
}

func (e *AlertEngine) UpdateConfig(id string, update AlertConfigUpdate) (models.AlertConfig, error) {
	if update.Thresholds != nil {
		if err := validateThresholds(*update.Thresholds); err != nil {
			return models.AlertConfig{}, err
		}
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return models.AlertConfig{}, errors.New("config name is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.configs[id]
	if !ok {
		return models.AlertConfig{}, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	if update.Name != nil {
		cfg.Name = *update.Name
	}
	if update.Thresholds != nil {
		cfg.Thresholds = *update.Thresholds
	}
	if update.Enabled != nil {
		cfg.Enabled = *update.Enabled
	}
	cfg.UpdatedAt = e.now()
	return *cfg, nil
}

func (e *AlertEngine) DeleteConfig(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.configs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	delete(e.configs, id)
	return nil
}

func (e *AlertEngine) GetConfig(id string) (models.AlertConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg, ok := e.configs[id]
	if !ok {
		return models.AlertConfig{}, fmt.Errorf("%w: %s", ErrConfigNotFound, id)
	}
	return *cfg, nil
}

// ListConfigs returns every config ordered by creation time.
func (e *AlertEngine) ListConfigs() []models.AlertConfig {
	e.mu.RLock()
	out := make([]models.AlertConfig, 0, len(e.configs))
	for _, cfg := range e.configs {
		out = append(out, *cfg)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (e *AlertEngine) Subscribe(fn AlertCallback) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.subscribers = append(e.subscribers, alertSubscriber{id: id, fn: fn})
	e.mu.Unlock()
	return id
}

func (e *AlertEngine) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subscribers {
		if sub.id == id {
			e.subscribers = append(e.subscribers[:i:i], e.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// Evaluate raises at most one alert per metric for the sample in update.
// When several enabled configs match, the most severe one wins.
func (e *AlertEngine) Evaluate(update MetricUpdate) []models.Alert {
	readings := readingsFor(update)
	if len(readings) == 0 {
		return nil
	}

	configs := e.enabledConfigs()
	if len(configs) == 0 {
		return nil
	}

	now := e.now()
	var created []models.Alert

	e.mu.Lock()
	for _, r := range readings {
		var (
			best      models.Severity
			cutoff    float64
			bestCfgID string
		)
		for _, cfg := range configs {
			sev, threshold, ok := classify(r.value, tierFor(cfg.Thresholds, r.metric))
			if ok && severityRank(sev) > severityRank(best) {
				best, cutoff, bestCfgID = sev, threshold, cfg.ID
			}
		}
		if best == "" {
			continue
		}

		typ := alertType(r.metric, best)
		if e.cfg.Deduplicate && e.hasUnresolvedLocked(typ, bestCfgID) {
			continue
		}

		alert := &models.Alert{
			ID:        uuid.NewString(),
			Type:      typ,
			ConfigID:  bestCfgID,
			Severity:  best,
			Metric:    r.metric,
			Category:  r.category,
			Value:     r.value,
			Threshold: cutoff,
			Message:   alertMessage(r.metric, best, r.value, cutoff),
			State:     models.StateActive,
			CreatedAt: now,
		}
		e.active[alert.ID] = alert
		created = append(created, *alert)
	}
	activeCount := len(e.active)
	e.mu.Unlock()

	for _, alert := range created {
		e.instr.alertRaised(alert.Severity)
		e.instr.alertTransition(models.StateActive, activeCount)
		e.log.Warn("Alert raised: %s", alert.Message)
		e.notify(AlertNotification{Event: AlertCreated, Alert: alert})
		if e.broadcaster != nil {
			e.broadcaster.Broadcast(Envelope{Type: MessageAlert, Data: alert})
		}
	}
	return created
}

func (e *AlertEngine) enabledConfigs() []models.AlertConfig {
	e.mu.RLock()
	out := make([]models.AlertConfig, 0, len(e.configs))
	for _, cfg := range e.configs {
		if cfg.Enabled {
			out = append(out, *cfg)
		}
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (e *AlertEngine) hasUnresolvedLocked(typ, configID string) bool {
	for _, a := range e.active {
		if a.Type == typ && a.ConfigID == configID {
			return true
		}
	}
	return false
}

// lookupMissLocked explains why id is not in the active set.
func (e *AlertEngine) lookupMissLocked(id string) error {
	for _, a := range e.history {
		if a.ID == id {
			return fmt.Errorf("%w: %s", ErrAlertAlreadyResolved, id)
		}
	}
	return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
}

// Acknowledge moves an ACTIVE alert to ACKNOWLEDGED.
func (e *AlertEngine) Acknowledge(id, actor string) (models.Alert, error) {
	e.mu.Lock()
	alert, ok := e.active[id]
	if !ok {
		err := e.lookupMissLocked(id)
		e.mu.Unlock()
		return models.Alert{}, err
	}
	if alert.State != models.StateActive {
		e.mu.Unlock()
		return models.Alert{}, fmt.Errorf("%w: %s is %s", ErrAlertNotActive, id, alert.State)
	}
	now := e.now()
	alert.State = models.StateAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = actor
	out := *alert
	activeCount := len(e.active)
	e.mu.Unlock()

	e.instr.alertTransition(models.StateAcknowledged, activeCount)
	e.log.Info("Alert %s acknowledged by %s", id, actor)
	e.notify(AlertNotification{Event: AlertAcknowledged, Alert: out})
	return out, nil
}

// Resolve closes any unresolved alert and moves it into history.
func (e *AlertEngine) Resolve(id, actor, note string) (models.Alert, error) {
	e.mu.Lock()
	alert, ok := e.active[id]
	if !ok {
		err := e.lookupMissLocked(id)
		e.mu.Unlock()
		return models.Alert{}, err
	}
	now := e.now()
	alert.State = models.StateResolved
	alert.ResolvedAt = &now
	alert.ResolvedBy = actor
	alert.ResolutionNote = note
	out := *alert

	delete(e.active, id)
	e.history = append(e.history, out)
	if limit := e.cfg.HistoryLimit; limit > 0 && len(e.history) > limit {
		drop := len(e.history) - limit
		e.history = append(e.history[:0:0], e.history[drop:]...)
	}
	activeCount := len(e.active)
	e.mu.Unlock()

	e.instr.alertTransition(models.StateResolved, activeCount)
	e.log.Info("Alert %s resolved by %s", id, actor)
	e.notify(AlertNotification{Event: AlertResolved, Alert: out})
	return out, nil
}

// ActiveAlerts returns unresolved alerts, newest first.
func (e *AlertEngine) ActiveAlerts() []models.Alert {
	e.mu.RLock()
	out := make([]models.Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// History returns resolved alerts matching filter, newest first.
func (e *AlertEngine) History(filter models.AlertFilter) []models.Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]models.Alert, 0)
	for i := len(e.history) - 1; i >= 0; i-- {
		if !filter.Match(e.history[i]) {
			continue
		}
		out = append(out, e.history[i])
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

func (e *AlertEngine) notify(n AlertNotification) {
	e.mu.RLock()
	subs := make([]alertSubscriber, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.RUnlock()

	for _, sub := range subs {
		e.deliver(sub, n)
	}
}

func (e *AlertEngine) deliver(sub alertSubscriber, n AlertNotification) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Alert subscriber %s panicked on %s: %v", sub.id, n.Event, r)
		}
	}()
	sub.fn(n)
}
