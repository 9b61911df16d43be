package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"

	"github.com/google/uuid"
)

// MetricsSource produces one fresh reading per category.
type MetricsSource interface {
	SampleSystem(ctx context.Context) (*models.SystemMetrics, error)
	SampleApplication(ctx context.Context) (*models.ApplicationMetrics, error)
	SampleDatabase(ctx context.Context) (*models.DatabaseMetrics, error)
}

// MetricUpdate is delivered to subscribers after every sample and every
// recorded event. Data holds the category payload or a models.Event.
type MetricUpdate struct {
	Category  models.Category `json:"category"`
	Timestamp time.Time       `json:"timestamp"`
	Data      interface{}     `json:"data"`
}

type MetricsCallback func(MetricUpdate)

type SamplerConfig struct {
	SystemInterval      time.Duration
	ApplicationInterval time.Duration
	DatabaseInterval    time.Duration
	RetentionPeriod     time.Duration
	MaxEventsStored     int
}

func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		SystemInterval:      5 * time.Second,
		ApplicationInterval: time.Second,
		DatabaseInterval:    10 * time.Second,
		RetentionPeriod:     time.Hour,
		MaxEventsStored:     1000,
	}
}

func (c SamplerConfig) Validate() error {
	if c.SystemInterval <= 0 || c.ApplicationInterval <= 0 || c.DatabaseInterval <= 0 {
		return errors.New("sampling intervals must be positive")
	}
	if c.MaxEventsStored < 1 {
		return errors.New("max events stored must be at least 1")
	}
	if c.RetentionPeriod < 0 {
		return errors.New("retention period cannot be negative")
	}
	return nil
}

func (c SamplerConfig) interval(cat models.Category) time.Duration {
	switch cat {
	case models.CategorySystem:
		return c.SystemInterval
	case models.CategoryApplication:
		return c.ApplicationInterval
	default:
		return c.DatabaseInterval
	}
}

// SamplerConfigUpdate is a partial config; nil fields are left unchanged.
type SamplerConfigUpdate struct {
	SystemInterval      *time.Duration
	ApplicationInterval *time.Duration
	DatabaseInterval    *time.Duration
	RetentionPeriod     *time.Duration
	MaxEventsStored     *int
}

func (u SamplerConfigUpdate) apply(c SamplerConfig) SamplerConfig {
	if u.SystemInterval != nil {
		c.SystemInterval = *u.SystemInterval
	}
	if u.ApplicationInterval != nil {
		c.ApplicationInterval = *u.ApplicationInterval
	}
	if u.DatabaseInterval != nil {
		c.DatabaseInterval = *u.DatabaseInterval
	}
	if u.RetentionPeriod != nil {
		c.RetentionPeriod = *u.RetentionPeriod
	}
	if u.MaxEventsStored != nil {
		c.MaxEventsStored = *u.MaxEventsStored
	}
	return c
}

type subscriber struct {
	id string
	fn MetricsCallback
}

// MetricsSampler samples each category on its own ticker, keeps the last
// good reading per category and fans every update out to subscribers.
type MetricsSampler struct {
	source MetricsSource
	events *EventLog
	instr  *Instrumentation
	log    *logger.Logger
	now    func() time.Time

	mu          sync.RWMutex
	cfg         SamplerConfig
	system      *models.SystemMetrics
	application *models.ApplicationMetrics
	database    *models.DatabaseMetrics
	subscribers []subscriber

	// lifecycle serialises Start, Stop and UpdateConfig.
	lifecycle sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewMetricsSampler(source MetricsSource, cfg SamplerConfig, instr *Instrumentation, log *logger.Logger) (*MetricsSampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sampler config: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MetricsSampler{
		source: source,
		events: NewEventLog(cfg.MaxEventsStored, cfg.RetentionPeriod),
		instr:  instr,
		log:    log,
		now:    time.Now,
		cfg:    cfg,
	}, nil
}

// Start launches the three category loops. Each loop samples once right
// away and then on every tick. Calling Start twice is a no-op.
func (s *MetricsSampler) Start() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.startLocked()
}

func (s *MetricsSampler) startLocked() {
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	cfg := s.Config()
	for _, cat := range models.SampledCategories {
		s.wg.Add(1)
		go s.loop(ctx, cat, cfg.interval(cat))
	}
	s.log.Info("Metrics sampler started (system=%s application=%s database=%s)",
		cfg.SystemInterval, cfg.ApplicationInterval, cfg.DatabaseInterval)
}

// Stop cancels all three loops and waits for in-flight samples to finish.
// It must not be called from a subscriber callback.
func (s *MetricsSampler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

func (s *MetricsSampler) stopLocked() {
	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.Info("Metrics sampler stopped")
}

func (s *MetricsSampler) Running() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.running
}

func (s *MetricsSampler) loop(ctx context.Context, cat models.Category, interval time.Duration) {
	defer s.wg.Done()

	s.sample(ctx, cat)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx, cat)
		}
	}
}

// SampleNow runs one collection for cat outside the ticker schedule.
func (s *MetricsSampler) SampleNow(ctx context.Context, cat models.Category) {
	s.sample(ctx, cat)
}

func (s *MetricsSampler) sample(ctx context.Context, cat models.Category) {
	start := time.Now()
	data, err := s.collect(ctx, cat)
	s.instr.observeSample(cat, time.Since(start), err)
	if err != nil {
		s.log.Error("Failed to collect %s metrics: %v", cat, err)
		return
	}

	ts := s.now()
	s.mu.Lock()
	switch m := data.(type) {
	case *models.SystemMetrics:
		s.system = m
	case *models.ApplicationMetrics:
		s.application = m
	case *models.DatabaseMetrics:
		s.database = m
	}
	s.mu.Unlock()

	s.notify(MetricUpdate{Category: cat, Timestamp: ts, Data: data})

	for _, a := range detectAnomalies(data) {
		s.RecordEvent(a.eventType, a.data)
	}
}

// collect calls the source and turns a panic into an error so the loop
// keeps ticking.
func (s *MetricsSampler) collect(ctx context.Context, cat models.Category) (data interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collector panicked: %v", r)
		}
	}()

	switch cat {
	case models.CategorySystem:
		m, err := s.source.SampleSystem(ctx)
		if err != nil || m == nil {
			return nil, nilResult(err)
		}
		return m, nil
	case models.CategoryApplication:
		m, err := s.source.SampleApplication(ctx)
		if err != nil || m == nil {
			return nil, nilResult(err)
		}
		return m, nil
	case models.CategoryDatabase:
		m, err := s.source.SampleDatabase(ctx)
		if err != nil || m == nil {
			return nil, nilResult(err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown category %q", cat)
}

func nilResult(err error) error {
	if err != nil {
		return err
	}
	return errors.New("collector returned no data")
}

// Subscribe registers fn for every update and returns its id. fn runs
// synchronously on the sampling goroutine.
func (s *MetricsSampler) Subscribe(fn MetricsCallback) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.subscribers = append(s.subscribers, subscriber{id: id, fn: fn})
	s.mu.Unlock()
	return id
}

func (s *MetricsSampler) Unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub.id == id {
			s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

func (s *MetricsSampler) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *MetricsSampler) notify(update MetricUpdate) {
	s.mu.RLock()
	subs := make([]subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		s.deliver(sub, update)
	}
}

func (s *MetricsSampler) deliver(sub subscriber, update MetricUpdate) {
	defer func() {
		if r := recover(); r != nil {
			s.instr.subscriberPanicked()
			s.log.Error("Metrics subscriber %s panicked on %s update: %v", sub.id, update.Category, r)
		}
	}()
	sub.fn(update)
}

// RecordEvent prepends an event to the log and notifies subscribers with
// category "events".
func (s *MetricsSampler) RecordEvent(eventType string, data map[string]interface{}) models.Event {
	ev := models.Event{
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Type:      eventType,
		Data:      data,
	}
	s.events.Add(ev)
	s.instr.eventRecorded(eventType)
	s.log.Debug("Recorded event %s", eventType)

	s.notify(MetricUpdate{Category: models.CategoryEvents, Timestamp: ev.Timestamp, Data: ev})
	return ev
}

func (s *MetricsSampler) Events() []models.Event {
	return s.events.List()
}

// EventsSince returns events no older than d.
func (s *MetricsSampler) EventsSince(d time.Duration) []models.Event {
	return s.events.Since(s.now().Add(-d))
}

// Current returns the last good payload for cat, or nil.
func (s *MetricsSampler) Current(cat models.Category) interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch cat {
	case models.CategorySystem:
		if s.system != nil {
			return s.system
		}
	case models.CategoryApplication:
		if s.application != nil {
			return s.application
		}
	case models.CategoryDatabase:
		if s.database != nil {
			return s.database
		}
	case models.CategoryEvents:
		return s.events.List()
	}
	return nil
}

func (s *MetricsSampler) Snapshot() models.MetricSnapshot {
	s.mu.RLock()
	snap := models.MetricSnapshot{
		Timestamp:   s.now(),
		System:      s.system,
		Application: s.application,
		Database:    s.database,
	}
	s.mu.RUnlock()
	snap.Events = s.events.List()
	return snap
}

func (s *MetricsSampler) Config() SamplerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig merges u into the running config. When the sampler is
// running all three loops are stopped and restarted with the new intervals.
func (s *MetricsSampler) UpdateConfig(u SamplerConfigUpdate) (SamplerConfig, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	next := u.apply(s.Config())
	if err := next.Validate(); err != nil {
		return s.Config(), fmt.Errorf("invalid sampler config: %w", err)
	}

	s.mu.Lock()
	s.cfg = next
	s.mu.Unlock()
	s.events.Configure(next.MaxEventsStored, next.RetentionPeriod)

	if s.running {
		s.stopLocked()
		s.startLocked()
	}
	s.log.Info("Sampler config updated")
	return next, nil
}
