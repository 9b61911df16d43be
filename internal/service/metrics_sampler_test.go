package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"HouseholdTelemetryAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu          sync.Mutex
	system      models.SystemMetrics
	application models.ApplicationMetrics
	database    models.DatabaseMetrics
	err         error
	panicOn     models.Category

	systemCalls      atomic.Int64
	applicationCalls atomic.Int64
	databaseCalls    atomic.Int64
}

func (f *fakeSource) SampleSystem(ctx context.Context) (*models.SystemMetrics, error) {
	f.systemCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn == models.CategorySystem {
		panic("sensor exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	m := f.system
	m.Timestamp = time.Now()
	return &m, nil
}

func (f *fakeSource) SampleApplication(ctx context.Context) (*models.ApplicationMetrics, error) {
	f.applicationCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := f.application
	m.Timestamp = time.Now()
	return &m, nil
}

func (f *fakeSource) SampleDatabase(ctx context.Context) (*models.DatabaseMetrics, error) {
	f.databaseCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := f.database
	m.Timestamp = time.Now()
	return &m, nil
}

func (f *fakeSource) setSystem(m models.SystemMetrics) {
	f.mu.Lock()
	f.system = m
	f.mu.Unlock()
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func setupSampler(t *testing.T, src *fakeSource) *MetricsSampler {
	t.Helper()
	s, err := NewMetricsSampler(src, DefaultSamplerConfig(), NewInstrumentation(nil), nil)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []MetricUpdate
}

func (r *updateRecorder) record(u MetricUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *updateRecorder) categories() []models.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Category, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Category)
	}
	return out
}

func TestEventLog_DropsOldestBeyondCapacity(t *testing.T) {
	log := NewEventLog(5, 0)
	base := time.Now()
	for i := 0; i < 8; i++ {
		log.Add(models.Event{Type: fmt.Sprintf("e%d", i), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	events := log.List()
	require.Len(t, events, 5)
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"e7", "e6", "e5", "e4", "e3"}, types)
}

func TestEventLog_RetentionAndSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := NewEventLog(100, 10*time.Minute)
	log.now = func() time.Time { return now }

	log.Add(models.Event{Type: "ancient", Timestamp: now.Add(-time.Hour)})
	log.Add(models.Event{Type: "old", Timestamp: now.Add(-5 * time.Minute)})
	log.Add(models.Event{Type: "fresh", Timestamp: now.Add(-10 * time.Second)})

	assert.Equal(t, 2, log.Len())
	since := log.Since(now.Add(-time.Minute))
	require.Len(t, since, 1)
	assert.Equal(t, "fresh", since[0].Type)

	log.Configure(1, 0)
	assert.Equal(t, "fresh", log.List()[0].Type)
	assert.Equal(t, 1, log.Len())
}

func TestMetricsSampler_RecordEventRingIsBounded(t *testing.T) {
	cfg := DefaultSamplerConfig()
	cfg.MaxEventsStored = 10
	s, err := NewMetricsSampler(&fakeSource{}, cfg, nil, nil)
	require.NoError(t, err)

	for i := 0; i < 13; i++ {
		s.RecordEvent(fmt.Sprintf("e%d", i), nil)
	}

	events := s.Events()
	require.Len(t, events, 10)
	assert.Equal(t, "e12", events[0].Type)
	assert.Equal(t, "e3", events[9].Type)
}

func TestMetricsSampler_SampleUpdatesSnapshotAndNotifies(t *testing.T) {
	src := &fakeSource{}
	src.setSystem(models.SystemMetrics{CPUCount: 4, CPULoad: 1, MemUsedPct: 40})
	s := setupSampler(t, src)

	rec := &updateRecorder{}
	s.Subscribe(rec.record)

	s.SampleNow(context.Background(), models.CategorySystem)

	snap := s.Snapshot()
	require.NotNil(t, snap.System)
	assert.Equal(t, 4, snap.System.CPUCount)
	assert.Nil(t, snap.Application)
	assert.Equal(t, []models.Category{models.CategorySystem}, rec.categories())
}

func TestMetricsSampler_CollectorErrorKeepsStaleSnapshot(t *testing.T) {
	src := &fakeSource{}
	src.setSystem(models.SystemMetrics{CPUCount: 2, MemUsedPct: 10})
	s := setupSampler(t, src)

	s.SampleNow(context.Background(), models.CategorySystem)
	first := s.Snapshot().System
	require.NotNil(t, first)

	src.setErr(errors.New("proc unavailable"))
	s.SampleNow(context.Background(), models.CategorySystem)

	assert.Same(t, first, s.Snapshot().System)
}

func TestMetricsSampler_CollectorPanicIsRecovered(t *testing.T) {
	src := &fakeSource{panicOn: models.CategorySystem}
	s := setupSampler(t, src)

	assert.NotPanics(t, func() {
		s.SampleNow(context.Background(), models.CategorySystem)
	})
	assert.Nil(t, s.Snapshot().System)
}

func TestMetricsSampler_SubscriberPanicDoesNotBlockOthers(t *testing.T) {
	s := setupSampler(t, &fakeSource{})

	s.Subscribe(func(MetricUpdate) { panic("bad subscriber") })
	rec := &updateRecorder{}
	s.Subscribe(rec.record)

	s.SampleNow(context.Background(), models.CategoryApplication)
	assert.Equal(t, []models.Category{models.CategoryApplication}, rec.categories())
}

func TestMetricsSampler_Unsubscribe(t *testing.T) {
	s := setupSampler(t, &fakeSource{})
	rec := &updateRecorder{}
	id := s.Subscribe(rec.record)

	assert.True(t, s.Unsubscribe(id))
	assert.False(t, s.Unsubscribe(id))
	s.SampleNow(context.Background(), models.CategoryDatabase)
	assert.Empty(t, rec.categories())
}

func TestMetricsSampler_AnomalyChecksRecordEvents(t *testing.T) {
	src := &fakeSource{}
	src.setSystem(models.SystemMetrics{CPUCount: 4, CPULoad: 3.5, MemUsedPct: 90})
	src.application = models.ApplicationMetrics{ErrorRate: 7, AvgResponseTimeMs: 1500}
	src.database = models.DatabaseMetrics{
		PoolPending: 2,
		SlowQueries: []models.SlowQuery{{Query: "SELECT 1", DurationMs: 2000}},
	}
	s := setupSampler(t, src)

	rec := &updateRecorder{}
	s.Subscribe(rec.record)

	for _, cat := range models.SampledCategories {
		s.SampleNow(context.Background(), cat)
	}

	types := map[string]bool{}
	for _, ev := range s.Events() {
		types[ev.Type] = true
	}
	assert.True(t, types[models.EventHighCPULoad])
	assert.True(t, types[models.EventHighMemoryUsage])
	assert.True(t, types[models.EventHighErrorRate])
	assert.True(t, types[models.EventSlowResponseTime])
	assert.True(t, types[models.EventSlowQueries])
	assert.True(t, types[models.EventPoolPending])

	events := 0
	for _, cat := range rec.categories() {
		if cat == models.CategoryEvents {
			events++
		}
	}
	assert.Equal(t, 6, events)
}

func TestMetricsSampler_NoAnomaliesBelowLimits(t *testing.T) {
	src := &fakeSource{}
	src.setSystem(models.SystemMetrics{CPUCount: 4, CPULoad: 3.2, MemUsedPct: 85})
	s := setupSampler(t, src)

	s.SampleNow(context.Background(), models.CategorySystem)
	assert.Empty(t, s.Events())
}

func TestMetricsSampler_StartAndStop(t *testing.T) {
	src := &fakeSource{}
	cfg := SamplerConfig{
		SystemInterval:      10 * time.Millisecond,
		ApplicationInterval: 10 * time.Millisecond,
		DatabaseInterval:    10 * time.Millisecond,
		MaxEventsStored:     10,
	}
	s, err := NewMetricsSampler(src, cfg, nil, nil)
	require.NoError(t, err)

	s.Start()
	s.Start()
	assert.True(t, s.Running())
	assert.Eventually(t, func() bool {
		return src.systemCalls.Load() >= 3 && src.applicationCalls.Load() >= 3 && src.databaseCalls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	calls := src.systemCalls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, src.systemCalls.Load())
}

func TestMetricsSampler_UpdateConfigRestartsAllTimers(t *testing.T) {
	src := &fakeSource{}
	s := setupSampler(t, src)
	s.Start()

	fast := 10 * time.Millisecond
	maxEvents := 50
	cfg, err := s.UpdateConfig(SamplerConfigUpdate{
		SystemInterval:      &fast,
		ApplicationInterval: &fast,
		DatabaseInterval:    &fast,
		MaxEventsStored:     &maxEvents,
	})
	require.NoError(t, err)
	assert.Equal(t, fast, cfg.DatabaseInterval)
	assert.Equal(t, time.Hour, cfg.RetentionPeriod)
	assert.True(t, s.Running())

	assert.Eventually(t, func() bool { return src.databaseCalls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestMetricsSampler_UpdateConfigRejectsInvalid(t *testing.T) {
	s := setupSampler(t, &fakeSource{})
	zero := time.Duration(0)

	_, err := s.UpdateConfig(SamplerConfigUpdate{SystemInterval: &zero})
	require.Error(t, err)
	assert.Equal(t, 5*time.Second, s.Config().SystemInterval)
}

func TestMetricsSampler_ConcurrentSubscribers(t *testing.T) {
	s := setupSampler(t, &fakeSource{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := s.Subscribe(func(MetricUpdate) {})
			s.Unsubscribe(id)
		}()
		go func() {
			defer wg.Done()
			s.SampleNow(context.Background(), models.CategoryApplication)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, s.SubscriberCount())
}
