package collector

import (
	"context"
	"database/sql"
	"sync"
	"time"
	"unicode/utf8"

	"HouseholdTelemetryAPI/internal/models"
)

const (
	DefaultSlowQueryThreshold = 1000 * time.Millisecond
	maxSlowQueries            = 50
	maxQueryLength            = 200
)

// StatsProvider exposes connection pool statistics, satisfied by *sql.DB.
type StatsProvider interface {
	Stats() sql.DBStats
}

// QueryTracker records executed queries. Slow queries are buffered until the
// next collection drains them.
type QueryTracker struct {
	mu        sync.Mutex
	count     uint64
	totalTime time.Duration
	threshold time.Duration
	slow      []models.SlowQuery
	now       func() time.Time
}

func NewQueryTracker(threshold time.Duration) *QueryTracker {
	if threshold <= 0 {
		threshold = DefaultSlowQueryThreshold
	}
	return &QueryTracker{threshold: threshold, now: time.Now}
}

func (q *QueryTracker) ObserveQuery(query string, d time.Duration, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.count++
	q.totalTime += d
	if d < q.threshold {
		return
	}

	q.slow = append(q.slow, models.SlowQuery{
		Query:      truncateQuery(query),
		DurationMs: float64(d) / float64(time.Millisecond),
		Timestamp:  q.now(),
	})
	if len(q.slow) > maxSlowQueries {
		q.slow = q.slow[len(q.slow)-maxSlowQueries:]
	}
}

// truncateQuery cuts query to at most maxQueryLength bytes on a rune
// boundary.
func truncateQuery(query string) string {
	if len(query) <= maxQueryLength {
		return query
	}
	cut := maxQueryLength
	for cut > 0 && !utf8.RuneStart(query[cut]) {
		cut--
	}
	return query[:cut] + "..."
}

type querySummary struct {
	count   uint64
	avgMs   float64
	slowest []models.SlowQuery
}

func (q *QueryTracker) drain() querySummary {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := querySummary{count: q.count, slowest: q.slow}
	if q.count > 0 {
		s.avgMs = float64(q.totalTime) / float64(q.count) / float64(time.Millisecond)
	}
	q.slow = nil
	return s
}

// DatabaseCollector combines pool statistics with the query tracker. A nil
// StatsProvider reports an empty pool, used when no database is configured.
type DatabaseCollector struct {
	stats   StatsProvider
	queries *QueryTracker

	mu            sync.Mutex
	lastWaitCount int64
	now           func() time.Time
}

func NewDatabaseCollector(stats StatsProvider, queries *QueryTracker) *DatabaseCollector {
	if queries == nil {
		queries = NewQueryTracker(0)
	}
	return &DatabaseCollector{stats: stats, queries: queries, now: time.Now}
}

func (c *DatabaseCollector) Queries() *QueryTracker {
	return c.queries
}

// Collect reports PoolPending as the number of connection waits since the
// previous collection.
func (c *DatabaseCollector) Collect(ctx context.Context) (*models.DatabaseMetrics, error) {
	summary := c.queries.drain()
	m := &models.DatabaseMetrics{
		QueryCountTotal: summary.count,
		AvgQueryTimeMs:  summary.avgMs,
		SlowQueries:     summary.slowest,
		Timestamp:       c.now(),
	}
	if m.SlowQueries == nil {
		m.SlowQueries = []models.SlowQuery{}
	}

	if c.stats == nil {
		return m, nil
	}

	stats := c.stats.Stats()
	m.PoolUsed = stats.InUse
	m.PoolIdle = stats.Idle
	m.PoolTotal = stats.MaxOpenConnections
	if m.PoolTotal == 0 {
		m.PoolTotal = stats.OpenConnections
	}

	c.mu.Lock()
	if stats.WaitCount >= c.lastWaitCount {
		m.PoolPending = stats.WaitCount - c.lastWaitCount
	}
	c.lastWaitCount = stats.WaitCount
	c.mu.Unlock()

	return m, nil
}
