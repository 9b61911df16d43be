// internal/models/models.go

package models

import (
	"time"
)

// Category names a group of metrics that is sampled on its own timer.
type Category string

const (
	CategorySystem      Category = "system"
	CategoryApplication Category = "application"
	CategoryDatabase    Category = "database"
	// CategoryEvents tags raw event notifications; it is never sampled.
	CategoryEvents Category = "events"
)

// SampledCategories lists the categories driven by the sampler, in tick order.
var SampledCategories = []Category{CategorySystem, CategoryApplication, CategoryDatabase}

func (c Category) Valid() bool {
	switch c {
	case CategorySystem, CategoryApplication, CategoryDatabase, CategoryEvents:
		return true
	}
	return false
}

type SystemMetrics struct {
	CPULoad    float64   `json:"cpu_load"`
	CPUCount   int       `json:"cpu_count"`
	CPUUsage   float64   `json:"cpu_usage"`
	MemUsedPct float64   `json:"mem_used_pct"`
	MemTotal   uint64    `json:"mem_total"`
	MemUsed    uint64    `json:"mem_used"`
	Uptime     uint64    `json:"uptime"`
	Goroutines int       `json:"goroutines"`
	Timestamp  time.Time `json:"timestamp"`
}

type ApplicationMetrics struct {
	RequestsTotal     uint64    `json:"requests_total"`
	ActiveRequests    int64     `json:"active_requests"`
	ErrorRate         float64   `json:"error_rate"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	P95ResponseTimeMs float64   `json:"p95_response_time_ms"`
	P99ResponseTimeMs float64   `json:"p99_response_time_ms"`
	Timestamp         time.Time `json:"timestamp"`
}

type SlowQuery struct {
	Query      string    `json:"query"`
	DurationMs float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

type DatabaseMetrics struct {
	QueryCountTotal uint64      `json:"query_count_total"`
	AvgQueryTimeMs  float64     `json:"avg_query_time_ms"`
	PoolUsed        int         `json:"pool_used"`
	PoolIdle        int         `json:"pool_idle"`
	PoolTotal       int         `json:"pool_total"`
	PoolPending     int64       `json:"pool_pending"`
	SlowQueries     []SlowQuery `json:"slow_queries"`
	Timestamp       time.Time   `json:"timestamp"`
}

// PoolUsagePct is PoolUsed as a share of PoolTotal, 0 when the pool is empty.
func (d DatabaseMetrics) PoolUsagePct() float64 {
	if d.PoolTotal <= 0 {
		return 0
	}
	return float64(d.PoolUsed) / float64(d.PoolTotal) * 100
}

// MetricSnapshot is the merged last-known state of every category.
// Category pointers are nil until the first successful sample.
type MetricSnapshot struct {
	Timestamp   time.Time           `json:"timestamp"`
	System      *SystemMetrics      `json:"system"`
	Application *ApplicationMetrics `json:"application"`
	Database    *DatabaseMetrics    `json:"database"`
	Events      []Event             `json:"events"`
}

// Event types recorded by the built-in anomaly checks.
const (
	EventHighCPULoad      = "high_cpu_load"
	EventHighMemoryUsage  = "high_memory_usage"
	EventHighErrorRate    = "high_error_rate"
	EventSlowResponseTime = "slow_response_time"
	EventSlowQueries      = "slow_queries"
	EventPoolPending      = "db_pool_pending"
)

type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
}
