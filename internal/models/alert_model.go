package models

import "time"

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

type AlertState string

const (
	StateActive       AlertState = "ACTIVE"
	StateAcknowledged AlertState = "ACKNOWLEDGED"
	StateResolved     AlertState = "RESOLVED"
)

// Metric keys evaluated by the alert engine. The alert type is "<metric>_<TIER>".
const (
	MetricCPU          = "CPU"
	MetricMemory       = "MEMORY"
	MetricErrorRate    = "ERROR_RATE"
	MetricResponseTime = "RESPONSE_TIME"
	MetricDBPool       = "DB_POOL"
	MetricDBQueryTime  = "DB_QUERY_TIME"
)

// Alert is a stateful record of a threshold breach.
type Alert struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	ConfigID       string     `json:"config_id"`
	Severity       Severity   `json:"severity"`
	Metric         string     `json:"metric"`
	Category       Category   `json:"category"`
	Value          float64    `json:"value"`
	Threshold      float64    `json:"threshold"`
	Message        string     `json:"message"`
	State          AlertState `json:"state"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

// Tier holds the three cutoffs for one metric. A zero cutoff is disabled.
type Tier struct {
	Warning  float64 `json:"warning"`
	Error    float64 `json:"error"`
	Critical float64 `json:"critical"`
}

// Ordered reports whether the enabled cutoffs never decrease from warning to critical.
func (t Tier) Ordered() bool {
	prev := 0.0
	for _, v := range []float64{t.Warning, t.Error, t.Critical} {
		if v < 0 {
			return false
		}
		if v == 0 {
			continue
		}
		if v < prev {
			return false
		}
		prev = v
	}
	return true
}

type Thresholds struct {
	CPUUsage     Tier `json:"cpu_usage"`
	MemoryUsage  Tier `json:"memory_usage"`
	ErrorRate    Tier `json:"error_rate"`
	ResponseTime Tier `json:"response_time"`
	DBPoolUsage  Tier `json:"db_pool_usage"`
	DBQueryTime  Tier `json:"db_query_time"`
}

// DefaultThresholds are used when no explicit alert config is registered.
var DefaultThresholds = Thresholds{
	CPUUsage:     Tier{Warning: 70, Error: 85, Critical: 95},
	MemoryUsage:  Tier{Warning: 75, Error: 85, Critical: 95},
	ErrorRate:    Tier{Warning: 1, Error: 5, Critical: 10},
	ResponseTime: Tier{Warning: 500, Error: 1000, Critical: 2000},
	DBPoolUsage:  Tier{Warning: 70, Error: 85, Critical: 95},
	DBQueryTime:  Tier{Warning: 100, Error: 500, Critical: 1000},
}

// AlertConfig is a named set of thresholds, independent of runtime alerts.
type AlertConfig struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Thresholds Thresholds `json:"thresholds"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// AlertFilter narrows History results. Zero fields match everything.
type AlertFilter struct {
	Severity Severity
	State    AlertState
	From     time.Time
	To       time.Time
	Limit    int
}

func (f AlertFilter) Match(a Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.State != "" && a.State != f.State {
		return false
	}
	if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.CreatedAt.After(f.To) {
		return false
	}
	return true
}
