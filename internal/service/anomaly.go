package service

import (
	"HouseholdTelemetryAPI/internal/models"
)

// Fixed anomaly cutoffs. These are independent of alert configs.
const (
	cpuLoadPerCoreLimit  = 0.8
	memoryUsedPctLimit   = 85.0
	errorRatePctLimit    = 5.0
	avgResponseTimeLimit = 1000.0
)

type anomaly struct {
	eventType string
	data      map[string]interface{}
}

func detectSystemAnomalies(m *models.SystemMetrics) []anomaly {
	var found []anomaly
	if m.CPUCount > 0 && m.CPULoad > cpuLoadPerCoreLimit*float64(m.CPUCount) {
		found = append(found, anomaly{models.EventHighCPULoad, map[string]interface{}{
			"cpu_load":  m.CPULoad,
			"cpu_count": m.CPUCount,
			"threshold": cpuLoadPerCoreLimit * float64(m.CPUCount),
		}})
	}
	if m.MemUsedPct > memoryUsedPctLimit {
		found = append(found, anomaly{models.EventHighMemoryUsage, map[string]interface{}{
			"mem_used_pct": m.MemUsedPct,
			"threshold":    memoryUsedPctLimit,
		}})
	}
	return found
}

func detectApplicationAnomalies(m *models.ApplicationMetrics) []anomaly {
	var found []anomaly
	if m.ErrorRate > errorRatePctLimit {
		found = append(found, anomaly{models.EventHighErrorRate, map[string]interface{}{
			"error_rate": m.ErrorRate,
			"threshold":  errorRatePctLimit,
		}})
	}
	if m.AvgResponseTimeMs > avgResponseTimeLimit {
		found = append(found, anomaly{models.EventSlowResponseTime, map[string]interface{}{
			"avg_response_time_ms": m.AvgResponseTimeMs,
			"threshold":            avgResponseTimeLimit,
		}})
	}
	return found
}

func detectDatabaseAnomalies(m *models.DatabaseMetrics) []anomaly {
	var found []anomaly
	if len(m.SlowQueries) > 0 {
		found = append(found, anomaly{models.EventSlowQueries, map[string]interface{}{
			"count":   len(m.SlowQueries),
			"queries": m.SlowQueries,
		}})
	}
	if m.PoolPending > 0 {
		found = append(found, anomaly{models.EventPoolPending, map[string]interface{}{
			"pending":    m.PoolPending,
			"pool_used":  m.PoolUsed,
			"pool_total": m.PoolTotal,
		}})
	}
	return found
}

func detectAnomalies(data interface{}) []anomaly {
	switch m := data.(type) {
	case *models.SystemMetrics:
		return detectSystemAnomalies(m)
	case *models.ApplicationMetrics:
		return detectApplicationAnomalies(m)
	case *models.DatabaseMetrics:
		return detectDatabaseAnomalies(m)
	}
	return nil
}
