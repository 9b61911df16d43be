package service

import (
	"fmt"

	"HouseholdTelemetryAPI/internal/models"
)

// reading is one evaluated metric value extracted from a sample.
type reading struct {
	metric   string
	category models.Category
	value    float64
}

type metricLabel struct {
	name string
	unit string
}

var metricLabels = map[string]metricLabel{
	models.MetricCPU:          {"CPU usage", "%"},
	models.MetricMemory:       {"Memory usage", "%"},
	models.MetricErrorRate:    {"Error rate", "%"},
	models.MetricResponseTime: {"Average response time", "ms"},
	models.MetricDBPool:       {"DB pool usage", "%"},
	models.MetricDBQueryTime:  {"Average query time", "ms"},
}

func readingsFor(update MetricUpdate) []reading {
	switch m := update.Data.(type) {
	case *models.SystemMetrics:
		return []reading{
			{models.MetricCPU, models.CategorySystem, m.CPUUsage},
			{models.MetricMemory, models.CategorySystem, m.MemUsedPct},
		}
	case *models.ApplicationMetrics:
		return []reading{
			{models.MetricErrorRate, models.CategoryApplication, m.ErrorRate},
			{models.MetricResponseTime, models.CategoryApplication, m.AvgResponseTimeMs},
		}
	case *models.DatabaseMetrics:
		out := []reading{{models.MetricDBQueryTime, models.CategoryDatabase, m.AvgQueryTimeMs}}
		if m.PoolTotal > 0 {
			out = append(out, reading{models.MetricDBPool, models.CategoryDatabase, m.PoolUsagePct()})
		}
		return out
	}
	return nil
}

func tierFor(t models.Thresholds, metric string) models.Tier {
	switch metric {
	case models.MetricCPU:
		return t.CPUUsage
	case models.MetricMemory:
		return t.MemoryUsage
	case models.MetricErrorRate:
		return t.ErrorRate
	case models.MetricResponseTime:
		return t.ResponseTime
	case models.MetricDBPool:
		return t.DBPoolUsage
	case models.MetricDBQueryTime:
		return t.DBQueryTime
	}
	return models.Tier{}
}

// classify checks critical, then error, then warning and returns the first
// tier whose cutoff the value meets. Zero cutoffs are skipped.
func classify(value float64, tier models.Tier) (models.Severity, float64, bool) {
	switch {
	case tier.Critical > 0 && value >= tier.Critical:
		return models.SeverityCritical, tier.Critical, true
	case tier.Error > 0 && value >= tier.Error:
		return models.SeverityError, tier.Error, true
	case tier.Warning > 0 && value >= tier.Warning:
		return models.SeverityWarning, tier.Warning, true
	}
	return "", 0, false
}

func severityRank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 3
	case models.SeverityError:
		return 2
	case models.SeverityWarning:
		return 1
	}
	return 0
}

func alertType(metric string, sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return metric + "_CRITICAL"
	case models.SeverityError:
		return metric + "_ERROR"
	case models.SeverityWarning:
		return metric + "_WARNING"
	}
	return metric + "_INFO"
}

func alertMessage(metric string, sev models.Severity, value, threshold float64) string {
	label, ok := metricLabels[metric]
	if !ok {
		label = metricLabel{name: metric}
	}
	return fmt.Sprintf("%s %s: %.2f%s (threshold %.2f%s)", label.name, sev, value, label.unit, threshold, label.unit)
}

func validateThresholds(t models.Thresholds) error {
	tiers := map[string]models.Tier{
		"cpu_usage":     t.CPUUsage,
		"memory_usage":  t.MemoryUsage,
		"error_rate":    t.ErrorRate,
		"response_time": t.ResponseTime,
		"db_pool_usage": t.DBPoolUsage,
		"db_query_time": t.DBQueryTime,
	}
	for name, tier := range tiers {
		if !tier.Ordered() {
			return fmt.Errorf("%w: %s cutoffs must be non-negative and ordered warning <= error <= critical", ErrInvalidThresholds, name)
		}
	}
	return nil
}
