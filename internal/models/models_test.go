package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTierOrdered(t *testing.T) {
	assert.True(t, Tier{Warning: 70, Error: 85, Critical: 95}.Ordered())
	assert.True(t, Tier{Warning: 70, Critical: 95}.Ordered())
	assert.False(t, Tier{Warning: 90, Error: 85, Critical: 95}.Ordered())
	assert.False(t, Tier{Warning: -1}.Ordered())
}

func TestAlertFilterMatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := Alert{Severity: SeverityCritical, State: StateResolved, CreatedAt: now}

	assert.True(t, AlertFilter{}.Match(a))
	assert.True(t, AlertFilter{Severity: SeverityCritical}.Match(a))
	assert.False(t, AlertFilter{Severity: SeverityWarning}.Match(a))
	assert.False(t, AlertFilter{State: StateActive}.Match(a))
	assert.True(t, AlertFilter{From: now.Add(-time.Minute), To: now.Add(time.Minute)}.Match(a))
	assert.False(t, AlertFilter{From: now.Add(time.Minute)}.Match(a))
}

func TestPoolUsagePct(t *testing.T) {
	assert.Equal(t, 0.0, DatabaseMetrics{}.PoolUsagePct())
	assert.Equal(t, 50.0, DatabaseMetrics{PoolUsed: 5, PoolTotal: 10}.PoolUsagePct())
}
