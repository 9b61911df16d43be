package main

import (
	"bytes"
	"testing"

	"HouseholdTelemetryAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-url", "ws://house:9000/ws/metrics", "-metrics", "system, events", "-max-reconnects", "3"})
	require.NoError(t, err)
	assert.Equal(t, "ws://house:9000/ws/metrics", opts.url)
	assert.Equal(t, []models.Category{models.CategorySystem, models.CategoryEvents}, opts.categories)
	assert.Equal(t, 3, opts.attempts)

	opts, err = parseFlags(nil)
	require.NoError(t, err)
	assert.Empty(t, opts.categories)

	_, err = parseFlags([]string{"-metrics", "weather"})
	assert.ErrorContains(t, err, "unknown category")
}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"system update",
			`{"type":"update","data":{"category":"system","timestamp":"2026-01-01T10:00:00Z","data":{"cpu_usage":12.5,"cpu_load":0.5,"mem_used_pct":40,"goroutines":9}}}`,
			"10:00:00 system      cpu=12.5% load=0.50 mem=40.0% goroutines=9\n",
		},
		{
			"database update",
			`{"type":"update","data":{"category":"database","timestamp":"2026-01-01T10:00:00Z","data":{"pool_used":2,"pool_total":10,"pool_pending":1,"query_count_total":7,"avg_query_time_ms":3,"slow_queries":[]}}}`,
			"10:00:00 database    pool=2/10 pending=1 queries=7 avg=3.0ms slow=0\n",
		},
		{
			"alert",
			`{"type":"alert","data":{"severity":"critical","message":"CPU usage critical","created_at":"2026-01-01T10:00:05Z"}}`,
			"10:00:05 ALERT CRITICAL CPU usage critical\n",
		},
		{
			"other",
			`{"type":"subscribed","data":["system"]}`,
			"subscribed [\"system\"]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, render(&buf, []byte(tt.raw), false))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestRender_RawAndMalformed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, render(&buf, []byte(`{"type":"x"}`), true))
	assert.Equal(t, "{\"type\":\"x\"}\n", buf.String())

	assert.Error(t, render(&buf, []byte(`nope`), false))
}
