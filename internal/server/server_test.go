package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"HouseholdTelemetryAPI/internal/collector"
	"HouseholdTelemetryAPI/internal/config"
	"HouseholdTelemetryAPI/internal/handler"
	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"
	"HouseholdTelemetryAPI/internal/server"
	"HouseholdTelemetryAPI/internal/service"
	"HouseholdTelemetryAPI/internal/websocket"

	gorilla "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hotHouse struct{}

func (hotHouse) SampleSystem(context.Context) (*models.SystemMetrics, error) {
	return &models.SystemMetrics{CPUCount: 4, CPUUsage: 97, MemUsedPct: 30, Timestamp: time.Now()}, nil
}

func (hotHouse) SampleApplication(context.Context) (*models.ApplicationMetrics, error) {
	return &models.ApplicationMetrics{Timestamp: time.Now()}, nil
}

func (hotHouse) SampleDatabase(context.Context) (*models.DatabaseMetrics, error) {
	return &models.DatabaseMetrics{Timestamp: time.Now()}, nil
}

type stack struct {
	url      string
	sampler  *service.MetricsSampler
	alerts   *service.AlertEngine
	requests *collector.RequestTracker
}

func setupStack(t *testing.T) *stack {
	t.Helper()
	log := logger.Nop()
	cfg := &config.Config{
		Security: config.SecurityConfig{
			CORSAllowedOrigins: []string{"*"},
			CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		},
		Gateway: config.GatewayConfig{Path: "/ws/metrics"},
	}

	registry := prometheus.NewRegistry()
	instr := service.NewInstrumentation(registry)

	sampler, err := service.NewMetricsSampler(hotHouse{}, service.DefaultSamplerConfig(), instr, log)
	require.NoError(t, err)
	pool := websocket.NewPool(4, nil, log)
	gwCfg := service.DefaultGatewayConfig()
	gwCfg.Connection.HeartbeatInterval = 0
	gateway := service.NewTelemetryGateway(sampler, pool, gwCfg, instr, log)
	alerts, err := service.NewAlertEngine(gateway, service.DefaultAlertEngineConfig(), instr, log)
	require.NoError(t, err)
	sampler.Subscribe(func(u service.MetricUpdate) { alerts.Evaluate(u) })

	requests := collector.NewRequestTracker(100)
	srv := server.New(cfg, log)
	srv.RegisterHandlers(server.Handlers{
		Metrics:     handler.NewMetricsHandler(sampler, log),
		Alerts:      handler.NewAlertHandler(alerts, log),
		Connections: handler.NewConnectionsHandler(pool, gateway, log),
		Health:      handler.NewHealthHandler(sampler, nil, nil, log),
		WebSocket:   gateway.ServeWS,
		Requests:    requests,
		Gatherer:    registry,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		pool.CloseAll()
		ts.Close()
		sampler.Stop()
	})
	return &stack{url: ts.URL, sampler: sampler, alerts: alerts, requests: requests}
}

func readEnvelope(t *testing.T, ws *gorilla.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, ws.ReadJSON(&env))
	return env.Type, env.Data
}

func TestServer_WebSocketSnapshotUpdateAndAlert(t *testing.T) {
	s := setupStack(t)

	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/ws/metrics"
	ws, _, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	typ, _ := readEnvelope(t, ws)
	assert.Equal(t, service.MessageSnapshot, typ)
	require.Eventually(t, func() bool { return s.sampler.SubscriberCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	s.sampler.SampleNow(context.Background(), models.CategorySystem)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		typ, _ := readEnvelope(t, ws)
		seen[typ] = true
	}
	assert.True(t, seen[service.MessageUpdate])
	assert.True(t, seen[service.MessageAlert])
	require.Len(t, s.alerts.ActiveAlerts(), 1)
	assert.Equal(t, models.SeverityCritical, s.alerts.ActiveAlerts()[0].Severity)
}

func TestServer_RESTRoutesFeedRequestTracker(t *testing.T) {
	s := setupStack(t)
	s.sampler.Start()

	for _, path := range []string{"/api/v1/metrics/config", "/api/v1/alerts/active", "/api/v1/connections/status"} {
		resp, err := http.Get(s.url + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	assert.Eventually(t, func() bool {
		app, err := s.requests.Collect(context.Background())
		return err == nil && app.RequestsTotal == 3
	}, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get(s.url + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_PrometheusEndpoint(t *testing.T) {
	s := setupStack(t)
	s.sampler.SampleNow(context.Background(), models.CategorySystem)

	resp, err := http.Get(s.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "household_telemetry_sampler_samples_total")
	assert.Contains(t, string(body), "household_telemetry_alerts_raised_total")
}
