package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"HouseholdTelemetryAPI/internal/collector"
	"HouseholdTelemetryAPI/internal/config"
	"HouseholdTelemetryAPI/internal/database"
	"HouseholdTelemetryAPI/internal/handler"
	"HouseholdTelemetryAPI/internal/logger"
	"HouseholdTelemetryAPI/internal/models"
	"HouseholdTelemetryAPI/internal/mqtt"
	"HouseholdTelemetryAPI/internal/server"
	"HouseholdTelemetryAPI/internal/service"
	"HouseholdTelemetryAPI/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		// Fallback logger since main logger isn't ready
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize Logger
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Mode:        cfg.Logging.Mode,
		LogFilePath: cfg.Logging.FilePath,
		UseColors:   cfg.Logging.UseColors,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Configuration validation failed: %v", err)
	}

	cfg.Print()
	log.Info("Starting Household Telemetry API Server")

	// 3. Instrumentation
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	instr := service.NewInstrumentation(registry)

	// 4. Optional Database
	queries := collector.NewQueryTracker(cfg.Database.SlowQueryThreshold)
	var (
		dbStats   collector.StatsProvider
		dbChecker handler.DatabaseChecker
	)
	if cfg.Database.Enabled {
		db, err := database.New(&cfg.Database, queries, log)
		if err != nil {
			log.Fatal("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.Health(context.Background()); err != nil {
			log.Fatal("Database health check failed: %v", err)
		}
		dbStats, dbChecker = db, db
		log.Info("Database connected successfully")
	}

	// 5. Collectors and Sampler
	requests := collector.NewRequestTracker(collector.DefaultRequestWindow)
	source := collector.NewSource(
		collector.NewSystemCollector(nil),
		requests,
		collector.NewDatabaseCollector(dbStats, queries),
	)

	sampler, err := service.NewMetricsSampler(source, samplerConfig(cfg), instr, log)
	if err != nil {
		log.Fatal("Failed to create metrics sampler: %v", err)
	}

	// 6. Connection Pool and Gateway
	pool := websocket.NewPool(cfg.Gateway.MaxConnections, nil, log)
	gateway := service.NewTelemetryGateway(sampler, pool, gatewayConfig(cfg), instr, log)

	// 7. Alert Engine
	alertEngine, err := service.NewAlertEngine(gateway, alertEngineConfig(cfg), instr, log)
	if err != nil {
		log.Fatal("Failed to create alert engine: %v", err)
	}
	sampler.Subscribe(func(update service.MetricUpdate) {
		alertEngine.Evaluate(update)
	})

	// 8. Optional MQTT Alert Forwarding
	var broker handler.BrokerStatus
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to create MQTT client: %v", err)
		}
		if err := mqttClient.Connect(); err != nil {
			log.Fatal("Failed to connect to MQTT broker: %v", err)
		}
		defer mqttClient.Disconnect()

		forwarder := mqtt.NewAlertForwarder(mqttClient, alertEngine, cfg.MQTT.AlertTopic, log)
		if err := forwarder.Start(); err != nil {
			log.Fatal("Failed to start alert forwarder: %v", err)
		}
		defer forwarder.Stop()
		broker = mqttClient
	}

	sampler.Start()
	gateway.Start()

	// 9. Initialize Handlers
	handlers := server.Handlers{
		Metrics:     handler.NewMetricsHandler(sampler, log),
		Alerts:      handler.NewAlertHandler(alertEngine, log),
		Connections: handler.NewConnectionsHandler(pool, gateway, log),
		Health:      handler.NewHealthHandler(sampler, dbChecker, broker, log),
		WebSocket:   gateway.ServeWS,
		Requests:    requests,
		Gatherer:    registry,
	}

	// 10. Start HTTP Server
	srv := server.New(cfg, log)
	srv.RegisterHandlers(handlers)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Server failed: %v", err)
		}
	}()

	log.Info("API server ready on http://%s:%d (telemetry at %s)", cfg.Server.Host, cfg.Server.Port, cfg.Gateway.Path)

	// 11. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error: %v", err)
	}

	sampler.Stop()
	gateway.Stop()
	pool.CloseAll()

	log.Info("Shutdown complete")
}

func samplerConfig(cfg *config.Config) service.SamplerConfig {
	return service.SamplerConfig{
		SystemInterval:      cfg.Sampler.SystemInterval,
		ApplicationInterval: cfg.Sampler.ApplicationInterval,
		DatabaseInterval:    cfg.Sampler.DatabaseInterval,
		RetentionPeriod:     cfg.Sampler.RetentionPeriod,
		MaxEventsStored:     cfg.Sampler.MaxEventsStored,
	}
}

func gatewayConfig(cfg *config.Config) service.GatewayConfig {
	c := cfg.Connection
	return service.GatewayConfig{
		MaxMessageSize: cfg.Gateway.MaxMessageSize,
		SweepInterval:  cfg.Gateway.SweepInterval,
		IdleTimeout:    cfg.Gateway.IdleTimeout,
		Connection: websocket.Options{
			AutoReconnect:        c.AutoReconnect,
			MaxReconnectAttempts: c.MaxReconnectAttempts,
			InitialDelay:         c.InitialBackoff,
			Multiplier:           c.BackoffMultiplier,
			MaxDelay:             c.MaxBackoff,
			HeartbeatInterval:    c.HeartbeatInterval,
			HeartbeatTimeout:     c.HeartbeatTimeout,
			QueueMessages:        c.QueueMessages,
			MaxQueueSize:         c.MaxQueueSize,
			WriteWait:            c.WriteTimeout,
		},
	}
}

func alertEngineConfig(cfg *config.Config) service.AlertEngineConfig {
	a := cfg.Alerts
	return service.AlertEngineConfig{
		Deduplicate:  a.Deduplicate,
		HistoryLimit: a.HistoryLimit,
		Defaults: models.Thresholds{
			CPUUsage:     models.Tier(a.CPUUsage),
			MemoryUsage:  models.Tier(a.MemoryUsage),
			ErrorRate:    models.Tier(a.ErrorRate),
			ResponseTime: models.Tier(a.ResponseTime),
			DBPoolUsage:  models.Tier(a.DBPoolUsage),
			DBQueryTime:  models.Tier(a.DBQueryTime),
		},
	}
}
