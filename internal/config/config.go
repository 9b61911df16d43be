package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"HouseholdTelemetryAPI/internal/logger"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	MQTT       MQTTConfig
	Security   SecurityConfig
	Logging    LoggingConfig
	Sampler    SamplerConfig
	Connection ConnectionConfig
	Gateway    GatewayConfig
	Alerts     AlertsConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxHeaderBytes  int
}

type DatabaseConfig struct {
	Enabled            bool
	Host               string
	Port               int
	User               string
	Password           string
	Database           string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
	SlowQueryThreshold time.Duration
}

type MQTTConfig struct {
	Enabled        bool
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	AlertTopic     string
	QoS            byte
	RetainMessages bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	AutoReconnect  bool
}

type SecurityConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	RateLimitPerMinute int
	EnableRateLimit    bool
}

type LoggingConfig struct {
	Level     logger.Level
	Mode      logger.Mode
	FilePath  string
	UseColors bool
}

type SamplerConfig struct {
	SystemInterval      time.Duration
	ApplicationInterval time.Duration
	DatabaseInterval    time.Duration
	RetentionPeriod     time.Duration
	MaxEventsStored     int
}

type ConnectionConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	InitialBackoff       time.Duration
	BackoffMultiplier    float64
	MaxBackoff           time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	QueueMessages        bool
	MaxQueueSize         int
	WriteTimeout         time.Duration
}

type GatewayConfig struct {
	Path           string
	MaxConnections int
	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	MaxMessageSize int64
}

// Tier holds warning/error/critical cutoffs for one metric.
type Tier struct {
	Warning  float64
	Error    float64
	Critical float64
}

type AlertsConfig struct {
	Deduplicate  bool
	HistoryLimit int
	CPUUsage     Tier
	MemoryUsage  Tier
	ErrorRate    Tier
	ResponseTime Tier
	DBPoolUsage  Tier
	DBQueryTime  Tier
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server:     loadServerConfig(),
		Database:   loadDatabaseConfig(),
		MQTT:       loadMQTTConfig(),
		Security:   loadSecurityConfig(),
		Logging:    loadLoggingConfig(),
		Sampler:    loadSamplerConfig(),
		Connection: loadConnectionConfig(),
		Gateway:    loadGatewayConfig(),
		Alerts:     loadAlertsConfig(),
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Port:            getEnvAsInt("SERVER_PORT", 8080),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "15s"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", "10s"),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", "10s"),
		MaxHeaderBytes:  getEnvAsInt("MAX_HEADER_BYTES", 1048576),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:            getEnvAsBool("DB_ENABLED", false),
		Host:               getEnv("DB_HOST", "localhost"),
		Port:               getEnvAsInt("DB_PORT", 5432),
		User:               getEnv("DB_USER", "household"),
		Password:           getEnv("DB_PASSWORD", ""),
		Database:           getEnv("DB_NAME", "household_tracker"),
		SSLMode:            getEnv("DB_SSL_MODE", "disable"),
		MaxOpenConns:       getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:       getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:    getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		ConnMaxIdleTime:    getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", "5m"),
		SlowQueryThreshold: getEnvAsDuration("DB_SLOW_QUERY_THRESHOLD", "1s"),
	}
}

func loadMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Enabled:        getEnvAsBool("MQTT_ENABLED", false),
		Broker:         getEnv("MQTT_BROKER", "localhost"),
		Port:           getEnvAsInt("MQTT_PORT", 1883),
		ClientID:       getEnv("MQTT_CLIENT_ID", "household-telemetry"),
		Username:       getEnv("MQTT_USERNAME", ""),
		Password:       getEnv("MQTT_PASSWORD", ""),
		AlertTopic:     getEnv("MQTT_ALERT_TOPIC", "household/telemetry/alerts"),
		QoS:            byte(getEnvAsInt("MQTT_QOS", 1)),
		RetainMessages: getEnvAsBool("MQTT_RETAIN", false),
		KeepAlive:      getEnvAsDuration("MQTT_KEEP_ALIVE", "60s"),
		ConnectTimeout: getEnvAsDuration("MQTT_CONNECT_TIMEOUT", "10s"),
		AutoReconnect:  getEnvAsBool("MQTT_AUTO_RECONNECT", true),
	}
}

func loadSecurityConfig() SecurityConfig {
	origins := getEnv("CORS_ALLOWED_ORIGINS", "*")
	methods := getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")

	return SecurityConfig{
		CORSAllowedOrigins: strings.Split(origins, ","),
		CORSAllowedMethods: strings.Split(methods, ","),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 100),
		EnableRateLimit:    getEnvAsBool("ENABLE_RATE_LIMIT", true),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:     logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		Mode:      logger.ParseMode(getEnv("LOG_MODE", "normal")),
		FilePath:  getEnv("LOG_FILE_PATH", ""),
		UseColors: getEnvAsBool("LOG_USE_COLORS", true),
	}
}

func loadSamplerConfig() SamplerConfig {
	return SamplerConfig{
		SystemInterval:      getEnvAsDuration("SAMPLER_SYSTEM_INTERVAL", "5s"),
		ApplicationInterval: getEnvAsDuration("SAMPLER_APPLICATION_INTERVAL", "1s"),
		DatabaseInterval:    getEnvAsDuration("SAMPLER_DATABASE_INTERVAL", "10s"),
		RetentionPeriod:     getEnvAsDuration("SAMPLER_RETENTION_PERIOD", "1h"),
		MaxEventsStored:     getEnvAsInt("SAMPLER_MAX_EVENTS", 1000),
	}
}

func loadConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		AutoReconnect:        getEnvAsBool("WS_AUTO_RECONNECT", true),
		MaxReconnectAttempts: getEnvAsInt("WS_MAX_RECONNECT_ATTEMPTS", 10),
		InitialBackoff:       getEnvAsDuration("WS_INITIAL_BACKOFF", "1s"),
		BackoffMultiplier:    getEnvAsFloat("WS_BACKOFF_MULTIPLIER", 1.5),
		MaxBackoff:           getEnvAsDuration("WS_MAX_BACKOFF", "30s"),
		HeartbeatInterval:    getEnvAsDuration("WS_HEARTBEAT_INTERVAL", "30s"),
		HeartbeatTimeout:     getEnvAsDuration("WS_HEARTBEAT_TIMEOUT", "5s"),
		QueueMessages:        getEnvAsBool("WS_QUEUE_MESSAGES", true),
		MaxQueueSize:         getEnvAsInt("WS_MAX_QUEUE_SIZE", 1000),
		WriteTimeout:         getEnvAsDuration("WS_WRITE_TIMEOUT", "10s"),
	}
}

func loadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Path:           getEnv("WS_PATH", "/ws/metrics"),
		MaxConnections: getEnvAsInt("WS_MAX_CONNECTIONS", 100),
		SweepInterval:  getEnvAsDuration("WS_SWEEP_INTERVAL", "1m"),
		IdleTimeout:    getEnvAsDuration("WS_IDLE_TIMEOUT", "5m"),
		MaxMessageSize: int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 4096)),
	}
}

func loadAlertsConfig() AlertsConfig {
	return AlertsConfig{
		Deduplicate:  getEnvAsBool("ALERT_DEDUPLICATE", true),
		HistoryLimit: getEnvAsInt("ALERT_HISTORY_LIMIT", 1000),
		CPUUsage:     getEnvAsTier("ALERT_CPU", Tier{70, 85, 95}),
		MemoryUsage:  getEnvAsTier("ALERT_MEMORY", Tier{75, 85, 95}),
		ErrorRate:    getEnvAsTier("ALERT_ERROR_RATE", Tier{1, 5, 10}),
		ResponseTime: getEnvAsTier("ALERT_RESPONSE_TIME", Tier{500, 1000, 2000}),
		DBPoolUsage:  getEnvAsTier("ALERT_DB_POOL", Tier{70, 85, 95}),
		DBQueryTime:  getEnvAsTier("ALERT_DB_QUERY_TIME", Tier{100, 500, 1000}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// getEnvAsTier reads "<prefix>_WARNING", "<prefix>_ERROR" and "<prefix>_CRITICAL".
func getEnvAsTier(prefix string, defaultValue Tier) Tier {
	return Tier{
		Warning:  getEnvAsFloat(prefix+"_WARNING", defaultValue.Warning),
		Error:    getEnvAsFloat(prefix+"_ERROR", defaultValue.Error),
		Critical: getEnvAsFloat(prefix+"_CRITICAL", defaultValue.Critical),
	}
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

func (c *Config) GetMQTTBroker() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTT.Broker, c.MQTT.Port)
}

func (c *Config) Validate() error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}

	if c.Database.Enabled {
		if c.Database.Password == "" {
			errors = append(errors, "DB_PASSWORD cannot be empty when DB_ENABLED is set")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			errors = append(errors, "DB_PORT must be between 1 and 65535")
		}
	}

	if c.MQTT.Enabled && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		errors = append(errors, "MQTT_PORT must be between 1 and 65535")
	}

	if c.Sampler.SystemInterval <= 0 || c.Sampler.ApplicationInterval <= 0 || c.Sampler.DatabaseInterval <= 0 {
		errors = append(errors, "sampler intervals must be positive")
	}

	if c.Sampler.MaxEventsStored < 1 {
		errors = append(errors, "SAMPLER_MAX_EVENTS must be at least 1")
	}

	if c.Connection.BackoffMultiplier < 1 {
		errors = append(errors, "WS_BACKOFF_MULTIPLIER must be >= 1")
	}

	if c.Connection.HeartbeatTimeout >= c.Connection.HeartbeatInterval {
		errors = append(errors, "WS_HEARTBEAT_TIMEOUT must be shorter than WS_HEARTBEAT_INTERVAL")
	}

	if c.Gateway.MaxConnections < 1 {
		errors = append(errors, "WS_MAX_CONNECTIONS must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func (c *Config) Print() {
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║         Household Telemetry - Configuration              ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Printf("Environment:     %s\n", c.Server.Environment)
	fmt.Printf("Server:          %s:%d\n", c.Server.Host, c.Server.Port)
	fmt.Printf("WebSocket:       %s (max %d clients)\n", c.Gateway.Path, c.Gateway.MaxConnections)
	fmt.Printf("Sampling:        system=%s app=%s db=%s\n",
		c.Sampler.SystemInterval, c.Sampler.ApplicationInterval, c.Sampler.DatabaseInterval)
	if c.Database.Enabled {
		fmt.Printf("Database:        %s:%d/%s\n", c.Database.Host, c.Database.Port, c.Database.Database)
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT Broker:     %s:%d\n", c.MQTT.Broker, c.MQTT.Port)
	}
	fmt.Println("──────────────────────────────────────────────────────────")
}
