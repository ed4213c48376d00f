package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("dispatch.max_attempts", 4)
	viper.SetDefault("dispatch.retry_schedule", "1s,4s,15s,60s")
	viper.SetDefault("dispatch.jitter_max", "200ms")
	viper.SetDefault("dispatch.poll_interval", "250ms")
	viper.SetDefault("dispatch.idle_poll_interval", "2s")
	viper.SetDefault("dispatch.claim_lease", "60s")
	viper.SetDefault("dispatch.open_retry_delay", "30s")

	viper.SetDefault("breaker.service", "chat-bridge")
	viper.SetDefault("breaker.failure_threshold", 8)
	viper.SetDefault("breaker.cooldown", "60s")
	viper.SetDefault("breaker.success_threshold", 3)

	viper.SetDefault("deadletter.enabled", true)

	viper.SetDefault("bridge.timeout", "10s")
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.audit_topic", "BROKER_KAFKA_AUDIT_TOPIC")
	viper.BindEnv("broker.kafka.dead_letter_topic", "BROKER_KAFKA_DEAD_LETTER_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("bridge.url", "BRIDGE_URL")
	viper.BindEnv("bridge.api_key", "BRIDGE_API_KEY")
	viper.BindEnv("bridge.timeout", "BRIDGE_TIMEOUT")

	viper.BindEnv("dispatch.max_attempts", "DISPATCH_MAX_ATTEMPTS")
	viper.BindEnv("dispatch.retry_schedule", "DISPATCH_RETRY_SCHEDULE")
	viper.BindEnv("dispatch.jitter_max", "DISPATCH_JITTER_MAX")
	viper.BindEnv("dispatch.poll_interval", "DISPATCH_POLL_INTERVAL")

	viper.BindEnv("breaker.failure_threshold", "BREAKER_FAILURE_THRESHOLD")
	viper.BindEnv("breaker.cooldown", "BREAKER_COOLDOWN")
	viper.BindEnv("breaker.success_threshold", "BREAKER_SUCCESS_THRESHOLD")

	viper.BindEnv("deadletter.enabled", "DEADLETTER_ENABLED")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}
