package config

import (
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Broker     BrokerConfig
	Logging    LoggingConfig
	Bridge     BridgeConfig
	Dispatch   DispatchConfig
	Breaker    BreakerConfig
	DeadLetter DeadLetterConfig
	API        APIConfig
	Tracing    TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers         []string    `mapstructure:"brokers"`
	AuditTopic      string      `mapstructure:"audit_topic"`
	DeadLetterTopic string      `mapstructure:"dead_letter_topic"`
	Retry           RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BridgeConfig configures the downstream chat-gateway client.
type BridgeConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DispatchConfig configures the outbound retry scheduler.
//
// RetrySchedule is an ordered comma-separated list of base delays
// ("1s,4s,15s,60s"). It is parsed once at startup and must be
// non-decreasing; see ValidateStatic.
type DispatchConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetrySchedule    string        `mapstructure:"retry_schedule"`
	JitterMax        time.Duration `mapstructure:"jitter_max"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	IdlePollInterval time.Duration `mapstructure:"idle_poll_interval"`
	ClaimLease       time.Duration `mapstructure:"claim_lease"`
	OpenRetryDelay   time.Duration `mapstructure:"open_retry_delay"`
}

type BreakerConfig struct {
	Service          string        `mapstructure:"service"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
}

type DeadLetterConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Archive bool `mapstructure:"archive"`
}

type APIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
