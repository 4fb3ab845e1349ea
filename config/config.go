package config

import (
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort     string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost     string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName    string `env:"SERVICE_NAME" envDefault:"squadcheck"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"squadcheck"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`
	// 只读副本 DSN，逗号分隔；打卡记录的批量读取走副本
	PostgreSQLReplicaDSNs []string `env:"POSTGRESQL_REPLICA_DSNS" envSeparator:","`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"sqck"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪 / 指标
	OTelEnabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string  `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"0.1"`

	// 结算调度配置
	SweepIntervalSeconds int    `env:"SWEEP_INTERVAL_SECONDS" envDefault:"60"`
	SweepTimeoutSeconds  int    `env:"SWEEP_TIMEOUT_SECONDS" envDefault:"120"`
	SweepConcurrency     int    `env:"SWEEP_CONCURRENCY" envDefault:"8"`
	SweepLockTTLSeconds  int    `env:"SWEEP_LOCK_TTL_SECONDS" envDefault:"300"`
	GuardBackend         string `env:"GUARD_BACKEND" envDefault:"db"` // db, redis
	GuardTTLHours        int    `env:"GUARD_TTL_HOURS" envDefault:"2160"`
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

func validateConfig() {
	if Cfg.SweepConcurrency < 1 {
		log.Printf("WARN: SWEEP_CONCURRENCY=%d is invalid, using 1", Cfg.SweepConcurrency)
		Cfg.SweepConcurrency = 1
	}

	if Cfg.SweepIntervalSeconds < 1 {
		log.Printf("WARN: SWEEP_INTERVAL_SECONDS=%d is invalid, using 60", Cfg.SweepIntervalSeconds)
		Cfg.SweepIntervalSeconds = 60
	}

	switch strings.ToLower(Cfg.GuardBackend) {
	case "db", "redis":
	default:
		log.Printf("WARN: GUARD_BACKEND=%q is unknown, falling back to db", Cfg.GuardBackend)
		Cfg.GuardBackend = "db"
	}

	if Cfg.OTelEnabled && Cfg.OTelEndpoint == "" {
		log.Printf("WARN: OTEL_ENABLED is set but OTEL_ENDPOINT is empty, telemetry export will fail")
	}
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c *Config) SweepTimeout() time.Duration {
	return time.Duration(c.SweepTimeoutSeconds) * time.Second
}

func (c *Config) SweepLockTTL() time.Duration {
	return time.Duration(c.SweepLockTTLSeconds) * time.Second
}

// GuardTTL 只作用于 redis 中成员周期的幂等键，阶段和胜者键不过期
func (c *Config) GuardTTL() time.Duration {
	return time.Duration(c.GuardTTLHours) * time.Hour
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
