/**
 * @description
 * Configuration management for the loan-accrual-service. Values come from
 * environment variables, with an optional .env file for local development.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration loading and env binding.
 */
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverRedis    = "redis"
	StoreDriverMemory   = "memory"

	SinkRabbitMQ = "rabbitmq"
	SinkKafka    = "kafka"
	SinkLog      = "log"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all the configuration variables for the loan-accrual-service.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	StateStoreDriver string `mapstructure:"STATE_STORE_DRIVER"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`
	RunMigrations    bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL         string `mapstructure:"REDIS_URL"`
	RedisStatePrefix string `mapstructure:"REDIS_STATE_PREFIX"`

	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	LoanEventsExchange string `mapstructure:"LOAN_EVENTS_EXCHANGE"`
	LoanEventsQueue    string `mapstructure:"LOAN_EVENTS_QUEUE"`
	NotificationSink   string `mapstructure:"NOTIFICATION_SINK"`
	KafkaBrokers       string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic         string `mapstructure:"KAFKA_TOPIC"`

	LoanServiceURL            string `mapstructure:"LOAN_SERVICE_URL"`
	LoanServiceInternalAPIKey string `mapstructure:"LOAN_SERVICE_INTERNAL_API_KEY"`
	InternalAPIKey            string `mapstructure:"INTERNAL_API_KEY"`
	ClerkJWKSURL              string `mapstructure:"CLERK_JWKS_URL"`

	TickInterval      time.Duration `mapstructure:"TICK_INTERVAL"`
	SaveTimeout       time.Duration `mapstructure:"SAVE_TIMEOUT"`
	ResumeJobSchedule string        `mapstructure:"RESUME_JOB_SCHEDULE"`

	NotificationTimeout   time.Duration `mapstructure:"NOTIFICATION_TIMEOUT"`
	NotificationQueueSize int           `mapstructure:"NOTIFICATION_QUEUE_SIZE"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("STATE_STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_STATE_PREFIX", "loan_accrual:state")
	viper.SetDefault("LOAN_EVENTS_EXCHANGE", "loan.events")
	viper.SetDefault("LOAN_EVENTS_QUEUE", "loan_accrual_service.loan_events")
	viper.SetDefault("NOTIFICATION_SINK", SinkRabbitMQ)
	viper.SetDefault("KAFKA_TOPIC", "loan-accrual-events")
	viper.SetDefault("TICK_INTERVAL", "1s")
	viper.SetDefault("SAVE_TIMEOUT", "2s")
	viper.SetDefault("RESUME_JOB_SCHEDULE", "@every 1m")
	viper.SetDefault("NOTIFICATION_TIMEOUT", "5s")
	viper.SetDefault("NOTIFICATION_QUEUE_SIZE", 1024)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STATE_STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_STATE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LOAN_EVENTS_EXCHANGE")
	_ = viper.BindEnv("LOAN_EVENTS_QUEUE")
	_ = viper.BindEnv("NOTIFICATION_SINK")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("KAFKA_TOPIC")
	_ = viper.BindEnv("LOAN_SERVICE_URL")
	_ = viper.BindEnv("LOAN_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("TICK_INTERVAL")
	_ = viper.BindEnv("SAVE_TIMEOUT")
	_ = viper.BindEnv("RESUME_JOB_SCHEDULE")
	_ = viper.BindEnv("NOTIFICATION_TIMEOUT")
	_ = viper.BindEnv("NOTIFICATION_QUEUE_SIZE")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "error", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StateStoreDriver = strings.ToLower(strings.TrimSpace(config.StateStoreDriver))
	config.NotificationSink = strings.ToLower(strings.TrimSpace(config.NotificationSink))
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.LoanServiceInternalAPIKey = strings.TrimSpace(config.LoanServiceInternalAPIKey)
	if config.LoanServiceInternalAPIKey == "" {
		config.LoanServiceInternalAPIKey = config.InternalAPIKey
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)

	err = config.Validate()
	return
}

// Validate checks that the settings required by the selected drivers are present.
func (c Config) Validate() error {
	switch c.StateStoreDriver {
	case StoreDriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: DATABASE_URL is required when STATE_STORE_DRIVER=postgres", ErrInvalidConfig)
		}
	case StoreDriverRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: REDIS_URL is required when STATE_STORE_DRIVER=redis", ErrInvalidConfig)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("%w: STATE_STORE_DRIVER %q is not one of postgres, redis, memory", ErrInvalidConfig, c.StateStoreDriver)
	}

	switch c.NotificationSink {
	case SinkRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("%w: RABBITMQ_URL is required when NOTIFICATION_SINK=rabbitmq", ErrInvalidConfig)
		}
	case SinkKafka:
		if strings.TrimSpace(c.KafkaBrokers) == "" {
			return fmt.Errorf("%w: KAFKA_BROKERS is required when NOTIFICATION_SINK=kafka", ErrInvalidConfig)
		}
	case SinkLog:
	default:
		return fmt.Errorf("%w: NOTIFICATION_SINK %q is not one of rabbitmq, kafka, log", ErrInvalidConfig, c.NotificationSink)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: TICK_INTERVAL must be positive", ErrInvalidConfig)
	}
	if c.SaveTimeout <= 0 {
		return fmt.Errorf("%w: SAVE_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.NotificationTimeout <= 0 {
		return fmt.Errorf("%w: NOTIFICATION_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.NotificationQueueSize <= 0 {
		return fmt.Errorf("%w: NOTIFICATION_QUEUE_SIZE must be positive", ErrInvalidConfig)
	}
	return nil
}
