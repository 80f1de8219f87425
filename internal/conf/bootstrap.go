// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with CONNECTORLANE_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Conditionally required values:
//   - REDIS_ADDR or CONNECTORLANE_DATA_REDIS_ADDR when queue.store is redis
//   - data.sqlite.path when queue.store is sqlite
//   - MYSQL_DSN or CONNECTORLANE_DATA_DATABASE_SOURCE when connector.organization_id is set
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("CONNECTORLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short names kept for deployment scripts shared with the dashboard
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "CONNECTORLANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "CONNECTORLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("server.http.admin_token", "ADMIN_TOKEN", "CONNECTORLANE_SERVER_HTTP_ADMIN_TOKEN")
	_ = v.BindEnv("security.encryption_key", "ENCRYPTION_KEY", "CONNECTORLANE_SECURITY_ENCRYPTION_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &HTTP{
				Network:    v.GetString("server.http.network"),
				Addr:       v.GetString("server.http.addr"),
				Timeout:    v.GetDuration("server.http.timeout"),
				AdminToken: v.GetString("server.http.admin_token"),
			},
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
			SQLite: &SQLite{
				Path: v.GetString("data.sqlite.path"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Breaker: &Breaker{
			FailureThreshold: v.GetUint32("breaker.failure_threshold"),
			SuccessThreshold: v.GetUint32("breaker.success_threshold"),
			Timeout:          v.GetDuration("breaker.timeout"),
			Cooldown:         v.GetDuration("breaker.cooldown"),
		},
		Queue: &Queue{
			Store:                v.GetString("queue.store"),
			Key:                  v.GetString("queue.key"),
			MaxRetries:           v.GetInt("queue.max_retries"),
			RetryDelay:           v.GetDuration("queue.retry_delay"),
			SurfacePersistErrors: v.GetBool("queue.surface_persist_errors"),
			DrainSchedule:        v.GetString("queue.drain_schedule"),
			DrainTimeout:         v.GetDuration("queue.drain_timeout"),
			CleanupSchedule:      v.GetString("queue.cleanup_schedule"),
		},
		Connector: &Connector{
			OrganizationID: v.GetString("connector.organization_id"),
			RequestTimeout: v.GetDuration("connector.request_timeout"),
			RateLimit:      v.GetFloat64("connector.rate_limit"),
			RateBurst:      v.GetInt("connector.rate_burst"),
			IdempotencyTTL: v.GetDuration("connector.idempotency_ttl"),
			IdempotencyMax: v.GetInt("connector.idempotency_max"),
		},
		Security: &Security{
			EncryptionKey: v.GetString("security.encryption_key"),
		},
		Metrics: &Metrics{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
			Path:      v.GetString("metrics.path"),
		},
	}

	if err := v.UnmarshalKey("connectors", &bc.Connectors); err != nil {
		return nil, fmt.Errorf("failed to parse connectors: %w", err)
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.db", 0)
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("data.sqlite.path", "connectorlane.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.timeout", 60*time.Second)
	v.SetDefault("breaker.cooldown", 30*time.Second)

	v.SetDefault("queue.store", "redis")
	v.SetDefault("queue.key", "autorepai:offline_queue")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_delay", 5*time.Second)
	v.SetDefault("queue.surface_persist_errors", false)
	v.SetDefault("queue.drain_schedule", "0 */1 * * * *")
	v.SetDefault("queue.drain_timeout", 10*time.Minute)
	v.SetDefault("queue.cleanup_schedule", "0 0 3 * * *")

	v.SetDefault("connector.request_timeout", 30*time.Second)
	v.SetDefault("connector.rate_limit", 10.0)
	v.SetDefault("connector.rate_burst", 20)
	v.SetDefault("connector.idempotency_ttl", 10*time.Minute)
	v.SetDefault("connector.idempotency_max", 1024)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "connectorlane")
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks struct-level constraints and the cross-field requirements.
// It returns one error listing every missing or invalid field.
func Validate(bc *Bootstrap) error {
	var missingFields []string
	var invalidFields []string

	if bc.Server == nil || bc.Server.HTTP == nil || bc.Server.HTTP.Addr == "" {
		missingFields = append(missingFields, "server.http.addr")
	}

	if bc.Queue == nil {
		missingFields = append(missingFields, "queue")
	} else {
		switch bc.Queue.Store {
		case "redis":
			if bc.Data == nil || bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
				missingFields = append(missingFields, "data.redis.addr (REDIS_ADDR)")
			}
		case "sqlite":
			if bc.Data == nil || bc.Data.SQLite == nil || bc.Data.SQLite.Path == "" {
				missingFields = append(missingFields, "data.sqlite.path")
			}
		}
	}

	if bc.Connector != nil && bc.Connector.OrganizationID != "" {
		if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
			missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
		}
	}

	if bc.Security != nil && bc.Security.EncryptionKey != "" && len(bc.Security.EncryptionKey) != 32 {
		invalidFields = append(invalidFields, "security.encryption_key (must be 32 bytes)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	if err := validator.New().Struct(bc); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		for _, fe := range verrs {
			invalidFields = append(invalidFields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
	}

	if len(invalidFields) > 0 {
		return fmt.Errorf("invalid configuration fields: %s", strings.Join(invalidFields, ", "))
	}

	return nil
}
