package conf

import "time"

// Bootstrap is the root configuration of the ConnectorLane service.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Log        *Log
	Breaker    *Breaker
	Queue      *Queue
	Connector  *Connector
	Security   *Security
	Metrics    *Metrics
	Connectors []*StaticConnector
}

// Server holds transport settings.
type Server struct {
	HTTP *HTTP
}

// HTTP configures the admin HTTP server.
type HTTP struct {
	Network string
	Addr    string `validate:"required"`
	Timeout time.Duration
	// AdminToken guards every /v1 route when set.
	AdminToken string
}

// Data holds storage settings.
type Data struct {
	Database *Database
	Redis    *Redis
	SQLite   *SQLite
}

// Database configures the MySQL connection used for integration configs and audit logs.
type Database struct {
	Driver string
	Source string
}

// Redis configures the Redis connection backing the offline queue.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SQLite configures the single-node queue store.
type SQLite struct {
	Path string
}

// Log configures the zap logger.
type Log struct {
	Level      string `validate:"oneof=debug info warn error"`
	Format     string `validate:"oneof=json console"`
	Env        string
	OutputFile string
}

// Breaker holds circuit breaker defaults applied to every connector breaker.
type Breaker struct {
	FailureThreshold uint32        `validate:"gte=1"`
	SuccessThreshold uint32        `validate:"gte=1"`
	Timeout          time.Duration `validate:"gt=0"`
	Cooldown         time.Duration `validate:"gt=0"`
}

// Queue configures the offline operation queue.
type Queue struct {
	Store      string        `validate:"oneof=redis sqlite memory"`
	Key        string        `validate:"required"`
	MaxRetries int           `validate:"gte=1"`
	RetryDelay time.Duration `validate:"gte=0"`
	// SurfacePersistErrors returns store write failures to callers instead of
	// only logging them.
	SurfacePersistErrors bool
	DrainSchedule        string
	DrainTimeout         time.Duration
	CleanupSchedule      string
}

// Connector configures outbound DMS calls.
type Connector struct {
	OrganizationID string
	RequestTimeout time.Duration `validate:"gt=0"`
	RateLimit      float64       `validate:"gte=0"`
	RateBurst      int           `validate:"gte=0"`
	IdempotencyTTL time.Duration
	IdempotencyMax int
}

// Security holds secrets used to decrypt stored integration credentials.
type Security struct {
	EncryptionKey string
}

// Metrics configures the Prometheus collector.
type Metrics struct {
	Enabled   bool
	Namespace string
	Path      string
}

// StaticConnector is a connector declared directly in the config file.
type StaticConnector struct {
	Provider    string `mapstructure:"provider"`
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DealerCode  string `mapstructure:"dealer_code"`
	ProxyURL    string `mapstructure:"proxy_url"`
	Environment string `mapstructure:"environment"`
	Enabled     bool   `mapstructure:"enabled"`
}
