package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Quota    QuotaConfig    `mapstructure:"quota" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Stream   StreamConfig   `mapstructure:"stream" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// ShutdownTimeoutSeconds bounds graceful shutdown of the server and workers.
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
}

// ShutdownTimeout is the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig configures the queue transport and the stream cancel bus.
type RedisConfig struct {
	URL           string `mapstructure:"url" validate:"required,url"`
	QueueKey      string `mapstructure:"queue_key" validate:"required"`
	CancelChannel string `mapstructure:"cancel_channel" validate:"required"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	// TokenLifetimeMinutes applies to tokens this service issues (-issue-token).
	TokenLifetimeMinutes int `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// Queue transports
const (
	TransportRedis  = "redis"
	TransportMemory = "memory"
)

// QueueConfig tunes the blocking pop and the backup poller.
type QueueConfig struct {
	// Transport is "redis", or "memory" for a single process without Redis:
	// tasks are handed off through an in-process buffer and stream
	// cancellation is not broadcast.
	Transport                 string `mapstructure:"transport" validate:"oneof=redis memory"`
	MemoryCapacity            int    `mapstructure:"memory_capacity" validate:"gt=0"`
	PollTimeoutSeconds        int `mapstructure:"poll_timeout_seconds" validate:"gt=0"`
	BackupPollIntervalSeconds int `mapstructure:"backup_poll_interval_seconds" validate:"gt=0"`
	PendingGraceSeconds       int `mapstructure:"pending_grace_seconds" validate:"gte=0"`
	BackupBatchSize           int `mapstructure:"backup_batch_size" validate:"gt=0"`
	StaleProcessingSeconds    int `mapstructure:"stale_processing_seconds" validate:"gt=0"`
}

// PollTimeout is the blocking-pop timeout.
func (q QueueConfig) PollTimeout() time.Duration {
	return time.Duration(q.PollTimeoutSeconds) * time.Second
}

// BackupPollInterval is the period of the backup poller.
func (q QueueConfig) BackupPollInterval() time.Duration {
	return time.Duration(q.BackupPollIntervalSeconds) * time.Second
}

// PendingGrace is how old a pending task must be before the poller re-injects it.
func (q QueueConfig) PendingGrace() time.Duration {
	return time.Duration(q.PendingGraceSeconds) * time.Second
}

// StaleProcessing is how long a task may stay processing before the poller
// reports it.
func (q QueueConfig) StaleProcessing() time.Duration {
	return time.Duration(q.StaleProcessingSeconds) * time.Second
}

// WorkerConfig bounds task and stream concurrency.
type WorkerConfig struct {
	Concurrency          int `mapstructure:"concurrency" validate:"gt=0,lte=64"`
	MaxConcurrentPerUser int `mapstructure:"max_concurrent_per_user" validate:"gt=0"`
}

// QuotaConfig holds the limits given to new quota records.
type QuotaConfig struct {
	DailyChatLimit     int64 `mapstructure:"daily_chat_limit" validate:"gte=0"`
	DailyGenerateLimit int64 `mapstructure:"daily_generate_limit" validate:"gte=0"`
	MonthlyTokenLimit  int64 `mapstructure:"monthly_token_limit" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	Provider              string `mapstructure:"provider" validate:"required,oneof=gemini ollama"`
	GeminiAPIKey          string `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	ModelName             string `mapstructure:"model_name" validate:"required"`
	OllamaHost            string `mapstructure:"ollama_host" validate:"required_if=Provider ollama"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds" validate:"gt=0"`
	MaxRetries            int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds     int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
}

// RequestTimeout bounds a single provider call.
func (l LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(l.RequestTimeoutSeconds) * time.Second
}

// RetryDelay is the initial backoff between provider retries.
func (l LLMConfig) RetryDelay() time.Duration {
	return time.Duration(l.RetryDelaySeconds) * time.Second
}

// StreamConfig tunes the stream controller.
type StreamConfig struct {
	MaxToolTurns             int    `mapstructure:"max_tool_turns" validate:"gt=0,lte=20"`
	FinishedSessionCacheSize int    `mapstructure:"finished_session_cache_size" validate:"gt=0"`
	MCPCommand               string `mapstructure:"mcp_command"`
}
