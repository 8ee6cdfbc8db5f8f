package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SCRIBE"

var defaults = map[string]any{
	"server.port":                     8080,
	"server.log_level":                "info",
	"server.shutdown_timeout_seconds": 15,

	"database.url": "",

	"redis.url":            "redis://localhost:6379/0",
	"redis.queue_key":      "scribe:tasks",
	"redis.cancel_channel": "scribe:stream:cancel",

	"auth.jwt_secret":             "",
	"auth.token_lifetime_minutes": 60,

	"queue.transport":                    "redis",
	"queue.memory_capacity":              1000,
	"queue.poll_timeout_seconds":         5,
	"queue.backup_poll_interval_seconds": 300,
	"queue.pending_grace_seconds":        60,
	"queue.backup_batch_size":            20,
	"queue.stale_processing_seconds":     1800,

	"worker.concurrency":             3,
	"worker.max_concurrent_per_user": 2,

	"quota.daily_chat_limit":     100,
	"quota.daily_generate_limit": 50,
	"quota.monthly_token_limit":  1000000,

	"llm.provider":                "gemini",
	"llm.gemini_api_key":          "",
	"llm.model_name":              "gemini-2.0-flash",
	"llm.ollama_host":             "",
	"llm.request_timeout_seconds": 60,
	"llm.max_retries":             3,
	"llm.retry_delay_seconds":     2,

	"stream.max_tool_turns":              5,
	"stream.finished_session_cache_size": 256,
	"stream.mcp_command":                 "",
}

// Load reads configuration from defaults, an optional config.yaml in the
// working directory and SCRIBE_ environment variables, in increasing order of
// precedence, and validates the result.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path searches the
// working directory for config.yaml and tolerates its absence.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
