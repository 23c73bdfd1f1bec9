// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all configuration for the call console service.
type Configuration struct {
	Service       ServiceConfig
	Call          CallConfig
	Client        ClientConfig
	Interactions  InteractionsConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds identity and listener settings.
type ServiceConfig struct {
	Principal string
	WSPort    string
	WSPath    string
}

// CallConfig holds the fixed timing of the simulated call lifecycle.
type CallConfig struct {
	ConnectDelay        time.Duration // connecting -> active
	EndedToIdleDelay    time.Duration // ended -> idle
	AudioStatusInterval time.Duration // recurring audio level updates
	CallerDetectDelay   time.Duration // caller language detection after activation
	TelecomDetectDelay  time.Duration // telecommunicator language detection after activation
}

// ClientConfig holds client-side connection settings.
type ClientConfig struct {
	ReconnectBackoff time.Duration
}

// InteractionsConfig holds the append-only interaction log settings.
type InteractionsConfig struct {
	LogFile string
}

// KafkaConfig holds optional Kafka mirroring of interaction events.
type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
}

// ObservabilityConfig holds metrics and logging settings.
type ObservabilityConfig struct {
	MetricsPort string
	LogLevel    string
}

// Load reads configuration from environment variables, falling back to
// defaults on missing or unparseable values.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-console")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			WSPort:    envOrDefault("WS_PORT", "8080"),
			WSPath:    envOrDefault("WS_PATH", "/ws"),
		},
		Call: CallConfig{
			ConnectDelay:        envOrDefaultDuration("CALL_CONNECT_DELAY", 1*time.Second),
			EndedToIdleDelay:    envOrDefaultDuration("CALL_ENDED_IDLE_DELAY", 2*time.Second),
			AudioStatusInterval: envOrDefaultDuration("AUDIO_STATUS_INTERVAL", 500*time.Millisecond),
			CallerDetectDelay:   envOrDefaultDuration("LANG_DETECT_CALLER_DELAY", 1500*time.Millisecond),
			TelecomDetectDelay:  envOrDefaultDuration("LANG_DETECT_TELECOM_DELAY", 2*time.Second),
		},
		Client: ClientConfig{
			ReconnectBackoff: envOrDefaultDuration("CLIENT_RECONNECT_BACKOFF", 3*time.Second),
		},
		Interactions: InteractionsConfig{
			LogFile: envOrDefault("INTERACTIONS_LOG_FILE", "logs/interactions.jsonl"),
		},
		Kafka: KafkaConfig{
			Enabled:   envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:   envOrDefaultList("KAFKA_BROKERS", nil),
			Topic:     envOrDefault("KAFKA_TOPIC", "console.ui.interactions"),
			Principal: envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return parsed
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
