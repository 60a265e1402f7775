// Package config provides configuration loading for coachd.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then COACHD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete coachd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	LLM           LLMConfig           `koanf:"llm"`
	Memory        MemoryConfig        `koanf:"memory"`
	Profile       ProfileConfig       `koanf:"profile"`
	Session       SessionConfig       `koanf:"session"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	Events        EventsConfig        `koanf:"events"`
	Monitor       MonitorConfig       `koanf:"monitor"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig is the subset of logging options exposed through config files.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool     `koanf:"enable_telemetry"`
	ServiceName     string   `koanf:"service_name"`
	ServiceVersion  string   `koanf:"service_version"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"`
	Insecure        bool     `koanf:"insecure"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// LLMConfig selects and configures the generation backend.
type LLMConfig struct {
	Provider       string   `koanf:"provider"` // groq, openai, gemini
	Model          string   `koanf:"model"`
	APIKey         Secret   `koanf:"api_key"`
	BaseURL        string   `koanf:"base_url"`
	Timeout        Duration `koanf:"timeout"`
	MaxRetries     int      `koanf:"max_retries"`
	RequestsPerMin int      `koanf:"requests_per_min"`
}

// MemoryConfig selects the memory fact store.
type MemoryConfig struct {
	Driver   string `koanf:"driver"` // memory, sqlite, postgres, mongo
	DSN      Secret `koanf:"dsn"`
	Database string `koanf:"database"`
}

// ProfileConfig selects the user profile store.
type ProfileConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite, postgres
	DSN    Secret `koanf:"dsn"`
}

// SessionConfig selects the chat session backend.
type SessionConfig struct {
	Backend     string   `koanf:"backend"` // lru, redis
	Addr        string   `koanf:"addr"`
	Password    Secret   `koanf:"password"`
	MaxMessages int      `koanf:"max_messages"`
	MaxUsers    int      `koanf:"max_users"`
	TTL         Duration `koanf:"ttl"`
}

// RetrievalConfig selects the knowledge retrieval backend.
type RetrievalConfig struct {
	Backend    string `koanf:"backend"` // chromem, qdrant, none
	Path       string `koanf:"path"`
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	Embedder   string `koanf:"embedder"` // gemini, openai
	EmbedModel string `koanf:"embed_model"`
	BaseURL    string `koanf:"base_url"`
	APIKey     Secret `koanf:"api_key"`

	// KnowledgeDir is indexed on startup when the collection is empty.
	KnowledgeDir string `koanf:"knowledge_dir"`
}

// EventsConfig configures run event publishing.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
}

// MonitorConfig configures the intervention monitor sweep.
type MonitorConfig struct {
	Enabled              bool     `koanf:"enabled"`
	Interval             Duration `koanf:"interval"`
	AdherenceThreshold   float64  `koanf:"adherence_threshold"`
	AbandonmentThreshold float64  `koanf:"abandonment_threshold"`
	Concurrency          int      `koanf:"concurrency"`
}

// PipelineConfig holds pipeline execution settings.
type PipelineConfig struct {
	StepTimeout Duration `koanf:"step_timeout"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			ServiceName:     "coachd",
			ServiceVersion:  "0.1.0",
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			SampleRate:      1.0,
			MetricsInterval: Duration(15 * time.Second),
		},
		LLM: LLMConfig{
			Provider:       "groq",
			Model:          "llama-3.3-70b-versatile",
			BaseURL:        "https://api.groq.com/openai/v1",
			Timeout:        Duration(60 * time.Second),
			MaxRetries:     3,
			RequestsPerMin: 30,
		},
		Memory: MemoryConfig{
			Driver:   "memory",
			Database: "coachd",
		},
		Profile: ProfileConfig{
			Driver: "memory",
		},
		Session: SessionConfig{
			Backend:     "lru",
			Addr:        "localhost:6379",
			MaxMessages: 20,
			MaxUsers:    10000,
			TTL:         Duration(24 * time.Hour),
		},
		Retrieval: RetrievalConfig{
			Backend:    "none",
			Host:       "localhost",
			Port:       6334,
			Collection: "coachd_knowledge",
			Embedder:   "gemini",
			EmbedModel: "text-embedding-004",
		},
		Monitor: MonitorConfig{
			Interval:             Duration(time.Hour),
			AdherenceThreshold:   0.6,
			AbandonmentThreshold: 0.7,
			Concurrency:          4,
		},
		Pipeline: PipelineConfig{
			StepTimeout: Duration(30 * time.Second),
		},
	}
}

var (
	validLLMProviders  = []string{"groq", "openai", "gemini"}
	validMemoryDrivers = []string{"memory", "sqlite", "postgres", "mongo"}
	validProfileDriver = []string{"memory", "sqlite", "postgres"}
	validSessions      = []string{"lru", "redis"}
	validRetrieval     = []string{"none", "chromem", "qdrant"}
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if !oneOf(c.LLM.Provider, validLLMProviders) {
		return fmt.Errorf("invalid llm provider %q (must be one of %v)", c.LLM.Provider, validLLMProviders)
	}
	if c.LLM.Model == "" {
		return errors.New("llm model is required")
	}
	if !oneOf(c.Memory.Driver, validMemoryDrivers) {
		return fmt.Errorf("invalid memory driver %q (must be one of %v)", c.Memory.Driver, validMemoryDrivers)
	}
	if c.Memory.Driver != "memory" && !c.Memory.DSN.IsSet() {
		return fmt.Errorf("memory dsn required for driver %q", c.Memory.Driver)
	}
	if !oneOf(c.Profile.Driver, validProfileDriver) {
		return fmt.Errorf("invalid profile driver %q (must be one of %v)", c.Profile.Driver, validProfileDriver)
	}
	if !oneOf(c.Session.Backend, validSessions) {
		return fmt.Errorf("invalid session backend %q (must be one of %v)", c.Session.Backend, validSessions)
	}
	if c.Session.MaxMessages < 1 {
		return fmt.Errorf("session max_messages must be positive, got %d", c.Session.MaxMessages)
	}
	if !oneOf(c.Retrieval.Backend, validRetrieval) {
		return fmt.Errorf("invalid retrieval backend %q (must be one of %v)", c.Retrieval.Backend, validRetrieval)
	}
	if c.Monitor.AdherenceThreshold < 0 || c.Monitor.AdherenceThreshold > 1 {
		return fmt.Errorf("monitor adherence_threshold must be within [0,1], got %v", c.Monitor.AdherenceThreshold)
	}
	if c.Monitor.AbandonmentThreshold < 0 || c.Monitor.AbandonmentThreshold > 1 {
		return fmt.Errorf("monitor abandonment_threshold must be within [0,1], got %v", c.Monitor.AbandonmentThreshold)
	}
	if c.Monitor.Enabled && c.Monitor.Interval.Duration() <= 0 {
		return errors.New("monitor interval must be positive when enabled")
	}
	if c.Pipeline.StepTimeout.Duration() <= 0 {
		return errors.New("pipeline step_timeout must be positive")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
