// ABOUTME: Configuration loading and parsing for the chatizia gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	LLM        LLMConfig        `yaml:"llm"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Escalation EscalationConfig `yaml:"escalation"`
	Events     EventsConfig     `yaml:"events"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig holds completion-service configuration. BaseURL may point
// at any OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	ResponderModel  string `yaml:"responder_model"`
	ClassifierModel string `yaml:"classifier_model"`
	EmbeddingsModel string `yaml:"embeddings_model"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// RetrievalConfig holds knowledge-base retrieval configuration.
// An empty persist_path keeps the vector store in memory.
type RetrievalConfig struct {
	PersistPath string `yaml:"persist_path"`
}

// EscalationConfig tunes the sentiment escalation policy.
type EscalationConfig struct {
	WindowSize        int `yaml:"window_size"`
	NegativeThreshold int `yaml:"negative_threshold"`
}

// EventsConfig tunes event delivery.
type EventsConfig struct {
	ReconcileInterval    time.Duration `yaml:"-"`
	ReconcileIntervalRaw string        `yaml:"reconcile_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.LLM.ResponderModel == "" {
		c.LLM.ResponderModel = "gpt-4o-mini"
	}
	if c.LLM.ClassifierModel == "" {
		c.LLM.ClassifierModel = c.LLM.ResponderModel
	}
	if c.LLM.EmbeddingsModel == "" {
		c.LLM.EmbeddingsModel = "text-embedding-3-small"
	}
	if c.Escalation.WindowSize == 0 {
		c.Escalation.WindowSize = 5
	}
	if c.Escalation.NegativeThreshold == 0 {
		c.Escalation.NegativeThreshold = 3
	}
	if c.Events.ReconcileInterval == 0 {
		c.Events.ReconcileInterval = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Escalation.WindowSize < 1 {
		return fmt.Errorf("escalation.window_size must be positive")
	}
	if c.Escalation.NegativeThreshold < 1 {
		return fmt.Errorf("escalation.negative_threshold must be positive")
	}
	if c.Escalation.NegativeThreshold > c.Escalation.WindowSize {
		return fmt.Errorf("escalation.negative_threshold cannot exceed window_size")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.LLM.TimeoutRaw != "" {
		cfg.LLM.Timeout, err = time.ParseDuration(cfg.LLM.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing llm.timeout %q: %w", cfg.LLM.TimeoutRaw, err)
		}
	}

	if cfg.Events.ReconcileIntervalRaw != "" {
		cfg.Events.ReconcileInterval, err = time.ParseDuration(cfg.Events.ReconcileIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing events.reconcile_interval %q: %w", cfg.Events.ReconcileIntervalRaw, err)
		}
	}

	return nil
}
