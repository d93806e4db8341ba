// Package config loads Seven's configuration from seven.yaml with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Seven configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configures the model completion providers.
	LLM LLMConfig `yaml:"llm"`

	// Wake configures activation-phrase listening.
	Wake WakeConfig `yaml:"wake"`

	// Conversation configures the orchestrator.
	Conversation ConversationConfig `yaml:"conversation"`

	// Plugins configures the plugin registry and external loader.
	Plugins PluginsConfig `yaml:"plugins"`

	// Backend configures the long-term memory backend.
	Backend BackendConfig `yaml:"backend"`

	// Store configures the local session store.
	Store StoreConfig `yaml:"store"`

	// Logging configures category file logging.
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the model completion providers.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // auto, groq, ollama, gemini
	GroqAPIKey  string  `yaml:"groq_api_key"`
	GroqBaseURL string  `yaml:"groq_base_url"`
	GroqModel   string  `yaml:"groq_model"`
	OllamaURL   string  `yaml:"ollama_url"`
	OllamaModel string  `yaml:"ollama_model"`
	GeminiKey   string  `yaml:"gemini_api_key"`
	GeminiModel string  `yaml:"gemini_model"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// WakeConfig configures the wake-word detector.
type WakeConfig struct {
	Phrase    string  `yaml:"phrase"`
	Threshold float64 `yaml:"threshold"`

	// LivenessInterval is how often the detector verifies the
	// transcription source is still alive.
	LivenessInterval string `yaml:"liveness_interval"`

	// RestartBackoff is the delay before restarting after a source error.
	RestartBackoff string `yaml:"restart_backoff"`
}

// ConversationConfig configures the orchestrator.
type ConversationConfig struct {
	// MinRequestInterval is the cooperative pacing delay between
	// outbound model calls.
	MinRequestInterval string `yaml:"min_request_interval"`

	// MaxTurns bounds non-system history; oldest turns are dropped in
	// pairs beyond this.
	MaxTurns int `yaml:"max_turns"`
}

// PluginsConfig configures the plugin registry.
type PluginsConfig struct {
	// Dir holds external interpreted plugins and their manifest.yaml.
	Dir string `yaml:"dir"`

	// WatchDir enables hot-reload of the plugin directory.
	WatchDir bool `yaml:"watch_dir"`

	// Disabled lists plugin names registered but not executable.
	Disabled []string `yaml:"disabled"`
}

// BackendConfig configures the memory backend client.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
	UserID  string `yaml:"user_id"`
}

// StoreConfig configures the local session store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures category file logging.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "Seven",
		Version: "1.0.0",

		LLM: LLMConfig{
			Provider:    "auto",
			GroqBaseURL: "https://api.groq.com/openai/v1",
			GroqModel:   "llama-3.1-8b-instant",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
			GeminiModel: "gemini-2.0-flash",
			Timeout:     "120s",
			Temperature: 0.7,
			MaxTokens:   400,
		},

		Wake: WakeConfig{
			Phrase:           "seven",
			Threshold:        0.35,
			LivenessInterval: "5s",
			RestartBackoff:   "1s",
		},

		Conversation: ConversationConfig{
			MinRequestInterval: "1s",
			MaxTurns:           40,
		},

		Plugins: PluginsConfig{
			Dir:      ".seven/plugins",
			WatchDir: true,
		},

		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: "30s",
			UserID:  "seven_user",
		},

		Store: StoreConfig{
			DatabasePath: ".seven/seven.db",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file. Returns defaults if the file
// does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GROQ_API_KEY"); key != "" {
		c.LLM.GroqAPIKey = key
	}
	if url := os.Getenv("GROQ_API_BASE"); url != "" {
		c.LLM.GroqBaseURL = url
	}
	if model := os.Getenv("GROQ_MODEL"); model != "" {
		c.LLM.GroqModel = model
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		c.LLM.OllamaURL = url
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		c.LLM.OllamaModel = model
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.GeminiKey = key
	}
	if url := os.Getenv("SEVEN_BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}
	if path := os.Getenv("SEVEN_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetLLMTimeout returns the model request timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetBackendTimeout returns the backend request timeout as a duration.
func (c *Config) GetBackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetMinRequestInterval returns the orchestrator pacing interval.
func (c *Config) GetMinRequestInterval() time.Duration {
	d, err := time.ParseDuration(c.Conversation.MinRequestInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// GetLivenessInterval returns the wake supervision interval.
func (c *Config) GetLivenessInterval() time.Duration {
	d, err := time.ParseDuration(c.Wake.LivenessInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetRestartBackoff returns the wake restart backoff.
func (c *Config) GetRestartBackoff() time.Duration {
	d, err := time.ParseDuration(c.Wake.RestartBackoff)
	if err != nil {
		return time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Wake.Phrase == "" {
		return fmt.Errorf("wake phrase not configured")
	}
	if c.Wake.Threshold < 0 || c.Wake.Threshold > 1 {
		return fmt.Errorf("wake threshold must be in [0,1], got %v", c.Wake.Threshold)
	}
	switch c.LLM.Provider {
	case "auto", "groq", "ollama", "gemini":
	default:
		return fmt.Errorf("unknown LLM provider %q (valid: auto, groq, ollama, gemini)", c.LLM.Provider)
	}
	return nil
}
