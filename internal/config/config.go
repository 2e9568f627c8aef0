// Package config loads ariadne configuration from an optional YAML file with
// ARIADNE_* environment overrides. Environment always wins over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported LLM providers.
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderOllama   = "ollama"
)

// Config holds all ariadne configuration.
type Config struct {
	// DBPath is the relational database file.
	DBPath string `yaml:"db_path"`
	// VectorPath is the companion vector-store directory.
	VectorPath string `yaml:"vector_path"`
	// ProjectRoot is the analyzed JVM project checkout.
	ProjectRoot string `yaml:"project_root"`
	// ASMServiceURL is the remote bytecode analyzer endpoint.
	ASMServiceURL string `yaml:"asm_service_url"`

	LLM       LLMConfig       `yaml:"llm"`
	Server    ServerConfig    `yaml:"server"`
	Rebuild   RebuildConfig   `yaml:"rebuild"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the summarization and embedding providers.
type LLMConfig struct {
	Provider       string        `yaml:"provider"` // openai, deepseek, ollama
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr             string `yaml:"addr"`
	RateLimitEnabled bool   `yaml:"rate_limit_enabled"`
	RateLimitPerMin  int    `yaml:"rate_limit_per_min"`
}

// RebuildConfig configures the shadow rebuilder.
type RebuildConfig struct {
	KeepBackups       int           `yaml:"keep_backups"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// SummarizeConfig configures the parallel summarizer.
type SummarizeConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// LoggingConfig selects level and encoder.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		DBPath:        "ariadne.db",
		VectorPath:    "ariadne_vectors",
		ASMServiceURL: "http://localhost:8192",
		LLM: LLMConfig{
			Provider: "openai",
			Timeout:  30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8180",
			RateLimitPerMin: 120,
		},
		Rebuild: RebuildConfig{
			KeepBackups:       3,
			ReconcileInterval: 5 * time.Minute,
		},
		Summarize: SummarizeConfig{
			MaxWorkers: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (when non-empty and present) and applies environment
// overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Missing file is fine; env + defaults apply.
		default:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DBPath, "ARIADNE_DB_PATH")
	setString(&cfg.VectorPath, "ARIADNE_VECTOR_PATH")
	setString(&cfg.ProjectRoot, "ARIADNE_PROJECT_ROOT")
	setString(&cfg.ASMServiceURL, "ARIADNE_ASM_SERVICE_URL")
	setString(&cfg.LLM.Provider, "ARIADNE_LLM_PROVIDER")
	setString(&cfg.Logging.Level, "ARIADNE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "ARIADNE_LOG_FORMAT")
	setBool(&cfg.Server.RateLimitEnabled, "ARIADNE_RATE_LIMIT_ENABLED")

	// Per-provider credentials, e.g. ARIADNE_OPENAI_API_KEY. The selected
	// provider's variables take effect; others are ignored.
	prefix := "ARIADNE_" + strings.ToUpper(cfg.LLM.Provider) + "_"
	setString(&cfg.LLM.APIKey, prefix+"API_KEY")
	setString(&cfg.LLM.BaseURL, prefix+"BASE_URL")
	setString(&cfg.LLM.Model, prefix+"MODEL")
	setString(&cfg.LLM.EmbeddingModel, prefix+"EMBEDDING_MODEL")
}

func (c Config) validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderDeepSeek, ProviderOllama:
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	if c.Summarize.MaxWorkers <= 0 {
		return fmt.Errorf("summarize.max_workers must be positive, got %d", c.Summarize.MaxWorkers)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
