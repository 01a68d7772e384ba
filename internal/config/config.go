// Package config loads daemon configuration from a JSON file at
// $XDG_CONFIG_HOME/digestd/config.json, with DIGESTD_* environment variables
// overriding file values.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Mail      MailConfig
	Extract   ExtractConfig
	Retention RetentionConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type LLMConfig struct {
	Provider       string // "ollama" or "openrouter"
	BaseURL        string
	Model          string
	APIKey         string
	TimeoutSeconds int
}

type MailConfig struct {
	Source       string // mail source name, e.g. "maildir"
	Path         string // source-specific location
	Senders      []string
	LookbackDays int
}

type ExtractConfig struct {
	MaxWorkers      int
	PromptOverrides map[string]string // sender -> extraction instructions
}

type RetentionConfig struct {
	Limit int // max ProcessedEmail records kept; <= 0 disables retention
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4800,
		},
		LLM: LLMConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "mistral-nemo",
			TimeoutSeconds: 60,
		},
		Mail: MailConfig{
			Source:       "maildir",
			Path:         filepath.Join(dataDir, "inbox"),
			LookbackDays: 7,
		},
		Extract: ExtractConfig{
			MaxWorkers: 5,
		},
		Retention: RetentionConfig{
			Limit: 500,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// RawDir is where collected messages are persisted as JSON before conversion.
func (c Config) RawDir() string {
	return filepath.Join(c.Storage.DataDir, "emails", "raw")
}

// ConvertedDir is where normalized text renditions of messages live.
func (c Config) ConvertedDir() string {
	return filepath.Join(c.Storage.DataDir, "emails", "converted")
}

// Load reads configuration from the config file, applies environment
// overrides, and pulls the LLM API key from the secrets file when the
// provider needs one and the key is still empty.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.Provider == "openrouter" && cfg.LLM.APIKey == "" {
		if key, err := secretGet("digestd", "openrouter_api_key"); err == nil {
			cfg.LLM.APIKey = strings.TrimSpace(key)
		}
	}

	if cfg.LLM.Provider == "openrouter" && cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenRouter API key. " +
			"Set it via environment variable DIGESTD_LLM_API_KEY or `digestd config set-secret openrouter_api_key`")
	}

	return cfg, nil
}
