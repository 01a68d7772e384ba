package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kList // comma-separated strings
	kMap  // JSON object of string values
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "DIGESTD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "llm.provider", typ: kString, env: "DIGESTD_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.base_url", typ: kString, env: "DIGESTD_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "DIGESTD_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.api_key", typ: kString, env: "DIGESTD_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.timeout_seconds", typ: kInt, env: "DIGESTD_LLM_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.LLM.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.TimeoutSeconds },
	},
	{
		key: "mail.source", typ: kString, env: "DIGESTD_MAIL_SOURCE",
		apply:   func(cfg *Config, v any) { cfg.Mail.Source = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.Source },
	},
	{
		key: "mail.path", typ: kString, env: "DIGESTD_MAIL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Mail.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Mail.Path },
	},
	{
		key: "mail.senders", typ: kList, env: "DIGESTD_MAIL_SENDERS",
		apply:   func(cfg *Config, v any) { cfg.Mail.Senders = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Mail.Senders, ",") },
	},
	{
		key: "mail.lookback_days", typ: kInt, env: "DIGESTD_MAIL_LOOKBACK_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Mail.LookbackDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Mail.LookbackDays },
	},
	{
		key: "extract.max_workers", typ: kInt, env: "DIGESTD_EXTRACT_MAX_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Extract.MaxWorkers = v.(int) },
		extract: func(cfg Config) any { return cfg.Extract.MaxWorkers },
	},
	{
		key: "extract.prompt_overrides", typ: kMap, env: "DIGESTD_EXTRACT_PROMPT_OVERRIDES",
		apply:   func(cfg *Config, v any) { cfg.Extract.PromptOverrides = v.(map[string]string) },
		extract: func(cfg Config) any { return mapValue(cfg.Extract.PromptOverrides) },
	},
	{
		key: "retention.limit", typ: kInt, env: "DIGESTD_RETENTION_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Retention.Limit = v.(int) },
		extract: func(cfg Config) any { return cfg.Retention.Limit },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DIGESTD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DIGESTD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func parseMap(raw string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func mapValue(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kList:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				s.apply(cfg, splitList(v))
			}
		case kMap:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if m, err := parseMap(v); err == nil {
					s.apply(cfg, m)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse JSON object from config key %s: %v. Using default value.\n", s.key, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kList:
			s.apply(cfg, splitList(raw))
		case kMap:
			if m, err := parseMap(raw); err == nil {
				s.apply(cfg, m)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse JSON object from env var %s: %v. Using default value.\n", s.env, err)
			}
		}
	}
}
