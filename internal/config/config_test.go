package config

import (
	"os"
	"path/filepath"
	"testing"
)

// mapBackend is an in-memory ConfigBackend for tests.
type mapBackend struct {
	data map[string]any
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (m *mapBackend) SetString(key, val string) error { m.data[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error {
	m.data[key] = val
	return nil
}
func (m *mapBackend) Delete(key string) error { delete(m.data, key); return nil }

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4800 {
		t.Errorf("Port = %d, want 4800", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("Provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.Extract.MaxWorkers != 5 {
		t.Errorf("MaxWorkers = %d, want 5", cfg.Extract.MaxWorkers)
	}
	if cfg.Mail.LookbackDays != 7 {
		t.Errorf("LookbackDays = %d, want 7", cfg.Mail.LookbackDays)
	}
}

func TestLoad_BackendValues(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"server.port":     5000,
		"llm.model":       "llama3",
		"mail.senders":    "a@x.io, b@y.io",
		"retention.limit": 42,
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "llama3" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if len(cfg.Mail.Senders) != 2 || cfg.Mail.Senders[0] != "a@x.io" || cfg.Mail.Senders[1] != "b@y.io" {
		t.Errorf("Senders = %v", cfg.Mail.Senders)
	}
	if cfg.Retention.Limit != 42 {
		t.Errorf("Retention.Limit = %d", cfg.Retention.Limit)
	}
}

func TestLoad_PromptOverridesFromBackend(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"extract.prompt_overrides": `{"ai@news.dev":"Extract only AI stories."}`,
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if got := cfg.Extract.PromptOverrides["ai@news.dev"]; got != "Extract only AI stories." {
		t.Errorf("PromptOverrides = %v", cfg.Extract.PromptOverrides)
	}
}

func TestLoad_PromptOverridesFromEnv(t *testing.T) {
	t.Setenv("DIGESTD_EXTRACT_PROMPT_OVERRIDES", `{"env@x.io":"env instructions"}`)

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"extract.prompt_overrides": `{"file@x.io":"file instructions"}`,
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if _, ok := cfg.Extract.PromptOverrides["file@x.io"]; ok {
		t.Error("env override should replace the file value entirely")
	}
	if got := cfg.Extract.PromptOverrides["env@x.io"]; got != "env instructions" {
		t.Errorf("PromptOverrides = %v", cfg.Extract.PromptOverrides)
	}
}

func TestLoad_BadPromptOverridesKeepDefault(t *testing.T) {
	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"extract.prompt_overrides": `not a json object`,
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Extract.PromptOverrides != nil {
		t.Errorf("PromptOverrides = %v, want nil on unparsable value", cfg.Extract.PromptOverrides)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	t.Setenv("DIGESTD_LLM_MODEL", "env-model")
	t.Setenv("DIGESTD_MAIL_SENDERS", "env@only.io")

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"llm.model":    "file-model",
		"mail.senders": "file@only.io",
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.LLM.Model != "env-model" {
		t.Errorf("Model = %q, want env override", cfg.LLM.Model)
	}
	if len(cfg.Mail.Senders) != 1 || cfg.Mail.Senders[0] != "env@only.io" {
		t.Errorf("Senders = %v, want env override", cfg.Mail.Senders)
	}
}

func TestLoad_OpenRouterRequiresKey(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir()) // empty secrets file location

	_, err := loadWith(&mapBackend{data: map[string]any{
		"llm.provider": "openrouter",
	}})
	if err == nil {
		t.Fatal("openrouter without API key should fail to load")
	}
}

func TestLoad_OpenRouterKeyFromEnv(t *testing.T) {
	t.Setenv("DIGESTD_LLM_API_KEY", "sk-or-test")

	cfg, err := loadWith(&mapBackend{data: map[string]any{
		"llm.provider": "openrouter",
	}})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.LLM.APIKey != "sk-or-test" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
}

func TestDerivedDirs(t *testing.T) {
	cfg := defaults()
	cfg.Storage.DataDir = "/tmp/dd"

	if got := cfg.RawDir(); got != filepath.Join("/tmp/dd", "emails", "raw") {
		t.Errorf("RawDir = %q", got)
	}
	if got := cfg.ConvertedDir(); got != filepath.Join("/tmp/dd", "emails", "converted") {
		t.Errorf("ConvertedDir = %q", got)
	}
}

func TestGetOrCreateAPIToken_Stable(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	first, err := GetOrCreateAPIToken()
	if err != nil {
		t.Fatalf("GetOrCreateAPIToken: %v", err)
	}
	if first == "" {
		t.Fatal("empty token")
	}

	second, err := GetOrCreateAPIToken()
	if err != nil {
		t.Fatalf("second GetOrCreateAPIToken: %v", err)
	}
	if second != first {
		t.Errorf("token changed between calls: %q vs %q", first, second)
	}
}

func TestSetKey_UnknownAndSecret(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("nope.nothing", "x"); err == nil {
		t.Error("unknown key should error")
	}
	if err := SetKey("llm.api_key", "x"); err == nil {
		t.Error("secret key should not be settable via SetKey")
	}
	if err := SetKey("server.port", "6000"); err != nil {
		t.Errorf("SetKey(server.port): %v", err)
	}
	if err := SetKey("server.port", "not-a-number"); err == nil {
		t.Error("bad int should error")
	}
	if err := SetKey("extract.prompt_overrides", `{"a@b.c":"custom"}`); err != nil {
		t.Errorf("SetKey(extract.prompt_overrides): %v", err)
	}
	if err := SetKey("extract.prompt_overrides", "not json"); err == nil {
		t.Error("bad JSON object should error")
	}

	if err := UnsetKey("server.port"); err != nil {
		t.Errorf("UnsetKey(server.port): %v", err)
	}
	if err := UnsetKey("nope.nothing"); err == nil {
		t.Error("unsetting unknown key should error")
	}
}

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newFileBackend()
	if err := b.SetString("llm.model", "m1"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if err := b.SetInt("server.port", 7000); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	// A fresh backend reads the persisted file.
	b2 := newFileBackend()
	s, ok, err := b2.GetString("llm.model")
	if err != nil || !ok || s != "m1" {
		t.Errorf("GetString = %q/%v/%v", s, ok, err)
	}
	i, ok, err := b2.GetInt("server.port")
	if err != nil || !ok || i != 7000 {
		t.Errorf("GetInt = %d/%v/%v", i, ok, err)
	}

	if err := b2.Delete("llm.model"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newFileBackend().GetString("llm.model"); ok {
		t.Error("deleted key still present")
	}

	if _, err := os.Stat(configFilePath()); err != nil {
		t.Errorf("config file missing: %v", err)
	}
}
