package config

import (
	"strings"
	"testing"
	"time"
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
	return v.(string), true, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func (m *mapBackend) SetString(key, val string) error  { m.data[key] = val; return nil }
func (m *mapBackend) SetInt(key string, val int) error { m.data[key] = val; return nil }
func (m *mapBackend) Delete(key string) error          { delete(m.data, key); return nil }

func TestDefaults(t *testing.T) {
	b := &mapBackend{data: map[string]any{"corpus.path": "/data/corpus.db"}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4400 {
		t.Errorf("Server.Port = %d, want 4400", cfg.Server.Port)
	}
	if cfg.Generator.Backend != "ollama" {
		t.Errorf("Generator.Backend = %q, want ollama", cfg.Generator.Backend)
	}
	if cfg.Generator.BaseURL != "http://localhost:11434" {
		t.Errorf("Generator.BaseURL = %q", cfg.Generator.BaseURL)
	}
	if cfg.Corpus.SampleRows != 3 {
		t.Errorf("Corpus.SampleRows = %d, want 3", cfg.Corpus.SampleRows)
	}
	if cfg.Executor.RowCap != 200 || cfg.Executor.MaxConns != 4 {
		t.Errorf("Executor = %+v", cfg.Executor)
	}
	if cfg.Pipeline.MaxRetries != 2 {
		t.Errorf("Pipeline.MaxRetries = %d, want 2", cfg.Pipeline.MaxRetries)
	}
}

func TestBackendValuesApplied(t *testing.T) {
	b := &mapBackend{data: map[string]any{
		"corpus.path":            "/data/corpus.db",
		"server.port":            5500,
		"generator.model":        "duckdb-nsql",
		"executor.query_timeout": "30s",
		"corpus.allow_tables":    "comments, videos",
		"pipeline.max_retries":   1,
	}}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5500 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Generator.Model != "duckdb-nsql" {
		t.Errorf("Generator.Model = %q", cfg.Generator.Model)
	}
	if cfg.Executor.QueryTimeout != "30s" {
		t.Errorf("Executor.QueryTimeout = %q", cfg.Executor.QueryTimeout)
	}
	if got := cfg.Corpus.AllowList(); len(got) != 2 || got[0] != "comments" || got[1] != "videos" {
		t.Errorf("AllowList = %v", got)
	}
	if cfg.Pipeline.MaxRetries != 1 {
		t.Errorf("Pipeline.MaxRetries = %d", cfg.Pipeline.MaxRetries)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	b := &mapBackend{data: map[string]any{
		"corpus.path":     "/data/corpus.db",
		"generator.model": "file-model",
	}}
	t.Setenv("TUBEQUERY_GENERATOR_MODEL", "env-model")
	t.Setenv("TUBEQUERY_EXECUTOR_ROW_CAP", "50")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generator.Model != "env-model" {
		t.Errorf("Generator.Model = %q, want env-model", cfg.Generator.Model)
	}
	if cfg.Executor.RowCap != 50 {
		t.Errorf("Executor.RowCap = %d, want 50", cfg.Executor.RowCap)
	}
}

func TestMissingCorpusPath(t *testing.T) {
	_, err := loadWith(&mapBackend{data: map[string]any{}})
	if err == nil {
		t.Fatal("expected error for missing corpus path")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}
}

func TestOpenRouterRequiresKey(t *testing.T) {
	b := &mapBackend{data: map[string]any{
		"corpus.path":       "/data/corpus.db",
		"generator.backend": "openrouter",
	}}
	t.Setenv("TUBEQUERY_OPENROUTER_API_KEY", "")

	if _, err := loadWith(b); err == nil {
		t.Fatal("expected error for missing API key")
	}

	t.Setenv("TUBEQUERY_OPENROUTER_API_KEY", "sk-test")
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generator.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", cfg.Generator.APIKey)
	}
}

func TestSecretsNotReadFromBackend(t *testing.T) {
	b := &mapBackend{data: map[string]any{
		"corpus.path":       "/data/corpus.db",
		"generator.api_key": "leaked-from-file",
	}}
	t.Setenv("TUBEQUERY_OPENROUTER_API_KEY", "")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Generator.APIKey != "" {
		t.Errorf("secret must not be read from the file backend, got %q", cfg.Generator.APIKey)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("30s", time.Second); got != 30*time.Second {
		t.Errorf("Duration(30s) = %v", got)
	}
	if got := Duration("", 5*time.Second); got != 5*time.Second {
		t.Errorf("empty value should fall back, got %v", got)
	}
	if got := Duration("bogus", 5*time.Second); got != 5*time.Second {
		t.Errorf("malformed value should fall back, got %v", got)
	}
	if got := Duration("-3s", 5*time.Second); got != 5*time.Second {
		t.Errorf("non-positive value should fall back, got %v", got)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Generator.APIKey = "sk-secret"

	for _, info := range ShowAll(cfg) {
		if info.Key == "generator.api_key" || info.Key == "server.auth_token" {
			t.Errorf("secret key %s must not be listed", info.Key)
		}
		if info.Value == "sk-secret" {
			t.Errorf("secret value leaked through %s", info.Key)
		}
	}
}
