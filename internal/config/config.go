package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Generator GeneratorConfig
	Corpus    CorpusConfig
	Executor  ExecutorConfig
	Pipeline  PipelineConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port      int
	AuthToken string
}

type GeneratorConfig struct {
	Backend   string // "ollama" or "openrouter"
	BaseURL   string
	Model     string
	APIKey    string // openrouter only, env-only secret
	MaxTokens int
	Timeout   string
}

type CorpusConfig struct {
	Path        string
	SampleRows  int
	AllowTables string // comma-separated, empty means all
}

// AllowList splits the comma-separated allow-list into table names.
func (c CorpusConfig) AllowList() []string {
	if strings.TrimSpace(c.AllowTables) == "" {
		return nil
	}
	parts := strings.Split(c.AllowTables, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type ExecutorConfig struct {
	QueryTimeout string
	WaitTimeout  string
	RowCap       int
	MaxConns     int
}

type PipelineConfig struct {
	MaxRetries int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Generator: GeneratorConfig{
			Backend:   "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "sqlcoder",
			MaxTokens: 512,
			Timeout:   "120s",
		},
		Corpus: CorpusConfig{
			SampleRows: 3,
		},
		Executor: ExecutorConfig{
			QueryTimeout: "15s",
			WaitTimeout:  "2s",
			RowCap:       200,
			MaxConns:     4,
		},
		Pipeline: PipelineConfig{
			MaxRetries: 2,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/tubequery/config.json, then applies TUBEQUERY_*
// environment overrides. Secrets (the OpenRouter API key, the server auth
// token) are env-only and never read from the file.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Corpus.Path == "" {
		return Config{}, fmt.Errorf("missing required config: corpus database path. " +
			"Set corpus.path via `tubequery config set` or the TUBEQUERY_CORPUS_PATH environment variable")
	}
	if cfg.Generator.Backend == "openrouter" && cfg.Generator.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenRouter API key. " +
			"Set it via the TUBEQUERY_OPENROUTER_API_KEY environment variable")
	}

	return cfg, nil
}

// Duration parses a duration config value, falling back when unset or
// malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
