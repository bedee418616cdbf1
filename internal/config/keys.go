package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
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
		key: "server.port", typ: kInt, env: "TUBEQUERY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.auth_token", typ: kString, env: "TUBEQUERY_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AuthToken },
	},
	{
		key: "generator.backend", typ: kString, env: "TUBEQUERY_GENERATOR_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Generator.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Backend },
	},
	{
		key: "generator.base_url", typ: kString, env: "TUBEQUERY_GENERATOR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generator.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.BaseURL },
	},
	{
		key: "generator.model", typ: kString, env: "TUBEQUERY_GENERATOR_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generator.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Model },
	},
	{
		key: "generator.api_key", typ: kString, env: "TUBEQUERY_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Generator.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.APIKey },
	},
	{
		key: "generator.max_tokens", typ: kInt, env: "TUBEQUERY_GENERATOR_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generator.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generator.MaxTokens },
	},
	{
		key: "generator.timeout", typ: kString, env: "TUBEQUERY_GENERATOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generator.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Generator.Timeout },
	},
	{
		key: "corpus.path", typ: kString, env: "TUBEQUERY_CORPUS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Corpus.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.Path },
	},
	{
		key: "corpus.sample_rows", typ: kInt, env: "TUBEQUERY_CORPUS_SAMPLE_ROWS",
		apply:   func(cfg *Config, v any) { cfg.Corpus.SampleRows = v.(int) },
		extract: func(cfg Config) any { return cfg.Corpus.SampleRows },
	},
	{
		key: "corpus.allow_tables", typ: kString, env: "TUBEQUERY_CORPUS_ALLOW_TABLES",
		apply:   func(cfg *Config, v any) { cfg.Corpus.AllowTables = v.(string) },
		extract: func(cfg Config) any { return cfg.Corpus.AllowTables },
	},
	{
		key: "executor.query_timeout", typ: kString, env: "TUBEQUERY_EXECUTOR_QUERY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Executor.QueryTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Executor.QueryTimeout },
	},
	{
		key: "executor.wait_timeout", typ: kString, env: "TUBEQUERY_EXECUTOR_WAIT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Executor.WaitTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Executor.WaitTimeout },
	},
	{
		key: "executor.row_cap", typ: kInt, env: "TUBEQUERY_EXECUTOR_ROW_CAP",
		apply:   func(cfg *Config, v any) { cfg.Executor.RowCap = v.(int) },
		extract: func(cfg Config) any { return cfg.Executor.RowCap },
	},
	{
		key: "executor.max_conns", typ: kInt, env: "TUBEQUERY_EXECUTOR_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Executor.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Executor.MaxConns },
	},
	{
		key: "pipeline.max_retries", typ: kInt, env: "TUBEQUERY_PIPELINE_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxRetries },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TUBEQUERY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "TUBEQUERY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
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
		}
	}
}
