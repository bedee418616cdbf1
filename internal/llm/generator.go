package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Generator is the external text-generation capability: a black-box
// completion from prompt to text. Implementations make exactly one upstream
// call per Generate; retry policy belongs to the caller.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ErrEmptyOutput is returned when the upstream capability answers with an
// empty completion.
var ErrEmptyOutput = errors.New("generator returned empty output")

// Backend names for Options.Backend.
const (
	BackendOllama     = "ollama"
	BackendOpenRouter = "openrouter"
)

// Options selects and configures a generation backend.
type Options struct {
	Backend string // "ollama" or "openrouter"
	BaseURL string
	Model   string
	APIKey  string // openrouter only
	Timeout time.Duration
}

// New creates the Generator for the configured backend.
func New(opts Options) (Generator, error) {
	switch opts.Backend {
	case BackendOllama, "":
		return NewOllamaClient(opts.BaseURL, opts.Model, opts.Timeout), nil
	case BackendOpenRouter:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("openrouter backend requires an API key")
		}
		c := NewOpenRouterClient(opts.APIKey, opts.Model, opts.Timeout)
		if opts.BaseURL != "" {
			c.baseURL = opts.BaseURL
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown generation backend %q", opts.Backend)
	}
}
