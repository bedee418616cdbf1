package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/malcolmiscalm/tubequery/internal/answer"
	"github.com/malcolmiscalm/tubequery/internal/api"
	"github.com/malcolmiscalm/tubequery/internal/composer"
	"github.com/malcolmiscalm/tubequery/internal/config"
	"github.com/malcolmiscalm/tubequery/internal/corpus"
	"github.com/malcolmiscalm/tubequery/internal/executor"
	"github.com/malcolmiscalm/tubequery/internal/llm"
	"github.com/malcolmiscalm/tubequery/internal/pipeline"
	"github.com/malcolmiscalm/tubequery/internal/schema"
	"github.com/malcolmiscalm/tubequery/internal/sqlgen"
	"github.com/malcolmiscalm/tubequery/internal/storage"
	"github.com/malcolmiscalm/tubequery/internal/validator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tubequery server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// components is the wired query stack shared by the server and the
// standalone ask command.
type components struct {
	corpus  *corpus.DB
	catalog *schema.Catalog
	pipe    *pipeline.Pipeline
}

func (c *components) Close() {
	if err := c.corpus.Close(); err != nil {
		slog.Warn("closing corpus", "error", err)
	}
}

func buildComponents(cfg config.Config, store *storage.Store) (*components, error) {
	db, err := corpus.Open(cfg.Corpus.Path, cfg.Executor.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}

	gen, err := llm.New(llm.Options{
		Backend: cfg.Generator.Backend,
		BaseURL: cfg.Generator.BaseURL,
		Model:   cfg.Generator.Model,
		APIKey:  cfg.Generator.APIKey,
		Timeout: config.Duration(cfg.Generator.Timeout, 120*time.Second),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	allow := cfg.Corpus.AllowList()
	catalog := schema.NewCatalog(db, cfg.Corpus.SampleRows)
	pipe := pipeline.New(
		catalog,
		composer.New(cfg.Corpus.SampleRows, allow),
		sqlgen.New(gen, cfg.Generator.MaxTokens),
		validator.New(cfg.Executor.RowCap, allow),
		executor.New(db.Handle(), executor.Options{
			MaxConcurrent: cfg.Executor.MaxConns,
			QueryTimeout:  config.Duration(cfg.Executor.QueryTimeout, 15*time.Second),
			WaitTimeout:   config.Duration(cfg.Executor.WaitTimeout, 2*time.Second),
			RowCap:        cfg.Executor.RowCap,
		}),
		answer.New(gen, cfg.Generator.MaxTokens),
		store,
		cfg.Pipeline.MaxRetries,
	)

	return &components{corpus: db, catalog: catalog, pipe: pipe}, nil
}

// checkGenerator warns about an unreachable Ollama instance at startup so
// the operator does not discover it on the first question.
func checkGenerator(ctx context.Context, cfg config.Config) {
	if cfg.Generator.Backend != "" && cfg.Generator.Backend != llm.BackendOllama {
		return
	}
	oc := llm.NewOllamaClient(cfg.Generator.BaseURL, cfg.Generator.Model, 0)
	if !oc.IsRunning(ctx) {
		printWarning("Ollama is not reachable at %s; questions will fail until it is running", cfg.Generator.BaseURL)
		return
	}
	if !oc.HasModel(ctx) {
		printWarning("model %q not found in Ollama; pull it with `ollama pull %s`", cfg.Generator.Model, cfg.Generator.Model)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tubequery version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checkGenerator(ctx, cfg)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	comps, err := buildComponents(cfg, store)
	if err != nil {
		return err
	}
	defer comps.Close()

	// Prime the schema snapshot so the first question does not pay for
	// introspection. A failure here is not fatal: requests report
	// schema_unavailable until the corpus is readable.
	if desc, err := comps.catalog.Load(ctx); err != nil {
		slog.Warn("schema snapshot unavailable at startup", "error", err)
	} else {
		slog.Info("schema loaded", "tables", len(desc.Tables))
	}

	handler := api.NewHandler(api.Deps{
		Asker:   comps.pipe,
		Catalog: comps.catalog,
		Store:   store,
		Token:   cfg.Server.AuthToken,
	})
	if cfg.Server.AuthToken == "" {
		printWarning("no auth token configured (TUBEQUERY_AUTH_TOKEN); API is open on localhost")
	}

	// MCP server over stdio for agent clients.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Asker: comps.pipe, Catalog: comps.catalog})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tubequery listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
