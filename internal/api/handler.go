package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/malcolmiscalm/tubequery/internal/composer"
	"github.com/malcolmiscalm/tubequery/internal/pipeline"
	"github.com/malcolmiscalm/tubequery/internal/schema"
	"github.com/malcolmiscalm/tubequery/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Asker abstracts the query pipeline for the API layer.
type Asker interface {
	Ask(ctx context.Context, req pipeline.Request) *pipeline.Response
}

// Deps holds dependencies for the HTTP API.
type Deps struct {
	Asker   Asker
	Catalog *schema.Catalog
	Store   *storage.Store // optional; history endpoints 404 without it
	Token   string         // optional; empty disables auth
}

// AskRequest is the body of POST /ask. SQL, when set, is validated and
// executed directly instead of being synthesized from the question.
type AskRequest struct {
	Question string          `json:"question"`
	SQL      string          `json:"sql,omitempty"`
	History  []composer.Turn `json:"history,omitempty"`
}

// NewHandler returns the HTTP API. All routes except /health require the
// bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/ask", handleAsk(deps))
		r.Get("/schema", handleSchema(deps))
		r.Post("/schema/reload", handleSchemaReload(deps))
		r.Get("/queries", handleListQueries(deps))
		r.Get("/queries/{id}", handleGetQuery(deps))
		r.Delete("/queries/{id}", handleDeleteQuery(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" && strings.TrimSpace(req.SQL) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		resp := deps.Asker.Ask(r.Context(), pipeline.Request{
			Question: req.Question,
			SQL:      req.SQL,
			History:  req.History,
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusForKind(resp.ErrorKind))
		json.NewEncoder(w).Encode(resp)
	}
}

// statusForKind maps a pipeline failure class to an HTTP status. Answered
// runs are 200; client-shaped failures are 4xx, upstream and capacity
// failures 5xx.
func statusForKind(kind pipeline.ErrorKind) int {
	switch kind {
	case pipeline.KindNone:
		return http.StatusOK
	case pipeline.KindNoSQLExtracted, pipeline.KindValidationExhausted, pipeline.KindExecutionError:
		return http.StatusUnprocessableEntity
	case pipeline.KindSchemaUnavailable, pipeline.KindExecutorBusy:
		return http.StatusServiceUnavailable
	case pipeline.KindGenerationError:
		return http.StatusBadGateway
	case pipeline.KindExecutionTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

type schemaColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Nullable bool   `json:"nullable"`
}

type schemaTable struct {
	Name    string         `json:"name"`
	Columns []schemaColumn `json:"columns"`
}

type schemaResponse struct {
	Tables   []schemaTable `json:"tables"`
	LoadedAt time.Time     `json:"loaded_at"`
}

func renderDescriptor(desc *schema.Descriptor) schemaResponse {
	out := schemaResponse{LoadedAt: desc.LoadedAt, Tables: make([]schemaTable, 0, len(desc.Tables))}
	for _, t := range desc.Tables {
		st := schemaTable{Name: t.Name, Columns: make([]schemaColumn, 0, len(t.Columns))}
		for _, c := range t.Columns {
			st.Columns = append(st.Columns, schemaColumn{Name: c.Name, Type: c.Type, Nullable: c.Nullable})
		}
		out.Tables = append(out.Tables, st)
	}
	return out
}

func handleSchema(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc, err := deps.Catalog.Get(r.Context())
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "schema unavailable: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(renderDescriptor(desc))
	}
}

func handleSchemaReload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Catalog.Invalidate()
		desc, err := deps.Catalog.Load(r.Context())
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "schema reload failed: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "reloaded",
			"tables":    len(desc.Tables),
			"loaded_at": desc.LoadedAt,
		})
	}
}

func handleListQueries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "query history is disabled")
			return
		}
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 200 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be between 1 and 200")
				return
			}
			limit = n
		}

		records, err := deps.Store.ListQueries(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing queries: %v", err)
			return
		}
		if records == nil {
			records = []storage.QueryRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

func handleGetQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "query history is disabled")
			return
		}
		rec, err := deps.Store.GetQuery(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "query not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "getting query: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rec)
	}
}

func handleDeleteQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			httpError(w, http.StatusNotFound, "invalid_request_error", "query history is disabled")
			return
		}
		err := deps.Store.DeleteQuery(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "query not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting query: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
