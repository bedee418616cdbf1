package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/malcolmiscalm/tubequery/internal/answer"
	"github.com/malcolmiscalm/tubequery/internal/composer"
	"github.com/malcolmiscalm/tubequery/internal/executor"
	"github.com/malcolmiscalm/tubequery/internal/schema"
	"github.com/malcolmiscalm/tubequery/internal/sqlgen"
	"github.com/malcolmiscalm/tubequery/internal/storage"
	"github.com/malcolmiscalm/tubequery/internal/validator"
)

// ErrorKind classifies a failed pipeline run. Kinds are stable strings
// suitable for API responses and the query log.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindSchemaUnavailable   ErrorKind = "schema_unavailable"
	KindGenerationError     ErrorKind = "generation_error"
	KindNoSQLExtracted      ErrorKind = "no_sql_extracted"
	KindValidationExhausted ErrorKind = "validation_exhausted"
	KindExecutionTimeout    ErrorKind = "execution_timeout"
	KindExecutionError      ErrorKind = "execution_error"
	KindExecutorBusy        ErrorKind = "executor_busy"
	KindCancelled           ErrorKind = "cancelled"
)

// state names one stage of a run; transitions are logged, not exposed.
type state string

const (
	stateReceived    state = "received"
	statePrompted    state = "prompted"
	stateSynthesized state = "synthesized"
	stateValidated   state = "validated"
	stateExecuted    state = "executed"
	stateAnswered    state = "answered"
	stateFailed      state = "failed"
)

// Request is one question for the corpus. SQL, when set, bypasses
// synthesis: the statement is validated and executed as-is with no retry
// budget. History carries prior turns for follow-up questions.
type Request struct {
	Question string
	SQL      string
	History  []composer.Turn
}

// Response is the outcome of a run. On failure, SQL holds the last
// attempted statement (empty if none was produced) and ErrorKind names the
// failure class.
type Response struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	SQL        string    `json:"sql,omitempty"`
	Columns    []string  `json:"columns,omitempty"`
	Rows       [][]any   `json:"rows,omitempty"`
	RowCount   int       `json:"row_count"`
	Truncated  bool      `json:"truncated,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMs int64     `json:"duration_ms"`
	ErrorKind  ErrorKind `json:"error,omitempty"`
	ErrorMsg   string    `json:"error_message,omitempty"`
	Violations []string  `json:"violations,omitempty"`
}

// Failed reports whether the run ended without an answer.
func (r *Response) Failed() bool { return r.ErrorKind != KindNone }

// Pipeline orchestrates one question end to end: schema snapshot, prompt,
// synthesis with bounded re-prompting, validation, bounded execution, and
// answer synthesis.
type Pipeline struct {
	catalog    *schema.Catalog
	composer   *composer.Composer
	synth      *sqlgen.Synthesizer
	validator  *validator.Validator
	exec       *executor.Executor
	answerer   *answer.Synthesizer
	store      *storage.Store // nil disables history
	maxRetries int
}

// New wires a Pipeline. maxRetries is the number of re-prompts after a
// rejected attempt (default 2 if < 0); store may be nil.
func New(
	catalog *schema.Catalog,
	comp *composer.Composer,
	synth *sqlgen.Synthesizer,
	val *validator.Validator,
	exec *executor.Executor,
	ans *answer.Synthesizer,
	store *storage.Store,
	maxRetries int,
) *Pipeline {
	if maxRetries < 0 {
		maxRetries = 2
	}
	return &Pipeline{
		catalog:    catalog,
		composer:   comp,
		synth:      synth,
		validator:  val,
		exec:       exec,
		answerer:   ans,
		store:      store,
		maxRetries: maxRetries,
	}
}

// Ask runs the full pipeline for one request. It always returns a usable
// Response; failures are reported through ErrorKind rather than an error.
func (p *Pipeline) Ask(ctx context.Context, req Request) *Response {
	start := time.Now()
	resp := &Response{ID: uuid.NewString(), Question: req.Question}
	st := stateReceived

	defer func() {
		resp.DurationMs = time.Since(start).Milliseconds()
		p.persist(resp)
	}()

	if err := ctx.Err(); err != nil {
		p.fail(resp, &st, KindCancelled, err.Error())
		return resp
	}

	desc, err := p.catalog.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			p.fail(resp, &st, KindCancelled, ctx.Err().Error())
			return resp
		}
		p.fail(resp, &st, KindSchemaUnavailable, err.Error())
		return resp
	}

	manual := req.SQL != ""

	var validated validator.Result
	if manual {
		// Manual mode: the caller's SQL faces the same validation, with
		// no synthesis and no retries.
		st = p.transition(resp.ID, st, stateValidated)
		res := p.validator.Validate(req.SQL, desc)
		resp.SQL = req.SQL
		if !res.OK {
			p.setViolations(resp, res.Violations)
			p.fail(resp, &st, KindValidationExhausted, "submitted SQL rejected")
			return resp
		}
		validated = res
	} else {
		res, kind, msg := p.synthesize(ctx, resp, &st, req, desc)
		if kind != KindNone {
			p.fail(resp, &st, kind, msg)
			return resp
		}
		validated = res
	}
	resp.SQL = validated.NormalizedSQL

	result, err := p.exec.Execute(ctx, validated.NormalizedSQL)
	if err != nil {
		p.fail(resp, &st, execErrorKind(ctx, err), err.Error())
		return resp
	}
	st = p.transition(resp.ID, st, stateExecuted)
	resp.Columns = result.Columns
	resp.Rows = result.Rows
	resp.RowCount = len(result.Rows)
	resp.Truncated = result.Truncated

	// Manual mode returns the tabular result as-is; prose summarization is
	// only for synthesized queries.
	if manual {
		st = p.transition(resp.ID, st, stateAnswered)
		return resp
	}

	text, err := p.answerer.Answer(ctx, req.Question, validated.NormalizedSQL, result)
	if err != nil {
		p.fail(resp, &st, answerErrorKind(ctx, err), err.Error())
		return resp
	}
	resp.Answer = text
	st = p.transition(resp.ID, st, stateAnswered)
	return resp
}

// synthesize runs the prompt/synthesize/validate loop: one initial attempt
// plus up to maxRetries re-prompts carrying the previous rejection back to
// the generator. Validated SQL is returned on success; otherwise the
// failure kind for the final attempt.
func (p *Pipeline) synthesize(ctx context.Context, resp *Response, st *state, req Request, desc *schema.Descriptor) (validator.Result, ErrorKind, string) {
	var (
		lastSQL        string
		lastViolations []validator.Violation
		lastKind       ErrorKind
		lastMsg        string
	)

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return validator.Result{}, KindCancelled, ctx.Err().Error()
		}

		prompt := p.composer.Build(req.Question, desc, req.History, lastSQL, lastViolations)
		*st = p.transition(resp.ID, *st, statePrompted)

		resp.Attempts = attempt + 1
		cand, err := p.synth.Synthesize(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return validator.Result{}, KindCancelled, ctx.Err().Error()
			}
			// Generator failures are not retried: a second identical call
			// is unlikely to help and hides upstream outages.
			return validator.Result{}, KindGenerationError, err.Error()
		}
		*st = p.transition(resp.ID, *st, stateSynthesized)

		if cand.SQL == "" {
			lastKind, lastMsg = KindNoSQLExtracted, "generator output contained no SQL"
			lastSQL, lastViolations = "", nil
			slog.Debug("no sql extracted", "id", resp.ID, "attempt", attempt+1)
			continue
		}

		res := p.validator.Validate(cand.SQL, desc)
		if res.OK {
			*st = p.transition(resp.ID, *st, stateValidated)
			resp.Violations = nil
			return res, KindNone, ""
		}

		lastKind, lastMsg = KindValidationExhausted, "candidate SQL rejected"
		lastSQL, lastViolations = cand.SQL, res.Violations
		resp.SQL = cand.SQL
		p.setViolations(resp, res.Violations)
		slog.Debug("candidate rejected",
			"id", resp.ID,
			"attempt", attempt+1,
			"violations", len(res.Violations),
		)
	}

	return validator.Result{}, lastKind, lastMsg
}

func (p *Pipeline) transition(id string, from, to state) state {
	slog.Debug("pipeline transition", "id", id, "from", string(from), "to", string(to))
	return to
}

func (p *Pipeline) fail(resp *Response, st *state, kind ErrorKind, msg string) {
	*st = p.transition(resp.ID, *st, stateFailed)
	resp.ErrorKind = kind
	resp.ErrorMsg = msg
}

func (p *Pipeline) setViolations(resp *Response, violations []validator.Violation) {
	resp.Violations = resp.Violations[:0]
	for _, v := range violations {
		resp.Violations = append(resp.Violations, v.String())
	}
}

// persist writes the run to the query log. Best effort: a storage failure
// is logged and never affects the response.
func (p *Pipeline) persist(resp *Response) {
	if p.store == nil {
		return
	}
	status := "answered"
	if resp.Failed() {
		status = "failed"
	}
	rec := storage.QueryRecord{
		ID:         resp.ID,
		CreatedAt:  time.Now().UTC(),
		Question:   resp.Question,
		SQL:        resp.SQL,
		Answer:     resp.Answer,
		Status:     status,
		ErrorKind:  string(resp.ErrorKind),
		Attempts:   resp.Attempts,
		DurationMs: resp.DurationMs,
		RowCount:   resp.RowCount,
		Truncated:  resp.Truncated,
	}
	if err := p.store.SaveQuery(rec); err != nil {
		slog.Warn("failed to persist query record", "id", resp.ID, "error", err)
	}
}

func execErrorKind(ctx context.Context, err error) ErrorKind {
	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return KindCancelled
	case errors.Is(err, executor.ErrBusy):
		return KindExecutorBusy
	case errors.Is(err, executor.ErrTimeout):
		return KindExecutionTimeout
	default:
		return KindExecutionError
	}
}

func answerErrorKind(ctx context.Context, err error) ErrorKind {
	if ctx.Err() != nil {
		return KindCancelled
	}
	return KindGenerationError
}
