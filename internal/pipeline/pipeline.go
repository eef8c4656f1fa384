// Package pipeline wires the interpreter, classifier, gate and executor into
// one request: question in, outcome out, with at most one corrective retry.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ppiankov/neurorouter"
	"go.uber.org/zap"

	"github.com/ppiankov/querywatch/internal/audit"
	"github.com/ppiankov/querywatch/internal/classify"
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/history"
	"github.com/ppiankov/querywatch/internal/interpreter"
	"github.com/ppiankov/querywatch/internal/logging"
	"github.com/ppiankov/querywatch/internal/model"
	"github.com/ppiankov/querywatch/internal/policy"
	"github.com/ppiankov/querywatch/internal/tracer"
)

// maxCorrections is how many times a failed statement is sent back to the
// interpreter per question.
const maxCorrections = 1

// Executor runs gate decisions. *executor.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, d policy.Decision, timeout time.Duration) model.Outcome
}

// SchemaSource supplies schema text for the interpreter prompt.
type SchemaSource interface {
	Describe(ctx context.Context) (string, error)
}

// SchemaFunc adapts a function to SchemaSource.
type SchemaFunc func(ctx context.Context) (string, error)

// Describe calls f.
func (f SchemaFunc) Describe(ctx context.Context) (string, error) { return f(ctx) }

// Options wires a Handler. Executor is required; Interpreter is required
// only for Ask.
type Options struct {
	Policy      *policy.Policy
	Denylist    *denylist.Denylist
	Executor    Executor
	Interpreter interpreter.Interpreter
	Schema      SchemaSource
	Dialect     string
	Audit       *audit.Log
	History     *history.Ring
	Logger      *zap.Logger
}

// Handler processes questions and statements. It is safe for concurrent use:
// everything it holds is read-only except the audit log and history, which
// synchronize themselves.
type Handler struct {
	policy  *policy.Policy
	dl      *denylist.Denylist
	exec    Executor
	interp  interpreter.Interpreter
	schema  SchemaSource
	dialect string
	audit   *audit.Log
	history *history.Ring
	log     *zap.Logger
}

// New validates opts and returns a Handler.
func New(opts Options) (*Handler, error) {
	if opts.Executor == nil {
		return nil, errors.New("pipeline: executor is required")
	}
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		policy:  opts.Policy,
		dl:      opts.Denylist,
		exec:    opts.Executor,
		interp:  opts.Interpreter,
		schema:  opts.Schema,
		dialect: opts.Dialect,
		audit:   opts.Audit,
		history: opts.History,
		log:     opts.Logger.Named("pipeline"),
	}, nil
}

// Policy returns the policy decisions are made under.
func (h *Handler) Policy() *policy.Policy { return h.policy }

// History returns the execution history, or nil when none is kept.
func (h *Handler) History() *history.Ring { return h.history }

// Check classifies and authorizes text without executing it.
func (h *Handler) Check(text string) (model.ClassifiedStatement, policy.Decision) {
	stmt := classify.ClassifyWith(text, classify.Options{Dialect: h.dialect})
	return stmt, policy.Authorize(stmt, h.policy, h.dl)
}

// Ask turns question into SQL through the interpreter and runs it.
//
// When the statement fails in a way regenerating it could fix (the engine
// rejected it, or it did not classify), the interpreter gets the failed
// statement and the error once more. Connection, timeout, policy and
// interpreter failures are surfaced immediately.
func (h *Handler) Ask(ctx context.Context, question string) Response {
	resp := Response{RequestID: tracer.NewRequestID(), Question: question}
	if h.interp == nil {
		resp.Outcome = model.Failed(model.NewFailure(model.KindInterpreter, "no interpreter configured"))
		return resp
	}

	req := interpreter.Request{
		Question: question,
		Dialect:  h.dialect,
		Schema:   h.schemaContext(ctx),
	}

	for n := 1; ; n++ {
		text, err := h.interp.Generate(ctx, req)
		if err != nil {
			resp.Outcome = model.Failed(interpreterFailure(err))
			resp.RateLimited = errors.Is(err, neurorouter.ErrRateLimited)
			h.log.Warn("interpreter failed",
				zap.String("request_id", resp.RequestID),
				zap.Int("attempt", n),
				zap.Error(err))
			return resp
		}

		a := h.attempt(ctx, resp.RequestID, question, n, text)
		resp.Attempts = append(resp.Attempts, a)
		resp.Outcome = a.Outcome

		f := a.Outcome.Failure
		if f == nil || n > maxCorrections || !f.Kind.Correctable() {
			return resp
		}
		req.PriorSQL = text
		req.PriorError = f.Message
		h.log.Info("requesting corrected statement",
			zap.String("request_id", resp.RequestID),
			zap.String("kind", string(f.Kind)))
	}
}

// Run executes caller-supplied SQL once. The interpreter is not involved.
func (h *Handler) Run(ctx context.Context, sql string) Response {
	resp := Response{RequestID: tracer.NewRequestID()}
	a := h.attempt(ctx, resp.RequestID, "", 1, sql)
	resp.Attempts = []Attempt{a}
	resp.Outcome = a.Outcome
	return resp
}

// attempt classifies, authorizes and (if allowed) executes one statement.
func (h *Handler) attempt(ctx context.Context, requestID, question string, n int, text string) Attempt {
	stmt := classify.ClassifyCandidate(model.CandidateStatement{Text: text, Question: question}, classify.Options{Dialect: h.dialect})
	d := policy.Authorize(stmt, h.policy, h.dl)

	a := Attempt{
		Number:   n,
		SQL:      text,
		Class:    stmt.Class,
		Tables:   stmt.Tables,
		Allowed:  d.Allowed(),
		PolicyID: d.PolicyID(),
		Reason:   d.Reason(),
		Executed: d.Statement(),
		Capped:   d.Capped(),
	}
	if d.Allowed() {
		a.Outcome = h.exec.Execute(ctx, d, 0)
	} else {
		a.Outcome = model.Failed(d.Failure())
	}

	h.log.Info("statement attempt",
		zap.String("request_id", requestID),
		zap.Int("attempt", n),
		zap.String("class", string(stmt.Class)),
		zap.String("policy_id", d.PolicyID()),
		zap.String("status", a.Outcome.Status()),
		zap.Int("rows", a.Outcome.RowCount),
		zap.Duration("elapsed", a.Outcome.Elapsed),
		logging.Statement("sql", text))

	h.record(requestID, question, a)
	return a
}

func (h *Handler) record(requestID, question string, a Attempt) {
	entry := audit.Entry{
		RequestID: requestID,
		Question:  question,
		Attempt:   a.Number,
		Statement: audit.Statement{
			Class:   string(a.Class),
			SQL:     a.SQL,
			Bounded: a.Executed,
			Tables:  a.Tables,
		},
		Decision:   audit.DecisionDeny,
		PolicyID:   a.PolicyID,
		Reason:     a.Reason,
		Status:     a.Outcome.Status(),
		Rows:       a.Outcome.RowCount,
		ElapsedMS:  a.Outcome.Elapsed.Milliseconds(),
		PolicyHash: h.policy.Hash(),
	}
	if a.Allowed {
		entry.Decision = audit.DecisionAllow
	}
	hist := history.Entry{
		RequestID: requestID,
		Question:  question,
		SQL:       a.SQL,
		Executed:  a.Executed,
		Status:    a.Outcome.Status(),
		Rows:      a.Outcome.RowCount,
		Elapsed:   a.Outcome.Elapsed.String(),
	}
	if f := a.Outcome.Failure; f != nil {
		entry.ErrorKind = string(f.Kind)
		hist.ErrorKind = string(f.Kind)
		hist.Message = f.Message
	}

	if err := h.audit.Record(entry); err != nil {
		h.log.Error("audit record failed", zap.String("request_id", requestID), zap.Error(err))
	}
	h.history.Add(hist)
}

func (h *Handler) schemaContext(ctx context.Context) string {
	if h.schema == nil {
		return ""
	}
	text, err := h.schema.Describe(ctx)
	if err != nil {
		// Schema is optional prompt context.
		h.log.Warn("schema context unavailable", zap.Error(err))
		return ""
	}
	return text
}

func interpreterFailure(err error) *model.Failure {
	if errors.Is(err, neurorouter.ErrRateLimited) {
		return model.NewFailure(model.KindInterpreter, "interpreter rate limited: %v", err)
	}
	return model.NewFailure(model.KindInterpreter, "%v", err)
}
