package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/neurorouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/querywatch/internal/audit"
	"github.com/ppiankov/querywatch/internal/executor"
	"github.com/ppiankov/querywatch/internal/history"
	"github.com/ppiankov/querywatch/internal/interpreter"
	"github.com/ppiankov/querywatch/internal/model"
	"github.com/ppiankov/querywatch/internal/policy"
)

func shopExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	for i := 1; i <= 80; i++ {
		_, err = db.Exec(`INSERT INTO products (id, name) VALUES (?, ?)`, i, fmt.Sprintf("p%d", i))
		require.NoError(t, err)
	}
	e := executor.New(db, executor.SQLite, executor.Options{Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { e.Close() })
	return e
}

func maxRows(t *testing.T, n int) *policy.Policy {
	t.Helper()
	p, err := policy.New(policy.Config{MaxRows: n, TimeoutMS: 5000, AllowedOperationClasses: []string{"read", "schema_introspection"}})
	require.NoError(t, err)
	return p
}

// scripted returns its answers in order and records every request.
type scripted struct {
	mu       sync.Mutex
	answers  []string
	err      error
	requests []interpreter.Request
}

func (s *scripted) Generate(_ context.Context, req interpreter.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.requests) > len(s.answers) {
		return "", errors.New("unexpected interpreter call")
	}
	return s.answers[len(s.requests)-1], nil
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// countingExecutor records calls and returns a fixed outcome.
type countingExecutor struct {
	mu    sync.Mutex
	calls int
	out   model.Outcome
}

func (c *countingExecutor) Execute(context.Context, policy.Decision, time.Duration) model.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.out
}

func newHandler(t *testing.T, opts Options) *Handler {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	h, err := New(opts)
	require.NoError(t, err)
	return h
}

func TestAskCorrectsEngineRejection(t *testing.T) {
	interp := &scripted{answers: []string{"SELECT * FORM products", "SELECT * FROM products"}}
	h := newHandler(t, Options{Policy: maxRows(t, 50), Executor: shopExecutor(t), Interpreter: interp, Dialect: "sqlite"})

	resp := h.Ask(context.Background(), "list all products")

	require.True(t, resp.OK(), "failure: %v", resp.Outcome.Failure)
	require.Len(t, resp.Attempts, 2)
	assert.True(t, resp.Retried())
	assert.Equal(t, model.KindEngineRejected, resp.Attempts[0].Outcome.Failure.Kind)
	assert.Equal(t, "SELECT * FROM products LIMIT 50", resp.Executed())
	assert.Equal(t, 50, resp.Outcome.RowCount)

	require.Equal(t, 2, interp.calls())
	retry := interp.requests[1]
	assert.Equal(t, "SELECT * FORM products", retry.PriorSQL)
	assert.NotEmpty(t, retry.PriorError)
	assert.Equal(t, "list all products", retry.Question)
	assert.Equal(t, "sqlite", retry.Dialect)
}

func TestAskSurfacesSecondFailure(t *testing.T) {
	interp := &scripted{answers: []string{"SELECT * FORM products", "SELECT nope FROM products"}}
	h := newHandler(t, Options{Policy: maxRows(t, 10), Executor: shopExecutor(t), Interpreter: interp})

	resp := h.Ask(context.Background(), "q")

	require.False(t, resp.OK())
	assert.Equal(t, model.KindEngineRejected, resp.Outcome.Failure.Kind)
	assert.Len(t, resp.Attempts, 2)
	assert.Equal(t, 2, interp.calls())
	assert.Equal(t, "SELECT nope FROM products", resp.SQL())
}

func TestAskRetriesMalformedOnce(t *testing.T) {
	interp := &scripted{answers: []string{"I think you want the product list", "SELECT count(*) FROM products"}}
	h := newHandler(t, Options{Policy: maxRows(t, 10), Executor: shopExecutor(t), Interpreter: interp})

	resp := h.Ask(context.Background(), "how many products?")

	require.True(t, resp.OK(), "failure: %v", resp.Outcome.Failure)
	assert.Equal(t, model.KindMalformedInput, resp.Attempts[0].Outcome.Failure.Kind)
	assert.Equal(t, int64(80), resp.Outcome.Rows[0][0])
}

func TestAskConnectionFailureIsNotRetried(t *testing.T) {
	exec := &countingExecutor{out: model.Failed(model.NewFailure(model.KindConnection, "dial tcp 127.0.0.1:3306: connection refused"))}
	interp := &scripted{answers: []string{"SELECT * FROM products", "SELECT 1"}}
	h := newHandler(t, Options{Executor: exec, Interpreter: interp})

	resp := h.Ask(context.Background(), "list products")

	require.False(t, resp.OK())
	assert.Equal(t, model.KindConnection, resp.Outcome.Failure.Kind)
	assert.False(t, resp.Outcome.Failure.Retryable)
	assert.Equal(t, 1, interp.calls())
	assert.Equal(t, 1, exec.calls)
	assert.Len(t, resp.Attempts, 1)
}

func TestAskTimeoutIsNotRetried(t *testing.T) {
	exec := &countingExecutor{out: model.Failed(model.NewFailure(model.KindTimeout, "statement exceeded 1s"))}
	interp := &scripted{answers: []string{"SELECT * FROM products", "SELECT 1"}}
	h := newHandler(t, Options{Executor: exec, Interpreter: interp})

	resp := h.Ask(context.Background(), "q")

	assert.Equal(t, model.KindTimeout, resp.Outcome.Failure.Kind)
	assert.Equal(t, 1, interp.calls())
}

func TestAskDeniedStatementNeverExecutes(t *testing.T) {
	p, err := policy.New(policy.Config{
		AllowMutations:          false,
		MaxRows:                 10,
		TimeoutMS:               1000,
		AllowedOperationClasses: []string{"read", "admin"},
	})
	require.NoError(t, err)
	exec := &countingExecutor{}
	interp := &scripted{answers: []string{"DROP TABLE products"}}
	h := newHandler(t, Options{Policy: p, Executor: exec, Interpreter: interp})

	resp := h.Ask(context.Background(), "remove the products table")

	require.False(t, resp.OK())
	assert.Equal(t, model.KindPolicyDenied, resp.Outcome.Failure.Kind)
	assert.Contains(t, resp.Outcome.Failure.Message, policy.ReasonMutationsDisabled)
	assert.Equal(t, 0, exec.calls)
	assert.Equal(t, 1, interp.calls())
	assert.Equal(t, "DROP TABLE products", resp.SQL())
	assert.Empty(t, resp.Executed())
}

func TestAskInterpreterFailure(t *testing.T) {
	exec := &countingExecutor{}
	interp := &scripted{err: fmt.Errorf("interpreter HTTP 429: %w", neurorouter.ErrRateLimited)}
	h := newHandler(t, Options{Executor: exec, Interpreter: interp})

	resp := h.Ask(context.Background(), "q")

	require.False(t, resp.OK())
	assert.Equal(t, model.KindInterpreter, resp.Outcome.Failure.Kind)
	assert.Contains(t, resp.Outcome.Failure.Message, "rate limited")
	assert.True(t, resp.RateLimited)
	assert.Empty(t, resp.Attempts)
	assert.Equal(t, 0, exec.calls)
}

func TestAskWithoutInterpreter(t *testing.T) {
	h := newHandler(t, Options{Executor: &countingExecutor{}})
	resp := h.Ask(context.Background(), "q")
	assert.Equal(t, model.KindInterpreter, resp.Outcome.Failure.Kind)
	assert.False(t, resp.RateLimited)
}

func TestAskPassesSchemaContext(t *testing.T) {
	interp := &scripted{answers: []string{"SELECT 1"}}
	schema := SchemaFunc(func(context.Context) (string, error) {
		return "CREATE TABLE products (id INTEGER, name TEXT)", nil
	})
	h := newHandler(t, Options{Executor: shopExecutor(t), Interpreter: interp, Schema: schema})

	h.Ask(context.Background(), "q")
	require.Equal(t, 1, interp.calls())
	assert.Contains(t, interp.requests[0].Schema, "CREATE TABLE products")
}

func TestAskSchemaErrorIsNotFatal(t *testing.T) {
	interp := &scripted{answers: []string{"SELECT 1"}}
	schema := SchemaFunc(func(context.Context) (string, error) { return "", errors.New("boom") })
	h := newHandler(t, Options{Executor: shopExecutor(t), Interpreter: interp, Schema: schema})

	resp := h.Ask(context.Background(), "q")
	assert.True(t, resp.OK())
	assert.Empty(t, interp.requests[0].Schema)
}

func TestRunExecutesOnce(t *testing.T) {
	h := newHandler(t, Options{Policy: maxRows(t, 5), Executor: shopExecutor(t)})

	resp := h.Run(context.Background(), "SELECT id FROM products ORDER BY id")

	require.True(t, resp.OK())
	assert.Equal(t, 5, resp.Outcome.RowCount)
	assert.Equal(t, "SELECT id FROM products ORDER BY id LIMIT 5", resp.Executed())
	assert.True(t, resp.Attempts[0].Capped)

	resp = h.Run(context.Background(), "SELECT * FORM products")
	assert.Equal(t, model.KindEngineRejected, resp.Outcome.Failure.Kind)
	assert.Len(t, resp.Attempts, 1)
}

func TestCheckDoesNotExecute(t *testing.T) {
	exec := &countingExecutor{}
	h := newHandler(t, Options{Executor: exec})

	stmt, d := h.Check("SELECT * FROM products")
	assert.Equal(t, model.ClassRead, stmt.Class)
	assert.True(t, d.Allowed())
	assert.Equal(t, 0, exec.calls)
}

func TestAttemptsAreAuditedAndKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open(path)
	require.NoError(t, err)
	ring := history.New(10)

	interp := &scripted{answers: []string{"SELECT * FORM products", "SELECT * FROM products"}}
	h := newHandler(t, Options{Policy: maxRows(t, 50), Executor: shopExecutor(t), Interpreter: interp, Audit: log, History: ring})

	resp := h.Ask(context.Background(), "list all products")
	require.True(t, resp.OK())
	require.NoError(t, log.Close())

	require.True(t, audit.Verify(path).Valid)
	replay, err := audit.Replay(path, audit.ReplayFilter{RequestID: resp.RequestID})
	require.NoError(t, err)
	require.Len(t, replay.Entries, 2)
	assert.Equal(t, "engine_rejected", replay.Entries[0].ErrorKind)
	assert.Equal(t, 2, replay.Entries[1].Attempt)
	assert.Equal(t, "SELECT * FROM products LIMIT 50", replay.Entries[1].Statement.Bounded)
	assert.Equal(t, "list all products", replay.Entries[1].Question)
	assert.Equal(t, audit.DecisionAllow, replay.Entries[1].Decision)

	last, ok := ring.Last()
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM products", last.SQL)
	assert.Equal(t, "success", last.Status)
	assert.Equal(t, 50, last.Rows)
	assert.Equal(t, 2, ring.Len())
}

func TestNewRequiresExecutor(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestConcurrentAsks(t *testing.T) {
	exec := shopExecutor(t)
	interp := interpreter.Func(func(_ context.Context, req interpreter.Request) (string, error) {
		return "SELECT id FROM products WHERE id <= 3", nil
	})
	h := newHandler(t, Options{Executor: exec, Interpreter: interp, History: history.New(10)})

	var wg sync.WaitGroup
	results := make([]Response, 12)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.Ask(context.Background(), "first three")
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, r := range results {
		require.True(t, r.OK(), "failure: %v", r.Outcome.Failure)
		assert.Equal(t, 3, r.Outcome.RowCount)
		ids[r.RequestID] = true
	}
	assert.Len(t, ids, len(results))
}
