// Package executor runs gate-approved statements against a database/sql pool.
//
// The only way in is Execute with a policy.Decision, so a statement reaches
// the database only after the gate approved it. Every call checks out one
// connection, bounds it with the policy timeout on both the client and the
// server side, and returns it to the pool on every exit path.
package executor

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/querywatch/internal/classify"
	"github.com/ppiankov/querywatch/internal/model"
	"github.com/ppiankov/querywatch/internal/policy"
)

// DefaultGrace is how long the watchdog waits past the statement timeout
// for a driver that ignores cancellation.
const DefaultGrace = 2 * time.Second

// Options tunes the connection pool and the watchdog.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Grace           time.Duration
	Logger          *zap.Logger
}

// Executor owns the pool. It is safe for concurrent use.
type Executor struct {
	db      *sql.DB
	dialect Dialect
	grace   time.Duration
	log     *zap.Logger
}

// Open creates the pool for dsn. It does not connect; call Ping for that.
func Open(d Dialect, dsn string, opts Options) (*Executor, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", d, err)
	}
	return New(db, d, opts), nil
}

// New wraps an existing pool.
func New(db *sql.DB, d Dialect, opts Options) *Executor {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 2
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 30 * time.Minute
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	return &Executor{
		db:      db,
		dialect: d,
		grace:   opts.Grace,
		log:     opts.Logger.Named("executor"),
	}
}

// Dialect returns the dialect the pool was opened with.
func (e *Executor) Dialect() Dialect { return e.dialect }

// Close closes the pool.
func (e *Executor) Close() error { return e.db.Close() }

// Ping checks that a connection can be established and used.
// The returned error is a *model.Failure.
func (e *Executor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return model.NewFailure(e.mapKind(err), "%s", err.Error())
	}
	return nil
}

// Execute runs the statement carried by an allowing decision.
// A denying decision, or a statement that does not lex as exactly one
// statement under the pool's dialect, is returned as a failure without
// touching the pool.
// timeout <= 0 uses the policy timeout from the decision.
func (e *Executor) Execute(ctx context.Context, d policy.Decision, timeout time.Duration) model.Outcome {
	if !d.Allowed() {
		return model.Failed(d.Failure())
	}
	// The decision may have been made under other lexical rules than the
	// driver applies; the text must still read as one statement here.
	if err := classify.CheckSingle(d.Statement(), classify.Options{Dialect: string(e.dialect)}); err != nil {
		e.log.Warn("refused statement the driver would read differently",
			zap.String("dialect", string(e.dialect)),
			zap.String("statement", d.Statement()),
			zap.Error(err))
		return model.Failed(model.NewFailure(model.KindMalformedInput, "statement refused before execution: %s", err))
	}
	if timeout <= 0 {
		timeout = d.Timeout()
	}
	if timeout <= 0 {
		timeout = policy.Default().Timeout()
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan model.Outcome, 1)
	go func() {
		done <- e.run(runCtx, d, timeout)
	}()

	watchdog := time.NewTimer(timeout + e.grace)
	defer watchdog.Stop()

	var (
		out   model.Outcome
		stuck bool
	)
	select {
	case out = <-done:
	case <-watchdog.C:
		stuck = true
		// The driver ignored cancellation. The goroutine still owns the
		// connection and releases it when the driver returns.
		e.log.Warn("driver did not honor cancellation",
			zap.Duration("timeout", timeout),
			zap.String("statement", d.Statement()))
		out = model.Failed(model.NewFailure(model.KindTimeout, "statement exceeded %s and did not respond to cancellation", timeout))
	}

	out.Elapsed = time.Since(start)
	if out.Failure != nil {
		out.Failure.Elapsed = out.Elapsed
		if out.Failure.Kind == model.KindTimeout && !stuck && ctx.Err() == nil {
			out.Failure.Message = fmt.Sprintf("statement exceeded %s: %s", timeout, out.Failure.Message)
		}
	}
	e.log.Debug("statement finished",
		zap.String("class", string(d.Class())),
		zap.String("status", out.Status()),
		zap.Int("rows", out.RowCount),
		zap.Duration("elapsed", out.Elapsed))
	return out
}

func (e *Executor) run(ctx context.Context, d policy.Decision, timeout time.Duration) model.Outcome {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return e.fail(err)
	}
	defer conn.Close()

	if err := e.dialect.prepareSession(ctx, conn, timeout); err != nil {
		return e.fail(err)
	}

	switch d.Class() {
	case model.ClassMutate:
		return e.runInTx(ctx, conn, d.Statement())
	case model.ClassAdmin:
		res, err := conn.ExecContext(ctx, d.Statement())
		if err != nil {
			return e.fail(err)
		}
		n, _ := res.RowsAffected()
		return model.Outcome{RowsAffected: n}
	default:
		return e.query(ctx, conn, d.Statement(), d.MaxRows())
	}
}

func (e *Executor) runInTx(ctx context.Context, conn *sql.Conn, stmt string) model.Outcome {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return e.fail(err)
	}
	defer tx.Rollback() // no-op after Commit

	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return e.fail(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	if err := tx.Commit(); err != nil {
		return e.fail(fmt.Errorf("commit failed: %w", err))
	}
	return model.Outcome{RowsAffected: n}
}

// query materializes rows in engine column order, stopping at ceiling.
func (e *Executor) query(ctx context.Context, conn *sql.Conn, stmt string, ceiling int) model.Outcome {
	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return e.fail(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return e.fail(err)
	}
	out := model.Outcome{Columns: cols, Rows: [][]any{}}

	for rows.Next() {
		if ceiling > 0 && len(out.Rows) >= ceiling {
			out.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return e.fail(err)
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return e.fail(err)
	}
	out.RowCount = len(out.Rows)
	return out
}

func (e *Executor) fail(err error) model.Outcome {
	kind := e.mapKind(err)
	e.log.Debug("statement failed", zap.String("kind", string(kind)), zap.Error(err))
	return model.Failed(model.NewFailure(kind, "%s", err.Error()))
}

func (e *Executor) mapKind(err error) model.ErrorKind {
	return e.dialect.classifyError(err)
}

// normalizeValue converts driver values into JSON-friendly ones.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return `\x` + hex.EncodeToString(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return v
	}
}

// IsFailure reports whether err is a statement failure of the given kind.
func IsFailure(err error, kind model.ErrorKind) bool {
	var f *model.Failure
	return errors.As(err, &f) && f.Kind == kind
}
