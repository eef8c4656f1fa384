package client

import (
	"context"
	"database/sql"
	"net"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/executor"
	"github.com/ppiankov/querywatch/internal/history"
	"github.com/ppiankov/querywatch/internal/interpreter"
	"github.com/ppiankov/querywatch/internal/pipeline"
	"github.com/ppiankov/querywatch/internal/server"
)

// startTestServer serves a sqlite-backed pipeline over bufconn and returns
// a connected client.
func startTestServer(t *testing.T, gen interpreter.Interpreter) *Client {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "shop.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE books (id INTEGER PRIMARY KEY, title TEXT, year INTEGER)`,
		`INSERT INTO books (title, year) VALUES ('Dune', 1965), ('Neuromancer', 1984), ('Hyperion', 1989)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	log := zaptest.NewLogger(t)
	exec := executor.New(db, executor.SQLite, executor.Options{Logger: log})
	t.Cleanup(func() { exec.Close() })

	h, err := pipeline.New(pipeline.Options{
		Denylist:    denylist.NewDefault(),
		Executor:    exec,
		Interpreter: gen,
		Dialect:     string(executor.SQLite),
		History:     history.New(history.DefaultSize),
		Logger:      log,
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	srv, err := server.New(server.Config{Handler: h, Logger: log})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	go srv.ServeOn(lis)

	c, err := New("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		c.Close()
		srv.GracefulStop()
	})
	return c
}

func TestClientQuery(t *testing.T) {
	c := startTestServer(t, nil)
	resp, err := c.Query(context.Background(), "SELECT title FROM books WHERE year > 1980 ORDER BY year")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected success, got %+v", resp.Outcome.Failure)
	}
	if resp.Outcome.RowCount != 2 {
		t.Fatalf("expected 2 rows, got %d", resp.Outcome.RowCount)
	}
	if got := resp.Outcome.Rows[0][0]; got != "Neuromancer" {
		t.Fatalf("expected Neuromancer first, got %v", got)
	}
}

func TestClientQueryDenied(t *testing.T) {
	c := startTestServer(t, nil)
	resp, err := c.Query(context.Background(), "DROP TABLE books")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.OK() || resp.Outcome.Failure.Kind != "policy_denied" {
		t.Fatalf("expected policy_denied, got %+v", resp.Outcome)
	}
}

func TestClientCheck(t *testing.T) {
	c := startTestServer(t, nil)
	reply, err := c.Check(context.Background(), "SELECT * FROM books LIMIT 2")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !reply.Allowed || reply.Capped || !reply.HasLimit {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestClientAsk(t *testing.T) {
	c := startTestServer(t, interpreter.Func(func(_ context.Context, req interpreter.Request) (string, error) {
		return "SELECT COUNT(*) FROM books", nil
	}))
	resp, err := c.Ask(context.Background(), "how many books?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.OK() || resp.SQL() != "SELECT COUNT(*) FROM books" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Question != "how many books?" {
		t.Fatalf("question not echoed: %q", resp.Question)
	}

	last, err := c.LastQuery(context.Background())
	if err != nil {
		t.Fatalf("LastQuery: %v", err)
	}
	if !last.Found || last.Question != "how many books?" {
		t.Fatalf("unexpected last query: %+v", last)
	}
}

func TestCheckFailClosedUnreachable(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	lis.Close()
	c, err := New("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	reply, err := c.Check(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Check must not error when unreachable: %v", err)
	}
	if reply.Allowed || reply.PolicyID != PolicyUnreachable {
		t.Fatalf("expected fail-closed denial, got %+v", reply)
	}
}

func TestQueryUnreachableErrors(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	lis.Close()
	c, _ := New("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	defer c.Close()

	if _, err := c.Query(context.Background(), "SELECT 1"); err == nil {
		t.Fatal("expected error from unreachable server")
	}
}
