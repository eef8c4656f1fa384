package server

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/executor"
	"github.com/ppiankov/querywatch/internal/history"
	"github.com/ppiankov/querywatch/internal/pipeline"
	"github.com/ppiankov/querywatch/internal/policy"
)

func newHandler(t *testing.T, exec pipeline.Executor, p *policy.Policy) *pipeline.Handler {
	t.Helper()
	h, err := pipeline.New(pipeline.Options{
		Policy:   p,
		Denylist: denylist.NewDefault(),
		Executor: exec,
		Dialect:  string(executor.SQLite),
		History:  history.New(history.DefaultSize),
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return h
}

func newExecutor(t *testing.T) *executor.Executor {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "shop.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer TEXT, total REAL)`,
		`INSERT INTO orders (customer, total) VALUES ('ann', 10), ('bob', 25), ('cid', 40)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	e := executor.New(db, executor.SQLite, executor.Options{Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { e.Close() })
	return e
}

// testServer serves srv over an in-memory listener and returns a connection.
func testServer(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req, reply any) error {
	t.Helper()
	in, err := ToStruct(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(context.Background(), method, in, out); err != nil {
		return err
	}
	if err := FromStruct(out, reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return nil
}

func TestNewRequiresHandler(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without handler")
	}
}

func TestQueryAllowed(t *testing.T) {
	srv, err := New(Config{Handler: newHandler(t, newExecutor(t), nil), Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	conn := testServer(t, srv)

	var resp pipeline.Response
	if err := invoke(t, conn, MethodQuery, QueryRequest{SQL: "SELECT customer FROM orders WHERE total > 20"}, &resp); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected success, got %+v", resp.Outcome.Failure)
	}
	if resp.Outcome.RowCount != 2 {
		t.Fatalf("expected 2 rows, got %d", resp.Outcome.RowCount)
	}
	if resp.RequestID == "" {
		t.Fatal("expected request id")
	}
}

func TestQueryDeniedWrite(t *testing.T) {
	srv, _ := New(Config{Handler: newHandler(t, newExecutor(t), nil)})
	conn := testServer(t, srv)

	var resp pipeline.Response
	if err := invoke(t, conn, MethodQuery, QueryRequest{SQL: "DELETE FROM orders"}, &resp); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.OK() {
		t.Fatal("expected DELETE to be refused")
	}
	if resp.Outcome.Failure.Kind != "policy_denied" {
		t.Fatalf("expected policy_denied, got %s", resp.Outcome.Failure.Kind)
	}
}

func TestQueryRequiresSQL(t *testing.T) {
	srv, _ := New(Config{Handler: newHandler(t, newExecutor(t), nil)})
	conn := testServer(t, srv)

	var resp pipeline.Response
	err := invoke(t, conn, MethodQuery, QueryRequest{}, &resp)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	srv, _ := New(Config{Handler: newHandler(t, newExecutor(t), nil)})
	conn := testServer(t, srv)

	var reply CheckReply
	if err := invoke(t, conn, MethodCheck, QueryRequest{SQL: "SELECT * FROM orders"}, &reply); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !reply.Allowed || !reply.Capped || reply.Class != "read" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.Statement == "SELECT * FROM orders" {
		t.Fatal("expected capped statement")
	}

	if err := invoke(t, conn, MethodCheck, QueryRequest{SQL: "TRUNCATE orders"}, &reply); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if reply.Allowed || reply.Statement != "" {
		t.Fatalf("expected denial, got %+v", reply)
	}
}

func TestAskWithoutInterpreter(t *testing.T) {
	srv, _ := New(Config{Handler: newHandler(t, newExecutor(t), nil)})
	conn := testServer(t, srv)

	var resp pipeline.Response
	if err := invoke(t, conn, MethodAsk, AskRequest{Question: "who spent the most?"}, &resp); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Outcome.Failure == nil || resp.Outcome.Failure.Kind != "interpreter" {
		t.Fatalf("expected interpreter failure, got %+v", resp.Outcome)
	}
}

func TestLastQuery(t *testing.T) {
	srv, _ := New(Config{Handler: newHandler(t, newExecutor(t), nil)})
	conn := testServer(t, srv)

	var last LastQueryReply
	if err := invoke(t, conn, MethodLastQuery, struct{}{}, &last); err != nil {
		t.Fatalf("LastQuery: %v", err)
	}
	if last.Found {
		t.Fatal("expected empty history")
	}

	var resp pipeline.Response
	invoke(t, conn, MethodQuery, QueryRequest{SQL: "SELECT COUNT(*) FROM orders"}, &resp)
	if err := invoke(t, conn, MethodLastQuery, struct{}{}, &last); err != nil {
		t.Fatalf("LastQuery: %v", err)
	}
	if !last.Found || last.SQL != "SELECT COUNT(*) FROM orders" || last.Status != "success" {
		t.Fatalf("unexpected last query: %+v", last)
	}
}

func TestReloadPolicy(t *testing.T) {
	exec := newExecutor(t)
	cfg := *policy.DefaultConfig()
	cfg.AllowMutations = true
	cfg.AllowedOperationClasses = append(cfg.AllowedOperationClasses, "mutate")
	writes, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}

	srv, _ := New(Config{
		Handler: newHandler(t, exec, nil),
		Rebuild: func() (*pipeline.Handler, error) { return newHandler(t, exec, writes), nil },
	})
	conn := testServer(t, srv)

	var reply CheckReply
	invoke(t, conn, MethodCheck, QueryRequest{SQL: "UPDATE orders SET total = 0 WHERE id = 1"}, &reply)
	if reply.Allowed {
		t.Fatal("expected update denied before reload")
	}

	if err := srv.ReloadPolicy(); err != nil {
		t.Fatalf("ReloadPolicy: %v", err)
	}
	invoke(t, conn, MethodCheck, QueryRequest{SQL: "UPDATE orders SET total = 0 WHERE id = 1"}, &reply)
	if !reply.Allowed {
		t.Fatalf("expected update allowed after reload: %+v", reply)
	}
}

func TestReloadWithoutRebuild(t *testing.T) {
	srv, _ := New(Config{Handler: newHandler(t, newExecutor(t), nil)})
	if err := srv.ReloadPolicy(); err == nil {
		t.Fatal("expected error")
	}
}

func TestReloaderPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("allow_mutations: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	exec := newExecutor(t)
	reloaded := make(chan struct{}, 1)
	srv, _ := New(Config{
		Handler: newHandler(t, exec, nil),
		Rebuild: func() (*pipeline.Handler, error) {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return newHandler(t, exec, nil), nil
		},
	})

	r, err := NewReloader(srv, []string{path, filepath.Join(dir, "missing.yaml"), ""})
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	if len(r.Paths()) != 2 {
		t.Fatalf("expected 2 tracked paths, got %v", r.Paths())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if err := os.WriteFile(path, []byte("allow_mutations: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not triggered")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestReloaderFollowsRenameReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "denylist.yaml")

	exec := newExecutor(t)
	reloaded := make(chan struct{}, 1)
	srv, _ := New(Config{
		Handler: newHandler(t, exec, nil),
		Rebuild: func() (*pipeline.Handler, error) {
			select {
			case reloaded <- struct{}{}:
			default:
			}
			return newHandler(t, exec, nil), nil
		},
	})
	r, err := NewReloader(srv, []string{path})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	// An unrelated file in the same directory is ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
		t.Fatal("reload triggered by unrelated file")
	case <-time.After(2 * reloadDebounce):
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte("tables: [\"billing.*\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("reload not triggered by rename")
	}
}

func TestReloadFailureKeepsHandler(t *testing.T) {
	exec := newExecutor(t)
	h := newHandler(t, exec, nil)
	srv, _ := New(Config{
		Handler: h,
		Rebuild: func() (*pipeline.Handler, error) { return nil, errors.New("bad policy") },
	})
	if err := srv.ReloadPolicy(); err == nil {
		t.Fatal("expected reload error")
	}
	if srv.handler.Load() != h {
		t.Fatal("handler replaced after failed reload")
	}
}
