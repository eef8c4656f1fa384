// Package mcp exposes the guarded query pipeline as MCP tools over stdio.
package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/querywatch/internal/pipeline"
	"github.com/ppiankov/querywatch/internal/schema"
)

// Inspector reads schema metadata. *schema.Inspector implements it.
type Inspector interface {
	ListTables(ctx context.Context) ([]string, error)
	TableInfo(ctx context.Context, name string) (schema.Table, error)
	TableDDL(ctx context.Context, name string) (string, error)
	DatabaseDDL(ctx context.Context) (string, error)
}

// Pinger checks connectivity. *executor.Executor implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the server to an already-built pipeline.
type Config struct {
	Handler   *pipeline.Handler
	Inspector Inspector
	Pinger    Pinger
	Dialect   string
	Version   string
	Logger    *zap.Logger
}

// Server wraps the MCP SDK server with querywatch tools.
type Server struct {
	mcpServer *mcpsdk.Server
	handler   *pipeline.Handler
	inspector Inspector
	pinger    Pinger
	dialect   string
	log       *zap.Logger
}

// New creates an MCP server with all tools registered.
func New(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, errors.New("mcp: pipeline handler is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		handler:   cfg.Handler,
		inspector: cfg.Inspector,
		pinger:    cfg.Pinger,
		dialect:   cfg.Dialect,
		log:       cfg.Logger.Named("mcp"),
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "querywatch",
			Version: cfg.Version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run serves on stdio. Blocks until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all querywatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "run_query",
		Description: "Run one SQL statement through the querywatch gate. Writes are refused unless the policy enables them; reads without a LIMIT get a row cap.",
	}, s.handleRunQuery)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "ask",
		Description: "Answer a natural-language question: the interpreter writes SQL, querywatch gates and runs it, and one corrected statement is tried if the first fails.",
	}, s.handleAsk)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "check_query",
		Description: "Classify a SQL statement and report the gate decision without executing it.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_last_query",
		Description: "Return the most recently executed statement and its outcome.",
	}, s.handleLastQuery)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_tables",
		Description: "List the tables in the connected database.",
	}, s.handleListTables)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_table_info",
		Description: "Describe the columns of one table.",
	}, s.handleTableInfo)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "generate_table_ddl",
		Description: "Return a CREATE TABLE statement for one table.",
	}, s.handleTableDDL)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "generate_database_schema",
		Description: "Return CREATE TABLE statements for every table in the database.",
	}, s.handleDatabaseSchema)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "test_connection",
		Description: "Check that the database is reachable.",
	}, s.handleTestConnection)
}
