package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/querywatch/internal/pipeline"
)

var errNoInspector = errors.New("schema inspection is not configured")

// --- Input/Output types ---

// QueryInput defines parameters for the run_query tool.
type QueryInput struct {
	SQL string `json:"sql" jsonschema:"one SQL statement"`
}

// AskInput defines parameters for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"question about the data, in plain language"`
}

// QueryOutput is the result of run_query and ask.
type QueryOutput struct {
	RequestID    string   `json:"request_id"`
	SQL          string   `json:"sql,omitempty"`
	Executed     string   `json:"executed,omitempty"`
	Class        string   `json:"class,omitempty"`
	Allowed      bool     `json:"allowed"`
	PolicyID     string   `json:"policy_id,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowCount     int      `json:"row_count"`
	RowsAffected int64    `json:"rows_affected,omitempty"`
	Truncated    bool     `json:"truncated,omitempty"`
	ElapsedMS    int64    `json:"elapsed_ms"`
	Attempts     int      `json:"attempts"`
	ErrorKind    string   `json:"error_kind,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// CheckOutput contains the classification and gate decision.
type CheckOutput struct {
	Class     string   `json:"class"`
	Tables    []string `json:"tables,omitempty"`
	HasLimit  bool     `json:"has_limit"`
	Decision  string   `json:"decision"`
	PolicyID  string   `json:"policy_id"`
	Reason    string   `json:"reason,omitempty"`
	Statement string   `json:"statement,omitempty"`
	Capped    bool     `json:"capped,omitempty"`
}

// LastQueryInput is empty.
type LastQueryInput struct{}

// LastQueryOutput describes the last executed statement.
type LastQueryOutput struct {
	Found     bool   `json:"found"`
	RequestID string `json:"request_id,omitempty"`
	Question  string `json:"question,omitempty"`
	SQL       string `json:"sql,omitempty"`
	Executed  string `json:"executed,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Elapsed   string `json:"elapsed,omitempty"`
	At        string `json:"at,omitempty"`
}

// TableInput names one table.
type TableInput struct {
	Table string `json:"table" jsonschema:"table name, optionally schema-qualified"`
}

// ListTablesInput is empty.
type ListTablesInput struct{}

// ListTablesOutput lists table names.
type ListTablesOutput struct {
	Tables []string `json:"tables,omitempty"`
}

// ColumnOutput describes one column.
type ColumnOutput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
	Key      string `json:"key,omitempty"`
}

// TableInfoOutput describes one table.
type TableInfoOutput struct {
	Table   string         `json:"table"`
	Columns []ColumnOutput `json:"columns,omitempty"`
}

// DDLOutput carries generated DDL.
type DDLOutput struct {
	DDL string `json:"ddl"`
}

// ConnectionInput is empty.
type ConnectionInput struct{}

// ConnectionOutput reports connectivity.
type ConnectionOutput struct {
	OK        bool   `json:"ok"`
	Dialect   string `json:"dialect,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// --- Handlers ---

func (s *Server) handleRunQuery(ctx context.Context, req *mcpsdk.CallToolRequest, input QueryInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	if input.SQL == "" {
		return nil, QueryOutput{}, errors.New("sql is required")
	}
	return toolResult(queryOutput(s.handler.Run(ctx, input.SQL)))
}

func (s *Server) handleAsk(ctx context.Context, req *mcpsdk.CallToolRequest, input AskInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	if input.Question == "" {
		return nil, QueryOutput{}, errors.New("question is required")
	}
	resp := s.handler.Ask(ctx, input.Question)
	if resp.Retried() {
		s.log.Info("ask needed a corrected statement", zap.String("request_id", resp.RequestID))
	}
	return toolResult(queryOutput(resp))
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input QueryInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	stmt, d := s.handler.Check(input.SQL)
	out := CheckOutput{
		Class:    string(stmt.Class),
		Tables:   stmt.Tables,
		HasLimit: stmt.HasRowLimit,
		Decision: "deny",
		PolicyID: d.PolicyID(),
		Reason:   d.Reason(),
	}
	if d.Allowed() {
		out.Decision = "allow"
		out.Statement = d.Statement()
		out.Capped = d.Capped()
	}
	return nil, out, nil
}

func (s *Server) handleLastQuery(ctx context.Context, req *mcpsdk.CallToolRequest, input LastQueryInput) (*mcpsdk.CallToolResult, LastQueryOutput, error) {
	e, ok := s.handler.History().Last()
	if !ok {
		return nil, LastQueryOutput{}, nil
	}
	return nil, LastQueryOutput{
		Found:     true,
		RequestID: e.RequestID,
		Question:  e.Question,
		SQL:       e.SQL,
		Executed:  e.Executed,
		Status:    e.Status,
		Message:   e.Message,
		Rows:      e.Rows,
		Elapsed:   e.Elapsed,
		At:        e.At.UTC().Format(time.RFC3339),
	}, nil
}

func (s *Server) handleListTables(ctx context.Context, req *mcpsdk.CallToolRequest, input ListTablesInput) (*mcpsdk.CallToolResult, ListTablesOutput, error) {
	if s.inspector == nil {
		return nil, ListTablesOutput{}, errNoInspector
	}
	tables, err := s.inspector.ListTables(ctx)
	if err != nil {
		return nil, ListTablesOutput{}, err
	}
	return nil, ListTablesOutput{Tables: tables}, nil
}

func (s *Server) handleTableInfo(ctx context.Context, req *mcpsdk.CallToolRequest, input TableInput) (*mcpsdk.CallToolResult, TableInfoOutput, error) {
	if s.inspector == nil {
		return nil, TableInfoOutput{}, errNoInspector
	}
	t, err := s.inspector.TableInfo(ctx, input.Table)
	if err != nil {
		return nil, TableInfoOutput{}, err
	}
	out := TableInfoOutput{Table: t.Name}
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, ColumnOutput(c))
	}
	return nil, out, nil
}

func (s *Server) handleTableDDL(ctx context.Context, req *mcpsdk.CallToolRequest, input TableInput) (*mcpsdk.CallToolResult, DDLOutput, error) {
	if s.inspector == nil {
		return nil, DDLOutput{}, errNoInspector
	}
	ddl, err := s.inspector.TableDDL(ctx, input.Table)
	if err != nil {
		return nil, DDLOutput{}, err
	}
	return nil, DDLOutput{DDL: ddl}, nil
}

func (s *Server) handleDatabaseSchema(ctx context.Context, req *mcpsdk.CallToolRequest, input ListTablesInput) (*mcpsdk.CallToolResult, DDLOutput, error) {
	if s.inspector == nil {
		return nil, DDLOutput{}, errNoInspector
	}
	ddl, err := s.inspector.DatabaseDDL(ctx)
	if err != nil {
		return nil, DDLOutput{}, err
	}
	return nil, DDLOutput{DDL: ddl}, nil
}

func (s *Server) handleTestConnection(ctx context.Context, req *mcpsdk.CallToolRequest, input ConnectionInput) (*mcpsdk.CallToolResult, ConnectionOutput, error) {
	out := ConnectionOutput{Dialect: s.dialect}
	if s.pinger == nil {
		out.Error = "no database configured"
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	start := time.Now()
	err := s.pinger.Ping(ctx)
	out.ElapsedMS = time.Since(start).Milliseconds()
	if err != nil {
		out.Error = err.Error()
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	out.OK = true
	return nil, out, nil
}

// --- Helpers ---

// toolResult marks failed outcomes as tool errors so the caller sees the
// failure kind without losing the structured output.
func toolResult(out QueryOutput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	if out.ErrorKind != "" {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func queryOutput(resp pipeline.Response) QueryOutput {
	out := QueryOutput{
		RequestID:    resp.RequestID,
		Columns:      resp.Outcome.Columns,
		Rows:         resp.Outcome.Rows,
		RowCount:     resp.Outcome.RowCount,
		RowsAffected: resp.Outcome.RowsAffected,
		Truncated:    resp.Outcome.Truncated,
		ElapsedMS:    resp.Outcome.Elapsed.Milliseconds(),
		Attempts:     len(resp.Attempts),
	}
	if a, ok := resp.Last(); ok {
		out.SQL = a.SQL
		out.Executed = a.Executed
		out.Class = string(a.Class)
		out.Allowed = a.Allowed
		out.PolicyID = a.PolicyID
		out.Reason = a.Reason
	}
	if f := resp.Outcome.Failure; f != nil {
		out.ErrorKind = string(f.Kind)
		out.Error = f.Message
	}
	return out
}
