// Package schema reads table names, column definitions and DDL from the
// connected database. Every query it issues goes through the same classifier
// and gate as user statements, under a read-only introspection policy.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/querywatch/internal/classify"
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/executor"
	"github.com/ppiankov/querywatch/internal/model"
	"github.com/ppiankov/querywatch/internal/policy"
)

// maxPromptSchema bounds the schema text handed to the interpreter.
const maxPromptSchema = 16 * 1024

// Executor runs gate decisions.
type Executor interface {
	Execute(ctx context.Context, d policy.Decision, timeout time.Duration) model.Outcome
}

// Column describes one column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Default  string `json:"default,omitempty"`
	Key      string `json:"key,omitempty"`
}

// Table is a table and its columns in definition order.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Inspector issues introspection queries for one dialect.
type Inspector struct {
	exec    Executor
	dialect executor.Dialect
	policy  *policy.Policy
	dl      *denylist.Denylist
}

// New returns an Inspector. timeout bounds each query; dl may be nil.
func New(exec Executor, d executor.Dialect, timeout time.Duration, dl *denylist.Denylist) *Inspector {
	return &Inspector{exec: exec, dialect: d, policy: policy.Introspection(timeout), dl: dl}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*)?$`)

// ValidateIdentifier accepts plain or schema-qualified names. Names are
// interpolated into introspection queries, so nothing else is allowed.
func ValidateIdentifier(name string) error {
	if len(name) > 128 || !identRe.MatchString(name) {
		return model.NewFailure(model.KindMalformedInput, "invalid table name %q", name)
	}
	return nil
}

// guard validates name and refuses denylisted tables up front, since
// catalog queries do not always name the table in a FROM clause.
func (in *Inspector) guard(name string) error {
	if err := ValidateIdentifier(name); err != nil {
		return err
	}
	if in.dl != nil {
		if blocked, why := in.dl.IsBlocked("", []string{name}); blocked {
			return model.NewFailure(model.KindPolicyDenied, "denylisted: %s", why)
		}
	}
	return nil
}

func splitName(name string) (schemaName, table string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// run authorizes and executes one introspection statement.
// Failures are returned as *model.Failure.
func (in *Inspector) run(ctx context.Context, sql string) (model.Outcome, error) {
	d := policy.Authorize(classify.ClassifyWith(sql, classify.Options{Dialect: string(in.dialect)}), in.policy, in.dl)
	out := in.exec.Execute(ctx, d, 0)
	if out.Failure != nil {
		return out, out.Failure
	}
	return out, nil
}

// ListTables returns base table names in name order.
func (in *Inspector) ListTables(ctx context.Context) ([]string, error) {
	out, err := in.run(ctx, listTablesQuery(in.dialect))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Rows))
	for _, row := range out.Rows {
		if len(row) > 0 {
			names = append(names, str(row[0]))
		}
	}
	return names, nil
}

// TableInfo returns the columns of one table.
func (in *Inspector) TableInfo(ctx context.Context, name string) (Table, error) {
	if err := in.guard(name); err != nil {
		return Table{}, err
	}
	out, err := in.run(ctx, columnsQuery(in.dialect, name))
	if err != nil {
		return Table{}, err
	}
	if len(out.Rows) == 0 {
		return Table{}, model.NewFailure(model.KindEngineRejected, "table %q not found", name)
	}
	return Table{Name: name, Columns: parseColumns(in.dialect, out.Rows)}, nil
}

// TableDDL returns a CREATE TABLE statement for one table.
func (in *Inspector) TableDDL(ctx context.Context, name string) (string, error) {
	if err := in.guard(name); err != nil {
		return "", err
	}
	switch in.dialect {
	case executor.MySQL:
		_, table := splitName(name)
		out, err := in.run(ctx, "SHOW CREATE TABLE "+quoteMySQL(name))
		if err != nil {
			return "", err
		}
		if len(out.Rows) == 0 || len(out.Rows[0]) < 2 {
			return "", model.NewFailure(model.KindEngineRejected, "table %q not found", table)
		}
		return str(out.Rows[0][1]) + ";", nil
	case executor.SQLite:
		out, err := in.run(ctx, sqliteDDLQuery(name))
		if err != nil {
			return "", err
		}
		if len(out.Rows) == 0 {
			return "", model.NewFailure(model.KindEngineRejected, "table %q not found", name)
		}
		return str(out.Rows[0][0]) + ";", nil
	default:
		t, err := in.TableInfo(ctx, name)
		if err != nil {
			return "", err
		}
		return buildDDL(t), nil
	}
}

// DatabaseDDL returns the DDL of every table, separated by blank lines.
func (in *Inspector) DatabaseDDL(ctx context.Context) (string, error) {
	tables, err := in.ListTables(ctx)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		if in.guard(t) != nil {
			continue
		}
		ddl, err := in.TableDDL(ctx, t)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t, err)
		}
		parts = append(parts, ddl)
	}
	return strings.Join(parts, "\n\n"), nil
}

// Describe returns schema text for the interpreter prompt.
func (in *Inspector) Describe(ctx context.Context) (string, error) {
	ddl, err := in.DatabaseDDL(ctx)
	if err != nil {
		return "", err
	}
	if len(ddl) > maxPromptSchema {
		ddl = ddl[:maxPromptSchema] + "\n-- (schema truncated)"
	}
	return ddl, nil
}

func buildDDL(t Table) string {
	var keys []string
	lines := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		line := "  " + c.Name + " " + c.Type
		if !c.Nullable {
			line += " NOT NULL"
		}
		if c.Default != "" {
			line += " DEFAULT " + c.Default
		}
		if c.Key == keyPrimary {
			keys = append(keys, c.Name)
		}
		lines = append(lines, line)
	}
	if len(keys) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return "CREATE TABLE " + t.Name + " (\n" + strings.Join(lines, ",\n") + "\n);"
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
