// Package interpreter turns a natural-language question into candidate SQL
// by calling a language model. Its output is untrusted text: callers must
// classify and authorize it before anything reaches a database.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrEmptyResponse is returned when the model answered without any text.
var ErrEmptyResponse = errors.New("empty interpreter response")

// Request is one call to the model. PriorSQL and PriorError are set only on
// a corrective retry.
type Request struct {
	Question   string
	Dialect    string
	Schema     string
	PriorSQL   string
	PriorError string
}

// IsCorrection reports whether the request carries a previous failure.
func (r Request) IsCorrection() bool {
	return r.PriorSQL != "" || r.PriorError != ""
}

// Interpreter maps a question (plus schema context) to SQL text.
type Interpreter interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to the Interpreter interface.
type Func func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

const systemPrompt = `You translate questions about a relational database into SQL.

Rules:
- Answer with exactly ONE SQL statement in a single ` + "```sql" + ` block.
- Use %s syntax.
- Use only tables and columns that appear in the schema.
- Do not add commentary outside the code block.
- Never combine several statements with semicolons.`

// SystemPrompt returns the instruction block for the given dialect.
func SystemPrompt(dialect string) string {
	if dialect == "" {
		dialect = "MySQL"
	}
	return fmt.Sprintf(systemPrompt, dialectLabel(dialect))
}

func dialectLabel(d string) string {
	switch strings.ToLower(d) {
	case "mysql", "mariadb":
		return "MySQL/MariaDB"
	case "postgres", "postgresql", "pg":
		return "PostgreSQL"
	case "sqlite", "sqlite3":
		return "SQLite"
	}
	return d
}

// UserPrompt renders the question, the schema context and, on a retry, the
// statement that failed together with the database error.
func UserPrompt(req Request) string {
	var b strings.Builder
	if req.Schema != "" {
		b.WriteString("Database schema:\n")
		b.WriteString(strings.TrimSpace(req.Schema))
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(req.Question))
	if req.IsCorrection() {
		b.WriteString("\n\nThe previous statement failed.\n")
		if req.PriorSQL != "" {
			b.WriteString("Statement:\n")
			b.WriteString(req.PriorSQL)
			b.WriteString("\n")
		}
		if req.PriorError != "" {
			b.WriteString("Error: ")
			b.WriteString(req.PriorError)
			b.WriteString("\n")
		}
		b.WriteString("Return a corrected statement.")
	}
	return b.String()
}

var (
	sqlFence   = regexp.MustCompile("(?is)```sql[ \t]*\\r?\\n(.*?)```")
	anyFence   = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\\r?\\n(.*?)```")
	upperStmt  = regexp.MustCompile(`\b((?:SELECT|SHOW|DESCRIBE|EXPLAIN|INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|GRANT|REVOKE)\b[\s\S]*?)(?:;|\n[ \t]*\n|\z)`)
	lineStmt   = regexp.MustCompile(`(?im)^[ \t]*((?:select|show|describe|explain|insert|update|delete|drop|alter|create|truncate|grant|revoke)\b[\s\S]*?)(?:;|\n[ \t]*\n|\z)`)
	extractors = []*regexp.Regexp{sqlFence, anyFence, upperStmt, lineStmt}
)

// ExtractSQL pulls the statement out of free-form model output.
// It prefers a ```sql block, then any fenced block, then the first run of
// text that starts with a statement keyword. When nothing matches it
// returns the trimmed text so the classifier can reject it.
func ExtractSQL(text string) string {
	for _, re := range extractors {
		if m := re.FindStringSubmatch(text); m != nil {
			if s := cleanStatement(m[1]); s != "" {
				return s
			}
		}
	}
	return cleanStatement(text)
}

func cleanStatement(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
