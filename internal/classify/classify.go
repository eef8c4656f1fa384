// Package classify derives the operation class of a candidate SQL statement
// from its leading keyword. It is a pure lexical pass: it never touches a
// database and never returns an error. Anything it cannot read with
// confidence is classified malformed.
package classify

import (
	"github.com/ppiankov/querywatch/internal/model"
)

// leadingKeywords maps the first keyword of a statement to its class.
// Keywords not listed here classify the statement as malformed.
var leadingKeywords = map[string]model.OperationClass{
	"SELECT": model.ClassRead,

	"SHOW":     model.ClassSchemaIntrospection,
	"DESCRIBE": model.ClassSchemaIntrospection,
	"EXPLAIN":  model.ClassSchemaIntrospection,

	"INSERT": model.ClassMutate,
	"UPDATE": model.ClassMutate,
	"DELETE": model.ClassMutate,

	"DROP":     model.ClassAdmin,
	"ALTER":    model.ClassAdmin,
	"CREATE":   model.ClassAdmin,
	"TRUNCATE": model.ClassAdmin,
	"GRANT":    model.ClassAdmin,
	"REVOKE":   model.ClassAdmin,
}

// Options selects the lexical rules. Dialect is one of mysql, postgres or
// sqlite (aliases as accepted in config). An empty or unknown dialect lexes
// strictly: constructs the engines read differently, such as a backslash
// inside a literal, classify the statement malformed.
type Options struct {
	Dialect string
}

// Classify inspects text under the strict rules.
// The same text always yields the same result.
func Classify(text string) model.ClassifiedStatement {
	return ClassifyWith(text, Options{})
}

// ClassifyWith inspects text under the rules of opts.Dialect.
func ClassifyWith(text string, opts Options) model.ClassifiedStatement {
	stmt := model.ClassifiedStatement{
		Candidate: model.CandidateStatement{Text: text},
		Class:     model.ClassMalformed,
	}

	lx, err := lex(text, rulesFor(opts.Dialect))
	if err != nil {
		stmt.Reason = err.Error()
		return stmt
	}

	lead := lx.tokens[0]
	if lead.kind != tokWord {
		stmt.Reason = "statement does not begin with a keyword"
		return stmt
	}
	class, ok := leadingKeywords[lead.value]
	if !ok {
		stmt.Reason = "unrecognized leading keyword " + lead.value
		return stmt
	}

	stmt.Class = class
	stmt.Keyword = lead.value
	if lead.value == "EXPLAIN" {
		stmt.Class = explainClass(lx.tokens)
	}
	stmt.Tables = extractTables(lx.tokens)
	stmt.HasRowLimit = hasRowLimit(lx.tokens)
	stmt.CapAt = capOffset(lx)
	stmt.LimitAllAt = limitAllOffset(lx.tokens)
	return stmt
}

// ClassifyCandidate is ClassifyWith for a candidate that already carries its question.
func ClassifyCandidate(c model.CandidateStatement, opts Options) model.ClassifiedStatement {
	stmt := ClassifyWith(c.Text, opts)
	stmt.Candidate = c
	return stmt
}

// CheckSingle reports whether text lexes as exactly one statement under
// the rules of opts.Dialect. The executor runs it on the final text just
// before the driver sees it.
func CheckSingle(text string, opts Options) error {
	_, err := lex(text, rulesFor(opts.Dialect))
	return err
}

// explainClass handles EXPLAIN ANALYZE, which runs the inner statement.
// A plain EXPLAIN only plans and stays schema introspection.
func explainClass(tokens []token) model.OperationClass {
	analyze := false
	for _, t := range tokens[1:] {
		if t.kind != tokWord {
			continue
		}
		if t.value == "ANALYZE" || t.value == "ANALYSE" {
			analyze = true
			continue
		}
		inner, ok := leadingKeywords[t.value]
		if !ok {
			continue
		}
		if analyze && inner.IsWrite() {
			return inner
		}
		return model.ClassSchemaIntrospection
	}
	return model.ClassSchemaIntrospection
}

// hasRowLimit reports a row bound outside any parentheses: LIMIT n or
// FETCH FIRST/NEXT. LIMIT ALL bounds nothing.
func hasRowLimit(tokens []token) bool {
	for i, t := range tokens {
		if t.depth != 0 || t.kind != tokWord {
			continue
		}
		next := peek(tokens, i+1)
		switch t.value {
		case "LIMIT":
			if !next.isWord("ALL") {
				return true
			}
		case "FETCH":
			if next.isWord("FIRST") || next.isWord("NEXT") {
				return true
			}
		}
	}
	return false
}

// limitAllOffset is the offset of ALL in a top-level LIMIT ALL, or 0.
func limitAllOffset(tokens []token) int {
	for i, t := range tokens {
		if t.depth == 0 && t.isWord("LIMIT") {
			if next := peek(tokens, i+1); next.isWord("ALL") {
				return next.start
			}
		}
	}
	return 0
}

// capOffset is where a row cap belongs: before a top-level locking clause if
// there is one, otherwise right after the last body token. Trailing comments
// and the terminator stay after the cap.
func capOffset(lx lexResult) int {
	for i, t := range lx.tokens {
		if t.depth != 0 || t.kind != tokWord {
			continue
		}
		next := peek(lx.tokens, i+1)
		switch t.value {
		case "FOR":
			if next.isWord("UPDATE") || next.isWord("SHARE") || next.isWord("NO") || next.isWord("KEY") {
				return trimSpaceBefore(lx, t.start)
			}
		case "LOCK":
			if next.isWord("IN") {
				return trimSpaceBefore(lx, t.start)
			}
		}
	}
	return lx.bodyEnd
}

// trimSpaceBefore backs off to the end of the token preceding offset so the
// inserted clause reads "... LIMIT n FOR UPDATE" with single spacing.
func trimSpaceBefore(lx lexResult, offset int) int {
	end := 0
	for _, t := range lx.tokens {
		if t.end > offset {
			break
		}
		end = t.end
	}
	return end
}

func peek(tokens []token, i int) token {
	if i < len(tokens) {
		return tokens[i]
	}
	return token{kind: tokSymbol}
}
