package model

import (
	"fmt"
	"strings"
	"time"
)

// OperationClass is the category a statement falls into, derived from its leading keyword.
type OperationClass string

const (
	ClassRead                OperationClass = "read"
	ClassSchemaIntrospection OperationClass = "schema_introspection"
	ClassMutate              OperationClass = "mutate"
	ClassAdmin               OperationClass = "admin"
	ClassMalformed           OperationClass = "malformed"
)

// OperationClasses lists every class a policy may name, in a stable order.
var OperationClasses = []OperationClass{
	ClassRead,
	ClassSchemaIntrospection,
	ClassMutate,
	ClassAdmin,
}

// ParseOperationClass maps user input (any case, dashes or underscores) to a class.
// Fail-closed: anything unrecognized is ClassMalformed with ok=false.
func ParseOperationClass(s string) (OperationClass, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch OperationClass(norm) {
	case ClassRead, ClassSchemaIntrospection, ClassMutate, ClassAdmin, ClassMalformed:
		return OperationClass(norm), true
	}
	return ClassMalformed, false
}

// IsWrite reports whether statements of this class change data or schema.
func (c OperationClass) IsWrite() bool {
	return c == ClassMutate || c == ClassAdmin
}

// CandidateStatement is SQL text produced by the interpreter, not yet validated.
type CandidateStatement struct {
	Text     string `json:"text"`
	Question string `json:"question,omitempty"`
}

// ClassifiedStatement is a candidate plus everything the gate needs to decide on it.
type ClassifiedStatement struct {
	Candidate CandidateStatement `json:"candidate"`
	Class     OperationClass     `json:"class"`
	Keyword   string             `json:"keyword,omitempty"`
	Tables    []string           `json:"tables,omitempty"`
	Reason    string             `json:"reason,omitempty"`

	// HasRowLimit is true when a LIMIT clause appears outside any parentheses.
	HasRowLimit bool `json:"has_row_limit"`

	// CapAt is the byte offset in Candidate.Text where a row cap clause belongs.
	CapAt int `json:"-"`
	// LimitAllAt is the byte offset of ALL in a top-level LIMIT ALL, or 0.
	LimitAllAt int `json:"-"`
}

// Text returns the raw statement text.
func (s ClassifiedStatement) Text() string {
	return s.Candidate.Text
}

// ErrorKind is the failure taxonomy surfaced to callers.
type ErrorKind string

const (
	KindMalformedInput ErrorKind = "malformed_input"
	KindPolicyDenied   ErrorKind = "policy_denied"
	KindEngineRejected ErrorKind = "engine_rejected"
	KindConnection     ErrorKind = "connection"
	KindTimeout        ErrorKind = "timeout"
	KindInterpreter    ErrorKind = "interpreter"
)

// Retryable reports whether a failure of this kind may be retried at all.
// Engine rejections are retried once through the interpreter; timeouts may be
// re-run by the caller but are never retried automatically.
func (k ErrorKind) Retryable() bool {
	return k == KindEngineRejected || k == KindTimeout
}

// Correctable reports whether regenerating the SQL could plausibly fix the failure.
func (k ErrorKind) Correctable() bool {
	return k == KindEngineRejected || k == KindMalformedInput
}

// Failure is the error half of an Outcome.
type Failure struct {
	Kind      ErrorKind     `json:"kind"`
	Message   string        `json:"message"`
	Retryable bool          `json:"retryable"`
	Elapsed   time.Duration `json:"elapsed_ns,omitempty"`
}

// NewFailure builds a Failure with Retryable derived from the kind.
func NewFailure(kind ErrorKind, format string, args ...any) *Failure {
	return &Failure{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: kind.Retryable(),
	}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Outcome is the result of one execution attempt. Exactly one of the success
// fields or Failure is meaningful.
type Outcome struct {
	Columns      []string      `json:"columns,omitempty"`
	Rows         [][]any       `json:"rows,omitempty"`
	RowCount     int           `json:"row_count"`
	RowsAffected int64         `json:"rows_affected,omitempty"`
	Truncated    bool          `json:"truncated,omitempty"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	Failure      *Failure      `json:"failure,omitempty"`
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Failed wraps a failure into an Outcome.
func Failed(f *Failure) Outcome {
	return Outcome{Failure: f, Elapsed: f.Elapsed}
}

// Status returns "success" or the failure kind, for logs and audit lines.
func (o Outcome) Status() string {
	if o.Failure == nil {
		return "success"
	}
	return string(o.Failure.Kind)
}
