// Package daemon implements the question inbox. Jobs arrive as JSON files in
// the inbox directory, run through the query pipeline on a worker pool, and
// results are written to the outbox directory under the same ID.
package daemon

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/querywatch/internal/pipeline"
)

// maxQuestionLen bounds the question text accepted from the inbox.
const maxQuestionLen = 4096

// validID matches alphanumeric characters, dashes, and underscores only.
var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Job is a unit of work dropped into the inbox. Exactly one of Question and
// SQL is set.
type Job struct {
	ID        string    `json:"id"`
	Question  string    `json:"question,omitempty"`
	SQL       string    `json:"sql,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Deferrals counts how often the job was set aside for rate limiting.
	Deferrals int `json:"deferrals,omitempty"`
}

// Result is written to the outbox after processing a job.
type Result struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	RequestID    string    `json:"request_id,omitempty"`
	Question     string    `json:"question,omitempty"`
	SQL          string    `json:"sql,omitempty"`
	Executed     string    `json:"executed,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
	Columns      []string  `json:"columns,omitempty"`
	Rows         [][]any   `json:"rows,omitempty"`
	RowCount     int       `json:"row_count,omitempty"`
	RowsAffected int64     `json:"rows_affected,omitempty"`
	Truncated    bool      `json:"truncated,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Error        string    `json:"error,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Result status values.
const (
	ResultDone     = "done"
	ResultFailed   = "failed"
	ResultDeferred = "deferred"
)

// ValidateJob checks that a job has all required fields and safe values.
func ValidateJob(j *Job) error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if strings.Contains(j.ID, "..") {
		return fmt.Errorf("job ID must not contain '..'")
	}
	if !validID.MatchString(j.ID) {
		return fmt.Errorf("job ID contains invalid characters: only alphanumeric, dash, and underscore allowed")
	}
	hasQ := strings.TrimSpace(j.Question) != ""
	hasSQL := strings.TrimSpace(j.SQL) != ""
	switch {
	case hasQ && hasSQL:
		return fmt.Errorf("job must set question or sql, not both")
	case !hasQ && !hasSQL:
		return fmt.Errorf("job question or sql is required")
	}
	if len(j.Question) > maxQuestionLen {
		return fmt.Errorf("job question exceeds %d bytes", maxQuestionLen)
	}
	return nil
}

// resultFrom maps a pipeline response onto a Result.
func resultFrom(id string, resp pipeline.Response) *Result {
	r := &Result{
		ID:           id,
		Status:       ResultDone,
		RequestID:    resp.RequestID,
		Question:     resp.Question,
		SQL:          resp.SQL(),
		Executed:     resp.Executed(),
		Attempts:     len(resp.Attempts),
		Columns:      resp.Outcome.Columns,
		Rows:         resp.Outcome.Rows,
		RowCount:     resp.Outcome.RowCount,
		RowsAffected: resp.Outcome.RowsAffected,
		Truncated:    resp.Outcome.Truncated,
		CompletedAt:  time.Now().UTC(),
	}
	if f := resp.Outcome.Failure; f != nil {
		r.Status = ResultFailed
		r.ErrorKind = string(f.Kind)
		r.Error = f.Message
	}
	return r
}
