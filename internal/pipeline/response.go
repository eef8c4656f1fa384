package pipeline

import (
	"github.com/ppiankov/querywatch/internal/model"
)

// Attempt is one statement that went through the gate.
type Attempt struct {
	Number   int                  `json:"number"`
	SQL      string               `json:"sql"`
	Class    model.OperationClass `json:"class"`
	Tables   []string             `json:"tables,omitempty"`
	Allowed  bool                 `json:"allowed"`
	PolicyID string               `json:"policy_id"`
	Reason   string               `json:"reason,omitempty"`
	Executed string               `json:"executed,omitempty"`
	Capped   bool                 `json:"capped,omitempty"`
	Outcome  model.Outcome        `json:"outcome"`
}

// Response is everything a caller needs to show for one request, including
// every statement attempted.
type Response struct {
	RequestID string        `json:"request_id"`
	Question  string        `json:"question,omitempty"`
	Attempts  []Attempt     `json:"attempts"`
	Outcome   model.Outcome `json:"outcome"`

	// RateLimited is set when the interpreter refused the request for rate
	// limiting. The question can be asked again later unchanged.
	RateLimited bool `json:"rate_limited,omitempty"`
}

// OK reports whether the final outcome is a success.
func (r Response) OK() bool { return r.Outcome.OK() }

// Last returns the final attempt, if any statement was produced.
func (r Response) Last() (Attempt, bool) {
	if len(r.Attempts) == 0 {
		return Attempt{}, false
	}
	return r.Attempts[len(r.Attempts)-1], true
}

// SQL is the last statement attempted, as generated or supplied.
func (r Response) SQL() string {
	a, _ := r.Last()
	return a.SQL
}

// Executed is the statement text the database actually received on the
// final attempt, or "" when the gate refused it.
func (r Response) Executed() string {
	a, _ := r.Last()
	return a.Executed
}

// Retried reports whether a corrective retry took place.
func (r Response) Retried() bool { return len(r.Attempts) > 1 }
