package audit

// Statement is the SQL side of an audit entry.
type Statement struct {
	Class   string   `json:"class"`
	SQL     string   `json:"sql"`
	Bounded string   `json:"bounded,omitempty"`
	Tables  []string `json:"tables,omitempty"`
}

// Entry is one line in the hash-chained JSONL audit log: one attempt to
// run one statement. All fields are concrete types (no map[string]any) so
// json.Marshal output is deterministic and the chain hash reproducible.
type Entry struct {
	Timestamp  string    `json:"ts"`
	RequestID  string    `json:"request_id"`
	Question   string    `json:"question,omitempty"`
	Attempt    int       `json:"attempt"`
	Statement  Statement `json:"statement"`
	Decision   string    `json:"decision"`
	PolicyID   string    `json:"policy_id"`
	Reason     string    `json:"reason,omitempty"`
	Status     string    `json:"status"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Rows       int       `json:"rows"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	PolicyHash string    `json:"policy_hash"`
	PrevHash   string    `json:"prev_hash"`
}

// Decision values.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// statusDenied is the status of an attempt the gate refused.
const statusDenied = "policy_denied"
