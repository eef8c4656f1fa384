package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of checking an audit log.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Entries   int    `json:"entries"`
	Allowed   int    `json:"allowed"`
	Denied    int    `json:"denied"`
	Requests  int    `json:"requests"`
	LastHash  string `json:"last_hash,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Verify walks the log and checks that every entry links to the hash of the
// line before it and that its decision agrees with its outcome. It stops at
// the first bad line.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{}
	requests := map[string]struct{}{}
	want := GenesisHash

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		n := res.Entries + 1
		line := bytes.Clone(scanner.Bytes())

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return res.fail(n, "parse error: %v", err)
		}
		if e.PrevHash != want {
			if n == 1 {
				return res.fail(n, "first entry prev_hash is %q, expected genesis hash", e.PrevHash)
			}
			return res.fail(n, "hash mismatch: expected %s, got %s", want, e.PrevHash)
		}
		if err := checkEntry(e); err != nil {
			return res.fail(n, "%v", err)
		}

		res.Entries = n
		if e.Decision == DecisionAllow {
			res.Allowed++
		} else {
			res.Denied++
		}
		requests[e.RequestID] = struct{}{}
		want = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Error: fmt.Sprintf("scan: %v", err)}
	}

	res.Valid = true
	res.Requests = len(requests)
	if res.Entries > 0 {
		res.LastHash = want
	}
	return res
}

// checkEntry rejects entries whose decision contradicts what happened to
// the statement. A denied statement never reaches the database, so it has
// no bounded text and a policy_denied status.
func checkEntry(e Entry) error {
	if e.Attempt < 1 {
		return fmt.Errorf("request %s: attempt %d out of range", e.RequestID, e.Attempt)
	}
	switch e.Decision {
	case DecisionAllow:
		if e.Status == statusDenied || e.Statement.Bounded == "" {
			return fmt.Errorf("request %s: allowed entry has no executed statement", e.RequestID)
		}
	case DecisionDeny:
		if e.Status != statusDenied || e.Statement.Bounded != "" {
			return fmt.Errorf("request %s: denied entry shows execution (status %q)", e.RequestID, e.Status)
		}
	default:
		return fmt.Errorf("request %s: unknown decision %q", e.RequestID, e.Decision)
	}
	return nil
}

func (r VerifyResult) fail(line int, format string, args ...any) VerifyResult {
	r.Valid = false
	r.Error = fmt.Sprintf(format, args...)
	r.ErrorLine = line
	return r
}
