package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// TimestampFormat is the layout used in audit entry timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ReplayFilter selects entries. Zero fields match everything. Table matches
// case-insensitively against the tables the statement referenced.
type ReplayFilter struct {
	RequestID string
	Decision  string
	Class     string
	ErrorKind string
	Table     string
	From      time.Time
	To        time.Time
}

func (f ReplayFilter) match(e Entry) bool {
	switch {
	case f.RequestID != "" && e.RequestID != f.RequestID,
		f.Decision != "" && e.Decision != f.Decision,
		f.Class != "" && e.Statement.Class != f.Class,
		f.ErrorKind != "" && e.ErrorKind != f.ErrorKind:
		return false
	}
	if f.Table != "" && !hasTable(e.Statement.Tables, f.Table) {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	return !(!f.From.IsZero() && ts.Before(f.From)) && !(!f.To.IsZero() && ts.After(f.To))
}

func hasTable(tables []string, want string) bool {
	for _, t := range tables {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

// ReplaySummary counts what the replayed entries show.
type ReplaySummary struct {
	Total          int            `json:"total"`
	Requests       int            `json:"requests"`
	AllowCount     int            `json:"allow_count"`
	DenyCount      int            `json:"deny_count"`
	SuccessCount   int            `json:"success_count"`
	FailureCount   int            `json:"failure_count"`
	RetryCount     int            `json:"retry_count"`
	Rows           int            `json:"rows"`
	Classes        map[string]int `json:"classes,omitempty"`
	Kinds          map[string]int `json:"kinds,omitempty"`
	FirstTimestamp string         `json:"first_timestamp"`
	LastTimestamp  string         `json:"last_timestamp"`
}

// ReplayResult holds the matching entries, in log order, and their summary.
type ReplayResult struct {
	RequestID string        `json:"request_id,omitempty"`
	Entries   []Entry       `json:"entries"`
	Summary   ReplaySummary `json:"summary"`
}

// Replay reads the log at path and returns entries matching filter. Lines
// that do not parse are skipped; Verify reports them.
func Replay(path string, filter ReplayFilter) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &ReplayResult{RequestID: filter.RequestID}
	requests := map[string]bool{}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		var e Entry
		if json.Unmarshal(scanner.Bytes(), &e) != nil || !filter.match(e) {
			continue
		}
		result.Entries = append(result.Entries, e)
		result.Summary.add(e)
		requests[e.RequestID] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	result.Summary.Requests = len(requests)
	return result, nil
}

func (s *ReplaySummary) add(e Entry) {
	s.Total++
	if e.Decision == DecisionAllow {
		s.AllowCount++
	} else {
		s.DenyCount++
	}
	if e.ErrorKind == "" {
		s.SuccessCount++
		s.Rows += e.Rows
	} else {
		s.FailureCount++
		bump(&s.Kinds, e.ErrorKind)
	}
	if e.Attempt > 1 {
		s.RetryCount++
	}
	bump(&s.Classes, e.Statement.Class)

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}

func bump(m *map[string]int, key string) {
	if *m == nil {
		*m = map[string]int{}
	}
	(*m)[key]++
}

// Tail returns the last n raw lines of the log at path, oldest first.
func Tail(path string, n int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if n <= 0 {
		return nil, nil
	}

	ring := make([][]byte, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(ring) == n {
			ring = append(ring[1:], line)
			continue
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return ring, nil
}
