package sim

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Change kinds.
const (
	ChangeBlocked  = "blocked"
	ChangeAllowed  = "allowed"
	ChangeRecapped = "recapped"
	ChangeRerouted = "rerouted"
)

// DiffEntry is one recorded statement the candidate policy would treat
// differently.
type DiffEntry struct {
	Kind        string `json:"kind"`
	Timestamp   string `json:"ts"`
	RequestID   string `json:"request_id"`
	Attempt     int    `json:"attempt"`
	Class       string `json:"class"`
	SQL         string `json:"sql"`
	OldDecision string `json:"old_decision"`
	NewDecision string `json:"new_decision"`
	OldPolicyID string `json:"old_policy_id"`
	NewPolicyID string `json:"new_policy_id"`
	NewReason   string `json:"new_reason,omitempty"`
	OldBounded  string `json:"old_bounded,omitempty"`
	NewBounded  string `json:"new_bounded,omitempty"`
}

// SimResult is every change found while replaying the log.
type SimResult struct {
	PolicyPath        string         `json:"policy_path"`
	PolicyHash        string         `json:"policy_hash"`
	TotalStatements   int            `json:"total_statements"`
	ChangedStatements int            `json:"changed_statements"`
	NewlyBlocked      int            `json:"newly_blocked"`
	NewlyAllowed      int            `json:"newly_allowed"`
	ByClass           map[string]int `json:"by_class,omitempty"`
	Changes           []DiffEntry    `json:"changes"`
}

// sections lists change kinds in the order they are printed: loosening
// first, since that is what a reviewer must not miss.
var sections = []struct{ kind, title string }{
	{ChangeAllowed, "Newly allowed"},
	{ChangeBlocked, "Newly blocked"},
	{ChangeRerouted, "Denied by a different rule"},
	{ChangeRecapped, "Row cap changed"},
}

// FormatText renders r grouped by kind of change.
func FormatText(r *SimResult) string {
	var b strings.Builder

	name := r.PolicyPath
	if name == "" {
		name = "default policy"
	}
	fmt.Fprintf(&b, "Replaying %d recorded statements under %s (%s)\n", r.TotalStatements, name, shortHash(r.PolicyHash))
	if len(r.Changes) == 0 {
		b.WriteString("No changes detected.\n")
		return b.String()
	}

	for _, sec := range sections {
		var lines []string
		for _, d := range r.Changes {
			if d.Kind == sec.kind {
				lines = append(lines, changeLine(d))
			}
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s (%d)\n", sec.title, len(lines))
		b.WriteString(strings.Join(lines, ""))
	}

	fmt.Fprintf(&b, "\n%d of %d statements changed: %d newly blocked, %d newly allowed.\n",
		r.ChangedStatements, r.TotalStatements, r.NewlyBlocked, r.NewlyAllowed)
	return b.String()
}

func changeLine(d DiffEntry) string {
	head := fmt.Sprintf("  %s #%d %-20s %-48s", d.RequestID, d.Attempt, d.Class, clip(d.SQL, 48))
	switch d.Kind {
	case ChangeRecapped:
		return fmt.Sprintf("%s %s\n", head, d.NewBounded)
	case ChangeAllowed:
		return fmt.Sprintf("%s was %s\n", head, d.OldPolicyID)
	}
	return fmt.Sprintf("%s %s: %s\n", head, d.NewPolicyID, d.NewReason)
}

// FormatJSON renders the simulation result as JSON.
func FormatJSON(r *SimResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal sim result: %w", err)
	}
	return string(data), nil
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func shortHash(h string) string {
	h = strings.TrimPrefix(h, "sha256:")
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
