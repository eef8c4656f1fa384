// Package sim replays recorded statements from the audit log through the
// classifier and gate under a candidate policy, and reports every statement
// whose decision would change. Nothing is executed.
package sim

import (
	"fmt"

	"github.com/ppiankov/querywatch/internal/audit"
	"github.com/ppiankov/querywatch/internal/classify"
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/policy"
)

// Simulate replays the audit log at logPath against the policy and
// denylist files, lexing statements as dialect does. Empty paths use the
// defaults.
func Simulate(logPath, policyPath, denylistPath, dialect string) (*SimResult, error) {
	p, err := policy.Load(policyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	dl, err := denylist.Load(denylistPath)
	if err != nil {
		return nil, fmt.Errorf("load denylist: %w", err)
	}

	replay, err := audit.Replay(logPath, audit.ReplayFilter{})
	if err != nil {
		return nil, err
	}

	result := Run(replay.Entries, p, dl, dialect)
	result.PolicyPath = policyPath
	return result, nil
}

// Run re-decides each entry under p and dl. The gate is stateless, so
// entries are independent of each other.
func Run(entries []audit.Entry, p *policy.Policy, dl *denylist.Denylist, dialect string) *SimResult {
	result := &SimResult{PolicyHash: p.Hash()}
	opts := classify.Options{Dialect: dialect}

	for _, entry := range entries {
		result.TotalStatements++

		d := policy.Authorize(classify.ClassifyWith(entry.Statement.SQL, opts), p, dl)
		kind := changeKind(entry, d)
		if kind == "" {
			continue
		}

		newDecision := audit.DecisionDeny
		if d.Allowed() {
			newDecision = audit.DecisionAllow
		}
		result.Changes = append(result.Changes, DiffEntry{
			Kind:        kind,
			Timestamp:   entry.Timestamp,
			RequestID:   entry.RequestID,
			Attempt:     entry.Attempt,
			Class:       string(d.Class()),
			SQL:         entry.Statement.SQL,
			OldDecision: entry.Decision,
			NewDecision: newDecision,
			OldPolicyID: entry.PolicyID,
			NewPolicyID: d.PolicyID(),
			NewReason:   d.Reason(),
			OldBounded:  entry.Statement.Bounded,
			NewBounded:  d.Statement(),
		})
		result.ChangedStatements++
		if result.ByClass == nil {
			result.ByClass = map[string]int{}
		}
		result.ByClass[string(d.Class())]++

		switch kind {
		case ChangeBlocked:
			result.NewlyBlocked++
		case ChangeAllowed:
			result.NewlyAllowed++
		}
	}
	return result
}

// changeKind compares a recorded decision with a fresh one. It returns ""
// when nothing a caller would notice differs.
func changeKind(entry audit.Entry, d policy.Decision) string {
	wasAllowed := entry.Decision == audit.DecisionAllow
	switch {
	case wasAllowed && !d.Allowed():
		return ChangeBlocked
	case !wasAllowed && d.Allowed():
		return ChangeAllowed
	case wasAllowed && entry.Statement.Bounded != "" && d.Statement() != entry.Statement.Bounded:
		return ChangeRecapped
	case !wasAllowed && entry.PolicyID != "" && entry.PolicyID != d.PolicyID():
		return ChangeRerouted
	}
	return ""
}
