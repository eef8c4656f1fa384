// Package scenario runs YAML files of SQL statements and expected gate
// decisions against a policy and denylist, without touching a database.
package scenario

import (
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/policy"
)

// Case pairs a statement with the decision the gate must reach. Every
// field after Expect is optional and checked only when present.
type Case struct {
	SQL      string `yaml:"sql"`
	Expect   string `yaml:"expect"`
	Class    string `yaml:"class,omitempty"`
	PolicyID string `yaml:"policy_id,omitempty"`
	Capped   *bool  `yaml:"capped,omitempty"`
	// Reason must appear in the denial reason.
	Reason string `yaml:"reason,omitempty"`
	// Executed is the exact text the executor would receive.
	Executed string `yaml:"executed,omitempty"`
}

// Scenario is one file of cases. Policy and Denylist, when present, replace
// the loaded ones for this file only. Dialect picks the lexical rules; empty
// lexes strictly.
type Scenario struct {
	Name     string             `yaml:"name"`
	Dialect  string             `yaml:"dialect,omitempty"`
	Policy   *policy.Config     `yaml:"policy,omitempty"`
	Denylist *denylist.Patterns `yaml:"denylist,omitempty"`
	Cases    []Case             `yaml:"cases"`
}

// CaseResult is the gate's verdict on one case.
type CaseResult struct {
	Index    int    `json:"index"`
	Passed   bool   `json:"passed"`
	SQL      string `json:"sql"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Class    string `json:"class"`
	PolicyID string `json:"policy_id"`
	Reason   string `json:"reason,omitempty"`
	Executed string `json:"executed,omitempty"`
	Mismatch string `json:"mismatch,omitempty"`
}

// RunResult collects the verdicts for one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Cases  []CaseResult `json:"cases"`
}
