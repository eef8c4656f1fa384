package scenario

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Summary totals a batch of scenario runs.
type Summary struct {
	Files       int `json:"files"`
	FailedFiles int `json:"failed_files"`
	Cases       int `json:"cases"`
	Passed      int `json:"passed"`
	Failed      int `json:"failed"`
}

// OK reports whether every case passed.
func (s Summary) OK() bool { return s.Failed == 0 }

// Summarize totals results.
func Summarize(results []*RunResult) Summary {
	s := Summary{Files: len(results)}
	for _, r := range results {
		s.Cases += r.Total
		s.Passed += r.Passed
		s.Failed += r.Failed
		if r.Failed > 0 {
			s.FailedFiles++
		}
	}
	return s
}

// FormatText renders one line per scenario file and one indented line per
// failing case with the decision the gate actually made.
func FormatText(results []*RunResult) string {
	var b strings.Builder
	for _, r := range results {
		status := "PASS"
		if r.Failed > 0 {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "%s  %s  %d/%d  %s\n", status, r.Name, r.Passed, r.Total, r.File)
		for _, c := range r.Cases {
			if c.Passed {
				continue
			}
			fmt.Fprintf(&b, "      #%d %s\n", c.Index, oneLine(c.SQL, 60))
			fmt.Fprintf(&b, "         %s (got %s by %s)\n", c.Mismatch, c.Actual, c.PolicyID)
		}
	}

	s := Summarize(results)
	fmt.Fprintf(&b, "\n%d/%d cases passed", s.Passed, s.Cases)
	if s.FailedFiles > 0 {
		fmt.Fprintf(&b, ", %d of %d files failing", s.FailedFiles, s.Files)
	}
	b.WriteString("\n")
	return b.String()
}

// FormatJSON renders the summary and every result.
func FormatJSON(results []*RunResult) (string, error) {
	out := struct {
		Summary Summary      `json:"summary"`
		Results []*RunResult `json:"results"`
	}{Summarize(results), results}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}

// oneLine collapses whitespace and shortens s to at most n runes.
func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
