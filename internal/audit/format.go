package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// FormatTimeline renders entries grouped by request, in the order each
// request first appears, followed by a one-line summary.
func FormatTimeline(result *ReplayResult) string {
	label := result.RequestID
	if label == "" {
		label = "all requests"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Request: %s | No entries found.\n", label)
	}

	var order []string
	groups := map[string][]Entry{}
	for _, e := range result.Entries {
		if _, ok := groups[e.RequestID]; !ok {
			order = append(order, e.RequestID)
		}
		groups[e.RequestID] = append(groups[e.RequestID], e)
	}

	var b strings.Builder
	s := result.Summary
	fmt.Fprintf(&b, "Request: %s | %s\n", label, window(s.FirstTimestamp, s.LastTimestamp))
	for _, id := range order {
		entries := groups[id]
		b.WriteString("\n" + id)
		if q := entries[0].Question; q != "" {
			fmt.Fprintf(&b, "  %q", clip(q, 60))
		}
		b.WriteString("\n")
		for _, e := range entries {
			b.WriteString(timelineLine(e))
		}
	}
	b.WriteString("\n" + summaryLine(s))
	return b.String()
}

func timelineLine(e Entry) string {
	status := e.Status
	if e.ErrorKind != "" {
		status = e.ErrorKind
	}
	sql := e.Statement.Bounded
	if sql == "" {
		sql = e.Statement.SQL
	}
	line := fmt.Sprintf("  %s #%d %-5s %-20s %-15s %s",
		clock(e.Timestamp), e.Attempt, strings.ToUpper(e.Decision), e.Statement.Class, status, clip(sql, 56))
	if e.Decision == DecisionDeny && e.Reason != "" {
		line += "  [" + e.Reason + "]"
	}
	return line + "\n"
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func summaryLine(s ReplaySummary) string {
	line := fmt.Sprintf("%d attempts in %d requests: %d allow, %d deny, %d retry | %d ok, %d failed",
		s.Total, s.Requests, s.AllowCount, s.DenyCount, s.RetryCount, s.SuccessCount, s.FailureCount)
	if len(s.Kinds) > 0 {
		line += " (" + counts(s.Kinds) + ")"
	}
	return line + "\n"
}

// counts renders a map as sorted key=value pairs.
func counts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, ", ")
}

func window(first, last string) string {
	a, errA := time.Parse(TimestampFormat, first)
	b, errB := time.Parse(TimestampFormat, last)
	if errA != nil || errB != nil {
		return first + " - " + last
	}
	if a.Format(time.DateOnly) == b.Format(time.DateOnly) {
		return a.Format(time.DateTime) + " - " + b.Format(time.TimeOnly) + " UTC"
	}
	return a.Format(time.DateTime) + " - " + b.Format(time.DateTime) + " UTC"
}

func clock(ts string) string {
	if t, err := time.Parse(TimestampFormat, ts); err == nil {
		return t.Format(time.TimeOnly)
	}
	return ts
}

// clip collapses whitespace and shortens s to at most n runes.
func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return s
}
