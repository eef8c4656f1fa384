package audit

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatTimelineHeaderAndSummary(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{RequestID: "q-aaa"})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)

	if !strings.Contains(out, "Request: q-aaa | 2025-01-15 14:00:00 - 14:00:10 UTC") {
		t.Errorf("expected header with request ID and window, got:\n%s", out)
	}
	if !strings.Contains(out, "5 attempts in 1 requests") {
		t.Errorf("expected attempt count in summary, got:\n%s", out)
	}
	if !strings.Contains(out, "4 allow, 1 deny, 1 retry") {
		t.Errorf("expected decision counts in summary, got:\n%s", out)
	}
	if !strings.Contains(out, "2 ok, 3 failed (engine_rejected=1, policy_denied=1, timeout=1)") {
		t.Errorf("expected outcome counts in summary, got:\n%s", out)
	}
}

func TestFormatTimelineEntryColumns(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{RequestID: "q-aaa"})
	if err != nil {
		t.Fatal(err)
	}

	out := FormatTimeline(result)

	for _, want := range []string{"#1", "#2", "ALLOW", "DENY", "engine_rejected", "SELECT * FROM products LIMIT 50", "SELECT * FORM products"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in timeline, got:\n%s", want, out)
		}
	}
}

func TestFormatTimelineAllRequests(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{})
	if err != nil {
		t.Fatal(err)
	}
	out := FormatTimeline(result)
	if !strings.Contains(out, "Request: all requests") {
		t.Errorf("expected all-requests header, got:\n%s", out)
	}
	// q-aaa appears first, so its group precedes q-bbb even though q-aaa
	// has entries after q-bbb.
	a, b := strings.Index(out, "\nq-aaa"), strings.Index(out, "\nq-bbb")
	if a < 0 || b < 0 || a > b {
		t.Errorf("expected q-aaa group before q-bbb, got:\n%s", out)
	}
	if strings.Count(out, "list every product") != 1 {
		t.Errorf("expected question once per request, got:\n%s", out)
	}
	if !strings.Contains(out, "[mutations disabled by policy]") {
		t.Errorf("expected deny reason, got:\n%s", out)
	}
}

func TestClip(t *testing.T) {
	if got := clip("SELECT  *\n  FROM t", 40); got != "SELECT * FROM t" {
		t.Errorf("clip collapsed = %q", got)
	}
	if got := clip(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Errorf("clip shortened = %q", got)
	}
}

func TestFormatJSONValid(t *testing.T) {
	path := writeTestLog(t)
	result, err := Replay(path, ReplayFilter{RequestID: "q-aaa"})
	if err != nil {
		t.Fatal(err)
	}

	jsonStr, err := FormatJSON(result)
	if err != nil {
		t.Fatal(err)
	}

	var parsed ReplayResult
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		t.Fatalf("JSON output not valid: %v", err)
	}
	if parsed.RequestID != "q-aaa" {
		t.Errorf("expected request ID q-aaa, got %s", parsed.RequestID)
	}
	if len(parsed.Entries) != 5 {
		t.Errorf("expected 5 entries in JSON, got %d", len(parsed.Entries))
	}
	if parsed.Summary.Total != 5 {
		t.Errorf("expected total 5 in JSON summary, got %d", parsed.Summary.Total)
	}
}

func TestFormatTimelineEmptyEntries(t *testing.T) {
	result := &ReplayResult{
		RequestID: "q-empty",
	}

	out := FormatTimeline(result)
	if !strings.Contains(out, "No entries found") {
		t.Errorf("expected 'No entries found' message, got:\n%s", out)
	}
}
