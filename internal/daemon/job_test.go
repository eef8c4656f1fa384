package daemon

import (
	"strings"
	"testing"

	"github.com/ppiankov/querywatch/internal/model"
	"github.com/ppiankov/querywatch/internal/pipeline"
)

func TestValidateJob(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr string
	}{
		{"question", Job{ID: "q-1", Question: "how many orders?"}, ""},
		{"sql", Job{ID: "q_2", SQL: "SELECT 1"}, ""},
		{"missing id", Job{Question: "x"}, "ID is required"},
		{"dotdot", Job{ID: "..", Question: "x"}, "must not contain"},
		{"slash", Job{ID: "a/b", Question: "x"}, "invalid characters"},
		{"neither", Job{ID: "a"}, "is required"},
		{"blank", Job{ID: "a", Question: "   "}, "is required"},
		{"both", Job{ID: "a", Question: "x", SQL: "SELECT 1"}, "not both"},
		{"too long", Job{ID: "a", Question: strings.Repeat("x", maxQuestionLen+1)}, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJob(&tt.job)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestResultFromSuccess(t *testing.T) {
	resp := pipeline.Response{
		RequestID: "q-abc",
		Question:  "top customer?",
		Attempts:  []pipeline.Attempt{{Number: 1, SQL: "SELECT name FROM c", Executed: "SELECT name FROM c LIMIT 100"}},
		Outcome:   model.Outcome{Columns: []string{"name"}, Rows: [][]any{{"ann"}}, RowCount: 1},
	}
	r := resultFrom("job-1", resp)
	if r.Status != ResultDone || r.RowCount != 1 || r.Executed != "SELECT name FROM c LIMIT 100" {
		t.Fatalf("unexpected result: %+v", r)
	}
	if r.ErrorKind != "" || r.Attempts != 1 {
		t.Fatalf("unexpected error fields: %+v", r)
	}
}

func TestResultFromFailure(t *testing.T) {
	resp := pipeline.Response{
		RequestID: "q-abc",
		Outcome:   model.Failed(model.NewFailure(model.KindPolicyDenied, "mutations disabled")),
	}
	r := resultFrom("job-2", resp)
	if r.Status != ResultFailed || r.ErrorKind != "policy_denied" || r.Error != "mutations disabled" {
		t.Fatalf("unexpected result: %+v", r)
	}
}
