package logging

import (
	"strings"
	"testing"
)

func TestMask(t *testing.T) {
	tests := []struct {
		in       string
		mustHide string
		keep     string
	}{
		{"postgres://app:s3cret@db:5432/shop", "s3cret", "db:5432/shop"},
		{"app:s3cret@tcp(127.0.0.1:3306)/shop?timeout=30s", "s3cret", "127.0.0.1:3306"},
		{"host=db user=app password=s3cret dbname=shop", "s3cret", "dbname=shop"},
		{"Authorization: Bearer abc.def-123", "abc.def-123", "Authorization"},
		{"calling with gsk_0123456789abcdef", "0123456789abcdef", "calling with"},
		{"QUERYWATCH_DB_PASSWORD=hunter2", "hunter2", "QUERYWATCH_DB_PASSWORD"},
	}
	for _, tt := range tests {
		got := Mask(tt.in)
		if strings.Contains(got, tt.mustHide) {
			t.Errorf("Mask(%q) = %q still contains %q", tt.in, got, tt.mustHide)
		}
		if !strings.Contains(got, tt.keep) {
			t.Errorf("Mask(%q) = %q lost %q", tt.in, got, tt.keep)
		}
	}
}

func TestMaskLeavesPlainTextAlone(t *testing.T) {
	in := "SELECT * FROM products LIMIT 100"
	if got := Mask(in); got != in {
		t.Errorf("expected unchanged, got %q", got)
	}
}

func TestNew(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		logger, err := New(verbose)
		if err != nil {
			t.Fatalf("New(%v): %v", verbose, err)
		}
		if got := logger.Core().Enabled(-1); got != verbose {
			t.Errorf("New(%v): debug enabled = %v", verbose, got)
		}
	}
}

func TestStatementTruncates(t *testing.T) {
	long := strings.Repeat("x", 2000)
	f := Statement("sql", long)
	if len(f.String) != 503 {
		t.Errorf("expected truncated field, got %d bytes", len(f.String))
	}
}
