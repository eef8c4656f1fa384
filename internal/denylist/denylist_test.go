package denylist

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSystemSchemaBlocked(t *testing.T) {
	dl := NewDefault()

	blocked, reason := dl.IsBlocked("SELECT * FROM mysql.user", []string{"mysql.user"})
	if !blocked {
		t.Error("expected mysql.user to be blocked")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}
}

func TestTablePatternCaseInsensitive(t *testing.T) {
	dl := NewDefault()

	blocked, _ := dl.IsBlocked("SELECT * FROM PERFORMANCE_SCHEMA.threads", []string{"PERFORMANCE_SCHEMA.threads"})
	if !blocked {
		t.Error("expected case-insensitive table match")
	}
}

func TestTablePatternAnchored(t *testing.T) {
	dl := NewDefault()

	// "mysql.*" must not match a user table that merely contains "mysql"
	blocked, _ := dl.IsBlocked("SELECT * FROM shop.mysql_exports", []string{"shop.mysql_exports"})
	if blocked {
		t.Error("expected shop.mysql_exports to be allowed")
	}
}

func TestSafeTableAllowed(t *testing.T) {
	dl := NewDefault()

	blocked, _ := dl.IsBlocked("SELECT * FROM products", []string{"products"})
	if blocked {
		t.Error("expected products to be allowed")
	}
}

func TestStatementPatternBlocked(t *testing.T) {
	dl := NewDefault()

	tests := []struct {
		sql  string
		want bool
	}{
		{"SELECT * FROM products INTO OUTFILE '/tmp/p.csv'", true},
		{"SELECT * FROM products INTO\n  OUTFILE '/tmp/p.csv'", true},
		{"SELECT LOAD_FILE('/etc/passwd')", true},
		{"SELECT SLEEP (10)", true},
		{"SELECT BENCHMARK(1000000, MD5('x'))", true},
		{"SELECT pg_sleep(5)", true},
		{"SELECT name FROM products", false},
		{"SELECT sleeper FROM beds", false},
	}
	for _, tt := range tests {
		blocked, _ := dl.IsBlocked(tt.sql, nil)
		if blocked != tt.want {
			t.Errorf("IsBlocked(%q) = %v, want %v", tt.sql, blocked, tt.want)
		}
	}
}

func TestAddPattern(t *testing.T) {
	dl := NewDefault()

	if err := dl.AddPattern("tables", "hr.salar?es"); err != nil {
		t.Fatalf("AddPattern: %v", err)
	}
	blocked, _ := dl.IsBlocked("SELECT * FROM hr.salaries", []string{"hr.salaries"})
	if !blocked {
		t.Error("expected newly added table pattern to block")
	}

	if err := dl.AddPattern("statements", "information_schema.processlist"); err != nil {
		t.Fatalf("AddPattern: %v", err)
	}
	blocked, _ = dl.IsBlocked("SELECT * FROM information_schema.PROCESSLIST", nil)
	if !blocked {
		t.Error("expected newly added statement pattern to block")
	}

	if err := dl.AddPattern("urls", "x"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestLoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	yamlPath := filepath.Join(tmpDir, "denylist.yaml")

	yamlContent := `tables:
  - "hr.*"
statements:
  - "xp_cmdshell"
`
	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write yaml: %v", err)
	}

	dl, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}

	blocked, _ := dl.IsBlocked("SELECT * FROM hr.people", []string{"hr.people"})
	if !blocked {
		t.Error("expected custom YAML table pattern to block")
	}

	blocked, _ = dl.IsBlocked("SELECT xp_cmdshell('dir')", nil)
	if !blocked {
		t.Error("expected custom YAML statement pattern to block")
	}

	// A file replaces the defaults entirely
	blocked, _ = dl.IsBlocked("SELECT * FROM mysql.user", []string{"mysql.user"})
	if blocked {
		t.Error("expected defaults to be replaced by file contents")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	if err := os.WriteFile(path, []byte("tables: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dl, err := Load("/nonexistent/path/denylist.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}

	blocked, _ := dl.IsBlocked("SELECT * FROM sys.session", []string{"sys.session"})
	if !blocked {
		t.Error("expected defaults to be loaded")
	}
}

func TestToMap(t *testing.T) {
	dl := NewDefault()
	m := dl.ToMap()

	if tables, ok := m["tables"].([]string); !ok || len(tables) == 0 {
		t.Error("expected tables in ToMap output")
	}
	if stmts, ok := m["statements"].([]string); !ok || len(stmts) == 0 {
		t.Error("expected statements in ToMap output")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "denylist.yaml")

	dl := New(Patterns{Tables: []string{"billing.*"}})
	if err := dl.AddPattern("statements", "grant "); err != nil {
		t.Fatal(err)
	}
	if err := dl.Save(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if blocked, _ := loaded.IsBlocked("SELECT 1 FROM billing.invoices", []string{"billing.invoices"}); !blocked {
		t.Error("expected saved table pattern to block")
	}
	if blocked, _ := loaded.IsBlocked("GRANT ALL ON *.* TO bob", nil); !blocked {
		t.Error("expected saved statement pattern to block")
	}
}
