package denylist

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Patterns holds the raw pattern strings organized by category.
type Patterns struct {
	Tables     []string `yaml:"tables"`
	Statements []string `yaml:"statements"`
}

// Denylist holds compiled patterns for fast matching.
type Denylist struct {
	tablePatterns     []*regexp.Regexp
	statementPatterns []string // substring matching (case-insensitive, whitespace-collapsed)
	raw               Patterns
}

// New creates a Denylist from raw patterns, compiling table globs.
func New(p Patterns) *Denylist {
	d := &Denylist{raw: p}

	for _, t := range p.Tables {
		if compiled, err := regexp.Compile("(?i)^" + patternToRegex(t) + "$"); err == nil {
			d.tablePatterns = append(d.tablePatterns, compiled)
		}
	}

	for _, s := range p.Statements {
		d.statementPatterns = append(d.statementPatterns, normalize(s))
	}

	return d
}

// NewDefault creates a Denylist with the hardcoded default patterns.
func NewDefault() *Denylist {
	return New(DefaultPatterns)
}

// DefaultPath is ~/.querywatch/denylist.yaml, or "" without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".querywatch", "denylist.yaml")
}

// Load reads a denylist from a YAML file. Falls back to defaults if file doesn't exist.
func Load(path string) (*Denylist, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return NewDefault(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDefault(), nil
		}
		return nil, fmt.Errorf("failed to read denylist: %w", err)
	}

	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse denylist: %w", err)
	}

	return New(p), nil
}

// IsBlocked checks a statement and the tables it references.
// Returns (blocked, reason).
func (d *Denylist) IsBlocked(text string, tables []string) (bool, string) {
	for _, table := range tables {
		for _, re := range d.tablePatterns {
			if re.MatchString(table) {
				return true, "table pattern blocked: " + table
			}
		}
	}

	norm := normalize(text)
	for _, pattern := range d.statementPatterns {
		if strings.Contains(norm, pattern) {
			return true, "statement pattern blocked: " + pattern
		}
	}
	return false, ""
}

// AddPattern adds a pattern to the denylist at runtime.
func (d *Denylist) AddPattern(category, pattern string) error {
	switch category {
	case "tables":
		compiled, err := regexp.Compile("(?i)^" + patternToRegex(pattern) + "$")
		if err != nil {
			return err
		}
		d.raw.Tables = append(d.raw.Tables, pattern)
		d.tablePatterns = append(d.tablePatterns, compiled)
	case "statements":
		d.raw.Statements = append(d.raw.Statements, pattern)
		d.statementPatterns = append(d.statementPatterns, normalize(pattern))
	default:
		return fmt.Errorf("unknown denylist category %q", category)
	}
	return nil
}

// Patterns returns a copy of the raw patterns.
func (d *Denylist) Patterns() Patterns {
	return Patterns{
		Tables:     append([]string(nil), d.raw.Tables...),
		Statements: append([]string(nil), d.raw.Statements...),
	}
}

// ToMap returns the raw patterns as a map for serialization.
func (d *Denylist) ToMap() map[string]any {
	return map[string]any{
		"tables":     d.raw.Tables,
		"statements": d.raw.Statements,
	}
}

// Save writes the raw patterns to path as YAML, creating parent directories.
func (d *Denylist) Save(path string) error {
	data, err := yaml.Marshal(d.raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create denylist directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write denylist: %w", err)
	}
	return os.Rename(tmp, path)
}

// patternToRegex converts a glob like "mysql.*" to a regex.
// "*" matches any run of characters, "?" exactly one.
func patternToRegex(pattern string) string {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\?`, ".")
	return escaped
}

// normalize lowercases and collapses whitespace so "INTO   OUTFILE" matches "into outfile".
// Whitespace before "(" is dropped so "SLEEP (1)" matches "sleep(".
func normalize(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return strings.ReplaceAll(s, " (", "(")
}
