package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/querywatch/internal/model"
)

// Config is the on-disk form of the execution policy.
// Only these four keys are recognized; anything else is a load error.
type Config struct {
	AllowMutations          bool     `yaml:"allow_mutations"`
	MaxRows                 int      `yaml:"max_rows"`
	TimeoutMS               int      `yaml:"timeout_ms"`
	AllowedOperationClasses []string `yaml:"allowed_operation_classes"`
}

// DefaultConfig returns the built-in policy: read-only, 100 rows, 30 seconds.
func DefaultConfig() *Config {
	return &Config{
		AllowMutations: false,
		MaxRows:        100,
		TimeoutMS:      30000,
		AllowedOperationClasses: []string{
			string(model.ClassRead),
			string(model.ClassSchemaIntrospection),
		},
	}
}

// Policy is the validated, immutable execution policy shared by all requests.
type Policy struct {
	allowMutations bool
	maxRows        int
	timeout        time.Duration
	allowed        map[model.OperationClass]bool
	hash           string
}

// New validates cfg and freezes it into a Policy.
// A nil or empty AllowedOperationClasses allows nothing.
func New(cfg Config) (*Policy, error) {
	if cfg.MaxRows <= 0 {
		return nil, fmt.Errorf("max_rows must be positive, got %d", cfg.MaxRows)
	}
	if cfg.TimeoutMS <= 0 {
		return nil, fmt.Errorf("timeout_ms must be positive, got %d", cfg.TimeoutMS)
	}
	p := &Policy{
		allowMutations: cfg.AllowMutations,
		maxRows:        cfg.MaxRows,
		timeout:        time.Duration(cfg.TimeoutMS) * time.Millisecond,
		allowed:        make(map[model.OperationClass]bool, len(cfg.AllowedOperationClasses)),
		hash:           emptyHash(),
	}
	for _, s := range cfg.AllowedOperationClasses {
		class, ok := ParseClass(s)
		if !ok {
			return nil, fmt.Errorf("unknown operation class %q in allowed_operation_classes", s)
		}
		p.allowed[class] = true
	}
	return p, nil
}

// ParseClass accepts any operation class a policy may list.
// Malformed is never listable.
func ParseClass(s string) (model.OperationClass, bool) {
	class, ok := model.ParseOperationClass(s)
	if !ok || class == model.ClassMalformed {
		return model.ClassMalformed, false
	}
	return class, true
}

// Default returns the built-in policy.
func Default() *Policy {
	p, err := New(*DefaultConfig())
	if err != nil {
		panic(err) // built-in defaults are always valid
	}
	return p
}

// Introspection is the policy internal schema lookups run under:
// read-only, never mutating, with a higher row ceiling than user queries.
func Introspection(timeout time.Duration) *Policy {
	return &Policy{
		maxRows: 10000,
		timeout: timeout,
		allowed: map[model.OperationClass]bool{
			model.ClassRead:                true,
			model.ClassSchemaIntrospection: true,
		},
		hash: "introspection",
	}
}

func (p *Policy) AllowMutations() bool   { return p.allowMutations }
func (p *Policy) MaxRows() int           { return p.maxRows }
func (p *Policy) Timeout() time.Duration { return p.timeout }

// Hash is the sha256 of the policy file the policy was loaded from.
func (p *Policy) Hash() string { return p.hash }

// Allows reports whether class is listed in allowed_operation_classes.
func (p *Policy) Allows(class model.OperationClass) bool {
	return p.allowed[class]
}

// AllowedClasses returns the allowed classes in canonical order.
func (p *Policy) AllowedClasses() []model.OperationClass {
	var out []model.OperationClass
	for _, c := range model.OperationClasses {
		if p.allowed[c] {
			out = append(out, c)
		}
	}
	return out
}

// Config returns a copy of the policy in its on-disk form.
func (p *Policy) Config() Config {
	cfg := Config{
		AllowMutations: p.allowMutations,
		MaxRows:        p.maxRows,
		TimeoutMS:      int(p.timeout / time.Millisecond),
	}
	for _, c := range p.AllowedClasses() {
		cfg.AllowedOperationClasses = append(cfg.AllowedOperationClasses, string(c))
	}
	return cfg
}

// DefaultPath is ~/.querywatch/policy.yaml, or "" when there is no home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".querywatch", "policy.yaml")
}

// LoadConfig loads policy configuration from a YAML file.
// Empty path falls back to ~/.querywatch/policy.yaml.
// Missing file returns defaults. Invalid YAML or unknown keys return an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads policy configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
		if path == "" {
			return DefaultConfig(), emptyHash(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read policy config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("failed to parse policy config: %w", err)
	}

	return cfg, hash, nil
}

// Load reads, validates and freezes the policy at path.
func Load(path string) (*Policy, error) {
	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		return nil, err
	}
	p, err := New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}
	p.hash = hash
	return p, nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML string for init-policy.
func DefaultConfigYAML() string {
	out, _ := RenderYAML(*DefaultConfig())
	return out
}

// RenderYAML validates cfg and writes it as a commented policy file.
func RenderYAML(cfg Config) (string, error) {
	if _, err := New(cfg); err != nil {
		return "", err
	}
	var classes strings.Builder
	if len(cfg.AllowedOperationClasses) == 0 {
		classes.WriteString(" []\n")
	} else {
		classes.WriteString("\n")
		for _, c := range cfg.AllowedOperationClasses {
			fmt.Fprintf(&classes, "  - %s\n", c)
		}
	}
	return fmt.Sprintf(policyTemplate, cfg.AllowMutations, cfg.MaxRows, cfg.TimeoutMS, classes.String()), nil
}

const policyTemplate = `# querywatch execution policy
# Generated by: querywatch init-policy
#
# Evaluation order (cannot be changed):
#   1. Malformed statement -> deny
#   2. Operation class not listed below -> deny
#   3. mutate/admin while allow_mutations is false -> deny
#   4. Denylisted table or construct -> deny
#   5. read without a top-level LIMIT -> append LIMIT max_rows
#   6. Otherwise allow unchanged

# Permit INSERT/UPDATE/DELETE and DDL. The class must also be listed below.
allow_mutations: %t

# Row cap appended to unbounded SELECTs. Also the executor's row ceiling.
max_rows: %d

# Per-statement timeout in milliseconds.
timeout_ms: %d

# Deny by omission: classes not listed here are rejected.
# Values: read | schema_introspection | mutate | admin
allowed_operation_classes:%s`
