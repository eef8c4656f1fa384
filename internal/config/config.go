// Package config loads querywatch.yaml: database parameters, interpreter
// provider and file locations. Policy and denylist live in their own files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/querywatch/internal/dsn"
	"github.com/ppiankov/querywatch/internal/history"
	"github.com/ppiankov/querywatch/internal/interpreter"
	"github.com/ppiankov/querywatch/internal/secrets"
)

// Env variable names read by ApplyEnv, in addition to dsn.Env*.
const (
	EnvProvider = "QUERYWATCH_PROVIDER"
	EnvModel    = "QUERYWATCH_MODEL"
	EnvAPIURL   = "QUERYWATCH_API_URL"
	EnvListen   = "QUERYWATCH_LISTEN"
)

// Config is the process configuration.
type Config struct {
	Database    dsn.Params         `yaml:"database"`
	Interpreter interpreter.Config `yaml:"interpreter"`
	Policy      string             `yaml:"policy"`
	Denylist    string             `yaml:"denylist"`
	AuditLog    string             `yaml:"audit_log"`
	HistorySize int                `yaml:"history_size"`
	Listen      string             `yaml:"listen"`
	Inbox       InboxConfig        `yaml:"inbox"`
}

// InboxConfig configures the question inbox daemon.
type InboxConfig struct {
	Dir      string        `yaml:"dir"`
	Workers  int           `yaml:"workers"`
	Debounce time.Duration `yaml:"debounce"`
}

// Dir returns ~/.querywatch, or ".querywatch" without a home directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".querywatch"
	}
	return filepath.Join(home, ".querywatch")
}

// DefaultPath returns ~/.querywatch/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	base := Dir()
	return &Config{
		Database:    dsn.Params{Dialect: "mysql", Host: "localhost", Port: 3306},
		Interpreter: interpreter.Config{Provider: interpreter.ProviderGroq},
		Policy:      filepath.Join(base, "policy.yaml"),
		Denylist:    filepath.Join(base, "denylist.yaml"),
		AuditLog:    filepath.Join(base, "audit.jsonl"),
		HistorySize: history.DefaultSize,
		Listen:      "127.0.0.1:7443",
		Inbox: InboxConfig{
			Dir:      filepath.Join(base, "inbox"),
			Workers:  2,
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults. Empty path uses DefaultPath.
// A missing file yields the defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = history.DefaultSize
	}
	if cfg.Inbox.Workers <= 0 {
		cfg.Inbox.Workers = 1
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	db, err := dsn.FromEnv(getenv)
	if err != nil {
		return err
	}
	c.Database = c.Database.Merge(db)
	if v := getenv(EnvProvider); v != "" {
		c.Interpreter.Provider = v
	}
	if v := getenv(EnvModel); v != "" {
		c.Interpreter.Model = v
	}
	if v := getenv(EnvAPIURL); v != "" {
		c.Interpreter.APIURL = v
	}
	if v := getenv(EnvListen); v != "" {
		c.Listen = v
	}
	return nil
}

// ApplySecrets fills the database password and interpreter key from the
// keyring when neither the file nor the environment supplied them.
func (c *Config) ApplySecrets(s *secrets.Store) error {
	if c.Database.Password == "" {
		v, err := s.Get(secrets.KeyDBPassword)
		if err != nil {
			return err
		}
		c.Database.Password = v
	}
	if c.Interpreter.APIKey == "" {
		if env := interpreter.KeyEnv(c.Interpreter.Provider); env != "" {
			c.Interpreter.APIKey = os.Getenv(env)
		}
	}
	if c.Interpreter.APIKey == "" {
		if key := secrets.KeyForProvider(c.Interpreter.Provider); key != "" {
			v, err := s.Get(key)
			if err != nil {
				return err
			}
			c.Interpreter.APIKey = v
		}
	}
	return nil
}

// DefaultYAML returns a commented config file for init.
func DefaultYAML() string {
	d := Default()
	return `# querywatch configuration
# Environment overrides: QUERYWATCH_DB_DIALECT, QUERYWATCH_DB_HOST, QUERYWATCH_DB_PORT,
# QUERYWATCH_DB_NAME, QUERYWATCH_DB_USER, QUERYWATCH_DB_PASSWORD, QUERYWATCH_PROVIDER,
# QUERYWATCH_MODEL, QUERYWATCH_API_URL, QUERYWATCH_LISTEN.
# Secrets are better kept in the keyring: querywatch auth set db_password

database:
  dialect: mysql      # mysql | postgres | sqlite
  host: localhost
  port: 3306
  database: ""
  user: root

interpreter:
  provider: groq      # groq | ollama | openai | bedrock | gemini
  model: ""           # provider default when empty
  timeout: 60s

history_size: ` + strconv.Itoa(d.HistorySize) + `
listen: ` + d.Listen + `

inbox:
  workers: 2
  debounce: 500ms
`
}
