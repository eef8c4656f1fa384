// Package dsn turns connection parameters into driver DSNs.
package dsn

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"

	"github.com/ppiankov/querywatch/internal/executor"
	"github.com/ppiankov/querywatch/internal/logging"
)

// Env variable names read by FromEnv.
const (
	EnvDialect  = "QUERYWATCH_DB_DIALECT"
	EnvHost     = "QUERYWATCH_DB_HOST"
	EnvPort     = "QUERYWATCH_DB_PORT"
	EnvDatabase = "QUERYWATCH_DB_NAME"
	EnvUser     = "QUERYWATCH_DB_USER"
	EnvPassword = "QUERYWATCH_DB_PASSWORD"
	EnvSSLMode  = "QUERYWATCH_DB_SSLMODE"
)

// Params are the connection parameters supplied once at startup.
type Params struct {
	Dialect  string `yaml:"dialect" json:"dialect"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	SSLMode  string `yaml:"sslmode" json:"sslmode,omitempty"`
}

// FromEnv reads QUERYWATCH_DB_* variables through getenv.
func FromEnv(getenv func(string) string) (Params, error) {
	p := Params{
		Dialect:  getenv(EnvDialect),
		Host:     getenv(EnvHost),
		Database: getenv(EnvDatabase),
		User:     getenv(EnvUser),
		Password: getenv(EnvPassword),
		SSLMode:  getenv(EnvSSLMode),
	}
	if v := getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Params{}, fmt.Errorf("%s: %w", EnvPort, err)
		}
		p.Port = port
	}
	return p, nil
}

// Merge returns p with every non-zero field of over applied on top.
func (p Params) Merge(over Params) Params {
	if over.Dialect != "" {
		p.Dialect = over.Dialect
	}
	if over.Host != "" {
		p.Host = over.Host
	}
	if over.Port != 0 {
		p.Port = over.Port
	}
	if over.Database != "" {
		p.Database = over.Database
	}
	if over.User != "" {
		p.User = over.User
	}
	if over.Password != "" {
		p.Password = over.Password
	}
	if over.SSLMode != "" {
		p.SSLMode = over.SSLMode
	}
	return p
}

// Build validates p and returns its dialect and DSN.
func (p Params) Build() (executor.Dialect, string, error) {
	d, err := executor.ParseDialect(p.Dialect)
	if err != nil {
		return "", "", err
	}
	switch d {
	case executor.SQLite:
		if p.Database == "" {
			return "", "", fmt.Errorf("sqlite needs a database file path")
		}
		return d, p.Database, nil
	case executor.Postgres:
		s, err := p.postgres()
		return d, s, err
	default:
		s, err := p.mysql()
		return d, s, err
	}
}

func (p Params) hostPort(defaultPort int) string {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (p Params) mysql() (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	if cfg.User == "" {
		cfg.User = "root"
	}
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = p.hostPort(3306)
	cfg.DBName = p.Database
	cfg.ParseTime = true
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN(), nil
}

func (p Params) postgres() (string, error) {
	u := url.URL{
		Scheme: "postgres",
		Host:   p.hostPort(5432),
		Path:   "/" + p.Database,
	}
	user := p.User
	if user == "" {
		user = "postgres"
	}
	if p.Password != "" {
		u.User = url.UserPassword(user, p.Password)
	} else {
		u.User = url.User(user)
	}
	q := url.Values{}
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	q.Set("connect_timeout", "10")
	u.RawQuery = q.Encode()

	s := u.String()
	if _, err := pgx.ParseConfig(s); err != nil {
		return "", fmt.Errorf("invalid postgres parameters: %w", err)
	}
	return s, nil
}

// String is the DSN with credentials masked, safe for logs.
func (p Params) String() string {
	_, s, err := p.Build()
	if err != nil {
		return "invalid: " + err.Error()
	}
	return logging.Mask(s)
}
