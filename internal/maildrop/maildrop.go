// Package maildrop turns a plain-text email into a question job in the
// daemon inbox. It runs as a mail transport pipe: one message on stdin,
// one job file out.
//
// Mail only ever produces questions. A message whose body is a SQL
// statement is still submitted as a question and reaches the database, if
// at all, through the interpreter and the gate.
package maildrop

import (
	"fmt"
	"time"

	"github.com/ppiankov/querywatch/internal/daemon"
)

// Source marks jobs created from mail.
const Source = "maildrop"

// Config holds maildrop processing configuration.
type Config struct {
	InboxDir      string
	AllowlistFile string
	StateDir      string
	RateLimit     int
	RateWindow    time.Duration

	// Now is the clock used for rate limiting. Defaults to time.Now.
	Now func() time.Time
}

// ProcessEmail parses raw, checks the sender against the allowlist and the
// rate limit, and queues the question. It returns the job ID.
func ProcessEmail(cfg Config, raw []byte) (string, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	email, err := ParseEmail(raw)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}

	al, err := LoadAllowlist(cfg.AllowlistFile)
	if err != nil {
		return "", fmt.Errorf("allowlist: %w", err)
	}
	if !al.IsAllowed(email.From) {
		return "", fmt.Errorf("sender %s not in allowlist", email.From)
	}

	question := email.Question()
	if question == "" {
		return "", fmt.Errorf("message from %s has no question", email.From)
	}

	rl := NewRateLimiter(cfg.StateDir, cfg.RateLimit, cfg.RateWindow)
	if err := rl.Allow(email.From, cfg.Now()); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	id, err := daemon.Submit(cfg.InboxDir, daemon.Job{
		Question:  question,
		Source:    Source + ":" + email.From,
		CreatedAt: cfg.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	return id, nil
}
