package maildrop

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Allowlist holds sender patterns: exact addresses or "@domain" suffixes.
type Allowlist struct {
	exact   map[string]bool
	domains []string
}

// LoadAllowlist reads an allowlist file.
func LoadAllowlist(path string) (*Allowlist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open allowlist: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseAllowlist(f)
}

// ParseAllowlist reads one pattern per line. Blank lines and lines starting
// with # are skipped. Matching is case-insensitive.
func ParseAllowlist(r io.Reader) (*Allowlist, error) {
	a := &Allowlist{exact: make(map[string]bool)}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch {
		case line == "", strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "@"):
			a.domains = append(a.domains, line)
		default:
			a.exact[line] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read allowlist: %w", err)
	}
	return a, nil
}

// IsAllowed reports whether sender matches an exact entry or a domain.
// "@example.com" does not match "user@sub.example.com".
func (a *Allowlist) IsAllowed(sender string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	if a.exact[sender] {
		return true
	}
	at := strings.LastIndexByte(sender, '@')
	if at <= 0 {
		return false
	}
	for _, d := range a.domains {
		if sender[at:] == d {
			return true
		}
	}
	return false
}

const (
	defaultRateLimit  = 10
	defaultRateWindow = time.Hour
)

// RateLimiter keeps a sliding window of accepted messages per sender in
// small state files, one per sender, named by a hash of the address.
type RateLimiter struct {
	stateDir string
	limit    int
	window   time.Duration
}

type senderState struct {
	Accepted []time.Time `json:"accepted"`
}

// NewRateLimiter allows limit messages per sender within window.
func NewRateLimiter(stateDir string, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &RateLimiter{stateDir: stateDir, limit: limit, window: window}
}

// Allow records a message from sender at now, or returns an error if the
// sender already used the window.
func (r *RateLimiter) Allow(sender string, now time.Time) error {
	if err := os.MkdirAll(r.stateDir, 0o700); err != nil {
		return fmt.Errorf("create rate limit dir: %w", err)
	}
	path := r.statePath(sender)
	state := readState(path)

	cutoff := now.Add(-r.window)
	recent := state.Accepted[:0]
	for _, ts := range state.Accepted {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= r.limit {
		return fmt.Errorf("%d messages from %s in the last %s", len(recent), sender, r.window)
	}

	state.Accepted = append(recent, now.UTC())
	return writeState(path, state)
}

func (r *RateLimiter) statePath(sender string) string {
	h := sha256.Sum256([]byte(strings.ToLower(sender)))
	return filepath.Join(r.stateDir, hex.EncodeToString(h[:8])+".json")
}

// readState treats a missing or corrupt file as no history.
func readState(path string) senderState {
	var s senderState
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	if json.Unmarshal(data, &s) != nil {
		return senderState{}
	}
	return s
}

func writeState(path string, s senderState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
