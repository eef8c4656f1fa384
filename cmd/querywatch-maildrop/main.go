// querywatch-maildrop reads an email from stdin and queues its question in
// the querywatch daemon inbox. Designed to be called by Postfix or sendmail
// as a pipe transport.
//
// Usage in /etc/aliases:
//
//	ask-db: |/usr/local/bin/querywatch-maildrop
//
// Environment variables:
//
//	QUERYWATCH_INBOX      inbox directory (default: ~/.querywatch/inbox)
//	QUERYWATCH_ALLOWLIST  sender allowlist file (default: ~/.querywatch/allowlist.txt)
//	QUERYWATCH_STATE      state directory for rate limiting (default: ~/.querywatch/state)
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/maildrop"
)

func main() {
	base := config.Dir()
	cfg := maildrop.Config{
		InboxDir:      envOrDefault("QUERYWATCH_INBOX", filepath.Join(base, "inbox")),
		AllowlistFile: envOrDefault("QUERYWATCH_ALLOWLIST", filepath.Join(base, "allowlist.txt")),
		StateDir:      filepath.Join(envOrDefault("QUERYWATCH_STATE", filepath.Join(base, "state")), "ratelimit"),
		RateLimit:     10,
		RateWindow:    time.Hour,
	}

	raw, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		fmt.Fprintf(os.Stderr, "querywatch-maildrop: read stdin: %v\n", err)
		os.Exit(1)
	}
	if len(raw) == 0 {
		fmt.Fprintf(os.Stderr, "querywatch-maildrop: empty input\n")
		os.Exit(1)
	}

	// Exit 67 (EX_NOUSER) makes the MTA bounce instead of retrying.
	id, err := maildrop.ProcessEmail(cfg, raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "querywatch-maildrop: %v\n", err)
		os.Exit(67)
	}
	fmt.Println(id)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
