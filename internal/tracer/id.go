package tracer

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRequestID returns an ID for one question or statement request.
func NewRequestID() string {
	return prefixedID("q", 12)
}

// NewJobID returns an ID for an inbox job that arrived without one.
func NewJobID() string {
	return prefixedID("job", 8)
}

// UTCNowISO returns the current UTC time in the audit timestamp layout.
func UTCNowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func prefixedID(prefix string, hexLen int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + hex[:hexLen]
}
