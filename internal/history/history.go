// Package history keeps the most recent statement executions in memory.
package history

import (
	"sync"
	"time"
)

// DefaultSize is the number of executions kept.
const DefaultSize = 10

// Entry is one executed (or refused) statement.
type Entry struct {
	RequestID string    `json:"request_id"`
	Question  string    `json:"question,omitempty"`
	SQL       string    `json:"sql"`
	Executed  string    `json:"executed,omitempty"`
	Status    string    `json:"status"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	Rows      int       `json:"rows"`
	Elapsed   string    `json:"elapsed"`
	At        time.Time `json:"at"`
}

// Ring is a fixed-size, mutex-protected history. The zero value is not
// usable; call New.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// New returns a ring holding up to size entries.
func New(size int) *Ring {
	if size <= 0 {
		size = DefaultSize
	}
	return &Ring{entries: make([]Entry, size)}
}

// Add records e, evicting the oldest entry when full.
func (r *Ring) Add(e Entry) {
	if r == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Last returns the most recent entry.
func (r *Ring) Last() (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full && r.next == 0 {
		return Entry{}, false
	}
	i := (r.next - 1 + len(r.entries)) % len(r.entries)
	return r.entries[i], true
}

// List returns entries oldest first.
func (r *Ring) List() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}
