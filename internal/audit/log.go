package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ppiankov/querywatch/internal/tracer"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// maxLine bounds a single JSONL entry when reading the log back.
const maxLine = 4 * 1024 * 1024

// Log is an append-only JSONL log of statement attempts with SHA-256 hash
// chaining. Each entry's prev_hash is the hash of the previous JSON line.
// A nil *Log discards entries.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// Open opens path for appending, creating it and its directory as needed.
// The chain continues from the hash of the existing last line. A log whose
// last line was cut short by a crash is refused; run `querywatch audit
// verify` on it before appending.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	last, err := tailLine(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("audit: %s: %w", path, err)
	}
	prevHash := GenesisHash
	if last != nil {
		prevHash = HashLine(last)
	}
	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

// ErrTornTail is returned by Open when the log does not end in a newline.
var ErrTornTail = errors.New("last entry is incomplete")

// tailLine returns the last complete line of f without its newline, or nil
// for an empty file. It reads backward in blocks so opening a long log
// does not scan it.
func tailLine(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	const block = 4096
	var tail []byte
	for end := size; end > 0 && int64(len(tail)) <= maxLine; {
		start := max(end-block, 0)
		buf := make([]byte, end-start)
		if _, err := f.ReadAt(buf, start); err != nil && err != io.EOF {
			return nil, err
		}
		tail = append(buf, tail...)
		end = start

		if tail[len(tail)-1] != '\n' {
			return nil, ErrTornTail
		}
		body := tail[:len(tail)-1]
		if i := bytes.LastIndexByte(body, '\n'); i >= 0 {
			return body[i+1:], nil
		}
		if start == 0 {
			return body, nil
		}
	}
	return nil, fmt.Errorf("last entry exceeds %d bytes", maxLine)
}

// Record appends an Entry to the log with hash chaining.
// It sets the entry's PrevHash and Timestamp (if empty), marshals to JSON,
// writes the line, and syncs to disk.
func (l *Log) Record(entry Entry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = tracer.UTCNowISO()
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// Path returns the file the log appends to.
func (l *Log) Path() string { return l.path }

// DefaultPath returns ~/.querywatch/audit.jsonl.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".querywatch", "audit.jsonl")
	}
	return filepath.Join(home, ".querywatch", "audit.jsonl")
}
