package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/querywatch/internal/tracer"
)

// Submit validates job and writes it into inbox. A missing ID or creation
// time is filled in. The file appears under its final name only once
// complete, so the watcher never reads a partial job.
func Submit(inbox string, job Job) (string, error) {
	if job.ID == "" {
		job.ID = tracer.NewJobID()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if err := ValidateJob(&job); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	filename := job.ID + ".json"
	tmpPath := filepath.Join(inbox, filename+".tmp")
	finalPath := filepath.Join(inbox, filename)
	if _, err := os.Stat(finalPath); err == nil {
		return "", fmt.Errorf("job %s already queued", job.ID)
	}
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write job: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("queue job: %w", err)
	}
	return job.ID, nil
}
