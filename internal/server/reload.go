package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce is how long the watcher waits after the last change.
const reloadDebounce = 500 * time.Millisecond

// Reloader rebuilds the server's handler when the policy or denylist file
// changes. It watches the parent directories, so files replaced by rename
// (as most editors and config management tools do) and files created after
// startup are both picked up.
type Reloader struct {
	watcher *fsnotify.Watcher
	server  *Server
	files   map[string]bool
	paths   []string
	log     *zap.Logger
}

// NewReloader watches paths. Empty paths and paths whose directory does not
// exist are skipped.
func NewReloader(server *Server, paths []string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{
		watcher: watcher,
		server:  server,
		files:   map[string]bool{},
		log:     server.log.Named("reload"),
	}
	dirs := map[string]bool{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil || r.files[abs] {
			continue
		}
		dir := filepath.Dir(abs)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if !dirs[dir] {
			if err := watcher.Add(dir); err != nil {
				watcher.Close()
				return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
			}
			dirs[dir] = true
		}
		r.files[abs] = true
		r.paths = append(r.paths, abs)
	}
	return r, nil
}

// Paths returns the files being tracked.
func (r *Reloader) Paths() []string { return r.paths }

// Run reloads on changes to tracked files until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.files[filepath.Clean(event.Name)] || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			r.log.Debug("config file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("file watcher error", zap.Error(err))
		}
	}
}

// reload keeps the current handler when the new files do not load, so a
// half-written policy never replaces a working one.
func (r *Reloader) reload() {
	if err := r.server.ReloadPolicy(); err != nil {
		r.log.Error("reload failed, keeping previous policy", zap.Error(err))
	}
}
