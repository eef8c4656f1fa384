package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	debounceDefault = 200 * time.Millisecond
	workersDefault  = 2
	pollDefault     = 5 * time.Second
)

// WatchOptions tunes an InboxWatcher. Zero values use the defaults.
type WatchOptions struct {
	Workers  int
	Debounce time.Duration
	Logger   *zap.Logger
}

// InboxWatcher hands new question files to a bounded set of workers.
// Creates are collected until the inbox has been quiet for the debounce
// interval, then dispatched oldest first.
type InboxWatcher struct {
	inbox    string
	handler  func(path string)
	workers  int
	debounce time.Duration
	log      *zap.Logger
}

// NewInboxWatcher creates a watcher for the inbox directory.
func NewInboxWatcher(inbox string, handler func(path string), opts WatchOptions) *InboxWatcher {
	if opts.Workers <= 0 {
		opts.Workers = workersDefault
	}
	if opts.Debounce <= 0 {
		opts.Debounce = debounceDefault
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &InboxWatcher{
		inbox:    inbox,
		handler:  handler,
		workers:  opts.Workers,
		debounce: opts.Debounce,
		log:      opts.Logger,
	}
}

// Run blocks until ctx is cancelled. Jobs already dispatched finish before
// Run returns; jobs still waiting out the debounce are left in the inbox for
// the next start.
func (w *InboxWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fsw.Close() }()
	if err := fsw.Add(w.inbox); err != nil {
		return err
	}

	var g errgroup.Group
	g.SetLimit(w.workers)
	defer func() { _ = g.Wait() }()

	pending := map[string]bool{}
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-timer.C:
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			pending = map[string]bool{}
			for _, p := range byArrival(batch) {
				if ctx.Err() != nil {
					break
				}
				g.Go(func() error {
					w.handle(p)
					return nil
				})
			}

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !isJobFile(event.Name) {
				continue
			}
			pending[event.Name] = true
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// handle runs the handler, keeping a panicking job from taking down the pool.
func (w *InboxWatcher) handle(path string) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panicked", zap.String("file", filepath.Base(path)), zap.Any("panic", r))
		}
	}()
	w.handler(path)
}

// PollWatcher scans the inbox on an interval. It stands in for fsnotify on
// filesystems that do not deliver events (NFS, some container mounts).
type PollWatcher struct {
	inbox    string
	handler  func(path string)
	interval time.Duration

	mu   sync.Mutex
	seen map[string]bool
}

// NewPollWatcher creates a polling watcher.
func NewPollWatcher(inbox string, handler func(path string), interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = pollDefault
	}
	return &PollWatcher{
		inbox:    inbox,
		handler:  handler,
		interval: interval,
		seen:     map[string]bool{},
	}
}

// Run polls until ctx is cancelled.
func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan handles files not seen on an earlier pass. A path that disappears
// from the inbox is forgotten, so a job requeued under the same name runs
// again.
func (w *PollWatcher) scan() {
	paths, err := jobFiles(w.inbox)
	if err != nil {
		return
	}
	w.mu.Lock()
	present := make(map[string]bool, len(paths))
	var fresh []string
	for _, p := range paths {
		present[p] = true
		if !w.seen[p] {
			w.seen[p] = true
			fresh = append(fresh, p)
		}
	}
	for p := range w.seen {
		if !present[p] {
			delete(w.seen, p)
		}
	}
	w.mu.Unlock()

	for _, p := range fresh {
		w.handler(p)
	}
}

// ScanExisting hands every job already in the inbox to handler, oldest
// first. A missing inbox is not an error.
func ScanExisting(inbox string, handler func(path string)) error {
	paths, err := jobFiles(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, p := range paths {
		handler(p)
	}
	return nil
}

// jobFiles lists the job files in dir in arrival order.
func jobFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && isJobFile(e.Name()) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return byArrival(paths), nil
}

// byArrival sorts paths by modification time, then name. Files that
// vanished sort last; the processor reports them missing.
func byArrival(paths []string) []string {
	mtime := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			mtime[p] = info.ModTime()
		}
	}
	sort.SliceStable(paths, func(i, j int) bool {
		a, aok := mtime[paths[i]]
		b, bok := mtime[paths[j]]
		switch {
		case aok != bok:
			return aok
		case !a.Equal(b):
			return a.Before(b)
		}
		return paths[i] < paths[j]
	})
	return paths
}

// isJobFile reports whether name is a complete job file, not a partial write.
func isJobFile(name string) bool {
	return strings.HasSuffix(filepath.Base(name), ".json")
}
