package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// retryIntervalDefault is how often deferred jobs are returned to the inbox.
const retryIntervalDefault = 2 * time.Minute

// Config holds full daemon configuration.
type Config struct {
	Dirs          DirConfig
	Runner        Runner
	Workers       int
	Debounce      time.Duration
	PollMode      bool
	PollInterval  time.Duration
	RetryInterval time.Duration
	MaxDeferrals  int
	Logger        *zap.Logger
}

// Daemon answers questions dropped into the inbox.
type Daemon struct {
	cfg       Config
	processor *Processor
	log       *zap.Logger
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Daemon, error) {
	if cfg.Dirs.Inbox == "" || cfg.Dirs.Outbox == "" || cfg.Dirs.State == "" {
		return nil, errors.New("daemon: inbox, outbox and state directories are required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("daemon: query runner is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = pollDefault
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = retryIntervalDefault
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	log := cfg.Logger.Named("daemon")

	return &Daemon{
		cfg: cfg,
		processor: NewProcessor(ProcessorConfig{
			Dirs:         cfg.Dirs,
			Runner:       cfg.Runner,
			MaxDeferrals: cfg.MaxDeferrals,
			Logger:       log,
		}),
		log: log,
	}, nil
}

// Run blocks until ctx is cancelled. Before watching it fails any job a
// previous run left half-done and answers questions already in the inbox.
func (d *Daemon) Run(ctx context.Context) error {
	if err := EnsureDirs(d.cfg.Dirs); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	if err := ValidateSameFilesystem(d.cfg.Dirs); err != nil {
		d.log.Warn("job moves will copy across filesystems", zap.Error(err))
	}

	unlock, err := lockState(filepath.Join(d.cfg.Dirs.State, "daemon.pid"))
	if err != nil {
		return err
	}
	defer unlock()

	if err := d.recoverOrphans(); err != nil {
		return fmt.Errorf("recover orphans: %w", err)
	}

	handle := func(path string) {
		if err := d.processor.Process(ctx, path); err != nil {
			d.log.Error("process job", zap.String("file", filepath.Base(path)), zap.Error(err))
		}
	}
	if err := ScanExisting(d.cfg.Dirs.Inbox, handle); err != nil {
		return fmt.Errorf("scan inbox: %w", err)
	}

	d.log.Info("watching inbox",
		zap.String("inbox", d.cfg.Dirs.Inbox),
		zap.Bool("poll", d.cfg.PollMode),
		zap.Duration("retry_interval", d.cfg.RetryInterval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.requeueLoop(gctx)
		return nil
	})
	g.Go(func() error {
		if d.cfg.PollMode {
			return NewPollWatcher(d.cfg.Dirs.Inbox, handle, d.cfg.PollInterval).Run(gctx)
		}
		return NewInboxWatcher(d.cfg.Dirs.Inbox, handle, WatchOptions{
			Workers:  d.cfg.Workers,
			Debounce: d.cfg.Debounce,
			Logger:   d.log,
		}).Run(gctx)
	})
	return g.Wait()
}

// requeueLoop returns deferred jobs to the inbox every retry interval.
func (d *Daemon) requeueLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.processor.RequeueDeferred()
			if err != nil {
				d.log.Error("requeue deferred jobs", zap.Error(err))
			}
			if n > 0 {
				d.log.Info("requeued deferred jobs", zap.Int("count", n))
			}
		}
	}
}

// recoverOrphans fails every job left in processing by a crash. The
// question is kept in the result when the file is still readable, so the
// caller can ask again.
func (d *Daemon) recoverOrphans() error {
	procDir := d.cfg.Dirs.ProcessingDir()
	paths, err := jobFiles(procDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, path := range paths {
		result := &Result{
			ID:          strings.TrimSuffix(filepath.Base(path), ".json"),
			Status:      ResultFailed,
			ErrorKind:   "interrupted",
			Error:       "daemon stopped while the job was running; submit it again",
			CompletedAt: time.Now().UTC(),
		}
		if data, err := os.ReadFile(path); err == nil {
			var job Job
			if json.Unmarshal(data, &job) == nil {
				result.Question = job.Question
				result.SQL = job.SQL
			}
		}
		if err := d.processor.writeResult(result); err != nil {
			d.log.Error("recover orphan", zap.String("job", result.ID), zap.Error(err))
			continue
		}
		d.log.Warn("failed interrupted job", zap.String("job", result.ID))
		_ = os.Remove(path)
	}
	return nil
}

// lockState claims the state directory for this process. A lock left by a
// process that no longer exists is taken over.
func lockState(path string) (func(), error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if err := errors.Join(werr, cerr); err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write PID lock: %w", err)
			}
			return func() { _ = os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create PID lock: %w", err)
		}
		if pid, alive := lockHolder(path); alive {
			return nil, fmt.Errorf("another daemon is running (PID %d)", pid)
		}
		_ = os.Remove(path)
	}
	return nil, fmt.Errorf("could not acquire PID lock %s", path)
}

// lockHolder reads the PID in path and reports whether that process exists.
func lockHolder(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	return pid, proc.Signal(syscall.Signal(0)) == nil
}
