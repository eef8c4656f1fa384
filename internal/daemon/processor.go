package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/querywatch/internal/model"
	"github.com/ppiankov/querywatch/internal/pipeline"
)

// maxDeferralsDefault is how often a rate-limited job is set aside before it
// fails for good.
const maxDeferralsDefault = 3

// Runner executes questions and statements. *pipeline.Handler implements it.
type Runner interface {
	Ask(ctx context.Context, question string) pipeline.Response
	Run(ctx context.Context, sql string) pipeline.Response
}

// ProcessorConfig holds runtime configuration for job processing.
type ProcessorConfig struct {
	Dirs         DirConfig
	Runner       Runner
	MaxDeferrals int
	Logger       *zap.Logger
}

// Processor handles job lifecycle transitions.
type Processor struct {
	cfg ProcessorConfig
	log *zap.Logger
}

// NewProcessor creates a processor with the given configuration.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.MaxDeferrals <= 0 {
		cfg.MaxDeferrals = maxDeferralsDefault
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Processor{cfg: cfg, log: cfg.Logger.Named("processor")}
}

// rejectedKind is the error kind of a job file that could not be read as a job.
const rejectedKind = "invalid_job"

// Process takes one job file from the inbox to the outbox. The job stays in
// the processing directory until its result is written, so a crash leaves
// it where the next start finds it. Files that are not valid jobs get a failed
// result and are removed; only I/O failures are returned.
func (p *Processor) Process(ctx context.Context, jobPath string) error {
	job, rejected, err := p.claim(jobPath)
	if err != nil {
		return err
	}
	if rejected != nil {
		_ = os.Remove(jobPath)
		p.log.Warn("job rejected", zap.String("job", rejected.ID), zap.String("error", rejected.Error))
		return p.writeResult(rejected)
	}

	running := filepath.Join(p.cfg.Dirs.ProcessingDir(), job.ID+".json")
	if err := moveFile(jobPath, running); err != nil {
		return fmt.Errorf("move to processing: %w", err)
	}

	resp := p.execute(ctx, job)
	if resp.RateLimited && job.Deferrals < p.cfg.MaxDeferrals {
		if err := p.deferJob(job, resp); err != nil {
			return err
		}
		return os.Remove(running)
	}

	result := resultFrom(job.ID, resp)
	if err := p.writeResult(result); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	p.log.Info("job finished",
		zap.String("job", job.ID),
		zap.String("request_id", resp.RequestID),
		zap.Int("attempts", result.Attempts),
		zap.String("status", result.Status),
		zap.String("error_kind", result.ErrorKind))
	return os.Remove(running)
}

// claim reads and validates the job at path. A file that is present but
// not a usable job yields a failed Result instead of an error. Symlinks are
// refused outright since they could point anywhere on the filesystem.
func (p *Processor) claim(path string) (*Job, *Result, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("stat job file: %w", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, nil, fmt.Errorf("rejected symlink: %s", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read job file: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, rejection(trimExt(path), "invalid JSON: %v", err), nil
	}
	if err := ValidateJob(&job); err != nil {
		return nil, rejection(job.ID, "validation failed: %v", err), nil
	}
	return &job, nil, nil
}

func rejection(id, format string, args ...any) *Result {
	if !validID.MatchString(id) {
		id = fmt.Sprintf("unknown-%d", time.Now().UnixNano())
	}
	return &Result{
		ID:          id,
		Status:      ResultFailed,
		ErrorKind:   rejectedKind,
		Error:       fmt.Sprintf(format, args...),
		CompletedAt: time.Now().UTC(),
	}
}

func (p *Processor) execute(ctx context.Context, job *Job) pipeline.Response {
	if p.cfg.Runner == nil {
		return pipeline.Response{Outcome: model.Failed(model.NewFailure(model.KindConnection, "no query runner configured"))}
	}
	if job.SQL != "" {
		return p.cfg.Runner.Run(ctx, job.SQL)
	}
	return p.cfg.Runner.Ask(ctx, job.Question)
}

// deferJob parks a rate-limited job in the deferred directory and writes a
// deferred result so callers can see it is still pending.
func (p *Processor) deferJob(job *Job, resp pipeline.Response) error {
	job.Deferrals++
	if err := writeJSON(filepath.Join(p.cfg.Dirs.DeferredDir(), job.ID+".json"), job); err != nil {
		return fmt.Errorf("write deferred job: %w", err)
	}
	result := resultFrom(job.ID, resp)
	result.Status = ResultDeferred
	p.log.Warn("interpreter rate limited, job deferred",
		zap.String("job", job.ID),
		zap.Int("deferrals", job.Deferrals),
		zap.Int("max_deferrals", p.cfg.MaxDeferrals))
	return p.writeResult(result)
}

// RequeueDeferred moves deferred jobs back into the inbox, oldest first, and
// returns how many were moved.
func (p *Processor) RequeueDeferred() (int, error) {
	paths, err := jobFiles(p.cfg.Dirs.DeferredDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var n int
	var errs []error
	for _, src := range paths {
		if err := moveFile(src, filepath.Join(p.cfg.Dirs.Inbox, filepath.Base(src))); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// writeResult publishes r in the outbox under its job ID.
func (p *Processor) writeResult(r *Result) error {
	return writeJSON(filepath.Join(p.cfg.Dirs.Outbox, r.ID+".json"), r)
}

// writeJSON writes v beside path and renames it into place, so readers
// polling the directory never see a partial file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func trimExt(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
