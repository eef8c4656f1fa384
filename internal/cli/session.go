package cli

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ppiankov/querywatch/internal/audit"
	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/dsn"
	"github.com/ppiankov/querywatch/internal/executor"
	"github.com/ppiankov/querywatch/internal/history"
	"github.com/ppiankov/querywatch/internal/interpreter"
	"github.com/ppiankov/querywatch/internal/logging"
	"github.com/ppiankov/querywatch/internal/pipeline"
	"github.com/ppiankov/querywatch/internal/policy"
	"github.com/ppiankov/querywatch/internal/schema"
	"github.com/ppiankov/querywatch/internal/secrets"
)

// session holds everything a command needs to reach the database. The
// executor, audit log, history and interpreter outlive policy reloads.
type session struct {
	cfg       *config.Config
	log       *zap.Logger
	exec      *executor.Executor
	audit     *audit.Log
	history   *history.Ring
	interp    interpreter.Interpreter
	inspector *schema.Inspector
	denylist  *denylist.Denylist
}

// loadConfig reads the config file, then the environment, then the keyring.
// An unavailable keyring is not fatal; env and file values still apply.
func loadConfig(log *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	store, err := secrets.Open()
	if err != nil {
		log.Debug("keyring unavailable", zap.Error(err))
		return cfg, nil
	}
	if err := cfg.ApplySecrets(store); err != nil {
		log.Warn("keyring lookup failed", zap.Error(err))
	}
	return cfg, nil
}

func newLogger() (*zap.Logger, error) {
	return logging.New(verbose)
}

// openSession connects to the configured database. needInterpreter makes a
// missing or misconfigured provider fatal; otherwise it is logged and Ask
// reports an interpreter failure.
func openSession(ctx context.Context, needInterpreter bool) (*session, error) {
	log, err := newLogger()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(log)
	if err != nil {
		return nil, err
	}

	dialect, source, err := cfg.Database.Build()
	if err != nil {
		return nil, err
	}
	exec, err := executor.Open(dialect, source, executor.Options{Logger: log})
	if err != nil {
		return nil, err
	}
	log.Debug("database configured", zap.String("dsn", cfg.Database.String()))

	s := &session{
		cfg:     cfg,
		log:     log,
		exec:    exec,
		history: history.New(cfg.HistorySize),
	}

	s.audit, err = audit.Open(cfg.AuditLog)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.interp, err = interpreter.New(ctx, cfg.Interpreter)
	if err != nil {
		if needInterpreter {
			s.Close()
			return nil, fmt.Errorf("interpreter: %w", err)
		}
		log.Debug("interpreter not configured", zap.Error(err))
		s.interp = nil
	}

	if err := s.loadDenylist(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) loadDenylist() error {
	dl, err := denylist.Load(s.cfg.Denylist)
	if err != nil {
		return fmt.Errorf("load denylist: %w", err)
	}
	s.denylist = dl
	s.inspector = schema.New(s.exec, s.exec.Dialect(), policy.Default().Timeout(), dl)
	return nil
}

// handler builds a pipeline from the policy and denylist files as they are
// now. serve calls it again on every reload.
func (s *session) handler() (*pipeline.Handler, error) {
	p, err := policy.Load(s.cfg.Policy)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	if err := s.loadDenylist(); err != nil {
		return nil, err
	}
	opts := pipeline.Options{
		Policy:   p,
		Denylist: s.denylist,
		Executor: s.exec,
		Schema:   s.inspector,
		Dialect:  string(s.exec.Dialect()),
		Audit:    s.audit,
		History:  s.history,
		Logger:   s.log,
	}
	opts.Interpreter = s.interp
	return pipeline.New(opts)
}

// Close releases the pool and the audit file.
func (s *session) Close() {
	if s.audit != nil {
		_ = s.audit.Close()
	}
	if s.exec != nil {
		_ = s.exec.Close()
	}
	_ = s.log.Sync()
}
