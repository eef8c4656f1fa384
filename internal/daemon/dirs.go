package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// dirPerm is the permission for daemon-managed directories.
const dirPerm = 0o750

// DirConfig is where the daemon reads questions and writes answers. Jobs
// move between these directories by rename, so they belong on one volume.
type DirConfig struct {
	Inbox  string
	Outbox string
	State  string
}

// DefaultDirConfig places inbox, outbox and state side by side under base.
func DefaultDirConfig(base string) DirConfig {
	return DirConfig{
		Inbox:  filepath.Join(base, "inbox"),
		Outbox: filepath.Join(base, "outbox"),
		State:  filepath.Join(base, "state"),
	}
}

// ProcessingDir holds jobs a worker has claimed.
func (d DirConfig) ProcessingDir() string { return filepath.Join(d.State, "processing") }

// DeferredDir holds jobs waiting for the interpreter to accept requests again.
func (d DirConfig) DeferredDir() string { return filepath.Join(d.State, "deferred") }

func (d DirConfig) all() []string {
	return []string{d.Inbox, d.Outbox, d.ProcessingDir(), d.DeferredDir()}
}

// EnsureDirs creates every directory in cfg that is missing.
func EnsureDirs(cfg DirConfig) error {
	for _, dir := range cfg.all() {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// ValidateSameFilesystem reports every directory that lives on a different
// device than the inbox. Moves to those fall back to copying.
func ValidateSameFilesystem(cfg DirConfig) error {
	inbox, err := deviceID(cfg.Inbox)
	if err != nil {
		return err
	}
	var errs []error
	for _, dir := range cfg.all()[1:] {
		dev, err := deviceID(dir)
		switch {
		case err != nil:
			errs = append(errs, err)
		case dev != inbox:
			errs = append(errs, fmt.Errorf("%s is not on the same filesystem as %s", dir, cfg.Inbox))
		}
	}
	return errors.Join(errs...)
}

// moveFile renames src to dst. Across devices (bind mounts, separate
// volumes) it copies to a temporary name beside dst and renames that into
// place, so watchers never see a partially written job.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) || errno != syscall.EXDEV {
		return err
	}

	tmp := dst + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}

// copyFile copies src to dst with src's permissions and syncs dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
