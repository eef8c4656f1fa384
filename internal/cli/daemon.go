package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/daemon"
)

var (
	daemonDir           string
	daemonPoll          bool
	daemonPollInterval  time.Duration
	daemonRetryInterval time.Duration
	daemonMaxDeferrals  int
)

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonDir, "dir", "", "Base directory holding inbox/, outbox/ and state/ (default: parent of the configured inbox)")
	daemonCmd.Flags().BoolVar(&daemonPoll, "poll", false, "Poll the inbox instead of using filesystem events")
	daemonCmd.Flags().DurationVar(&daemonPollInterval, "poll-interval", 5*time.Second, "Inbox poll interval with --poll")
	daemonCmd.Flags().DurationVar(&daemonRetryInterval, "retry-interval", 2*time.Minute, "How often rate-limited jobs are retried")
	daemonCmd.Flags().IntVar(&daemonMaxDeferrals, "max-deferrals", 3, "Deferrals before a rate-limited job fails")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Answer questions dropped into an inbox directory",
	Long: "Watches inbox/ for JSON job files holding either a question or a SQL\n" +
		"statement, runs each through the gate and writes the result to outbox/.\n" +
		"Jobs refused by a rate-limited interpreter are set aside and retried.",
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx, false)
	if err != nil {
		return err
	}
	defer s.Close()

	h, err := s.handler()
	if err != nil {
		return err
	}

	base := daemonDir
	if base == "" {
		base = filepath.Dir(s.cfg.Inbox.Dir)
	}
	dirs := daemon.DefaultDirConfig(base)
	if daemonDir == "" {
		dirs.Inbox = s.cfg.Inbox.Dir
	}

	d, err := daemon.New(daemon.Config{
		Dirs:          dirs,
		Runner:        h,
		Workers:       s.cfg.Inbox.Workers,
		Debounce:      s.cfg.Inbox.Debounce,
		PollMode:      daemonPoll,
		PollInterval:  daemonPollInterval,
		RetryInterval: daemonRetryInterval,
		MaxDeferrals:  daemonMaxDeferrals,
		Logger:        s.log,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "querywatch daemon watching %s\n", dirs.Inbox)
	return d.Run(ctx)
}
