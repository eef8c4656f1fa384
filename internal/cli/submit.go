package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/daemon"
)

var (
	submitSQL bool
	submitID  string
)

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().BoolVar(&submitSQL, "sql", false, "Treat the argument as a SQL statement, not a question")
	submitCmd.Flags().StringVar(&submitID, "id", "", "Job ID (default: generated)")
}

var submitCmd = &cobra.Command{
	Use:   "submit <question>",
	Short: "Queue a question for the inbox daemon",
	Long:  "Writes a job file into the configured inbox. The result appears in\noutbox/<id>.json once the daemon has processed it.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Inbox.Dir, 0o700); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	job := daemon.Job{ID: submitID, Source: "cli"}
	text := strings.Join(args, " ")
	if submitSQL {
		job.SQL = text
	} else {
		job.Question = text
	}
	id, err := daemon.Submit(cfg.Inbox.Dir, job)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}
