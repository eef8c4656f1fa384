package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/audit"
	"github.com/ppiankov/querywatch/internal/config"
)

var (
	tailLines    int
	replayFrom   string
	replayTo     string
	replayFormat string
	replayFilter audit.ReplayFilter
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", formatText, "Output format (text|json)")
	auditReplayCmd.Flags().StringVar(&replayFilter.Decision, "decision", "", "Only entries with this decision (allow|deny)")
	auditReplayCmd.Flags().StringVar(&replayFilter.Class, "class", "", "Only statements of this operation class")
	auditReplayCmd.Flags().StringVar(&replayFilter.ErrorKind, "kind", "", "Only attempts that failed with this error kind")
	auditReplayCmd.Flags().StringVar(&replayFilter.Table, "table", "", "Only statements that reference this table")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long: "Commands for verifying and inspecting the hash-chained audit log.\n" +
		"The path defaults to audit_log from the config file.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay [request-id]",
	Short: "Replay requests from the audit log",
	Long: "Reads the audit log, filters by request ID and optional time range,\n" +
		"and renders a timeline of attempts with a summary.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditReplay,
}

// auditPath resolves the log from the config file.
func auditPath() (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.AuditLog, nil
}

func pathArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	return auditPath()
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path, err := pathArg(args)
	if err != nil {
		return err
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d entries verified (%d allowed, %d denied, %d requests)\n",
			result.Entries, result.Allowed, result.Denied, result.Requests)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := pathArg(args)
	if err != nil {
		return err
	}
	lines, err := audit.Tail(path, tailLines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		var entry audit.Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			fmt.Println(string(line))
			continue
		}
		if err := printJSON(os.Stdout, entry); err != nil {
			return err
		}
	}
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	path, err := auditPath()
	if err != nil {
		return err
	}

	filter := replayFilter
	if filter.Decision != "" && filter.Decision != audit.DecisionAllow && filter.Decision != audit.DecisionDeny {
		return fmt.Errorf("invalid --decision %q: want allow or deny", filter.Decision)
	}
	if len(args) == 1 {
		filter.RequestID = args[0]
	}
	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}
	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case formatJSON:
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(audit.FormatTimeline(result))
	}
	return nil
}
