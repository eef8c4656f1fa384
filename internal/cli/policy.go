package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/policy"
	"github.com/ppiankov/querywatch/internal/policydiff"
	"github.com/ppiankov/querywatch/internal/sim"
)

var (
	policyFormat      string
	diffOldDenylist   string
	diffNewDenylist   string
	simulateLog       string
	simulateDenylist  string
	simulateFailOnNew bool
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyDiffCmd, policySimulateCmd)
	policyCmd.PersistentFlags().StringVarP(&policyFormat, "format", "f", formatText, "Output format (text|json)")
	policyDiffCmd.Flags().StringVar(&diffOldDenylist, "old-denylist", "", "Denylist paired with the old policy")
	policyDiffCmd.Flags().StringVar(&diffNewDenylist, "new-denylist", "", "Denylist paired with the new policy")
	policySimulateCmd.Flags().StringVar(&simulateLog, "log", "", "Audit log to replay (default: audit_log from config)")
	policySimulateCmd.Flags().StringVar(&simulateDenylist, "denylist", "", "Denylist to simulate with (default: denylist from config)")
	policySimulateCmd.Flags().BoolVar(&simulateFailOnNew, "fail-on-newly-allowed", false, "Exit 1 if any recorded denial would now be allowed")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Compare policies and preview their effect",
}

var policyDiffCmd = &cobra.Command{
	Use:   "diff <old.yaml> <new.yaml>",
	Short: "Show what changed between two policy files",
	Long: "Compares two policy files (and, with --old-denylist and --new-denylist,\n" +
		"two denylists) and marks each change stricter or looser.",
	Args: cobra.ExactArgs(2),
	RunE: runPolicyDiff,
}

var policySimulateCmd = &cobra.Command{
	Use:   "simulate <policy.yaml>",
	Short: "Replay the audit log under a candidate policy",
	Long: "Re-classifies and re-decides every statement recorded in the audit log\n" +
		"under the given policy, without executing anything, and lists each\n" +
		"statement whose decision or row cap would change.",
	Args: cobra.ExactArgs(1),
	RunE: runPolicySimulate,
}

func runPolicyDiff(cmd *cobra.Command, args []string) error {
	oldCfg, err := policy.LoadConfig(args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	newCfg, err := policy.LoadConfig(args[1])
	if err != nil {
		return fmt.Errorf("%s: %w", args[1], err)
	}

	var oldDL, newDL *denylist.Denylist
	if diffOldDenylist != "" && diffNewDenylist != "" {
		if oldDL, err = denylist.Load(diffOldDenylist); err != nil {
			return err
		}
		if newDL, err = denylist.Load(diffNewDenylist); err != nil {
			return err
		}
	}

	r := policydiff.Diff(oldCfg, newCfg, oldDL, newDL)
	r.OldPath, r.NewPath = args[0], args[1]

	if policyFormat == formatJSON {
		out, err := policydiff.FormatJSON(r)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	fmt.Print(policydiff.FormatText(r))
	return nil
}

func runPolicySimulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logPath := simulateLog
	if logPath == "" {
		logPath = cfg.AuditLog
	}
	dlPath := simulateDenylist
	if dlPath == "" {
		dlPath = cfg.Denylist
	}

	r, err := sim.Simulate(logPath, args[0], dlPath, cfg.Database.Dialect)
	if err != nil {
		return err
	}

	if policyFormat == formatJSON {
		out, err := sim.FormatJSON(r)
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		fmt.Print(sim.FormatText(r))
	}

	if simulateFailOnNew && r.NewlyAllowed > 0 {
		os.Exit(1)
	}
	return nil
}
