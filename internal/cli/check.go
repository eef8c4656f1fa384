package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/scenario"
)

var (
	checkScenarios []string
	checkPolicy    string
	checkDenylist  string
	checkFormat    string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringSliceVar(&checkScenarios, "scenario", nil, "Scenario YAML glob; repeatable (required)")
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Policy YAML (default from config; a scenario policy block wins)")
	checkCmd.Flags().StringVar(&checkDenylist, "denylist", "", "Denylist YAML (default from config)")
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", formatText, "Output format (text|json)")
	_ = checkCmd.MarkFlagRequired("scenario")
}

var checkCmd = &cobra.Command{
	Use:   "check --scenario <glob>",
	Short: "Assert gate decisions from scenario files",
	Long: "Each scenario lists statements and the decision the gate must reach for\n" +
		"them. Statements are classified and authorized only; no database is used.\n" +
		"Exit code 1 when any case fails, so policy edits can be gated in CI.",
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	files, err := scenarioFiles(checkScenarios)
	if err != nil {
		return err
	}

	policyPath, denylistPath := checkPolicy, checkDenylist
	if policyPath == "" || denylistPath == "" {
		if cfg, err := config.Load(configPath); err == nil {
			if policyPath == "" {
				policyPath = cfg.Policy
			}
			if denylistPath == "" {
				denylistPath = cfg.Denylist
			}
		}
	}

	results := make([]*scenario.RunResult, 0, len(files))
	for _, path := range files {
		r, err := scenario.LoadAndRun(path, policyPath, denylistPath)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		results = append(results, r)
	}

	if checkFormat == formatJSON {
		out, err := scenario.FormatJSON(results)
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		fmt.Print(scenario.FormatText(results))
	}

	if !scenario.Summarize(results).OK() {
		os.Exit(1)
	}
	return nil
}

// scenarioFiles expands globs into a sorted, de-duplicated file list.
func scenarioFiles(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, pat := range patterns {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("invalid glob %q: %w", pat, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files match %v", patterns)
	}
	sort.Strings(files)
	return files, nil
}
