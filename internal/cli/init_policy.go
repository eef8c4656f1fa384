package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/policy"
)

var (
	initPolicyOutput    string
	initPolicyForce     bool
	initPolicyMutations bool
	initPolicyMaxRows   int
	initPolicyTimeoutMS int
	initPolicyClasses   []string
)

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	d := policy.DefaultConfig()
	initPolicyCmd.Flags().StringVarP(&initPolicyOutput, "output", "o", "", "Destination file, or - for stdout (default ~/.querywatch/policy.yaml)")
	initPolicyCmd.Flags().BoolVar(&initPolicyForce, "force", false, "Overwrite an existing file")
	initPolicyCmd.Flags().BoolVar(&initPolicyMutations, "allow-mutations", d.AllowMutations, "Permit mutate and admin statements")
	initPolicyCmd.Flags().IntVar(&initPolicyMaxRows, "max-rows", d.MaxRows, "Row cap for unbounded reads")
	initPolicyCmd.Flags().IntVar(&initPolicyTimeoutMS, "timeout-ms", d.TimeoutMS, "Per-statement timeout in milliseconds")
	initPolicyCmd.Flags().StringSliceVar(&initPolicyClasses, "class", d.AllowedOperationClasses, "Allowed operation class; repeatable")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy",
	Short: "Write a commented policy.yaml",
	Long: "Writes an execution policy with comments explaining each key. Flags\n" +
		"change the generated values; the defaults are read-only with a 100 row cap.\n" +
		"  querywatch init-policy --allow-mutations --class read,mutate -o -",
	Args: cobra.NoArgs,
	RunE: runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	out, err := policy.RenderYAML(policy.Config{
		AllowMutations:          initPolicyMutations,
		MaxRows:                 initPolicyMaxRows,
		TimeoutMS:               initPolicyTimeoutMS,
		AllowedOperationClasses: initPolicyClasses,
	})
	if err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	if initPolicyOutput == "-" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}

	path := initPolicyOutput
	if path == "" {
		path = filepath.Join(config.Dir(), "policy.yaml")
	}
	if _, err := os.Stat(path); err == nil && !initPolicyForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(out), 0o600); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}
