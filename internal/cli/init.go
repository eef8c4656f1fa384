package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/daemon"
	"github.com/ppiankov/querywatch/internal/denylist"
	"github.com/ppiankov/querywatch/internal/policy"
)

var (
	initDir   string
	initForce bool
	initInbox bool
)

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "", "Config directory (default ~/.querywatch)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	initCmd.Flags().BoolVar(&initInbox, "inbox", false, "Also create the daemon inbox, outbox and state directories")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap querywatch configuration",
	Long: `Creates the config directory with config.yaml, policy.yaml and denylist.yaml.
Existing files are kept unless --force is given.

Secrets are never written to these files. Store them in the keyring:
  querywatch auth set db_password
  querywatch auth set groq_api_key`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

// initFile is one generated file and what happened to it.
type initFile struct {
	name    string
	content func() (string, error)
	state   string
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := initDir
	if dir == "" {
		dir = config.Dir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	files := []*initFile{
		{name: "config.yaml", content: func() (string, error) { return config.DefaultYAML(), nil }},
		{name: "policy.yaml", content: func() (string, error) { return policy.DefaultConfigYAML(), nil }},
		{name: "denylist.yaml", content: defaultDenylistYAML},
	}
	for _, f := range files {
		state, err := placeFile(filepath.Join(dir, f.name), f.content)
		if err != nil {
			return err
		}
		f.state = state
	}

	data := pterm.TableData{{"file", "state"}}
	for _, f := range files {
		data = append(data, []string{filepath.Join(dir, f.name), f.state})
	}
	if initInbox {
		dirs := daemon.DefaultDirConfig(dir)
		if err := daemon.EnsureDirs(dirs); err != nil {
			return err
		}
		data = append(data, []string{dirs.Inbox + string(filepath.Separator), "ready"})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	pterm.Println()
	pterm.Println("Check a statement without a database:")
	pterm.Println(`  querywatch classify "SELECT * FROM orders"`)
	pterm.Println("Ask a question:")
	pterm.Println(`  querywatch ask "how many orders shipped last week?"`)
	return nil
}

// placeFile writes the generated content to path unless the file exists and
// --force is off. It returns created, replaced or kept.
func placeFile(path string, content func() (string, error)) (string, error) {
	_, err := os.Stat(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if exists && !initForce {
		return "kept", nil
	}

	body, err := content()
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if exists {
		return "replaced", nil
	}
	return "created", nil
}

// defaultDenylistYAML renders the built-in denylist with a usage header.
func defaultDenylistYAML() (string, error) {
	data, err := yaml.Marshal(denylist.DefaultPatterns)
	if err != nil {
		return "", err
	}
	const header = `# querywatch denylist
# tables: glob patterns matched against every table a statement names
#         ("mysql.*", "*.user", "pg_authid").
# statements: case-insensitive substrings matched against the statement text.
#
# A match denies the statement whatever the policy allows.

`
	return header + string(data), nil
}
