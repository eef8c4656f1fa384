package cli

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/config"
	"github.com/ppiankov/querywatch/internal/denylist"
)

var denylistFormat string

func init() {
	rootCmd.AddCommand(denylistCmd)
	denylistCmd.AddCommand(denylistShowCmd)
	denylistCmd.AddCommand(denylistAddCmd)
	denylistShowCmd.Flags().StringVarP(&denylistFormat, "format", "f", formatText, "Output format (text|json)")
}

var denylistCmd = &cobra.Command{
	Use:   "denylist",
	Short: "Inspect or extend the table and statement denylist",
}

var denylistShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active denylist patterns",
	Args:  cobra.NoArgs,
	RunE:  runDenylistShow,
}

var denylistAddCmd = &cobra.Command{
	Use:   "add <tables|statements> <pattern>",
	Short: "Add a pattern and write the denylist file",
	Long: "Adds a table glob (e.g. \"billing.*\") or a statement substring (e.g. \"grant \")\n" +
		"to the configured denylist file. A missing file starts from the defaults.",
	Args: cobra.ExactArgs(2),
	RunE: runDenylistAdd,
}

func denylistPath() (string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if cfg.Denylist != "" {
		return cfg.Denylist, nil
	}
	if p := denylist.DefaultPath(); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no denylist path configured")
}

func runDenylistShow(cmd *cobra.Command, args []string) error {
	path, err := denylistPath()
	if err != nil {
		return err
	}
	dl, err := denylist.Load(path)
	if err != nil {
		return err
	}

	if denylistFormat == formatJSON {
		return printJSON(os.Stdout, dl.ToMap())
	}
	p := dl.Patterns()
	pterm.DefaultSection.Println("tables")
	printBullets(p.Tables)
	pterm.DefaultSection.Println("statements")
	printBullets(p.Statements)
	return nil
}

func printBullets(items []string) {
	if len(items) == 0 {
		pterm.Info.Println("(none)")
		return
	}
	bullets := make([]pterm.BulletListItem, 0, len(items))
	for _, it := range items {
		bullets = append(bullets, pterm.BulletListItem{Level: 0, Text: it})
	}
	_ = pterm.DefaultBulletList.WithItems(bullets).Render()
}

func runDenylistAdd(cmd *cobra.Command, args []string) error {
	path, err := denylistPath()
	if err != nil {
		return err
	}
	dl, err := denylist.Load(path)
	if err != nil {
		return err
	}
	if err := dl.AddPattern(args[0], args[1]); err != nil {
		return err
	}
	if err := dl.Save(path); err != nil {
		return err
	}
	fmt.Printf("Added %s pattern %q to %s\n", args[0], args[1], path)
	return nil
}
