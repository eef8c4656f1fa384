package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ppiankov/querywatch/internal/secrets"
)

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authDeleteCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage secrets in the OS keyring",
	Long: "Stores the database password and interpreter API keys in the OS keyring.\n" +
		"Keys: " + strings.Join(secrets.Known, ", "),
}

var authSetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Store a secret (read from the terminal without echo, or from stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthSet,
}

var authDeleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Remove a secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuthDelete,
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	store, err := secrets.Open()
	if err != nil {
		return err
	}
	value, err := readSecret(args[0])
	if err != nil {
		return err
	}
	if value == "" {
		return fmt.Errorf("empty value for %s", args[0])
	}
	if err := store.Set(args[0], value); err != nil {
		return err
	}
	pterm.Success.Printfln("stored %s", args[0])
	return nil
}

func runAuthDelete(cmd *cobra.Command, args []string) error {
	store, err := secrets.Open()
	if err != nil {
		return err
	}
	if err := store.Delete(args[0]); err != nil {
		return err
	}
	pterm.Success.Printfln("deleted %s", args[0])
	return nil
}

func readSecret(key string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s: ", key)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", key, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s from stdin: %w", key, err)
	}
	return strings.TrimSpace(line), nil
}
