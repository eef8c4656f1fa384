package cli

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ppiankov/querywatch/internal/client"
	"github.com/ppiankov/querywatch/internal/config"
)

var (
	remoteAddr    string
	remoteTimeout time.Duration
	remoteFormat  string
)

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.AddCommand(remoteCheckCmd, remoteQueryCmd, remoteAskCmd, remoteLastCmd)
	remoteCmd.PersistentFlags().StringVar(&remoteAddr, "addr", "", "Query server address (default: listen from config)")
	remoteCmd.PersistentFlags().DurationVar(&remoteTimeout, "timeout", 2*time.Minute, "Request deadline")
	remoteCmd.PersistentFlags().StringVarP(&remoteFormat, "format", "f", formatText, "Output format (text|json)")
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running querywatch serve instance",
}

var remoteCheckCmd = &cobra.Command{
	Use:   "check <sql>",
	Short: "Ask the server for a gate decision; an unreachable server denies",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemoteCheck,
}

var remoteQueryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a statement on the server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemoteQuery,
}

var remoteAskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the server's interpreter a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRemoteAsk,
}

var remoteLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the server's most recent statement",
	Args:  cobra.NoArgs,
	RunE:  runRemoteLast,
}

func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	addr := remoteAddr
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		addr = cfg.Listen
	}
	c, err := client.New(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	return fn(ctx, c)
}

func runRemoteCheck(cmd *cobra.Command, args []string) error {
	var allowed bool
	err := withClient(func(ctx context.Context, c *client.Client) error {
		reply, _ := c.Check(ctx, strings.Join(args, " "))
		allowed = reply.Allowed
		if remoteFormat == formatJSON {
			return printJSON(os.Stdout, reply)
		}
		if reply.Allowed {
			pterm.Success.Printfln("allow (%s) %s", reply.PolicyID, reply.Statement)
		} else {
			pterm.Warning.Printfln("deny (%s) %s", reply.PolicyID, reply.Reason)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !allowed {
		os.Exit(exitBlocked)
	}
	return nil
}

func runRemoteQuery(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		resp, err := c.Query(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return renderResponse(resp, remoteFormat)
	})
}

func runRemoteAsk(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		resp, err := c.Ask(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return renderResponse(resp, remoteFormat)
	})
}

func runRemoteLast(cmd *cobra.Command, args []string) error {
	return withClient(func(ctx context.Context, c *client.Client) error {
		reply, err := c.LastQuery(ctx)
		if err != nil {
			return err
		}
		if remoteFormat == formatJSON {
			return printJSON(os.Stdout, reply)
		}
		if !reply.Found {
			pterm.Info.Println("no statement executed yet")
			return nil
		}
		pterm.DefaultBox.WithTitle(reply.Status).Println(reply.SQL)
		return nil
	})
}
