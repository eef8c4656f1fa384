package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/querywatch/internal/server"
)

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "gRPC listen address (default from config, 127.0.0.1:7443)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC query server",
	Long: "Runs querywatch as a gRPC service so several clients share one gate,\n" +
		"one connection pool and one audit log. Policy and denylist files are\n" +
		"watched and reloaded on change.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
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

	listen := s.cfg.Listen
	if serveListen != "" {
		listen = serveListen
	}
	srv, err := server.New(server.Config{
		Listen:  listen,
		Handler: h,
		Rebuild: s.handler,
		Logger:  s.log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	reloader, err := server.NewReloader(srv, []string{s.cfg.Policy, s.cfg.Denylist})
	if err != nil {
		s.log.Warn("hot-reload disabled", zap.Error(err))
	} else {
		g.Go(func() error { return reloader.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down query server...")
		srv.GracefulStop()
		return nil
	})
	g.Go(srv.Serve)

	fmt.Fprintf(os.Stderr, "querywatch query server listening on %s\n", listen)
	if reloader != nil && len(reloader.Paths()) > 0 {
		fmt.Fprintf(os.Stderr, "Watching: %v\n", reloader.Paths())
	}

	return g.Wait()
}
