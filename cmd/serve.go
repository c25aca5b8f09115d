package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jacklau/affinity/internal/api"
	"github.com/jacklau/affinity/internal/notify"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the similarity API and Prometheus metrics over HTTP",
	Long: `Serve exposes scoring, ranking and profile storage under /api/v1,
health under /healthz and metrics under /metrics.

With --watch the profile watcher and rank pipeline run in the same process.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also watch for profile changes and notify on high matches")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(setupLogger(nil))
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	addr := c.Config.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	n, err := createNotifier(c.Config, "", notify.WithLogger(c.Logger))
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}

	srv := newServer(c, n)

	tasks := []func(context.Context) error{
		func(ctx context.Context) error { return srv.ListenAndServe(ctx, addr) },
	}
	if serveWatch {
		tasks = append(tasks, func(ctx context.Context) error {
			return runLoops(ctx, c, n, c.Config.Watch.PollInterval(), false)
		})
	}

	err = runUntilFirstExit(ctx, tasks...)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	c.Logger.Info("server stopped")
	return nil
}

// runUntilFirstExit runs every task and stops the rest once one returns. It
// waits for all of them, so shared components can be closed afterwards.
func runUntilFirstExit(ctx context.Context, tasks ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			defer cancel()
			return task(gctx)
		})
	}
	return g.Wait()
}

func newServer(c *components, n notify.Notifier) *api.Server {
	return api.NewServer(api.Deps{
		Scorer:    c.Engine,
		Ranker:    createPipeline(c, n),
		Profiles:  c.Store,
		Metrics:   c.Metrics,
		Gatherer:  c.Registry,
		RateLimit: c.Config.Server.RateLimit,
		Logger:    c.Logger,
	})
}
