package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/affinity/internal/notify"
	"github.com/jacklau/affinity/internal/pubsub"
	"github.com/jacklau/affinity/internal/watcher"
)

var (
	watchInterval string
	watchNotify   string
	watchDryRun   bool
	watchBackfill bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously rank profiles as they change",
	Long: `Watch polls the store for created or updated profiles, ranks each one
against every other profile and sends high matches to the configured
notification channels.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchInterval, "interval", "", "poll interval (default watch.poll_interval)")
	watchCmd.Flags().StringVar(&watchNotify, "notify", "", "notification target: slack, discord, or both")
	watchCmd.Flags().BoolVar(&watchDryRun, "dry-run", false, "rank profiles but skip notifications")
	watchCmd.Flags().BoolVar(&watchBackfill, "backfill", false, "rank every stored profile on the first poll")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(setupLogger(nil))
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	interval, err := watchPollInterval(watchInterval, c.Config.Watch.PollInterval())
	if err != nil {
		return err
	}

	var n notify.Notifier
	if watchDryRun {
		c.Logger.Info("dry-run mode enabled, notifications disabled")
	} else {
		n, err = createNotifier(c.Config, watchNotify, notify.WithLogger(c.Logger))
		if err != nil {
			return fmt.Errorf("creating notifier: %w", err)
		}
	}

	err = runLoops(ctx, c, n, interval, watchBackfill)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	c.Logger.Info("watch stopped")
	return nil
}

func watchPollInterval(flag string, def time.Duration) (time.Duration, error) {
	if flag == "" {
		return def, nil
	}
	d, err := time.ParseDuration(flag)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", flag, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %s", flag)
	}
	return d, nil
}

// runLoops runs the watcher, the rank pipeline and a match logger until ctx
// is cancelled or either loop fails.
func runLoops(ctx context.Context, c *components, n notify.Notifier, interval time.Duration, backfill bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var opts []watcher.Option
	opts = append(opts, watcher.WithLogger(c.Logger))
	if backfill {
		opts = append(opts, watcher.WithSince(time.Time{}))
	}
	w := watcher.New(c.Store, c.Updates, opts...)
	p := createPipeline(c, n)

	go logMatches(ctx, c)

	pipelineErr := make(chan error, 1)
	go func() { pipelineErr <- p.Run(ctx) }()

	// Updates published before the pipeline subscribes are dropped, and the
	// watcher never announces an unchanged profile twice.
	subscribers := c.Updates.Subscribers()
	for c.Updates.Subscribers() <= subscribers {
		select {
		case err := <-pipelineErr:
			if err == nil {
				err = ctx.Err()
			}
			return err
		case <-time.After(5 * time.Millisecond):
		}
	}

	watcherErr := make(chan error, 1)
	go func() { watcherErr <- w.Run(ctx, interval) }()

	select {
	case err := <-pipelineErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("pipeline error: %w", err)
		}
	case err := <-watcherErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("watcher error: %w", err)
		}
	}
	return ctx.Err()
}

func logMatches(ctx context.Context, c *components) {
	for evt := range c.Matches.Subscribe(ctx, pubsub.MatchFound) {
		m := evt.Payload
		c.Logger.Info("high similarity",
			"identity", m.Identity,
			"other", m.Other,
			"score", m.Score,
			"strength", notify.Strength(m.Score),
		)
	}
}
