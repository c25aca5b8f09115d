package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacklau/affinity/internal/notify"
	"github.com/jacklau/affinity/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store, cache and provider overview",
	Long: `Display profile, cluster, similarity and embedding counts, the
configured providers and cache backend, and the database size.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()

	stats, err := c.Store.GetStats()
	if err != nil {
		return fmt.Errorf("querying stats: %w", err)
	}

	out := cmd.OutOrStdout()
	if stats.Profiles == 0 {
		fmt.Fprintln(out, "No profiles stored yet.")
		fmt.Fprintln(out, "Run 'affinity import <file>' to get started.")
		return nil
	}
	writeStatus(out, c, stats)
	return nil
}

func writeStatus(out io.Writer, c *components, stats *store.Stats) {
	cfg := c.Config
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	lastUpdate := "never"
	if stats.LastUpdatedAt != nil {
		lastUpdate = notify.TimeAgo(*stats.LastUpdatedAt)
	}
	fmt.Fprintf(w, "Profiles:\t%d\n", stats.Profiles)
	fmt.Fprintf(w, "Clusters:\t%d\n", stats.Clusters)
	fmt.Fprintf(w, "Similarities logged:\t%d\n", stats.Similarities)
	fmt.Fprintf(w, "Embeddings stored:\t%d\n", stats.Embeddings)
	fmt.Fprintf(w, "Last profile update:\t%s\n", lastUpdate)
	fmt.Fprintln(w, "\t")

	fmt.Fprintf(w, "Embedding provider:\t%s\n", orNone(cfg.Providers.Embedding.Type))
	if c.Breaker != nil {
		fmt.Fprintf(w, "Embedding circuit:\t%s\n", c.Breaker.State())
	}
	fmt.Fprintf(w, "LLM provider:\t%s\n", orNone(cfg.Providers.LLM.Type))
	fmt.Fprintf(w, "Aggregation:\t%s\n", c.Engine.Aggregation())
	fmt.Fprintf(w, "High similarity above:\t%s\n", notify.FormatScore(c.Engine.Threshold()))
	fmt.Fprintf(w, "Pair cache:\t%s (ttl %s)\n", cfg.Cache.Backend, cfg.Cache.TTL())
	w.Flush()

	fmt.Fprintln(out)
	if size, err := fileSize(cfg.Store.Path); err != nil {
		fmt.Fprintf(out, "Database: %s (size unknown)\n", cfg.Store.Path)
	} else {
		fmt.Fprintf(out, "Database: %s (%s)\n", cfg.Store.Path, formatBytes(size))
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
