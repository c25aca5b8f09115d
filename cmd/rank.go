package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacklau/affinity/internal/notify"
	"github.com/jacklau/affinity/internal/pipeline"
)

var (
	rankTop    int
	rankNotify string
	rankDryRun bool
)

var rankCmd = &cobra.Command{
	Use:   "rank <identity>",
	Short: "Rank every stored profile against one identity",
	Long: `Rank scores the identity against all other stored profiles, logs the
top results and sends high matches to the configured notification channels.`,
	Args: cobra.ExactArgs(1),
	RunE: runRank,
}

func init() {
	rankCmd.Flags().IntVar(&rankTop, "top", 0, "number of results to keep (default rank.top_n)")
	rankCmd.Flags().StringVar(&rankNotify, "notify", "", "notification target: slack, discord, or both")
	rankCmd.Flags().BoolVar(&rankDryRun, "dry-run", false, "rank without logging results or sending notifications")
	rootCmd.AddCommand(rankCmd)
}

func runRank(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(setupLogger(nil))
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if rankTop > 0 {
		c.Config.Rank.TopN = rankTop
	}

	var n notify.Notifier
	if !rankDryRun {
		n, err = createNotifier(c.Config, rankNotify, notify.WithLogger(c.Logger))
		if err != nil {
			return fmt.Errorf("creating notifier: %w", err)
		}
	}

	p := createPipeline(c, n)
	rank := p.RankAndRecord
	if rankDryRun {
		rank = p.Rank
	}
	ranked, err := rank(ctx, args[0])
	if err != nil {
		return err
	}
	printRanking(cmd.OutOrStdout(), args[0], ranked)
	return nil
}

func printRanking(out io.Writer, identity string, ranked []pipeline.Ranked) {
	if len(ranked) == 0 {
		fmt.Fprintf(out, "No other profiles to compare %s with.\n", identity)
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tIDENTITY\tSCORE\tSTRENGTH\t")
	for i, r := range ranked {
		mark := ""
		if r.High {
			mark = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, r.Identity, notify.FormatScore(r.Score), notify.Strength(r.Score), mark)
	}
	w.Flush()
}
