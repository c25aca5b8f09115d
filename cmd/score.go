package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/affinity/internal/engine"
	"github.com/jacklau/affinity/internal/notify"
	"github.com/jacklau/affinity/internal/pipeline"
	"github.com/jacklau/affinity/internal/similarity"
)

var (
	scoreJSON    bool
	scoreWeights string

	clusterA, clusterB clusterFlags
)

type clusterFlags struct {
	description string
	keywords    string
	mood        string
}

func (f clusterFlags) cluster() engine.InterestCluster {
	return engine.InterestCluster{
		Description: f.description,
		Keywords:    splitList(f.keywords),
		Mood:        f.mood,
	}
}

var scoreCmd = &cobra.Command{
	Use:   "score <identity-a> <identity-b>",
	Short: "Score two stored profiles",
	Args:  cobra.ExactArgs(2),
	RunE:  runScore,
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Score two interest clusters given on the command line",
	Example: `  affinity cluster --a-keywords "jazz,vinyl" --a-mood calm \
    --b-keywords "jazz,piano" --b-mood peaceful`,
	Args: cobra.NoArgs,
	RunE: runCluster,
}

func init() {
	for _, c := range []*cobra.Command{scoreCmd, clusterCmd} {
		c.Flags().BoolVar(&scoreJSON, "json", false, "print the result as JSON")
		c.Flags().StringVar(&scoreWeights, "weights", "", "override weights, e.g. description=0.5,keywords=0.4,mood=0.1")
	}
	for _, side := range []struct {
		name string
		f    *clusterFlags
	}{{"a", &clusterA}, {"b", &clusterB}} {
		clusterCmd.Flags().StringVar(&side.f.description, side.name+"-description", "", "description of cluster "+side.name)
		clusterCmd.Flags().StringVar(&side.f.keywords, side.name+"-keywords", "", "comma separated keywords of cluster "+side.name)
		clusterCmd.Flags().StringVar(&side.f.mood, side.name+"-mood", "", "mood of cluster "+side.name)
	}
	rootCmd.AddCommand(scoreCmd, clusterCmd)
}

// parseWeights reads "name=value" pairs over the engine defaults. Names are
// description, keywords and mood.
func parseWeights(s string, base similarity.Weights) (similarity.Weights, error) {
	w := base
	for _, pair := range splitList(s) {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return w, fmt.Errorf("invalid weight %q: expected name=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return w, fmt.Errorf("invalid weight %q: %w", pair, err)
		}
		switch strings.TrimSpace(name) {
		case "description":
			w.Description = v
		case "keywords":
			w.Keywords = v
		case "mood":
			w.Mood = v
		default:
			return w, fmt.Errorf("unknown weight %q", name)
		}
	}
	if _, err := w.Normalize(); err != nil {
		return w, err
	}
	return w, nil
}

// scoreResult is the printed outcome of score and cluster.
type scoreResult struct {
	A              string   `json:"a,omitempty"`
	B              string   `json:"b,omitempty"`
	Score          float64  `json:"score"`
	High           bool     `json:"high"`
	Strength       string   `json:"strength"`
	SharedKeywords []string `json:"shared_keywords,omitempty"`
}

func newScoreResult(a, b string, score, threshold float64, shared []string) scoreResult {
	return scoreResult{
		A:              a,
		B:              b,
		Score:          score,
		High:           score > threshold,
		Strength:       notify.Strength(score),
		SharedKeywords: shared,
	}
}

func printScore(w io.Writer, r scoreResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	if r.A != "" {
		fmt.Fprintf(w, "%s ~ %s: ", r.A, r.B)
	}
	fmt.Fprintf(w, "%s (%s, %.4f)\n", notify.FormatScore(r.Score), r.Strength, r.Score)
	if len(r.SharedKeywords) > 0 {
		fmt.Fprintf(w, "shared: %s\n", strings.Join(r.SharedKeywords, ", "))
	}
	if r.High {
		fmt.Fprintln(w, "high similarity")
	}
	return nil
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(setupLogger(nil))
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	w, err := parseWeights(scoreWeights, c.Engine.Weights())
	if err != nil {
		return err
	}

	a, err := c.Store.GetProfile(args[0])
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[0], err)
	}
	b, err := c.Store.GetProfile(args[1])
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[1], err)
	}

	score, err := c.Engine.ScoreUsersWithWeights(ctx, a.ProfileBundle, b.ProfileBundle, w)
	if err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	shared := pipeline.SharedKeywords(a.ProfileBundle, b.ProfileBundle)
	return printScore(cmd.OutOrStdout(), newScoreResult(a.Identity, b.Identity, score, c.Engine.Threshold(), shared), scoreJSON)
}

func runCluster(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(setupLogger(nil))
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	w, err := parseWeights(scoreWeights, c.Engine.Weights())
	if err != nil {
		return err
	}
	score, err := scoreClusters(ctx, c.Engine, clusterA.cluster(), clusterB.cluster(), w)
	if err != nil {
		return err
	}
	shared := pipeline.SharedKeywords(
		engine.ProfileBundle{Clusters: []engine.InterestCluster{clusterA.cluster()}},
		engine.ProfileBundle{Clusters: []engine.InterestCluster{clusterB.cluster()}},
	)
	return printScore(cmd.OutOrStdout(), newScoreResult("", "", score, c.Engine.Threshold(), shared), scoreJSON)
}

func scoreClusters(ctx context.Context, e *engine.Engine, a, b engine.InterestCluster, w similarity.Weights) (float64, error) {
	score, err := e.ScoreClustersWithWeights(ctx, a, b, w)
	if err != nil {
		return 0, fmt.Errorf("scoring clusters: %w", err)
	}
	return score, nil
}
