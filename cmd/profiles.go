package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jacklau/affinity/internal/engine"
)

var importTagMoods bool

var importCmd = &cobra.Command{
	Use:   "import <file> [file ...]",
	Short: "Store profile bundles from YAML or JSON files",
	Long: `Import reads one profile bundle or a list of bundles per file ("-" for
stdin) and stores them, replacing the clusters of existing identities.

With --tag-moods, clusters without a mood are labelled by the configured
LLM before they are stored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

var showCmd = &cobra.Command{
	Use:   "show <identity>",
	Short: "Print a stored profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <identity>",
	Short: "Remove a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	importCmd.Flags().BoolVar(&importTagMoods, "tag-moods", false, "label clusters without a mood using the LLM provider")
	rootCmd.AddCommand(importCmd, showCmd, deleteCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(setupLogger(nil))
	defer cancel()

	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if importTagMoods && c.Tagger == nil {
		return fmt.Errorf("--tag-moods needs an LLM provider (set providers.llm in config)")
	}

	var bundles []engine.ProfileBundle
	for _, path := range args {
		bs, err := readBundles(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		bundles = append(bundles, bs...)
	}

	n, err := importBundles(ctx, c, bundles, importTagMoods, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d profiles.\n", n, len(bundles))
	if n < len(bundles) {
		return fmt.Errorf("%d profiles could not be imported", len(bundles)-n)
	}
	return nil
}

// importBundles stores bundles and returns how many succeeded. Invalid
// bundles are logged and skipped; cancellation stops the import.
func importBundles(ctx context.Context, c *components, bundles []engine.ProfileBundle, tag bool, progressOut io.Writer) (int, error) {
	bar := newProgress("Importing", len(bundles), progressOut)
	imported, tagged := 0, 0

	for _, b := range bundles {
		if err := ctx.Err(); err != nil {
			return imported, err
		}
		if tag && c.Tagger != nil {
			out, n, err := c.Tagger.TagBundle(ctx, b)
			if err != nil {
				return imported, fmt.Errorf("tagging %s: %w", b.Identity, err)
			}
			b = out
			tagged += n
		}
		if err := c.Store.UpsertProfile(b); err != nil {
			c.Logger.Warn("skipping profile", "identity", b.Identity, "error", err)
			bar.Step(false)
			continue
		}
		imported++
		bar.Step(true)
	}
	bar.Done()

	if tag {
		c.Logger.Info("mood tagging finished", "clusters_tagged", tagged)
	}
	return imported, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	c, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()

	p, err := c.Store.GetProfile(args[0])
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[0], err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p.ProfileBundle)
}

func runDelete(cmd *cobra.Command, args []string) error {
	c, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Store.DeleteProfile(args[0]); err != nil {
		return fmt.Errorf("deleting %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s.\n", args[0])
	return nil
}
