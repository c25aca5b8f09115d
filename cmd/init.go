package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacklau/affinity/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup for the affinity configuration",
	Long:  `Creates a configuration file with guided prompts.`,
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

// initAnswers are the choices gathered by init.
type initAnswers struct {
	EmbedProvider string
	LLMProvider   string
	CacheBackend  string
	SlackURL      string
	DiscordURL    string
}

// prompter asks questions on one reader.
type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func (p prompter) ask(question, def string) string {
	if def != "" {
		fmt.Fprintf(p.w, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(p.w, "%s (or press Enter to skip): ", question)
	}
	answer, _ := p.r.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def
	}
	return answer
}

func runInit(cmd *cobra.Command, args []string) error {
	p := prompter{r: bufio.NewReader(cmd.InOrStdin()), w: cmd.OutOrStdout()}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Welcome to affinity setup!")
	fmt.Fprintln(out, "This will create a configuration file for you.")
	fmt.Fprintln(out)

	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
		answer := strings.ToLower(p.ask("Overwrite? (y/N)", "n"))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	answers := initAnswers{
		EmbedProvider: p.ask("Embedding provider (openai/ollama/none)", "openai"),
		LLMProvider:   p.ask("LLM provider for mood tagging (openai/ollama/anthropic/none)", "none"),
		CacheBackend:  p.ask("Pair cache backend (memory/redis)", "memory"),
		SlackURL:      p.ask("Slack webhook URL", ""),
		DiscordURL:    p.ask("Discord webhook URL", ""),
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(buildConfigYAML(answers)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", configPath)
	fmt.Fprintln(out, "Edit the file to add API keys and tune the similarity weights.")
	return nil
}

func buildConfigYAML(a initAnswers) string {
	var b strings.Builder

	b.WriteString("# affinity configuration\n\n")

	b.WriteString("providers:\n")
	if a.EmbedProvider != "none" && a.EmbedProvider != "" {
		model, key := embeddingProviderDefaults(a.EmbedProvider)
		fmt.Fprintf(&b, "  embedding:\n    type: %s\n    model: %s\n    api_key: %s\n", a.EmbedProvider, model, key)
	} else {
		b.WriteString("  # embedding:\n  #   type: openai\n")
	}
	if a.LLMProvider != "none" && a.LLMProvider != "" {
		model, key := llmProviderDefaults(a.LLMProvider)
		fmt.Fprintf(&b, "  llm:\n    type: %s\n    model: %s\n    api_key: %s\n", a.LLMProvider, model, key)
	} else {
		b.WriteString("  # llm:\n  #   type: anthropic\n")
	}
	b.WriteString("\n")

	b.WriteString("similarity:\n")
	b.WriteString("  weights:\n    description: 0.6\n    keywords: 0.3\n    mood: 0.1\n")
	b.WriteString("  high_similarity_threshold: 0.7\n")
	b.WriteString("  primary_keywords: 3\n")
	b.WriteString("  aggregation: layers\n")
	b.WriteString("  embed_timeout: 10s\n\n")

	b.WriteString("cache:\n")
	fmt.Fprintf(&b, "  backend: %s\n", a.CacheBackend)
	b.WriteString("  ttl: 30m\n")
	if a.CacheBackend == "redis" {
		b.WriteString("  redis_url: redis://localhost:6379/0\n")
	}
	b.WriteString("\n")

	b.WriteString("embeddings:\n  persist: true\n\n")

	b.WriteString("notify:\n")
	writeOptional(&b, "slack_webhook", a.SlackURL, "https://hooks.slack.com/services/...")
	writeOptional(&b, "discord_webhook", a.DiscordURL, "https://discord.com/api/webhooks/...")
	b.WriteString("\n")

	b.WriteString("store:\n  path: ~/.affinity/affinity.db\n")
	return b.String()
}

func writeOptional(b *strings.Builder, key, value, placeholder string) {
	if value != "" {
		fmt.Fprintf(b, "  %s: %s\n", key, value)
		return
	}
	fmt.Fprintf(b, "  # %s: %s\n", key, placeholder)
}

// embeddingProviderDefaults returns the default model and api_key placeholder
// for the given embedding provider type.
func embeddingProviderDefaults(provider string) (model, apiKey string) {
	switch provider {
	case "ollama":
		return "nomic-embed-text", `""`
	default:
		return "text-embedding-3-small", "${OPENAI_API_KEY}"
	}
}

// llmProviderDefaults returns the default model and api_key placeholder
// for the given LLM provider type.
func llmProviderDefaults(provider string) (model, apiKey string) {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-20250514", "${ANTHROPIC_API_KEY}"
	case "ollama":
		return "llama3", `""`
	default:
		return "gpt-4o-mini", "${OPENAI_API_KEY}"
	}
}
