package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jacklau/affinity/internal/engine"
)

// decodeBundles reads one bundle or a list of bundles. JSON input works too
// since it is valid YAML.
func decodeBundles(r io.Reader) ([]engine.ProfileBundle, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}

	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	var bundles []engine.ProfileBundle
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&bundles); err != nil {
			return nil, fmt.Errorf("decoding profile list: %w", err)
		}
	case yaml.MappingNode:
		var b engine.ProfileBundle
		if err := node.Decode(&b); err != nil {
			return nil, fmt.Errorf("decoding profile: %w", err)
		}
		bundles = append(bundles, b)
	default:
		return nil, fmt.Errorf("expected a profile or a list of profiles at line %d", node.Line)
	}
	return bundles, nil
}

// readBundles decodes a file, or stdin for "-".
func readBundles(path string) ([]engine.ProfileBundle, error) {
	if path == "-" {
		return decodeBundles(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeBundles(f)
}

// splitList turns "a, b,,c" into [a b c].
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// fileSize returns the size of path, or an error for in-memory stores.
func fileSize(path string) (int64, error) {
	if path == ":memory:" {
		return 0, fmt.Errorf("in-memory store")
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
