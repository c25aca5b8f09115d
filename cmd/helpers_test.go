package cmd

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDecodeBundles(t *testing.T) {
	t.Run("single YAML bundle", func(t *testing.T) {
		in := `
identity: alice
clusters:
  - description: weekend hiking
    keywords: [hiking, trails]
    mood: calm
`
		bundles, err := decodeBundles(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(bundles) != 1 || bundles[0].Identity != "alice" {
			t.Fatalf("unexpected bundles %+v", bundles)
		}
		c := bundles[0].Clusters[0]
		if c.Mood != "calm" || !reflect.DeepEqual(c.Keywords, []string{"hiking", "trails"}) {
			t.Errorf("unexpected cluster %+v", c)
		}
	})

	t.Run("YAML list", func(t *testing.T) {
		in := "- identity: a\n- identity: b\n  clusters:\n    - keywords: [jazz]\n"
		bundles, err := decodeBundles(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(bundles) != 2 || bundles[1].Clusters[0].Keywords[0] != "jazz" {
			t.Errorf("unexpected bundles %+v", bundles)
		}
	})

	t.Run("JSON list", func(t *testing.T) {
		in := `[{"identity":"a","clusters":[{"mood":"fun"}]},{"identity":"b","clusters":[]}]`
		bundles, err := decodeBundles(strings.NewReader(in))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(bundles) != 2 || bundles[0].Clusters[0].Mood != "fun" {
			t.Errorf("unexpected bundles %+v", bundles)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		bundles, err := decodeBundles(strings.NewReader(""))
		if err != nil || len(bundles) != 0 {
			t.Errorf("expected nothing, got %v, %v", bundles, err)
		}
	})

	t.Run("scalar is rejected", func(t *testing.T) {
		if _, err := decodeBundles(strings.NewReader("just text")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		if _, err := decodeBundles(strings.NewReader("identity: [unclosed")); err == nil {
			t.Error("expected error")
		}
	})
}

func TestReadBundles_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte("identity: carol\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	bundles, err := readBundles(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bundles) != 1 || bundles[0].Identity != "carol" {
		t.Errorf("unexpected bundles %+v", bundles)
	}

	if _, err := readBundles(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" jazz, vinyl ,,piano,")
	want := []string{"jazz", "vinyl", "piano"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitList = %v, want %v", got, want)
	}
	if splitList("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	if err := os.WriteFile(path, make([]byte, 100), 0o600); err != nil {
		t.Fatal(err)
	}
	if n, err := fileSize(path); err != nil || n != 100 {
		t.Errorf("fileSize = %d, %v", n, err)
	}
	if _, err := fileSize(":memory:"); err == nil {
		t.Error("expected error for in-memory store")
	}
}
