package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jacklau/affinity/internal/similarity"
)

// ErrInvalidProfileBundle reports a bundle that cannot be scored at all, as
// opposed to one that merely scores 0.
var ErrInvalidProfileBundle = errors.New("invalid profile bundle")

// InterestCluster is one coherent group of a user's interests. Empty strings
// mean the field is absent.
type InterestCluster struct {
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Mood        string   `json:"mood,omitempty" yaml:"mood,omitempty"`
}

// HasDescription reports whether the cluster carries non-blank text.
func (c InterestCluster) HasDescription() bool {
	return strings.TrimSpace(c.Description) != ""
}

// ProfileBundle is a user's identity with their interest clusters. The engine
// only reads bundles.
type ProfileBundle struct {
	Identity string            `json:"identity" yaml:"identity"`
	Clusters []InterestCluster `json:"clusters" yaml:"clusters"`
}

// Validate checks that the bundle can be keyed and scored.
func (b ProfileBundle) Validate() error {
	id := strings.TrimSpace(b.Identity)
	if id == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidProfileBundle)
	}
	if strings.ContainsRune(id, '\x1f') {
		return fmt.Errorf("%w: identity %q contains a control character", ErrInvalidProfileBundle, id)
	}
	return nil
}

// pools holds the normalized keyword and mood sets of a whole bundle.
type pools struct {
	primary map[string]struct{}
	full    map[string]struct{}
	moods   map[string]struct{}
}

// bundlePools collects, per bundle, the first n normalized keywords of each
// cluster, every keyword, and every mood label.
func bundlePools(b ProfileBundle, n int) pools {
	p := pools{
		primary: make(map[string]struct{}),
		full:    make(map[string]struct{}),
		moods:   make(map[string]struct{}),
	}
	for _, c := range b.Clusters {
		kws := similarity.NormalizeKeywords(c.Keywords)
		for i, kw := range kws {
			if i < n {
				p.primary[kw] = struct{}{}
			}
			p.full[kw] = struct{}{}
		}
		if mood := similarity.NormalizeKeyword(c.Mood); mood != "" {
			p.moods[mood] = struct{}{}
		}
	}
	return p
}
