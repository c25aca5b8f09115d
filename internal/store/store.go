package store

import (
	"time"

	"github.com/jacklau/affinity/internal/engine"
)

// Store defines the storage operations used by the rank pipeline, the
// watcher and the HTTP API. It is satisfied by *DB and can be replaced with a
// mock for testing.
type Store interface {
	GetProfile(identity string) (*Profile, error)
	ListProfiles() ([]Profile, error)
	ListProfilesUpdatedSince(t time.Time) ([]Profile, error)
	UpsertProfile(b engine.ProfileBundle) error
	LogSimilarity(l *SimilarityLog) error
	MarkNotified(id int64, channels []string) error
	NotifiedSince(a, b string, since time.Time) (bool, error)
}

var _ Store = (*DB)(nil)
