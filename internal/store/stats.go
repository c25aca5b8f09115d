package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Stats holds aggregate counts for the status command.
type Stats struct {
	Profiles      int
	Clusters      int
	Similarities  int
	Embeddings    int
	LastUpdatedAt *time.Time
}

// GetStats returns aggregate counts across all tables.
func (d *DB) GetStats() (*Stats, error) {
	var s Stats
	counts := []struct {
		table string
		dest  *int
	}{
		{"profiles", &s.Profiles},
		{"clusters", &s.Clusters},
		{"similarity_log", &s.Similarities},
		{"embeddings", &s.Embeddings},
	}
	for _, c := range counts {
		if err := d.db.QueryRow(`SELECT COUNT(*) FROM ` + c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}

	var last sql.NullString
	if err := d.db.QueryRow(`SELECT MAX(updated_at) FROM profiles`).Scan(&last); err != nil {
		return nil, fmt.Errorf("reading last update: %w", err)
	}
	if last.Valid {
		t := parseTime(last.String)
		s.LastUpdatedAt = &t
	}
	return &s, nil
}
