package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacklau/affinity/internal/engine"
)

// Profile is a stored bundle with its bookkeeping timestamps.
type Profile struct {
	engine.ProfileBundle
	ID        int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertProfile replaces the stored clusters of the bundle's identity and
// bumps its updated_at.
func (d *DB) UpsertProfile(b engine.ProfileBundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	identity := strings.TrimSpace(b.Identity)
	now := d.timestamp()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning profile transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO profiles (identity, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET updated_at = excluded.updated_at`,
		identity, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting profile %s: %w", identity, err)
	}

	var id int64
	if err := tx.QueryRow(`SELECT id FROM profiles WHERE identity = ?`, identity).Scan(&id); err != nil {
		return fmt.Errorf("reading profile id: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM clusters WHERE profile_id = ?`, id); err != nil {
		return fmt.Errorf("clearing clusters of %s: %w", identity, err)
	}

	for i, c := range b.Clusters {
		keywords, err := json.Marshal(c.Keywords)
		if err != nil {
			return fmt.Errorf("marshaling keywords: %w", err)
		}
		_, err = tx.Exec(`
			INSERT INTO clusters (profile_id, position, description, keywords, mood)
			VALUES (?, ?, ?, ?, ?)`,
			id, i, nullStr(c.Description), string(keywords), nullStr(c.Mood),
		)
		if err != nil {
			return fmt.Errorf("inserting cluster %d of %s: %w", i, identity, err)
		}
	}

	return tx.Commit()
}

// GetProfile returns the profile of identity, or ErrNotFound.
func (d *DB) GetProfile(identity string) (*Profile, error) {
	var p Profile
	var createdAt, updatedAt string
	err := d.db.QueryRow(
		`SELECT id, identity, created_at, updated_at FROM profiles WHERE identity = ?`,
		strings.TrimSpace(identity),
	).Scan(&p.ID, &p.Identity, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", identity, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile %s: %w", identity, err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)

	clusters, err := d.clustersOf([]int64{p.ID})
	if err != nil {
		return nil, err
	}
	p.Clusters = clusters[p.ID]
	return &p, nil
}

// ListProfiles returns every profile ordered by identity.
func (d *DB) ListProfiles() ([]Profile, error) {
	return d.queryProfiles(`SELECT id, identity, created_at, updated_at FROM profiles ORDER BY identity`)
}

// ListProfilesUpdatedSince returns profiles updated strictly after t, oldest
// update first.
func (d *DB) ListProfilesUpdatedSince(t time.Time) ([]Profile, error) {
	return d.queryProfiles(`
		SELECT id, identity, created_at, updated_at FROM profiles
		WHERE updated_at > ? ORDER BY updated_at, identity`,
		formatTime(t),
	)
}

// DeleteProfile removes a profile and its clusters.
func (d *DB) DeleteProfile(identity string) error {
	res, err := d.db.Exec(`DELETE FROM profiles WHERE identity = ?`, strings.TrimSpace(identity))
	if err != nil {
		return fmt.Errorf("deleting profile %s: %w", identity, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", identity, ErrNotFound)
	}
	return nil
}

func (d *DB) queryProfiles(query string, args ...any) ([]Profile, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}

	var profiles []Profile
	var ids []int64
	for rows.Next() {
		var p Profile
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Identity, &createdAt, &updatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		profiles = append(profiles, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the only connection before loading clusters.
	rows.Close()

	clusters, err := d.clustersOf(ids)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		profiles[i].Clusters = clusters[profiles[i].ID]
	}
	return profiles, nil
}

// clustersOf loads the clusters of the given profiles in position order.
func (d *DB) clustersOf(ids []int64) (map[int64][]engine.InterestCluster, error) {
	out := make(map[int64][]engine.InterestCluster, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.Query(`
		SELECT profile_id, description, keywords, mood FROM clusters
		WHERE profile_id IN (`+placeholders+`)
		ORDER BY profile_id, position`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("loading clusters: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var profileID int64
		var description, keywords, mood sql.NullString
		var c engine.InterestCluster
		if err := rows.Scan(&profileID, &description, &keywords, &mood); err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		c.Description = description.String
		c.Mood = mood.String
		if keywords.Valid && keywords.String != "" {
			if err := json.Unmarshal([]byte(keywords.String), &c.Keywords); err != nil {
				return nil, fmt.Errorf("decoding keywords of profile %d: %w", profileID, err)
			}
		}
		out[profileID] = append(out[profileID], c)
	}
	return out, rows.Err()
}
