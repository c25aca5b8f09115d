package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SimilarityLog records a computed user score.
type SimilarityLog struct {
	ID          int64
	IdentityA   string
	IdentityB   string
	Score       float64
	Aggregation string
	NotifiedVia string
	CreatedAt   time.Time
}

// LogSimilarity inserts a log entry.
func (d *DB) LogSimilarity(l *SimilarityLog) error {
	res, err := d.db.Exec(`
		INSERT INTO similarity_log (identity_a, identity_b, score, aggregation, notified_via, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.IdentityA, l.IdentityB, l.Score,
		nullStr(l.Aggregation), nullStr(l.NotifiedVia), d.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("logging similarity: %w", err)
	}
	l.ID, _ = res.LastInsertId()
	return nil
}

// MarkNotified records the channels a logged match was sent to.
func (d *DB) MarkNotified(id int64, channels []string) error {
	_, err := d.db.Exec(
		`UPDATE similarity_log SET notified_via = ? WHERE id = ?`,
		nullStr(strings.Join(channels, ",")), id,
	)
	if err != nil {
		return fmt.Errorf("marking similarity %d notified: %w", id, err)
	}
	return nil
}

// NotifiedSince reports whether the pair, in either order, has a log entry
// sent to some channel at or after since.
func (d *DB) NotifiedSince(a, b string, since time.Time) (bool, error) {
	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM similarity_log
		WHERE ((identity_a = ? AND identity_b = ?) OR (identity_a = ? AND identity_b = ?))
		  AND notified_via IS NOT NULL AND notified_via != ''
		  AND created_at >= ?`,
		a, b, b, a, formatTime(since),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking notifications for %s/%s: %w", a, b, err)
	}
	return n > 0, nil
}

// RecentSimilarities returns the newest log entries involving identity on
// either side.
func (d *DB) RecentSimilarities(identity string, limit int) ([]SimilarityLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(`
		SELECT id, identity_a, identity_b, score, aggregation, notified_via, created_at
		FROM similarity_log
		WHERE identity_a = ? OR identity_b = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		identity, identity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying similarity log: %w", err)
	}
	defer rows.Close()

	var logs []SimilarityLog
	for rows.Next() {
		var l SimilarityLog
		var aggregation, notified sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.IdentityA, &l.IdentityB, &l.Score, &aggregation, &notified, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning similarity log: %w", err)
		}
		l.Aggregation = aggregation.String
		l.NotifiedVia = notified.String
		l.CreatedAt = parseTime(createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
