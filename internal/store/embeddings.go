package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetEmbedding returns the stored vector blob for a content hash, or
// ErrNotFound.
func (d *DB) GetEmbedding(hash string) ([]byte, error) {
	var blob []byte
	err := d.db.QueryRow(`SELECT vector FROM embeddings WHERE hash = ?`, hash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading embedding: %w", err)
	}
	return blob, nil
}

// PutEmbedding stores or replaces the vector blob for a content hash.
func (d *DB) PutEmbedding(hash, model string, blob []byte) error {
	_, err := d.db.Exec(`
		INSERT INTO embeddings (hash, model, vector, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			model = excluded.model,
			vector = excluded.vector,
			created_at = excluded.created_at`,
		hash, nullStr(model), blob, d.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}

// PruneEmbeddings deletes embeddings not produced by model and returns how
// many were removed.
func (d *DB) PruneEmbeddings(model string) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM embeddings WHERE model IS NOT ?`, nullStr(model))
	if err != nil {
		return 0, fmt.Errorf("pruning embeddings: %w", err)
	}
	return res.RowsAffected()
}
