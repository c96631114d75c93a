//go:build sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/estatedesk/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
			kind UNINDEXED,
			id UNINDEXED,
			label,
			data,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(ctx context.Context, tx *sql.Tx, e models.Entity) error {
	ftsDelete(ctx, tx, e.Kind, e.ID)
	_, err := tx.ExecContext(ctx, `INSERT INTO entities_fts (kind, id, label, data) VALUES (?, ?, ?, ?)`,
		string(e.Kind), e.ID, e.Label, string(e.Data))
	if err != nil {
		return fmt.Errorf("store: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(ctx context.Context, tx *sql.Tx, kind models.Kind, id string) {
	_, _ = tx.ExecContext(ctx, `DELETE FROM entities_fts WHERE kind = ? AND id = ?`, string(kind), id)
}

// Search runs an FTS5 query over labels and payloads, best matches first.
// An empty kind searches every kind.
func (db *DB) Search(ctx context.Context, kind models.Kind, query string, limit int) ([]models.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT kind, id, label
		FROM entities_fts
		WHERE entities_fts MATCH ? AND (? = '' OR kind = ?)
		ORDER BY rank
		LIMIT ?
	`, query, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	out := []models.Summary{}
	for rows.Next() {
		var s models.Summary
		var k string
		if err := rows.Scan(&k, &s.ID, &s.Label); err != nil {
			return nil, err
		}
		s.Kind = models.Kind(k)
		out = append(out, s)
	}
	return out, rows.Err()
}
