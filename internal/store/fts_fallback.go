//go:build !sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/estatedesk/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not compiled in; Search falls back to LIKE over label and data.
	return nil
}

func ftsUpsert(_ context.Context, _ *sql.Tx, _ models.Entity) error { return nil }

func ftsDelete(_ context.Context, _ *sql.Tx, _ models.Kind, _ string) {}

// Search returns entities of kind whose label or payload contains query.
// An empty kind searches every kind.
func (db *DB) Search(ctx context.Context, kind models.Kind, query string, limit int) ([]models.Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	like := likePattern(query)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT kind, id, label
		FROM entities
		WHERE (? = '' OR kind = ?)
		  AND (label LIKE ? ESCAPE '\' OR data LIKE ? ESCAPE '\')
		ORDER BY label COLLATE NOCASE, id
		LIMIT ?
	`, string(kind), string(kind), like, like, limit)
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
