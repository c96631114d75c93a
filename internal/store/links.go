package store

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/estatedesk/internal/models"
)

// AddLink records source→target under relation. It reports whether a new link
// was created; an existing link is left unchanged.
func (db *DB) AddLink(ctx context.Context, relation, source, target string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO links (relation, source, target, created_at) VALUES (?, ?, ?, ?)
	`, relation, source, target, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("store: add link: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveLink deletes source→target under relation. It reports whether a link
// existed; removing an absent link is not an error.
func (db *DB) RemoveLink(ctx context.Context, relation, source, target string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM links WHERE relation = ? AND source = ? AND target = ?
	`, relation, source, target)
	if err != nil {
		return false, fmt.Errorf("store: remove link: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Related returns the targets linked to source under rel, ordered by label.
// Links whose target entity no longer exists are skipped.
func (db *DB) Related(ctx context.Context, rel models.Relation, source string) ([]models.Summary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT e.id, e.label
		FROM links l
		JOIN entities e ON e.kind = ? AND e.id = l.target
		WHERE l.relation = ? AND l.source = ?
		ORDER BY e.label COLLATE NOCASE, e.id
	`, string(rel.Target), rel.Name, source)
	if err != nil {
		return nil, fmt.Errorf("store: related: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows, rel.Target)
}

// Referrers returns the sources linked to target under rel.
func (db *DB) Referrers(ctx context.Context, rel models.Relation, target string) ([]models.Summary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT e.id, e.label
		FROM links l
		JOIN entities e ON e.kind = ? AND e.id = l.source
		WHERE l.relation = ? AND l.target = ?
		ORDER BY e.label COLLATE NOCASE, e.id
	`, string(rel.Source), rel.Name, target)
	if err != nil {
		return nil, fmt.Errorf("store: referrers: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows, rel.Source)
}
