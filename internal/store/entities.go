package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/checksum"
	"github.com/starford/estatedesk/internal/models"
)

// ListOptions selects a page of entities of one kind.
type ListOptions struct {
	Kind   models.Kind
	Limit  int
	Offset int
	// Sort is one of "label" (default), "created_at", "updated_at".
	Sort string
}

var sortColumns = map[string]string{
	"":           "label COLLATE NOCASE ASC",
	"label":      "label COLLATE NOCASE ASC",
	"created_at": "created_at DESC",
	"updated_at": "updated_at DESC",
}

const entityColumns = `kind, id, label, data, checksum, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(row scanner) (models.Entity, error) {
	var e models.Entity
	var kind, data string
	if err := row.Scan(&kind, &e.ID, &e.Label, &data, &e.Checksum, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return models.Entity{}, err
	}
	e.Kind = models.Kind(kind)
	e.Data = []byte(data)
	return e, nil
}

// InsertEntity stores a new entity. It fails with apperr.ErrAlreadyExists if
// an entity with the same kind and id exists.
func (db *DB) InsertEntity(ctx context.Context, e models.Entity) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(e.Kind), e.ID, e.Label, string(e.Data), e.Checksum, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("store: %s %s: %w", e.Kind, e.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("store: insert entity: %w", err)
	}
	if err := ftsUpsert(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateEntity replaces the payload of an existing entity. When ifMatch is
// non-empty it must match the stored checksum, otherwise apperr.ErrConflict is
// returned. The stored creation time is kept; the returned entity carries it.
func (db *DB) UpdateEntity(ctx context.Context, e models.Entity, ifMatch string) (models.Entity, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Entity{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var current string
	var created time.Time
	err = tx.QueryRowContext(ctx, `SELECT checksum, created_at FROM entities WHERE kind = ? AND id = ?`,
		string(e.Kind), e.ID).Scan(&current, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, fmt.Errorf("store: %s %s: %w", e.Kind, e.ID, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("store: read checksum: %w", err)
	}
	if ifMatch != "" && !checksum.Matches(ifMatch, current) {
		return models.Entity{}, fmt.Errorf("store: %s %s: %w", e.Kind, e.ID, apperr.ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE entities SET label = ?, data = ?, checksum = ?, updated_at = ?
		WHERE kind = ? AND id = ?
	`, e.Label, string(e.Data), e.Checksum, e.UpdatedAt, string(e.Kind), e.ID)
	if err != nil {
		return models.Entity{}, fmt.Errorf("store: update entity: %w", err)
	}
	if err := ftsUpsert(ctx, tx, e); err != nil {
		return models.Entity{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Entity{}, fmt.Errorf("store: commit: %w", err)
	}
	e.CreatedAt = created
	return e, nil
}

// GetEntity returns one entity or apperr.ErrNotFound.
func (db *DB) GetEntity(ctx context.Context, kind models.Kind, id string) (models.Entity, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE kind = ? AND id = ?`, string(kind), id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, fmt.Errorf("store: %s %s: %w", kind, id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Entity{}, fmt.Errorf("store: get entity: %w", err)
	}
	return e, nil
}

// DeleteEntity removes an entity together with every link it takes part in.
func (db *DB) DeleteEntity(ctx context.Context, kind models.Kind, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("store: delete entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: %s %s: %w", kind, id, apperr.ErrNotFound)
	}
	for _, rel := range models.RelationsFor(kind) {
		if rel.Source == kind {
			if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE relation = ? AND source = ?`, rel.Name, id); err != nil {
				return fmt.Errorf("store: cascade links: %w", err)
			}
		}
		if rel.Target == kind {
			if _, err := tx.ExecContext(ctx, `DELETE FROM links WHERE relation = ? AND target = ?`, rel.Name, id); err != nil {
				return fmt.Errorf("store: cascade links: %w", err)
			}
		}
	}
	ftsDelete(ctx, tx, kind, id)
	return tx.Commit()
}

// ListEntities returns a page of entities and the total count for the kind.
func (db *DB) ListEntities(ctx context.Context, opts ListOptions) ([]models.Entity, int, error) {
	order, ok := sortColumns[opts.Sort]
	if !ok {
		return nil, 0, fmt.Errorf("store: sort %q: %w", opts.Sort, apperr.ErrValidation)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM entities WHERE kind = ?`, string(opts.Kind)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count entities: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities
		WHERE kind = ?
		ORDER BY `+order+`, id
		LIMIT ? OFFSET ?
	`, string(opts.Kind), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list entities: %w", err)
	}
	defer rows.Close()

	out := []models.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// Summaries returns every entity of kind as a summary, ordered by label.
func (db *DB) Summaries(ctx context.Context, kind models.Kind) ([]models.Summary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, label FROM entities WHERE kind = ? ORDER BY label COLLATE NOCASE, id
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("store: summaries: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows, kind)
}

func scanSummaries(rows *sql.Rows, kind models.Kind) ([]models.Summary, error) {
	out := []models.Summary{}
	for rows.Next() {
		s := models.Summary{Kind: kind}
		if err := rows.Scan(&s.ID, &s.Label); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Checksums returns id → checksum for every entity of kind.
func (db *DB) Checksums(ctx context.Context, kind models.Kind) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, checksum FROM entities WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("store: checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, cs string
		if err := rows.Scan(&id, &cs); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, rows.Err()
}

func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}
