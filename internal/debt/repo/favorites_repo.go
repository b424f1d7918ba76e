package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/takedaservice/nasiya/merchant-core-go/pkg/utilities"
)

// FavoritesRepo persists the client-local favorite annotations in the core's
// sqlite store. Favorites never leave the device; the backend has no notion
// of them.
type FavoritesRepo struct {
	db *sqlx.DB
}

func NewFavoritesRepo(db *sqlx.DB) *FavoritesRepo { return &FavoritesRepo{db: db} }

// EnsureTable creates the favorites table if not exists (idempotent).
func (r *FavoritesRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS favorites (
  id TEXT PRIMARY KEY,
  debtor_id TEXT NOT NULL UNIQUE,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Toggle flips the favorite state of a debtor and reports the new state.
func (r *FavoritesRepo) Toggle(ctx context.Context, debtorID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM favorites WHERE debtor_id = ?`, debtorID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO favorites (id, debtor_id) VALUES (?, ?)`,
		utilities.NewLocalID(), debtorID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set forces the favorite state of a debtor regardless of its current state.
func (r *FavoritesRepo) Set(ctx context.Context, debtorID string, favorite bool) error {
	if !favorite {
		_, err := r.db.ExecContext(ctx, `DELETE FROM favorites WHERE debtor_id = ?`, debtorID)
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO favorites (id, debtor_id) VALUES (?, ?)
		ON CONFLICT(debtor_id) DO NOTHING
	`, utilities.NewLocalID(), debtorID)
	return err
}

// IDs returns the set of favorited debtor IDs for display ordering.
func (r *FavoritesRepo) IDs(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT debtor_id FROM favorites`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
