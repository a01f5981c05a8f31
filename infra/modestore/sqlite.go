// Package modestore persists the charge mode of each wallbox location.
package modestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/hems/core/model"
)

const schema = `CREATE TABLE IF NOT EXISTS charge_modes (
        location TEXT PRIMARY KEY,
        mode INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
    );`

// SQLiteStore implements chargemode.Store on a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return newSQLiteStore(db)
}

func newSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Load returns the persisted modes. Locations never saved, or saved under a
// name this version does not know, are unset.
func (s *SQLiteStore) Load(ctx context.Context) (model.PerLocation[model.Optional[model.ChargeMode]], error) {
	var out model.PerLocation[model.Optional[model.ChargeMode]]
	rows, err := s.db.QueryContext(ctx, `SELECT location, mode FROM charge_modes`)
	if err != nil {
		return out, fmt.Errorf("query charge modes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			loc  string
			mode int
		)
		if err := rows.Scan(&loc, &mode); err != nil {
			return out, err
		}
		l, err := model.ParseLocation(loc)
		if err != nil {
			continue
		}
		out.Set(l, model.Some(model.ChargeMode(mode)))
	}
	return out, rows.Err()
}

// Save writes both modes in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, modes model.PerLocation[model.ChargeMode]) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	ts := s.now().Unix()
	for _, l := range model.Locations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO charge_modes (location, mode, updated_at) VALUES (?, ?, ?)
             ON CONFLICT(location) DO UPDATE SET mode = excluded.mode, updated_at = excluded.updated_at`,
			l.String(), int(modes.Get(l)), ts)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("save %s mode: %w", l, err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
