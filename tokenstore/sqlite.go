package tokenstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS secure_items (
	service TEXT NOT NULL,
	account TEXT NOT NULL,
	value   TEXT NOT NULL,
	PRIMARY KEY (service, account)
)`

// SQLiteStore keeps credentials in a SQLite table keyed by (service, account),
// one row per entry.
type SQLiteStore struct {
	db      *sql.DB
	service string
}

// OpenSQLite opens (creating if needed) the database at dsn.
func OpenSQLite(ctx context.Context, dsn, service string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open token db: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create token schema: %w", err)
	}
	return NewSQLiteStore(db, service), nil
}

// NewSQLiteStore wraps an already-migrated database.
func NewSQLiteStore(db *sql.DB, service string) *SQLiteStore {
	if service == "" {
		service = DefaultService
	}
	return &SQLiteStore{db: db, service: service}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, cred Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for account, value := range entries(cred) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO secure_items (service, account, value) VALUES (?, ?, ?)
			ON CONFLICT(service, account) DO UPDATE SET value = excluded.value
		`, s.service, account, value)
		if err != nil {
			return fmt.Errorf("failed to set %s[%s]: %w", s.service, account, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Load(ctx context.Context) (*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account, value FROM secure_items WHERE service = ?`, s.service)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	defer rows.Close()

	values := make(map[string]string, 3)
	for rows.Next() {
		var account, value string
		if err := rows.Scan(&account, &value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
		}
		values[account] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCredential, err)
	}
	return fromEntries(values)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM secure_items
		WHERE service = ? AND account IN (?, ?, ?)
	`, s.service, AccessTokenKey, RefreshTokenKey, ExpiresAtKey)
	if err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.service, err)
	}
	return nil
}
