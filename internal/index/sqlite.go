package index

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS session_index (
			position INTEGER NOT NULL,
			session_id TEXT PRIMARY KEY,
			connected INTEGER NOT NULL DEFAULT 0,
			phone_number TEXT,
			pushname TEXT
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) ([]domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, connected, phone_number, pushname FROM session_index ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.SessionSummary
	for rows.Next() {
		var entry domain.SessionSummary
		var phone, pushname sql.NullString
		if err := rows.Scan(&entry.SessionID, &entry.Connected, &phone, &pushname); err != nil {
			return nil, err
		}
		if phone.Valid {
			entry.PhoneNumber = &phone.String
		}
		if pushname.Valid {
			entry.Pushname = &pushname.String
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Save implements Store. The table is replaced inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, entries []domain.SessionSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_index`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO session_index (position, session_id, connected, phone_number, pushname) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, entry := range entries {
		if _, err := stmt.ExecContext(ctx, i, entry.SessionID, entry.Connected, nullString(entry.PhoneNumber), nullString(entry.Pushname)); err != nil {
			return fmt.Errorf("insert %s: %w", entry.SessionID, err)
		}
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
