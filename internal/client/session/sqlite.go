package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mbalashov/sessiond/internal/client/migrations"
	"github.com/mbalashov/sessiond/internal/common"
	"github.com/mbalashov/sessiond/internal/dbx"
)

// SQLiteStore keeps the session in a single-row table. Every mutation
// rewrites the whole row in one statement, so the token pair is always
// observed together.
type SQLiteStore struct {
	db dbx.DBTX
}

func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// RunMigrations applies the embedded client schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens the client database, applies migrations, and returns a
// store backed by it.
func InitDatabase(ctx context.Context, dsn string) (*SQLiteStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return NewSQLiteStore(db), db, nil
}

func (s *SQLiteStore) Tokens(ctx context.Context) (string, string, error) {
	var access, refresh string
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token FROM session WHERE id = 1`).
		Scan(&access, &refresh)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", common.ErrorNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read tokens: %w", err)
	}
	return access, refresh, nil
}

func (s *SQLiteStore) SetTokens(ctx context.Context, access, refresh string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, access_token, refresh_token) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = CURRENT_TIMESTAMP
	`, access, refresh)
	if err != nil {
		return fmt.Errorf("failed to set tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetSession(ctx context.Context, access, refresh string, profile *Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session (id, access_token, refresh_token, user_id, email, name)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			user_id = excluded.user_id,
			email = excluded.email,
			name = excluded.name,
			updated_at = CURRENT_TIMESTAMP
	`, access, refresh, profile.UserID, profile.Email, profile.Name)
	if err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) User(ctx context.Context) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, name FROM session WHERE id = 1`).
		Scan(&p.UserID, &p.Email, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session`)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
