package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/rentkeeper/internal/client/storage/migrations"
	"github.com/dmitrijs2005/rentkeeper/internal/cryptox"
	"github.com/dmitrijs2005/rentkeeper/internal/dbx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps credentials in the local credentials table. Values are
// encrypted with the client's TokenCipher before they reach disk.
type SQLiteStore struct {
	db     *sql.DB
	cipher *cryptox.TokenCipher
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded sqlite schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// OpenSQLiteStore opens (or creates) the database at dsn and migrates it.
func OpenSQLiteStore(ctx context.Context, dsn string, cipher *cryptox.TokenCipher) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local storage: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate local storage: %w", err)
	}
	return NewSQLiteStore(db, cipher), nil
}

func NewSQLiteStore(db *sql.DB, cipher *cryptox.TokenCipher) *SQLiteStore {
	return &SQLiteStore{db: db, cipher: cipher}
}

func (s *SQLiteStore) Load(ctx context.Context) (Tokens, error) {
	access, err := s.get(ctx, s.db, AuthTokenKey)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.get(ctx, s.db, RefreshTokenKey)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{Access: access, Refresh: refresh}, nil
}

// Save replaces both credentials in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, t Tokens) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.set(ctx, tx, AuthTokenKey, t.Access); err != nil {
			return err
		}
		return s.set(ctx, tx, RefreshTokenKey, t.Refresh)
	})
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE key IN (?, ?)`, AuthTokenKey, RefreshTokenKey)
	if err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) get(ctx context.Context, db dbx.DBTX, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get credential[%s]: %w", key, err)
	}

	plain, err := s.cipher.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential[%s]: %w", key, err)
	}
	return plain, nil
}

// set removes the row when value is empty.
func (s *SQLiteStore) set(ctx context.Context, db dbx.DBTX, key, value string) error {
	if value == "" {
		if _, err := db.ExecContext(ctx, `DELETE FROM credentials WHERE key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete credential[%s]: %w", key, err)
		}
		return nil
	}

	enc, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential[%s]: %w", key, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, enc)
	if err != nil {
		return fmt.Errorf("failed to set credential[%s]: %w", key, err)
	}
	return nil
}
