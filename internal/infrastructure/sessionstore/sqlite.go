package sessionstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore keeps the record in a local SQLite database so it survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ port.SessionStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at dbPath and applies migrations.
func OpenSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// migrate runs the embedded scripts in file-name order. Scripts are idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		raw, err := migrationFS.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := db.ExecContext(ctx, string(raw)); err != nil {
			return fmt.Errorf("exec migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, key string) (*entity.SessionRecord, error) {
	var (
		rec     entity.SessionRecord
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet_id, derived_address, secret_material, owner_identity, updated_at
		FROM session_records WHERE record_key = ?`, key).
		Scan(&rec.WalletID, &rec.DerivedAddress, &rec.SecretMaterial, &rec.OwnerIdentity, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session record: %w", err)
	}
	rec.UpdatedAt = time.UnixMilli(updated)
	return &rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, key string, record entity.SessionRecord) error {
	updated := record.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_records (record_key, wallet_id, derived_address, secret_material, owner_identity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_key) DO UPDATE SET
			wallet_id = excluded.wallet_id,
			derived_address = excluded.derived_address,
			secret_material = excluded.secret_material,
			owner_identity = excluded.owner_identity,
			updated_at = excluded.updated_at`,
		key, record.WalletID, record.DerivedAddress, record.SecretMaterial, record.OwnerIdentity, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("save session record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_records WHERE record_key = ?`, key); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
