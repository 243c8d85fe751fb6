package userkeys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tortoisewolfe/securemsg/ccc/db"
)

type UserKeyRepository interface {
	// Get retrieves the key record of a user, or nil if there is none
	Get(ctx context.Context, userID string) (*UserKeyRecord, error)
	// Create stores a record for a user that has none. The first writer wins;
	// later writers get a UserKeyAlreadyExistsError.
	Create(ctx context.Context, record *UserKeyRecord) error
	// Upsert creates or replaces the record of a user
	Upsert(ctx context.Context, record *UserKeyRecord) error
}

// SQLiteUserKeyRepository implements UserKeyRepository using SQLite
type SQLiteUserKeyRepository struct {
	db *sql.DB
}

// NewSQLiteUserKeyRepository creates a new SQLite-based UserKeyRepository
func NewSQLiteUserKeyRepository(db *sql.DB) (*SQLiteUserKeyRepository, error) {
	repo := &SQLiteUserKeyRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteUserKeyRepository) createTables() error {
	createUserKeysTable := `
	CREATE TABLE IF NOT EXISTS user_keys (
		user_id TEXT PRIMARY KEY,
		public_key_jwk TEXT NOT NULL,
		salt TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`

	_, err := r.db.Exec(createUserKeysTable)
	return err
}

// Get retrieves the key record of a user
// Returns nil if no record exists (this is not an error)
func (r *SQLiteUserKeyRepository) Get(ctx context.Context, userID string) (*UserKeyRecord, error) {
	query := `
	SELECT user_id, public_key_jwk, salt, created_at, updated_at
	FROM user_keys WHERE user_id = ?`

	row := r.db.QueryRowContext(ctx, query, userID)

	record := &UserKeyRecord{}
	var salt sql.NullString
	var createdAtStr, updatedAtStr string
	err := row.Scan(&record.UserID, &record.PublicKeyJWK, &salt, &createdAtStr, &updatedAtStr)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user key record: %w", err)
	}
	record.Salt = db.NullToStringPtr(salt)

	record.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}

	record.UpdatedAt, err = db.StringToTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}

	return record, nil
}

// Create adds a record for a user that has none
func (r *SQLiteUserKeyRepository) Create(ctx context.Context, record *UserKeyRecord) error {
	query := `
	INSERT INTO user_keys (user_id, public_key_jwk, salt, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		record.UserID, record.PublicKeyJWK, db.StringPtrToNull(record.Salt),
		db.TimeToString(record.CreatedAt), db.TimeToString(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create user key record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return NewUserKeyAlreadyExistsError(record.UserID)
	}

	return nil
}

// Upsert creates or replaces the record of a user
func (r *SQLiteUserKeyRepository) Upsert(ctx context.Context, record *UserKeyRecord) error {
	query := `
	INSERT INTO user_keys (user_id, public_key_jwk, salt, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		public_key_jwk = excluded.public_key_jwk,
		salt = excluded.salt,
		updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		record.UserID, record.PublicKeyJWK, db.StringPtrToNull(record.Salt),
		db.TimeToString(record.CreatedAt), db.TimeToString(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user key record: %w", err)
	}

	return nil
}

// ReplaceLegacyKeyTx swaps a legacy record for a password-derived one inside tx.
// The update only applies while the record is still legacy and still holds
// expectedPublicKeyJWK; the returned bool reports whether it applied.
func ReplaceLegacyKeyTx(ctx context.Context, tx *sql.Tx, userID, expectedPublicKeyJWK, publicKeyJWK, salt string, updatedAt time.Time) (bool, error) {
	query := `
	UPDATE user_keys
	SET public_key_jwk = ?, salt = ?, updated_at = ?
	WHERE user_id = ? AND salt IS NULL AND public_key_jwk = ?`

	result, err := tx.ExecContext(ctx, query,
		publicKeyJWK, salt, db.TimeToString(updatedAt),
		userID, expectedPublicKeyJWK,
	)
	if err != nil {
		return false, fmt.Errorf("failed to replace legacy key record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}
