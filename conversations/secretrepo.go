package conversations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tortoisewolfe/securemsg/ccc/db"
	"github.com/tortoisewolfe/securemsg/userkeys"
)

type SecretRepository interface {
	// GetForUser retrieves every conversation secret wrapped for a user
	GetForUser(ctx context.Context, userID string) ([]*ConversationSecret, error)
	// Get retrieves one participant's secret of a conversation, or nil if there is none
	Get(ctx context.Context, conversationID, userID string) (*ConversationSecret, error)
	// CreateAll stores the secrets of a new conversation in one transaction.
	// recipientKeys maps every recipient to the public key JWK its secret was
	// wrapped for; a recipient whose stored key differs aborts the insert.
	CreateAll(ctx context.Context, secrets []*ConversationSecret, recipientKeys map[string]string) error
	// CommitRekey applies a staged rekey all-or-nothing: the key record and all
	// secrets change together or nothing changes
	CommitRekey(ctx context.Context, rekey *Rekey) error
}

// SQLiteSecretRepository implements SecretRepository using SQLite.
// CommitRekey also writes the user_keys table owned by the userkeys package,
// so both repositories must share the same database.
type SQLiteSecretRepository struct {
	db *sql.DB
}

// NewSQLiteSecretRepository creates a new SQLite-based SecretRepository
func NewSQLiteSecretRepository(db *sql.DB) (*SQLiteSecretRepository, error) {
	repo := &SQLiteSecretRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteSecretRepository) createTables() error {
	createSecretsTable := `
	CREATE TABLE IF NOT EXISTS conversation_secrets (
		conversation_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		encrypted_secret TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_secrets_user ON conversation_secrets(user_id);`

	_, err := r.db.Exec(createSecretsTable)
	return err
}

func scanSecret(scanner interface{ Scan(dest ...any) error }) (*ConversationSecret, error) {
	secret := &ConversationSecret{}
	var createdAtStr, updatedAtStr string
	if err := scanner.Scan(&secret.ConversationID, &secret.UserID, &secret.EncryptedSecret, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	var err error
	secret.CreatedAt, err = db.StringToTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
	}

	secret.UpdatedAt, err = db.StringToTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at timestamp: %w", err)
	}

	return secret, nil
}

// GetForUser retrieves every conversation secret wrapped for a user
func (r *SQLiteSecretRepository) GetForUser(ctx context.Context, userID string) ([]*ConversationSecret, error) {
	query := `
	SELECT conversation_id, user_id, encrypted_secret, created_at, updated_at
	FROM conversation_secrets WHERE user_id = ? ORDER BY conversation_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation secrets: %w", err)
	}
	defer rows.Close()

	var secrets []*ConversationSecret
	for rows.Next() {
		secret, err := scanSecret(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation secret: %w", err)
		}
		secrets = append(secrets, secret)
	}

	return secrets, rows.Err()
}

// Get retrieves one participant's secret of a conversation
// Returns nil if there is none (this is not an error)
func (r *SQLiteSecretRepository) Get(ctx context.Context, conversationID, userID string) (*ConversationSecret, error) {
	query := `
	SELECT conversation_id, user_id, encrypted_secret, created_at, updated_at
	FROM conversation_secrets WHERE conversation_id = ? AND user_id = ?`

	secret, err := scanSecret(r.db.QueryRowContext(ctx, query, conversationID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation secret: %w", err)
	}
	return secret, nil
}

// CreateAll stores the secrets of a new conversation in one transaction.
// Each recipient's key record is re-read inside the transaction so a secret
// is never stored for a key that was replaced after it was wrapped.
func (r *SQLiteSecretRepository) CreateAll(ctx context.Context, secrets []*ConversationSecret, recipientKeys map[string]string) error {
	query := `
	INSERT INTO conversation_secrets (conversation_id, user_id, encrypted_secret, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, secret := range secrets {
			expected, ok := recipientKeys[secret.UserID]
			if !ok {
				return fmt.Errorf("no recipient key given for %s", secret.UserID)
			}

			var current string
			err := tx.QueryRowContext(ctx, `SELECT public_key_jwk FROM user_keys WHERE user_id = ?`, secret.UserID).Scan(&current)
			if err == sql.ErrNoRows {
				return NewStaleKeyRecordError(secret.UserID, "key record no longer exists")
			}
			if err != nil {
				return fmt.Errorf("failed to read key record of %s: %w", secret.UserID, err)
			}
			if current != expected {
				return NewStaleKeyRecordError(secret.UserID, "public key changed after the secret was wrapped")
			}

			_, err = tx.ExecContext(ctx, query,
				secret.ConversationID, secret.UserID, secret.EncryptedSecret,
				db.TimeToString(secret.CreatedAt), db.TimeToString(secret.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("failed to create conversation secret %s/%s: %w", secret.ConversationID, secret.UserID, err)
			}
		}
		return nil
	})
}

// CommitRekey swaps the user's legacy key record for the derived one and
// replaces every staged secret inside a single transaction
func (r *SQLiteSecretRepository) CommitRekey(ctx context.Context, rekey *Rekey) error {
	now := time.Now().UTC()

	updateSecret := `
	UPDATE conversation_secrets
	SET encrypted_secret = ?, updated_at = ?
	WHERE conversation_id = ? AND user_id = ?`

	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		applied, err := userkeys.ReplaceLegacyKeyTx(ctx, tx, rekey.UserID, rekey.ExpectedPublicKeyJWK, rekey.PublicKeyJWK, rekey.Salt, now)
		if err != nil {
			return err
		}
		if !applied {
			return NewStaleKeyRecordError(rekey.UserID, "key record is no longer the expected legacy record")
		}

		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_secrets WHERE user_id = ?`, rekey.UserID).Scan(&stored); err != nil {
			return fmt.Errorf("failed to count conversation secrets: %w", err)
		}
		if stored != len(rekey.Secrets) {
			return NewStaleKeyRecordError(rekey.UserID, fmt.Sprintf("expected %d conversation secrets, found %d", len(rekey.Secrets), stored))
		}

		for _, secret := range rekey.Secrets {
			if secret.UserID != rekey.UserID {
				return fmt.Errorf("secret of conversation %s belongs to %s, not %s", secret.ConversationID, secret.UserID, rekey.UserID)
			}

			result, err := tx.ExecContext(ctx, updateSecret,
				secret.EncryptedSecret, db.TimeToString(now),
				secret.ConversationID, secret.UserID,
			)
			if err != nil {
				return fmt.Errorf("failed to update conversation secret %s: %w", secret.ConversationID, err)
			}

			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected: %w", err)
			}
			if rowsAffected != 1 {
				return NewStaleKeyRecordError(rekey.UserID, "conversation secret "+secret.ConversationID+" no longer exists")
			}
		}

		return nil
	})
}
