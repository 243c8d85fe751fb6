package messages

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/tortoisewolfe/securemsg/ccc/db"
)

// MessageRepository defines the persistence operations for encrypted messages
type MessageRepository interface {
	// Add stores a new message
	Add(ctx context.Context, message *Message) error

	// GetByConversation retrieves the newest messages of a conversation, oldest first.
	// A limit of zero or less returns all messages.
	GetByConversation(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}

// SQLiteMessageRepository implements MessageRepository using SQLite
type SQLiteMessageRepository struct {
	db *sql.DB
}

// NewSQLiteMessageRepository creates a new SQLite-based MessageRepository
func NewSQLiteMessageRepository(db *sql.DB) (*SQLiteMessageRepository, error) {
	repo := &SQLiteMessageRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteMessageRepository) createTables() error {
	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		iv TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);`

	_, err := r.db.Exec(createMessagesTable)
	return err
}

// Add stores a new message
func (r *SQLiteMessageRepository) Add(ctx context.Context, message *Message) error {
	query := `
	INSERT INTO messages (id, conversation_id, sender_id, ciphertext, iv, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		message.ID, message.ConversationID, message.SenderID,
		message.Ciphertext, message.IV, db.TimeToString(message.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

// GetByConversation retrieves the newest messages of a conversation in the
// order they were stored
func (r *SQLiteMessageRepository) GetByConversation(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	query := `
	SELECT id, conversation_id, sender_id, ciphertext, iv, created_at FROM (
		SELECT rowid AS seq, id, conversation_id, sender_id, ciphertext, iv, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY seq DESC
		LIMIT ?
	) ORDER BY seq ASC`

	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		message := &Message{}
		var createdAtStr string
		err := rows.Scan(&message.ID, &message.ConversationID, &message.SenderID, &message.Ciphertext, &message.IV, &createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		message.CreatedAt, err = db.StringToTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at timestamp: %w", err)
		}

		messages = append(messages, message)
	}

	return messages, rows.Err()
}
