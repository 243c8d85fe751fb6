package messages

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/ccc/memzero"
	"github.com/tortoisewolfe/securemsg/conversations"
	"github.com/tortoisewolfe/securemsg/encryption"
)

type MessageService interface {
	// Send encrypts body under the conversation key and stores the result
	Send(ctx context.Context, conversationID, senderID string, key *ecdh.PrivateKey, body []byte) (*Message, error)
	// Read loads and decrypts the newest messages of a conversation for userID
	Read(ctx context.Context, conversationID, userID string, key *ecdh.PrivateKey, limit int) ([]*DecryptedMessage, error)
}

type messageService struct {
	logger        logging.Logger
	repo          MessageRepository
	conversations conversations.ConversationService
	encryptor     encryption.Encryptor
}

func NewMessageService(logger logging.Logger, repo MessageRepository, conversations conversations.ConversationService, encryptor encryption.Encryptor) *messageService {

	if logger == nil {
		logger = logging.NopLogger
	}

	return &messageService{
		logger:        logger,
		repo:          repo,
		conversations: conversations,
		encryptor:     encryptor,
	}
}

func (s *messageService) Send(ctx context.Context, conversationID, senderID string, key *ecdh.PrivateKey, body []byte) (*Message, error) {
	secret, err := s.conversations.OpenSecret(ctx, conversationID, senderID, key)
	if err != nil {
		s.logger.Error("Failed to open conversation key", "conversation_id", conversationID, "error", err)
		return nil, err
	}
	defer memzero.Zero(secret)

	iv, ciphertext, err := s.encryptor.Seal(body, secret)
	if err != nil {
		s.logger.Error("Failed to encrypt message", "conversation_id", conversationID, "error", err)
		return nil, err
	}

	message := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Ciphertext:     base64.StdEncoding.EncodeToString(ciphertext),
		IV:             base64.StdEncoding.EncodeToString(iv),
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.repo.Add(ctx, message); err != nil {
		s.logger.Error("Failed to store message", "conversation_id", conversationID, "error", err)
		return nil, err
	}

	s.logger.Debug("Message sent", "message_id", message.ID, "conversation_id", conversationID)
	return message, nil
}

func (s *messageService) Read(ctx context.Context, conversationID, userID string, key *ecdh.PrivateKey, limit int) ([]*DecryptedMessage, error) {
	secret, err := s.conversations.OpenSecret(ctx, conversationID, userID, key)
	if err != nil {
		s.logger.Error("Failed to open conversation key", "conversation_id", conversationID, "error", err)
		return nil, err
	}
	defer memzero.Zero(secret)

	stored, err := s.repo.GetByConversation(ctx, conversationID, limit)
	if err != nil {
		s.logger.Error("Failed to load messages", "conversation_id", conversationID, "error", err)
		return nil, err
	}

	decrypted := make([]*DecryptedMessage, 0, len(stored))
	for _, message := range stored {
		body, err := s.decrypt(message, secret)
		if err != nil {
			s.logger.Error("Failed to decrypt message", "message_id", message.ID, "error", err)
			return nil, fmt.Errorf("failed to decrypt message %s: %w", message.ID, err)
		}
		decrypted = append(decrypted, &DecryptedMessage{Message: message, Body: body})
	}

	return decrypted, nil
}

func (s *messageService) decrypt(message *Message, secret []byte) ([]byte, error) {
	iv, err := base64.StdEncoding.DecodeString(message.IV)
	if err != nil {
		return nil, fmt.Errorf("invalid iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(message.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext: %w", err)
	}
	return s.encryptor.Open(iv, ciphertext, secret)
}
