package conversations

import (
	"context"
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/ccc/memzero"
	"github.com/tortoisewolfe/securemsg/encryption"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/userkeys"
)

type ConversationService interface {
	// Create generates a fresh conversation key and stores one wrapped copy per participant
	Create(ctx context.Context, conversationID string, participantIDs []string) error
	// OpenSecret unwraps the caller's copy of a conversation key
	OpenSecret(ctx context.Context, conversationID, userID string, key *ecdh.PrivateKey) ([]byte, error)
}

type conversationService struct {
	logger    logging.Logger
	secrets   SecretRepository
	userKeys  userkeys.UserKeyRepository
	encryptor encryption.Encryptor
	wrapper   encryption.KeyWrapper
}

func NewConversationService(logger logging.Logger, secrets SecretRepository, userKeys userkeys.UserKeyRepository, encryptor encryption.Encryptor, wrapper encryption.KeyWrapper) *conversationService {

	if logger == nil {
		logger = logging.NopLogger
	}

	return &conversationService{
		logger:    logger,
		secrets:   secrets,
		userKeys:  userKeys,
		encryptor: encryptor,
		wrapper:   wrapper,
	}
}

func (s *conversationService) Create(ctx context.Context, conversationID string, participantIDs []string) error {
	s.logger.Info("Creating conversation", "conversation_id", conversationID, "participants", len(participantIDs))

	if conversationID == "" || len(participantIDs) == 0 {
		return fmt.Errorf("conversation needs an id and at least one participant")
	}

	// Resolve every participant's public key before generating anything
	recipients := make(map[string]*ecdh.PublicKey, len(participantIDs))
	recipientKeys := make(map[string]string, len(participantIDs))
	for _, userID := range participantIDs {
		if _, seen := recipients[userID]; seen {
			continue
		}
		pub, jwk, err := s.publicKeyOf(ctx, userID)
		if err != nil {
			s.logger.Error("Failed to resolve participant key", "user_id", userID, "error", err)
			return err
		}
		recipients[userID] = pub
		recipientKeys[userID] = jwk
	}

	secret, err := s.encryptor.GenerateKey()
	if err != nil {
		s.logger.Error("Failed to generate conversation key", "error", err)
		return err
	}
	defer memzero.Zero(secret)

	now := time.Now().UTC()
	wrapped := make([]*ConversationSecret, 0, len(recipients))
	for _, userID := range participantIDs {
		pub, ok := recipients[userID]
		if !ok {
			continue
		}
		delete(recipients, userID)

		encoded, err := WrapSecret(s.wrapper, secret, pub)
		if err != nil {
			s.logger.Error("Failed to wrap conversation key", "user_id", userID, "error", err)
			return err
		}

		wrapped = append(wrapped, &ConversationSecret{
			ConversationID:  conversationID,
			UserID:          userID,
			EncryptedSecret: encoded,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	if err := s.secrets.CreateAll(ctx, wrapped, recipientKeys); err != nil {
		if IsStaleKeyRecordError(err) {
			s.logger.Warn("Participant key changed while creating conversation", "conversation_id", conversationID, "error", err)
			return err
		}
		s.logger.Error("Failed to store conversation secrets", "conversation_id", conversationID, "error", err)
		return err
	}

	s.logger.Info("Conversation created", "conversation_id", conversationID)
	return nil
}

// publicKeyOf returns the participant's current public key and its stored JWK
func (s *conversationService) publicKeyOf(ctx context.Context, userID string) (*ecdh.PublicKey, string, error) {
	record, err := s.userKeys.Get(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	if record == nil {
		return nil, "", NewParticipantKeyMissingError(userID)
	}

	jwk, err := keyderivation.ParseJWK(record.PublicKeyJWK)
	if err != nil {
		return nil, "", fmt.Errorf("stored public key of %s is invalid: %w", userID, err)
	}
	pub, err := jwk.PublicKey()
	if err != nil {
		return nil, "", err
	}
	return pub, record.PublicKeyJWK, nil
}

func (s *conversationService) OpenSecret(ctx context.Context, conversationID, userID string, key *ecdh.PrivateKey) ([]byte, error) {
	stored, err := s.secrets.Get(ctx, conversationID, userID)
	if err != nil {
		s.logger.Error("Failed to load conversation secret", "conversation_id", conversationID, "error", err)
		return nil, err
	}
	if stored == nil {
		return nil, NewSecretNotFoundError(conversationID, userID)
	}

	return UnwrapSecret(s.wrapper, stored.EncryptedSecret, key)
}

// UnwrapSecret decodes a stored secret and unwraps it with key
func UnwrapSecret(wrapper encryption.KeyWrapper, encoded string, key *ecdh.PrivateKey) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode conversation secret: %w", err)
	}
	return wrapper.Unwrap(blob, key)
}

// WrapSecret wraps a conversation key for recipient and encodes it for storage
func WrapSecret(wrapper encryption.KeyWrapper, secret []byte, recipient *ecdh.PublicKey) (string, error) {
	blob, err := wrapper.Wrap(secret, recipient)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}
