package conversations

import (
	"errors"
	"fmt"
)

// StaleKeyRecordError indicates that stored keys changed after a write was
// prepared: a rekey's key record is no longer the expected legacy record or
// its secret set differs, or a new secret's recipient key was replaced.
type StaleKeyRecordError struct {
	UserID string
	Reason string
}

func (e *StaleKeyRecordError) Error() string {
	return fmt.Sprintf("stored keys of user %s changed: %s", e.UserID, e.Reason)
}

func NewStaleKeyRecordError(userID, reason string) error {
	return &StaleKeyRecordError{UserID: userID, Reason: reason}
}

func IsStaleKeyRecordError(err error) bool {
	var target *StaleKeyRecordError
	return errors.As(err, &target)
}

// ParticipantKeyMissingError indicates that a participant has no key record yet
type ParticipantKeyMissingError struct {
	UserID string
}

func (e *ParticipantKeyMissingError) Error() string {
	return "participant has no public key: " + e.UserID
}

func NewParticipantKeyMissingError(userID string) error {
	return &ParticipantKeyMissingError{UserID: userID}
}

func IsParticipantKeyMissingError(err error) bool {
	var target *ParticipantKeyMissingError
	return errors.As(err, &target)
}

// SecretNotFoundError indicates that a user holds no secret for a conversation
type SecretNotFoundError struct {
	ConversationID string
	UserID         string
}

func (e *SecretNotFoundError) Error() string {
	return fmt.Sprintf("no secret for user %s in conversation %s", e.UserID, e.ConversationID)
}

func NewSecretNotFoundError(conversationID, userID string) error {
	return &SecretNotFoundError{ConversationID: conversationID, UserID: userID}
}

func IsSecretNotFoundError(err error) bool {
	var target *SecretNotFoundError
	return errors.As(err, &target)
}
