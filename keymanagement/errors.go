package keymanagement

import (
	"errors"
	"fmt"
)

// AuthenticationError indicates that there is no active session, or that the
// session was closed or belongs to another user
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return "authentication required: " + e.Err.Error()
	}
	return "authentication required"
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

func NewAuthenticationError(err error) error {
	return &AuthenticationError{Err: err}
}

func IsAuthenticationError(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// ConnectionError indicates that the key store could not be reached or refused a write
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("key store unavailable during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func NewConnectionError(op string, err error) error {
	return &ConnectionError{Op: op, Err: err}
}

func IsConnectionError(err error) bool {
	var target *ConnectionError
	return errors.As(err, &target)
}

// MigrationError reports a failed key migration and the phase it failed in.
// Nothing persisted has changed when it is returned; calling MigrateKeys again is safe.
type MigrationError struct {
	Phase   Phase
	Message string
	Err     error
}

func (e *MigrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key migration failed while %s: %s: %v", e.Phase, e.Message, e.Err)
	}
	return fmt.Sprintf("key migration failed while %s: %s", e.Phase, e.Message)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func NewMigrationError(phase Phase, message string, err error) error {
	return &MigrationError{Phase: phase, Message: message, Err: err}
}

func IsMigrationError(err error) bool {
	var target *MigrationError
	return errors.As(err, &target)
}

// MigrationPhaseOf returns the phase a migration failed in, if err is a MigrationError
func MigrationPhaseOf(err error) (Phase, bool) {
	var target *MigrationError
	if errors.As(err, &target) {
		return target.Phase, true
	}
	return 0, false
}

// OperationInProgressError is returned when another key operation of the same session is still running
type OperationInProgressError struct {
	UserID string
}

func (e *OperationInProgressError) Error() string {
	return "another key operation is in progress for user " + e.UserID
}

func NewOperationInProgressError(userID string) error {
	return &OperationInProgressError{UserID: userID}
}

func IsOperationInProgressError(err error) bool {
	var target *OperationInProgressError
	return errors.As(err, &target)
}

type KeysNotInitializedError struct {
	UserID string
}

func (e *KeysNotInitializedError) Error() string {
	return "no keys initialized for user " + e.UserID
}

func NewKeysNotInitializedError(userID string) error {
	return &KeysNotInitializedError{UserID: userID}
}

func IsKeysNotInitializedError(err error) bool {
	var target *KeysNotInitializedError
	return errors.As(err, &target)
}

type KeysAlreadyInitializedError struct {
	UserID string
}

func (e *KeysAlreadyInitializedError) Error() string {
	return "keys already initialized for user " + e.UserID
}

func NewKeysAlreadyInitializedError(userID string) error {
	return &KeysAlreadyInitializedError{UserID: userID}
}

func IsKeysAlreadyInitializedError(err error) bool {
	var target *KeysAlreadyInitializedError
	return errors.As(err, &target)
}

// InvalidPasswordError indicates that the derived public key does not match the stored one
type InvalidPasswordError struct {
	UserID string
}

func (e *InvalidPasswordError) Error() string {
	return "invalid password for user " + e.UserID
}

func NewInvalidPasswordError(userID string) error {
	return &InvalidPasswordError{UserID: userID}
}

func IsInvalidPasswordError(err error) bool {
	var target *InvalidPasswordError
	return errors.As(err, &target)
}

// MigrationRequiredError is returned by DeriveKeys when the stored record is still a legacy record
type MigrationRequiredError struct {
	UserID string
}

func (e *MigrationRequiredError) Error() string {
	return "keys of user " + e.UserID + " must be migrated first"
}

func NewMigrationRequiredError(userID string) error {
	return &MigrationRequiredError{UserID: userID}
}

func IsMigrationRequiredError(err error) bool {
	var target *MigrationRequiredError
	return errors.As(err, &target)
}
