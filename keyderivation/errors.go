package keyderivation

import "errors"

// KeyDerivationError indicates that the KDF or the curve math failed, or that
// the inputs were malformed. It wraps the underlying cause.
type KeyDerivationError struct {
	Message string
	Err     error
}

func (e *KeyDerivationError) Error() string {
	if e.Err != nil {
		return "key derivation failed: " + e.Message + ": " + e.Err.Error()
	}
	return "key derivation failed: " + e.Message
}

func (e *KeyDerivationError) Unwrap() error {
	return e.Err
}

func NewKeyDerivationError(message string, err error) error {
	return &KeyDerivationError{Message: message, Err: err}
}

func IsKeyDerivationError(err error) bool {
	var target *KeyDerivationError
	return errors.As(err, &target)
}
