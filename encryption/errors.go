package encryption

import "errors"

var (
	ErrInvalidKeyLength   = errors.New("invalid key length")
	ErrInvalidNonce       = errors.New("invalid nonce length")
	ErrCiphertextTooShort = errors.New("ciphertext too short")
	ErrInvalidPublicKey   = errors.New("invalid public key")
	ErrCurveMismatch      = errors.New("key is not on curve P-256")
)
