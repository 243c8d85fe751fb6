package encryption

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tortoisewolfe/securemsg/ccc/memzero"
)

const (
	// keyWrapInfo binds the derived wrapping key to this scheme
	keyWrapInfo = "securemsg-keywrap-p256-v1"
	// uncompressedPointLength is the size of an uncompressed P-256 point (0x04||X||Y)
	uncompressedPointLength = 65
)

// KeyWrapper encrypts small secrets (conversation keys) to an asymmetric key pair.
type KeyWrapper interface {
	// Wrap encrypts data so that only the holder of the private key for recipient can read it
	Wrap(data []byte, recipient *ecdh.PublicKey) ([]byte, error)
	// Unwrap decrypts data produced by Wrap
	Unwrap(data []byte, key *ecdh.PrivateKey) ([]byte, error)
}

// ECIESWrapper implements KeyWrapper as ephemeral-static ECDH over P-256,
// HKDF-SHA256 and the payload Encryptor. Output is ephemeralPub||nonce||ciphertext.
type ECIESWrapper struct {
	encryptor Encryptor
}

// NewECIESWrapper creates a key wrapper on top of the given payload cipher
func NewECIESWrapper(encryptor Encryptor) *ECIESWrapper {
	if encryptor == nil {
		encryptor = NewAESEncryptor()
	}
	return &ECIESWrapper{encryptor: encryptor}
}

// Wrap encrypts data for recipient
func (w *ECIESWrapper) Wrap(data []byte, recipient *ecdh.PublicKey) ([]byte, error) {
	if recipient == nil || recipient.Curve() != ecdh.P256() {
		return nil, ErrCurveMismatch
	}

	ephemeral, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	key, err := wrappingKey(ephemeral, recipient, ephemeral.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(key)

	sealed, err := w.encryptor.Encrypt(data, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt wrapped key: %w", err)
	}

	out := make([]byte, 0, uncompressedPointLength+len(sealed))
	out = append(out, ephemeral.PublicKey().Bytes()...)
	return append(out, sealed...), nil
}

// Unwrap decrypts data with the recipient private key
func (w *ECIESWrapper) Unwrap(data []byte, key *ecdh.PrivateKey) ([]byte, error) {
	if key == nil || key.Curve() != ecdh.P256() {
		return nil, ErrCurveMismatch
	}
	if len(data) < uncompressedPointLength+NonceLength {
		return nil, ErrCiphertextTooShort
	}

	ephemeralBytes := data[:uncompressedPointLength]
	ephemeral, err := ecdh.P256().NewPublicKey(ephemeralBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	wrapKey, err := wrappingKey(key, ephemeral, ephemeralBytes)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(wrapKey)

	plaintext, err := w.encryptor.Decrypt(data[uncompressedPointLength:], wrapKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt wrapped key: %w", err)
	}
	return plaintext, nil
}

// wrappingKey derives the symmetric key from the ECDH shared secret. The
// ephemeral public key is mixed into the HKDF info so a ciphertext cannot be
// replayed under another ephemeral point.
func wrappingKey(priv *ecdh.PrivateKey, pub *ecdh.PublicKey, ephemeralPub []byte) ([]byte, error) {
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh failed: %w", err)
	}
	defer memzero.Zero(shared)

	info := append([]byte(keyWrapInfo), ephemeralPub...)
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, info), key); err != nil {
		return nil, fmt.Errorf("hkdf failed: %w", err)
	}
	return key, nil
}
