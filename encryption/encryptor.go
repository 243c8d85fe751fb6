package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
)

// Constants for encryption parameters
const (
	KeyLength   = 32 // 256 bits for AES-256
	NonceLength = 12 // 96 bits for GCM nonce
)

type Encryptor interface {
	// Encrypt encrypts the given data using the provided key, returning nonce||ciphertext
	Encrypt(data []byte, key []byte) ([]byte, error)
	// Decrypt decrypts nonce||ciphertext using the provided key
	Decrypt(data []byte, key []byte) ([]byte, error)
	// Seal encrypts data and returns the nonce (IV) and ciphertext separately
	Seal(data []byte, key []byte) (iv, ciphertext []byte, err error)
	// Open decrypts a ciphertext produced by Seal
	Open(iv, ciphertext []byte, key []byte) ([]byte, error)
	// GenerateKey generates a new encryption key
	GenerateKey() ([]byte, error)
}

// AESEncryptor implements the Encryptor interface using AES-GCM
type AESEncryptor struct{}

// NewAESEncryptor creates a new AESEncryptor instance
func NewAESEncryptor() *AESEncryptor {
	return &AESEncryptor{}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

// Encrypt encrypts data using AES-GCM with the provided key
func (e *AESEncryptor) Encrypt(data []byte, key []byte) ([]byte, error) {
	iv, ciphertext, err := e.Seal(data, key)
	if err != nil {
		return nil, err
	}
	return append(iv, ciphertext...), nil
}

// Decrypt decrypts data using AES-GCM with the provided key
func (e *AESEncryptor) Decrypt(data []byte, key []byte) ([]byte, error) {
	if len(data) < NonceLength {
		return nil, ErrCiphertextTooShort
	}
	return e.Open(data[:NonceLength], data[NonceLength:], key)
}

// Seal encrypts data with a fresh random nonce
func (e *AESEncryptor) Seal(data []byte, key []byte) ([]byte, []byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, err
	}

	return nonce, gcm.Seal(nil, nonce, data, nil), nil
}

// Open authenticates and decrypts ciphertext with the given nonce
func (e *AESEncryptor) Open(iv, ciphertext []byte, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(iv) != gcm.NonceSize() {
		return nil, ErrInvalidNonce
	}

	return gcm.Open(nil, iv, ciphertext, nil)
}

// GenerateKey generates a new random encryption key
func (e *AESEncryptor) GenerateKey() ([]byte, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
