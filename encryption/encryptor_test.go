package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewAESEncryptor(t *testing.T) {
	encryptor := NewAESEncryptor()
	if encryptor == nil {
		t.Fatal("NewAESEncryptor() returned nil")
	}
}

func TestGenerateKey(t *testing.T) {
	encryptor := NewAESEncryptor()

	key, err := encryptor.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}

	if len(key) != KeyLength {
		t.Errorf("Expected key length %d, got %d", KeyLength, len(key))
	}

	// Generate another key and ensure they're different
	key2, err := encryptor.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed on second call: %v", err)
	}

	if bytes.Equal(key, key2) {
		t.Error("GenerateKey() produced identical keys, should be random")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	encryptor := NewAESEncryptor()

	// Generate a key
	key, err := encryptor.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() failed: %v", err)
	}

	testData := []byte("Hello, World! This is a test message.")

	// Encrypt the data
	encrypted, err := encryptor.Encrypt(testData, key)
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}

	if bytes.Equal(testData, encrypted) {
		t.Error("Encrypted data should not equal original data")
	}

	// Decrypt the data
	decrypted, err := encryptor.Decrypt(encrypted, key)
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}

	if !bytes.Equal(testData, decrypted) {
		t.Errorf("Decrypted data does not match original. Expected %s, got %s", testData, decrypted)
	}
}

func TestEncryptWithInvalidKey(t *testing.T) {
	encryptor := NewAESEncryptor()
	testData := []byte("test data")

	// Test with wrong key length
	invalidKey := []byte("short")
	_, err := encryptor.Encrypt(testData, invalidKey)
	if err == nil {
		t.Error("Encrypt() should fail with invalid key length")
	}

	// Test with empty key
	_, err = encryptor.Encrypt(testData, []byte{})
	if err == nil {
		t.Error("Encrypt() should fail with empty key")
	}
}

func TestDecryptWithInvalidKey(t *testing.T) {
	encryptor := NewAESEncryptor()

	// First create valid encrypted data
	key, _ := encryptor.GenerateKey()
	testData := []byte("test data")
	encrypted, _ := encryptor.Encrypt(testData, key)

	// Test with wrong key length
	invalidKey := []byte("short")
	_, err := encryptor.Decrypt(encrypted, invalidKey)
	if err == nil {
		t.Error("Decrypt() should fail with invalid key length")
	}

	// Test with wrong key
	wrongKey, _ := encryptor.GenerateKey()
	_, err = encryptor.Decrypt(encrypted, wrongKey)
	if err == nil {
		t.Error("Decrypt() should fail with wrong key")
	}
}

func TestDecryptWithInvalidData(t *testing.T) {
	encryptor := NewAESEncryptor()
	key, _ := encryptor.GenerateKey()

	// Test with too short data
	shortData := []byte("short")
	_, err := encryptor.Decrypt(shortData, key)
	if err == nil {
		t.Error("Decrypt() should fail with data too short")
	}

	// Test with empty data
	_, err = encryptor.Decrypt([]byte{}, key)
	if err == nil {
		t.Error("Decrypt() should fail with empty data")
	}
}

func TestEncryptDeterminism(t *testing.T) {
	encryptor := NewAESEncryptor()
	key, _ := encryptor.GenerateKey()
	testData := []byte("test data")

	// Encrypt the same data twice
	encrypted1, err := encryptor.Encrypt(testData, key)
	if err != nil {
		t.Fatalf("First encryption failed: %v", err)
	}

	encrypted2, err := encryptor.Encrypt(testData, key)
	if err != nil {
		t.Fatalf("Second encryption failed: %v", err)
	}

	// Results should be different due to random nonces
	if bytes.Equal(encrypted1, encrypted2) {
		t.Error("Encryption should not be deterministic (results should differ due to random nonces)")
	}

	// But both should decrypt to the same original data
	decrypted1, _ := encryptor.Decrypt(encrypted1, key)
	decrypted2, _ := encryptor.Decrypt(encrypted2, key)

	if !bytes.Equal(decrypted1, testData) || !bytes.Equal(decrypted2, testData) {
		t.Error("Both encrypted versions should decrypt to original data")
	}
}

func TestEmptyData(t *testing.T) {
	encryptor := NewAESEncryptor()
	key, _ := encryptor.GenerateKey()

	// Test encrypting empty data
	emptyData := []byte{}
	encrypted, err := encryptor.Encrypt(emptyData, key)
	if err != nil {
		t.Fatalf("Encrypt() failed with empty data: %v", err)
	}

	decrypted, err := encryptor.Decrypt(encrypted, key)
	if err != nil {
		t.Fatalf("Decrypt() failed with empty data: %v", err)
	}

	if !bytes.Equal(emptyData, decrypted) {
		t.Error("Empty data encryption/decryption failed")
	}
}

func TestLargeData(t *testing.T) {
	encryptor := NewAESEncryptor()
	key, _ := encryptor.GenerateKey()

	// Test with large data (1MB)
	largeData := make([]byte, 1024*1024)
	for i := range largeData {
		largeData[i] = byte(i % 256)
	}

	encrypted, err := encryptor.Encrypt(largeData, key)
	if err != nil {
		t.Fatalf("Encrypt() failed with large data: %v", err)
	}

	decrypted, err := encryptor.Decrypt(encrypted, key)
	if err != nil {
		t.Fatalf("Decrypt() failed with large data: %v", err)
	}

	if !bytes.Equal(largeData, decrypted) {
		t.Error("Large data encryption/decryption failed")
	}
}

func TestSealOpen(t *testing.T) {
	encryptor := NewAESEncryptor()
	key, _ := encryptor.GenerateKey()
	testData := []byte("message body")

	iv, ciphertext, err := encryptor.Seal(testData, key)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}

	if len(iv) != NonceLength {
		t.Errorf("Expected IV length %d, got %d", NonceLength, len(iv))
	}

	if bytes.Contains(ciphertext, testData) {
		t.Error("Ciphertext must not contain the plaintext")
	}

	plaintext, err := encryptor.Open(iv, ciphertext, key)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if !bytes.Equal(plaintext, testData) {
		t.Errorf("Expected %s, got %s", testData, plaintext)
	}

	// Sealed output is interchangeable with Encrypt's nonce||ciphertext layout
	combined := append(append([]byte{}, iv...), ciphertext...)
	decrypted, err := encryptor.Decrypt(combined, key)
	if err != nil {
		t.Fatalf("Decrypt() of sealed data failed: %v", err)
	}
	if !bytes.Equal(decrypted, testData) {
		t.Error("Decrypt() of sealed data returned wrong plaintext")
	}
}

func TestOpenWithInvalidNonce(t *testing.T) {
	encryptor := NewAESEncryptor()
	key, _ := encryptor.GenerateKey()

	_, ciphertext, _ := encryptor.Seal([]byte("data"), key)

	_, err := encryptor.Open([]byte("short"), ciphertext, key)
	if !errors.Is(err, ErrInvalidNonce) {
		t.Errorf("Expected ErrInvalidNonce, got %v", err)
	}
}

func TestDecryptTooShortReturnsSentinel(t *testing.T) {
	encryptor := NewAESEncryptor()
	key, _ := encryptor.GenerateKey()

	_, err := encryptor.Decrypt([]byte("short"), key)
	if !errors.Is(err, ErrCiphertextTooShort) {
		t.Errorf("Expected ErrCiphertextTooShort, got %v", err)
	}

	_, err = encryptor.Encrypt([]byte("data"), []byte("short"))
	if !errors.Is(err, ErrInvalidKeyLength) {
		t.Errorf("Expected ErrInvalidKeyLength, got %v", err)
	}
}
