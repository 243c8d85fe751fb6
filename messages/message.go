package messages

import "time"

// Message is an end-to-end encrypted message as persisted. The store only
// ever sees ciphertext and IV.
type Message struct {
	ID             string    // Unique identifier for the message
	ConversationID string    // Conversation the message belongs to
	SenderID       string    // User who sent the message
	Ciphertext     string    // AES-GCM ciphertext (base64 encoded)
	IV             string    // AES-GCM nonce (base64 encoded)
	CreatedAt      time.Time // Timestamp when the message was sent
}

// DecryptedMessage pairs a stored message with its plaintext. It only exists in memory.
type DecryptedMessage struct {
	*Message
	Body []byte
}
