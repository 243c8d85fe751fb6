package conversations

import "time"

// ConversationSecret is one participant's copy of a conversation key,
// wrapped under that participant's current public key.
type ConversationSecret struct {
	ConversationID  string    // Conversation the key belongs to
	UserID          string    // Participant the copy is wrapped for
	EncryptedSecret string    // Wrapped conversation key (base64 encoded)
	CreatedAt       time.Time // Timestamp when the secret was created
	UpdatedAt       time.Time // Timestamp when the secret was last re-wrapped
}

// Rekey is a staged key migration for one user: the new public key and salt
// together with every conversation secret of the user re-wrapped for it.
type Rekey struct {
	UserID               string
	ExpectedPublicKeyJWK string // legacy public key the stored record must still hold
	PublicKeyJWK         string
	Salt                 string
	Secrets              []*ConversationSecret
}
