package userkeys

import "time"

// UserKeyRecord is the persisted public half of a user's key pair.
// A nil Salt marks a legacy record whose key pair was randomly generated;
// a non-nil Salt marks a password-derived key pair.
type UserKeyRecord struct {
	UserID       string    // Owner of the key pair
	PublicKeyJWK string    // Public key as JWK JSON text
	Salt         *string   // Base64 salt of the password derivation, nil for legacy keys
	CreatedAt    time.Time // Timestamp when the record was created
	UpdatedAt    time.Time // Timestamp when the record was last updated
}

// IsLegacy reports whether the record predates password-derived keys
func (r *UserKeyRecord) IsLegacy() bool {
	return r.Salt == nil
}
