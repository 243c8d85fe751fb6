package keyderivation

import (
	"crypto/ecdh"
	"log/slog"
)

// DerivedKeyPair is a P-256 key pair derived from a password and salt.
//
// The private key is held in process memory only. It is excluded from JSON
// encoding and redacted when logged; PublicKeyJWK and Salt are the only fields
// that may be persisted.
type DerivedKeyPair struct {
	PrivateKey   *ecdh.PrivateKey `json:"-"`
	PublicKey    *ecdh.PublicKey  `json:"-"`
	PublicKeyJWK JWK              `json:"public_key_jwk"`
	Salt         string           `json:"salt"` // base64 of 16 bytes
}

// LogValue implements slog.LogValuer so a key pair can be logged without its private key
func (k *DerivedKeyPair) LogValue() slog.Value {
	if k == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("kty", k.PublicKeyJWK.Kty),
		slog.String("crv", k.PublicKeyJWK.Crv),
		slog.String("x", k.PublicKeyJWK.X),
		slog.String("salt", k.Salt),
		slog.String("private_key", "[REDACTED]"),
	)
}

// String never includes the private key
func (k *DerivedKeyPair) String() string {
	if k == nil {
		return "<nil>"
	}
	return "DerivedKeyPair{" + k.PublicKeyJWK.String() + ", salt=" + k.Salt + "}"
}
