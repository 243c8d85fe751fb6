package keyderivation

import (
	"crypto/ecdh"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	KeyTypeEC  = "EC"
	CurveP256  = "P-256"
	coordBytes = 32
)

// JWK is the public JSON Web Key form of a P-256 key (RFC 7517/7518).
// It never carries the private "d" member.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
	Ext bool   `json:"ext,omitempty"`
}

// PublicJWK encodes a P-256 public key as a JWK
func PublicJWK(pub *ecdh.PublicKey) (JWK, error) {
	if pub == nil || pub.Curve() != ecdh.P256() {
		return JWK{}, errors.New("public key is not a P-256 key")
	}

	// uncompressed SEC 1 encoding: 0x04 || X || Y
	raw := pub.Bytes()
	return JWK{
		Kty: KeyTypeEC,
		Crv: CurveP256,
		X:   base64.RawURLEncoding.EncodeToString(raw[1 : 1+coordBytes]),
		Y:   base64.RawURLEncoding.EncodeToString(raw[1+coordBytes:]),
		Ext: true,
	}, nil
}

// ParseJWK decodes a JWK from its JSON text form
func ParseJWK(s string) (JWK, error) {
	var jwk JWK
	if err := json.Unmarshal([]byte(s), &jwk); err != nil {
		return JWK{}, fmt.Errorf("failed to parse JWK: %w", err)
	}
	return jwk, nil
}

// String returns the JSON text form of the JWK, as persisted in key records
func (j JWK) String() string {
	b, err := json.Marshal(j)
	if err != nil {
		// a struct of strings and a bool always marshals
		return ""
	}
	return string(b)
}

// pointBytes returns the uncompressed point encoding after validating the key type
func (j JWK) pointBytes() ([]byte, error) {
	if j.Kty != KeyTypeEC || j.Crv != CurveP256 {
		return nil, fmt.Errorf("unsupported JWK kty=%q crv=%q", j.Kty, j.Crv)
	}

	x, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil || len(x) != coordBytes {
		return nil, errors.New("invalid JWK x coordinate")
	}
	y, err := base64.RawURLEncoding.DecodeString(j.Y)
	if err != nil || len(y) != coordBytes {
		return nil, errors.New("invalid JWK y coordinate")
	}

	raw := make([]byte, 0, 1+2*coordBytes)
	raw = append(raw, 0x04)
	raw = append(raw, x...)
	return append(raw, y...), nil
}

// PublicKey decodes the JWK into a P-256 public key, checking the point is on the curve
func (j JWK) PublicKey() (*ecdh.PublicKey, error) {
	raw, err := j.pointBytes()
	if err != nil {
		return nil, err
	}
	return ecdh.P256().NewPublicKey(raw)
}
