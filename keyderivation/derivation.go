// Package keyderivation turns a password and salt into a deterministic P-256
// key pair, so the private key can be recomputed at every sign-in instead of
// being stored anywhere.
//
// Pipeline:
//
//  1. Argon2id(password, salt) with fixed cost parameters -> 32-byte seed.
//  2. Seed -> private scalar by rejection sampling: the seed itself is the
//     first candidate; if it is zero or not below the group order, further
//     candidates are read from HKDF-SHA256(seed). No modular reduction is
//     applied, so the scalar is uniform over [1, n-1].
//  3. Public point = scalar * G.
//
// Every step is deterministic: the same (password, salt, Params) always yields
// the same key pair.
package keyderivation

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/tortoisewolfe/securemsg/ccc/memzero"
)

const (
	// SaltLength is the number of random bytes in a salt
	SaltLength = 16
	// seedLength is the Argon2id output size and the P-256 scalar size
	seedLength = 32
	// scalarInfo separates the rejection sampling stream from other HKDF uses
	scalarInfo = "securemsg-p256-scalar-v1"
	// maxScalarAttempts bounds rejection sampling; a P-256 candidate is
	// rejected with probability below 2^-32, so this is never reached in practice
	maxScalarAttempts = 64
)

// Params are the Argon2id cost parameters
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns the production cost parameters: 64 MiB, 3 passes, 4 lanes.
func DefaultParams() Params {
	return Params{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 4,
	}
}

// Validate checks the parameters are accepted by Argon2id
func (p Params) Validate() error {
	if p.Iterations < 1 {
		return errors.New("iterations must be at least 1")
	}
	if p.Parallelism < 1 {
		return errors.New("parallelism must be at least 1")
	}
	if p.MemoryKiB < 8*uint32(p.Parallelism) {
		return fmt.Errorf("memory must be at least %d KiB for parallelism %d", 8*uint32(p.Parallelism), p.Parallelism)
	}
	return nil
}

// Service derives key pairs. It is stateless apart from its cost parameters
// and safe for concurrent use.
type Service struct {
	params Params
}

// NewService creates a key derivation service with the given cost parameters
func NewService(params Params) *Service {
	return &Service{params: params}
}

// Params returns the cost parameters in use
func (s *Service) Params() Params {
	return s.params
}

// GenerateSalt returns 16 cryptographically secure random bytes
func (s *Service) GenerateSalt() []byte {
	salt := make([]byte, SaltLength)
	// crypto/rand.Read never returns an error since Go 1.24
	_, _ = rand.Read(salt)
	return salt
}

// DeriveKeyPair derives the key pair for password and salt. The call is
// CPU and memory bound (hundreds of milliseconds with DefaultParams) and
// cannot be interrupted once started.
func (s *Service) DeriveKeyPair(password string, salt []byte) (*DerivedKeyPair, error) {
	if password == "" {
		return nil, NewKeyDerivationError("password must not be empty", nil)
	}
	if len(salt) != SaltLength {
		return nil, NewKeyDerivationError(fmt.Sprintf("salt must be %d bytes, got %d", SaltLength, len(salt)), nil)
	}
	if err := s.params.Validate(); err != nil {
		return nil, NewKeyDerivationError("invalid cost parameters", err)
	}

	seed := argon2.IDKey([]byte(password), salt, s.params.Iterations, s.params.MemoryKiB, s.params.Parallelism, seedLength)
	defer memzero.Zero(seed)

	priv, err := scalarFromSeed(seed)
	if err != nil {
		return nil, NewKeyDerivationError("failed to map seed onto P-256", err)
	}

	jwk, err := PublicJWK(priv.PublicKey())
	if err != nil {
		return nil, NewKeyDerivationError("failed to encode public key", err)
	}

	return &DerivedKeyPair{
		PrivateKey:   priv,
		PublicKey:    priv.PublicKey(),
		PublicKeyJWK: jwk,
		Salt:         EncodeSalt(salt),
	}, nil
}

// scalarFromSeed maps a 32-byte seed onto a valid P-256 private key by
// rejection sampling. ecdh.NewPrivateKey rejects zero and values >= n.
func scalarFromSeed(seed []byte) (*ecdh.PrivateKey, error) {
	if len(seed) != seedLength {
		return nil, fmt.Errorf("seed must be %d bytes", seedLength)
	}

	candidate := make([]byte, seedLength)
	defer memzero.Zero(candidate)
	copy(candidate, seed)

	stream := hkdf.Expand(sha256.New, seed, []byte(scalarInfo))

	var lastErr error
	for attempt := 0; attempt < maxScalarAttempts; attempt++ {
		if attempt > 0 {
			if _, err := io.ReadFull(stream, candidate); err != nil {
				return nil, fmt.Errorf("hkdf expansion failed: %w", err)
			}
		}

		priv, err := ecdh.P256().NewPrivateKey(candidate)
		if err == nil {
			return priv, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("no valid scalar after %d attempts: %w", maxScalarAttempts, lastErr)
}

// VerifyPublicKey reports whether two public keys are the same P-256 point.
// Only public data is compared; a mismatch after derivation means the password was wrong.
func VerifyPublicKey(derived, stored JWK) bool {
	a, err := derived.pointBytes()
	if err != nil {
		return false
	}
	b, err := stored.pointBytes()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// EncodeSalt returns the base64 form of a salt as persisted in key records
func EncodeSalt(salt []byte) string {
	return base64.StdEncoding.EncodeToString(salt)
}

// DecodeSalt parses a persisted salt and checks its length
func DecodeSalt(s string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltLength, len(salt))
	}
	return salt, nil
}
