package keyderivation

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastParams keeps Argon2id cheap so the suite stays quick
var fastParams = Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1}

func zeroSalt() []byte {
	return make([]byte, SaltLength)
}

func TestGenerateSalt(t *testing.T) {
	svc := NewService(fastParams)

	salt := svc.GenerateSalt()
	assert.Len(t, salt, SaltLength)

	salt2 := svc.GenerateSalt()
	assert.NotEqual(t, salt, salt2, "salts should be random")
}

func TestDeriveKeyPair_Deterministic(t *testing.T) {
	svc := NewService(fastParams)
	salt := svc.GenerateSalt()

	first, err := svc.DeriveKeyPair("Correct-Horse-1", salt)
	require.NoError(t, err)
	second, err := svc.DeriveKeyPair("Correct-Horse-1", salt)
	require.NoError(t, err)

	assert.Equal(t, first.PrivateKey.Bytes(), second.PrivateKey.Bytes())
	assert.Equal(t, first.PublicKey.Bytes(), second.PublicKey.Bytes())
	assert.Equal(t, first.PublicKeyJWK, second.PublicKeyJWK)
	assert.Equal(t, EncodeSalt(salt), first.Salt)
}

func TestDeriveKeyPair_DefaultParamsScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("derives with the 64 MiB production parameters")
	}

	svc := NewService(DefaultParams())

	keyPairA, err := svc.DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)
	keyPairA2, err := svc.DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)

	assert.Equal(t, keyPairA.PublicKeyJWK, keyPairA2.PublicKeyJWK)
	assert.Equal(t, "AAAAAAAAAAAAAAAAAAAAAA==", keyPairA.Salt)
}

func TestDeriveKeyPair_PasswordSensitivity(t *testing.T) {
	svc := NewService(fastParams)

	a, err := svc.DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)
	b, err := svc.DeriveKeyPair("Correct-Horse-2", zeroSalt())
	require.NoError(t, err)

	assert.NotEqual(t, a.PrivateKey.Bytes(), b.PrivateKey.Bytes())
	assert.NotEqual(t, a.PublicKeyJWK, b.PublicKeyJWK)
}

func TestDeriveKeyPair_SaltSensitivity(t *testing.T) {
	svc := NewService(fastParams)
	saltB := zeroSalt()
	saltB[15] = 1

	a, err := svc.DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)
	b, err := svc.DeriveKeyPair("Correct-Horse-1", saltB)
	require.NoError(t, err)

	assert.NotEqual(t, a.PrivateKey.Bytes(), b.PrivateKey.Bytes())
	assert.NotEqual(t, a.PublicKeyJWK, b.PublicKeyJWK)
}

func TestDeriveKeyPair_ParamsChangeOutput(t *testing.T) {
	a, err := NewService(fastParams).DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)
	b, err := NewService(Params{MemoryKiB: 1024, Iterations: 2, Parallelism: 1}).DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)

	assert.NotEqual(t, a.PublicKeyJWK, b.PublicKeyJWK)
}

func TestDeriveKeyPair_InvalidInput(t *testing.T) {
	tests := []struct {
		name     string
		params   Params
		password string
		salt     []byte
	}{
		{"empty password", fastParams, "", zeroSalt()},
		{"short salt", fastParams, "pw", []byte("short")},
		{"nil salt", fastParams, "pw", nil},
		{"zero iterations", Params{MemoryKiB: 1024, Iterations: 0, Parallelism: 1}, "pw", zeroSalt()},
		{"too little memory", Params{MemoryKiB: 8, Iterations: 1, Parallelism: 4}, "pw", zeroSalt()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := NewService(tt.params).DeriveKeyPair(tt.password, tt.salt)
			assert.Nil(t, pair)
			require.Error(t, err)
			assert.True(t, IsKeyDerivationError(err), "expected KeyDerivationError, got %T", err)
		})
	}
}

func TestScalarFromSeed_UsesSeedWhenInRange(t *testing.T) {
	seed := bytes.Repeat([]byte{0x11}, seedLength)

	priv, err := scalarFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, seed, priv.Bytes())
}

func TestScalarFromSeed_RejectsOutOfRange(t *testing.T) {
	// 0xff..ff is above the P-256 group order and zero is never a valid scalar
	for _, seed := range [][]byte{bytes.Repeat([]byte{0xff}, seedLength), make([]byte, seedLength)} {
		priv, err := scalarFromSeed(seed)
		require.NoError(t, err)
		assert.NotEqual(t, seed, priv.Bytes())

		again, err := scalarFromSeed(seed)
		require.NoError(t, err)
		assert.Equal(t, priv.Bytes(), again.Bytes(), "resampling must be deterministic")
	}
}

func TestVerifyPublicKey(t *testing.T) {
	svc := NewService(fastParams)

	a, err := svc.DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)
	b, err := svc.DeriveKeyPair("wrong password", zeroSalt())
	require.NoError(t, err)

	stored, err := ParseJWK(a.PublicKeyJWK.String())
	require.NoError(t, err)

	assert.True(t, VerifyPublicKey(a.PublicKeyJWK, stored))
	assert.False(t, VerifyPublicKey(b.PublicKeyJWK, stored))

	wrongCurve := stored
	wrongCurve.Crv = "P-384"
	assert.False(t, VerifyPublicKey(a.PublicKeyJWK, wrongCurve))
	assert.False(t, VerifyPublicKey(a.PublicKeyJWK, JWK{}))
}

func TestJWKRoundTrip(t *testing.T) {
	pair, err := NewService(fastParams).DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)

	parsed, err := ParseJWK(pair.PublicKeyJWK.String())
	require.NoError(t, err)

	pub, err := parsed.PublicKey()
	require.NoError(t, err)
	assert.True(t, pub.Equal(pair.PublicKey))

	assert.Equal(t, KeyTypeEC, parsed.Kty)
	assert.Equal(t, CurveP256, parsed.Crv)
	assert.NotContains(t, pair.PublicKeyJWK.String(), `"d"`)
}

func TestJWKPublicKey_RejectsOffCurvePoint(t *testing.T) {
	pair, err := NewService(fastParams).DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)

	bad := pair.PublicKeyJWK
	bad.Y = pair.PublicKeyJWK.X
	_, err = bad.PublicKey()
	assert.Error(t, err)
}

func TestDerivedKeyPair_NeverSerializesPrivateKey(t *testing.T) {
	pair, err := NewService(fastParams).DeriveKeyPair("Correct-Horse-1", zeroSalt())
	require.NoError(t, err)

	encoded, err := json.Marshal(pair)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(encoded, &fields))
	assert.ElementsMatch(t, []string{"public_key_jwk", "salt"}, keys(fields))

	var logged bytes.Buffer
	slog.New(slog.NewJSONHandler(&logged, nil)).Info("derived", "keys", pair)
	assert.Contains(t, logged.String(), "[REDACTED]")
	assert.False(t, strings.Contains(pair.String(), "d\":"))
}

func TestDecodeSalt(t *testing.T) {
	salt, err := DecodeSalt(EncodeSalt(zeroSalt()))
	require.NoError(t, err)
	assert.Equal(t, zeroSalt(), salt)

	_, err = DecodeSalt("not base64!")
	assert.Error(t, err)

	_, err = DecodeSalt(EncodeSalt([]byte("short")))
	assert.Error(t, err)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
