package verifier

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tortoisewolfe/securemsg/ccc/db"
	"github.com/tortoisewolfe/securemsg/conversations"
	"github.com/tortoisewolfe/securemsg/encryption"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/messages"
	"github.com/tortoisewolfe/securemsg/userkeys"
)

type store struct {
	db       *sql.DB
	userKeys *userkeys.SQLiteUserKeyRepository
}

// newPopulatedStore creates all tables and fills them through the regular services
func newPopulatedStore(t *testing.T) *store {
	t.Helper()
	ctx := context.Background()

	testDB, err := db.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	userKeys, err := userkeys.NewSQLiteUserKeyRepository(testDB)
	require.NoError(t, err)
	secrets, err := conversations.NewSQLiteSecretRepository(testDB)
	require.NoError(t, err)
	messageRepo, err := messages.NewSQLiteMessageRepository(testDB)
	require.NoError(t, err)

	encryptor := encryption.NewAESEncryptor()
	convos := conversations.NewConversationService(nil, secrets, userKeys, encryptor, encryption.NewECIESWrapper(encryptor))
	messageService := messages.NewMessageService(nil, messageRepo, convos, encryptor)

	deriver := keyderivation.NewService(keyderivation.Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1})
	alice, err := deriver.DeriveKeyPair("Correct-Horse-1", deriver.GenerateSalt())
	require.NoError(t, err)
	salt := alice.Salt
	now := time.Now().UTC()
	require.NoError(t, userKeys.Create(ctx, &userkeys.UserKeyRecord{UserID: "alice", PublicKeyJWK: alice.PublicKeyJWK.String(), Salt: &salt, CreatedAt: now, UpdatedAt: now}))

	bob, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	bobJWK, err := keyderivation.PublicJWK(bob.PublicKey())
	require.NoError(t, err)
	require.NoError(t, userKeys.Create(ctx, &userkeys.UserKeyRecord{UserID: "bob", PublicKeyJWK: bobJWK.String(), CreatedAt: now, UpdatedAt: now}))

	require.NoError(t, convos.Create(ctx, "c1", []string{"alice", "bob"}))
	_, err = messageService.Send(ctx, "c1", "alice", alice.PrivateKey, []byte("the plaintext never reaches the store"))
	require.NoError(t, err)

	return &store{db: testDB, userKeys: userKeys}
}

func verify(t *testing.T, s *store) *Report {
	t.Helper()
	v, err := NewVerifier(nil, s.db)
	require.NoError(t, err)
	report, err := v.Verify(context.Background())
	require.NoError(t, err)
	return report
}

func rules(report *Report) []string {
	var out []string
	for _, v := range report.Violations {
		out = append(out, v.Rule)
	}
	return out
}

func TestVerify_CleanStore(t *testing.T) {
	report := verify(t, newPopulatedStore(t))

	assert.True(t, report.OK(), "unexpected violations: %v", report.Violations)
	assert.Equal(t, []string{"conversation_secrets", "messages", "user_keys"}, report.TablesChecked)
	assert.Equal(t, 2+2+1, report.RowsChecked)
}

func TestVerify_EmptyDatabase(t *testing.T) {
	testDB, err := db.NewInMemoryDB()
	require.NoError(t, err)
	defer testDB.Close()

	report := verify(t, &store{db: testDB})
	assert.True(t, report.OK())
	assert.Empty(t, report.TablesChecked)
}

func TestVerify_PlaintextColumn(t *testing.T) {
	s := newPopulatedStore(t)
	_, err := s.db.Exec(`ALTER TABLE messages ADD COLUMN plaintext TEXT`)
	require.NoError(t, err)

	report := verify(t, s)
	require.False(t, report.OK())
	assert.Contains(t, rules(report), "forbidden-column")
	assert.Contains(t, rules(report), "row-schema", "rows carrying the extra column fail their schema")
}

func TestVerify_UnexpectedColumn(t *testing.T) {
	s := newPopulatedStore(t)
	_, err := s.db.Exec(`ALTER TABLE user_keys ADD COLUMN backup TEXT`)
	require.NoError(t, err)

	report := verify(t, s)
	assert.Contains(t, rules(report), "unexpected-column")
}

func TestVerify_PrivateKeyColumn(t *testing.T) {
	s := newPopulatedStore(t)
	_, err := s.db.Exec(`ALTER TABLE user_keys ADD COLUMN private_key_jwk TEXT`)
	require.NoError(t, err)

	report := verify(t, s)
	require.NotEmpty(t, report.Violations)
	assert.Equal(t, "forbidden-column", report.Violations[0].Rule)
	assert.Equal(t, "private_key_jwk", report.Violations[0].Column)
}

func insertKey(t *testing.T, s *store, userID string, jwk map[string]any) {
	t.Helper()
	encoded, err := json.Marshal(jwk)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, s.userKeys.Upsert(context.Background(), &userkeys.UserKeyRecord{UserID: userID, PublicKeyJWK: string(encoded), CreatedAt: now, UpdatedAt: now}))
}

func validJWK(t *testing.T) map[string]any {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	jwk, err := keyderivation.PublicJWK(key.PublicKey())
	require.NoError(t, err)
	return map[string]any{"kty": jwk.Kty, "crv": jwk.Crv, "x": jwk.X, "y": jwk.Y, "ext": true}
}

func TestVerify_PrivateComponentInJWK(t *testing.T) {
	s := newPopulatedStore(t)
	jwk := validJWK(t)
	jwk["d"] = "c2VjcmV0LXNjYWxhci1zZWNyZXQtc2NhbGFyLXNlY3I"
	insertKey(t, s, "carol", jwk)

	report := verify(t, s)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "private-key-material", report.Violations[0].Rule)
	assert.Equal(t, "carol", report.Violations[0].Row)
}

func TestVerify_WrongCurve(t *testing.T) {
	s := newPopulatedStore(t)
	jwk := validJWK(t)
	jwk["crv"] = "P-384"
	insertKey(t, s, "carol", jwk)

	report := verify(t, s)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "public-key-format", report.Violations[0].Rule)
}

func TestVerify_OffCurvePoint(t *testing.T) {
	s := newPopulatedStore(t)
	jwk := validJWK(t)
	jwk["y"] = jwk["x"]
	insertKey(t, s, "carol", jwk)

	report := verify(t, s)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "public-key-curve", report.Violations[0].Rule)
}

func TestVerify_MalformedSalt(t *testing.T) {
	s := newPopulatedStore(t)
	_, err := s.db.Exec(`UPDATE user_keys SET salt = 'not-a-salt' WHERE user_id = 'alice'`)
	require.NoError(t, err)

	report := verify(t, s)
	assert.Equal(t, []string{"row-schema"}, rules(report))
}

func TestVerify_PlaintextInMessageRow(t *testing.T) {
	s := newPopulatedStore(t)
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, sender_id, ciphertext, iv, created_at)
		VALUES ('m-bad', 'c1', 'alice', 'hello there, this is plaintext', 'AAAAAAAAAAAAAAAA', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)

	report := verify(t, s)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "row-schema", report.Violations[0].Rule)
	assert.Equal(t, "m-bad", report.Violations[0].Row)
}

func TestVerify_ShortCiphertext(t *testing.T) {
	s := newPopulatedStore(t)
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, sender_id, ciphertext, iv, created_at)
		VALUES ('m-short', 'c1', 'alice', 'aGk=', 'AAAAAAAAAAAAAAAA', '2024-01-01T00:00:00Z')`)
	require.NoError(t, err)

	report := verify(t, s)
	assert.Equal(t, []string{"ciphertext-format"}, rules(report))
}

func TestVerify_UnwrappedConversationSecret(t *testing.T) {
	s := newPopulatedStore(t)
	_, err := s.db.Exec(`UPDATE conversation_secrets SET encrypted_secret = 'AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=' WHERE user_id = 'bob'`)
	require.NoError(t, err)

	report := verify(t, s)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "ciphertext-format", report.Violations[0].Rule)
	assert.Equal(t, "c1/bob", report.Violations[0].Row)
}

func TestViolationString(t *testing.T) {
	v := Violation{Table: "messages", Row: "m1", Column: "iv", Rule: "iv-format", Detail: "IV must be 12 bytes"}
	assert.Equal(t, "messages[m1].iv: iv-format: IV must be 12 bytes", v.String())
}
