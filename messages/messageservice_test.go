package messages

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tortoisewolfe/securemsg/ccc/db"
	"github.com/tortoisewolfe/securemsg/conversations"
	"github.com/tortoisewolfe/securemsg/encryption"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/userkeys"
)

type fixture struct {
	service  *messageService
	repo     *SQLiteMessageRepository
	userKeys *userkeys.SQLiteUserKeyRepository
	convos   conversations.ConversationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	testDB, err := db.NewInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	userKeys, err := userkeys.NewSQLiteUserKeyRepository(testDB)
	require.NoError(t, err)
	secrets, err := conversations.NewSQLiteSecretRepository(testDB)
	require.NoError(t, err)
	repo, err := NewSQLiteMessageRepository(testDB)
	require.NoError(t, err)

	encryptor := encryption.NewAESEncryptor()
	convos := conversations.NewConversationService(nil, secrets, userKeys, encryptor, encryption.NewECIESWrapper(encryptor))

	return &fixture{
		service:  NewMessageService(nil, repo, convos, encryptor),
		repo:     repo,
		userKeys: userKeys,
		convos:   convos,
	}
}

func (f *fixture) register(t *testing.T, userID string) *ecdh.PrivateKey {
	t.Helper()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	jwk, err := keyderivation.PublicJWK(priv.PublicKey())
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, f.userKeys.Upsert(context.Background(), &userkeys.UserKeyRecord{
		UserID: userID, PublicKeyJWK: jwk.String(), CreatedAt: now, UpdatedAt: now,
	}))
	return priv
}

func TestMessageService_SendAndRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.register(t, "alice")
	bob := f.register(t, "bob")
	require.NoError(t, f.convos.Create(ctx, "c1", []string{"alice", "bob"}))

	sent, err := f.service.Send(ctx, "c1", "alice", alice, []byte("hello bob"))
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)
	assert.NotContains(t, sent.Ciphertext, "hello")

	_, err = f.service.Send(ctx, "c1", "bob", bob, []byte("hi alice"))
	require.NoError(t, err)

	read, err := f.service.Read(ctx, "c1", "bob", bob, 0)
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, "hello bob", string(read[0].Body))
	assert.Equal(t, "alice", read[0].SenderID)
	assert.Equal(t, "hi alice", string(read[1].Body))
}

func TestMessageService_NonParticipantCannotSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.register(t, "alice")
	mallory := f.register(t, "mallory")
	require.NoError(t, f.convos.Create(ctx, "c1", []string{"alice"}))

	_, err := f.service.Send(ctx, "c1", "mallory", mallory, []byte("intrusion"))
	assert.True(t, conversations.IsSecretNotFoundError(err), "expected SecretNotFoundError, got %v", err)

	stored, err := f.repo.GetByConversation(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestMessageService_Read_TamperedMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.register(t, "alice")
	require.NoError(t, f.convos.Create(ctx, "c1", []string{"alice"}))

	require.NoError(t, f.repo.Add(ctx, &Message{
		ID: "forged", ConversationID: "c1", SenderID: "alice",
		Ciphertext: "AAAAAAAAAAAAAAAAAAAAAA==", IV: "AAAAAAAAAAAAAAAA", CreatedAt: time.Now(),
	}))

	_, err := f.service.Read(ctx, "c1", "alice", alice, 0)
	assert.Error(t, err)
}
