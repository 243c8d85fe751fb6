package conversations

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tortoisewolfe/securemsg/encryption"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/userkeys"
)

func registerUser(t *testing.T, store *testStore, userID string) *ecdh.PrivateKey {
	t.Helper()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	jwk, err := keyderivation.PublicJWK(priv.PublicKey())
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.userKeys.Upsert(context.Background(), &userkeys.UserKeyRecord{
		UserID: userID, PublicKeyJWK: jwk.String(), CreatedAt: now, UpdatedAt: now,
	}))
	return priv
}

func newTestService(store *testStore) *conversationService {
	encryptor := encryption.NewAESEncryptor()
	return NewConversationService(nil, store.secrets, store.userKeys, encryptor, encryption.NewECIESWrapper(encryptor))
}

func TestConversationService_CreateAndOpen(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(store)
	ctx := context.Background()

	alice := registerUser(t, store, "alice")
	bob := registerUser(t, store, "bob")

	require.NoError(t, svc.Create(ctx, "c1", []string{"alice", "bob", "alice"}))

	aliceSecret, err := svc.OpenSecret(ctx, "c1", "alice", alice)
	require.NoError(t, err)
	bobSecret, err := svc.OpenSecret(ctx, "c1", "bob", bob)
	require.NoError(t, err)

	assert.Len(t, aliceSecret, encryption.KeyLength)
	assert.Equal(t, aliceSecret, bobSecret, "participants must share the same conversation key")

	stored, err := store.secrets.GetForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, stored, 1, "duplicate participants get one copy")
}

func TestConversationService_OpenSecret_WrongKey(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(store)
	ctx := context.Background()

	registerUser(t, store, "alice")
	bob := registerUser(t, store, "bob")
	require.NoError(t, svc.Create(ctx, "c1", []string{"alice", "bob"}))

	_, err := svc.OpenSecret(ctx, "c1", "alice", bob)
	assert.Error(t, err)
}

func TestConversationService_OpenSecret_NotParticipant(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(store)
	ctx := context.Background()

	alice := registerUser(t, store, "alice")
	registerUser(t, store, "bob")
	require.NoError(t, svc.Create(ctx, "c1", []string{"bob"}))

	_, err := svc.OpenSecret(ctx, "c1", "alice", alice)
	assert.True(t, IsSecretNotFoundError(err), "expected SecretNotFoundError, got %v", err)
}

func TestConversationService_Create_MissingParticipantKey(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(store)
	ctx := context.Background()

	registerUser(t, store, "alice")

	err := svc.Create(ctx, "c1", []string{"alice", "mallory"})
	assert.True(t, IsParticipantKeyMissingError(err), "expected ParticipantKeyMissingError, got %v", err)

	stored, err := store.secrets.GetForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, stored, "nothing is stored when a participant cannot be resolved")
}

func TestConversationService_Create_InvalidInput(t *testing.T) {
	svc := newTestService(newTestStore(t))

	assert.Error(t, svc.Create(context.Background(), "", []string{"alice"}))
	assert.Error(t, svc.Create(context.Background(), "c1", nil))
}

// hookedUserKeys runs afterGet once, right after the key record of hookUser was read
type hookedUserKeys struct {
	userkeys.UserKeyRepository
	hookUser string
	afterGet func()
}

func (r *hookedUserKeys) Get(ctx context.Context, userID string) (*userkeys.UserKeyRecord, error) {
	record, err := r.UserKeyRepository.Get(ctx, userID)
	if userID == r.hookUser && r.afterGet != nil {
		hook := r.afterGet
		r.afterGet = nil
		hook()
	}
	return record, err
}

func TestConversationService_Create_ParticipantMigratesMeanwhile(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	legacyAlice := registerUser(t, store, "alice")
	bob := registerUser(t, store, "bob")

	derivedAlice, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	derivedJWK, err := keyderivation.PublicJWK(derivedAlice.PublicKey())
	require.NoError(t, err)
	legacyJWK, err := keyderivation.PublicJWK(legacyAlice.PublicKey())
	require.NoError(t, err)

	hooked := &hookedUserKeys{
		UserKeyRepository: store.userKeys,
		hookUser:          "alice",
		afterGet: func() {
			// alice's migration commits after her legacy key was resolved
			require.NoError(t, store.secrets.CommitRekey(ctx, &Rekey{
				UserID:               "alice",
				ExpectedPublicKeyJWK: legacyJWK.String(),
				PublicKeyJWK:         derivedJWK.String(),
				Salt:                 "AAAAAAAAAAAAAAAAAAAAAA==",
			}))
		},
	}
	encryptor := encryption.NewAESEncryptor()
	svc := NewConversationService(nil, store.secrets, hooked, encryptor, encryption.NewECIESWrapper(encryptor))

	err = svc.Create(ctx, "late", []string{"alice", "bob"})
	require.True(t, IsStaleKeyRecordError(err), "expected StaleKeyRecordError, got %v", err)

	stored, err := store.secrets.Get(ctx, "late", "bob")
	require.NoError(t, err)
	assert.Nil(t, stored, "a rejected conversation leaves no secrets behind")

	// a retry wraps for alice's current key
	require.NoError(t, svc.Create(ctx, "late", []string{"alice", "bob"}))
	aliceSecret, err := svc.OpenSecret(ctx, "late", "alice", derivedAlice)
	require.NoError(t, err)
	bobSecret, err := svc.OpenSecret(ctx, "late", "bob", bob)
	require.NoError(t, err)
	assert.Equal(t, aliceSecret, bobSecret)
}
