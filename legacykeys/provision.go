package legacykeys

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/userkeys"
)

// Provision creates a random legacy key pair for a user who has no keys yet:
// the private key goes to the local store, the public key to a salt-less record.
// Of two concurrent calls for one user exactly one succeeds; the other returns
// UserKeyAlreadyExistsError and leaves the winner's key alone.
func Provision(ctx context.Context, logger logging.Logger, userID string, store Store, repo userkeys.UserKeyRepository) (*userkeys.UserKeyRecord, error) {
	if logger == nil {
		logger = logging.NopLogger
	}

	existing, err := repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, userkeys.NewUserKeyAlreadyExistsError(userID)
	}

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate legacy key: %w", err)
	}

	jwk, err := keyderivation.PublicJWK(key.PublicKey())
	if err != nil {
		return nil, err
	}

	if err := store.Save(userID, key); err != nil {
		if errors.Is(err, ErrKeyExists) {
			logger.Warn("Legacy key is already being provisioned", "user_id", userID)
			return nil, userkeys.NewUserKeyAlreadyExistsError(userID)
		}
		logger.Error("Failed to store legacy private key", "user_id", userID, "error", err)
		return nil, err
	}

	now := time.Now().UTC()
	record := &userkeys.UserKeyRecord{
		UserID:       userID,
		PublicKeyJWK: jwk.String(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := repo.Create(ctx, record); err != nil {
		logger.Error("Failed to store legacy key record", "user_id", userID, "error", err)
		// the key file was created by this call, so removing it touches no one else's key
		if delErr := store.Delete(userID); delErr != nil {
			logger.Warn("Failed to remove orphaned legacy key", "user_id", userID, "error", delErr)
		}
		return nil, err
	}

	logger.Info("Provisioned legacy key pair", "user_id", userID)
	return record, nil
}
