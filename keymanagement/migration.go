package keymanagement

import (
	"context"
	"crypto/ecdh"
	"fmt"
	"sync"

	"github.com/tortoisewolfe/securemsg/ccc/memzero"
	"github.com/tortoisewolfe/securemsg/conversations"
	"github.com/tortoisewolfe/securemsg/keyderivation"
)

// migration is the state of one MigrateKeys run. Everything it holds before
// the upload phase lives in memory only.
type migration struct {
	session  *Session
	password string
	emit     ProgressFunc

	legacyJWK string
	legacyKey *ecdh.PrivateKey
	secrets   []*conversations.ConversationSecret
	pair      *keyderivation.DerivedKeyPair
	staged    []*conversations.ConversationSecret
}

// MigrateKeys replaces a legacy key pair with one derived from password and
// re-wraps every conversation secret of the user for it. The stored key record
// and all secrets change in a single commit; on any error nothing persisted
// has changed and the call can simply be repeated. Every error is a *MigrationError.
func (s *Session) MigrateKeys(ctx context.Context, password string, onProgress ProgressFunc) (*keyderivation.DerivedKeyPair, error) {
	end, err := s.begin()
	if err != nil {
		return nil, NewMigrationError(PhaseFetching, "session busy", err)
	}
	defer end()

	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	m := &migration{session: s, password: password, emit: onProgress}
	return m.run(ctx)
}

func (m *migration) run(ctx context.Context) (*keyderivation.DerivedKeyPair, error) {
	logger := m.session.manager.logger
	userID := m.session.user.ID

	steps := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhaseFetching, m.fetch},
		{PhaseDeriving, m.derive},
		{PhaseReencrypting, m.reencrypt},
		{PhaseUploading, m.upload},
		{PhaseComplete, m.complete},
	}

	for _, step := range steps {
		// the commit cannot be undone, so cancellation is honoured only before it
		if step.phase <= PhaseUploading {
			if err := ctx.Err(); err != nil {
				return nil, NewMigrationError(step.phase, "migration cancelled", err)
			}
		}

		logger.Debug("Migration phase started", "user_id", userID, "phase", step.phase)
		if err := step.fn(ctx); err != nil {
			logger.Error("Key migration failed", "user_id", userID, "phase", step.phase, "error", err)
			if IsMigrationError(err) {
				return nil, err
			}
			return nil, NewMigrationError(step.phase, "phase failed", err)
		}
	}

	logger.Info("Key migration complete", "user_id", userID, "secrets", len(m.secrets))
	return m.pair, nil
}

func (m *migration) progress(phase Phase, current int) {
	m.emit(Progress{Phase: phase, Current: current, Total: len(m.secrets)})
}

func (m *migration) fetch(ctx context.Context) error {
	s := m.session
	mgr := s.manager
	userID := s.user.ID

	if err := s.authenticate(ctx); err != nil {
		return NewMigrationError(PhaseFetching, "no active session", err)
	}

	record, err := mgr.userKeys.Get(ctx, userID)
	if err != nil {
		return NewMigrationError(PhaseFetching, "failed to load key record", NewConnectionError("migrate", err))
	}
	if record == nil {
		return NewMigrationError(PhaseFetching, "no key record", NewKeysNotInitializedError(userID))
	}
	if !record.IsLegacy() {
		return NewMigrationError(PhaseFetching, "keys are already derived from a password", nil)
	}

	legacyKey, err := mgr.legacy.Load(userID)
	if err != nil {
		return NewMigrationError(PhaseFetching, "failed to load legacy private key", err)
	}
	if legacyKey == nil {
		return NewMigrationError(PhaseFetching, "legacy private key not found on this device", nil)
	}

	stored, err := keyderivation.ParseJWK(record.PublicKeyJWK)
	if err != nil {
		return NewMigrationError(PhaseFetching, "stored legacy public key is invalid", err)
	}
	local, err := keyderivation.PublicJWK(legacyKey.PublicKey())
	if err != nil {
		return NewMigrationError(PhaseFetching, "legacy private key is invalid", err)
	}
	if !keyderivation.VerifyPublicKey(local, stored) {
		return NewMigrationError(PhaseFetching, "legacy private key does not match the stored public key", nil)
	}

	secrets, err := mgr.secrets.GetForUser(ctx, userID)
	if err != nil {
		return NewMigrationError(PhaseFetching, "failed to load conversation secrets", NewConnectionError("migrate", err))
	}

	m.legacyJWK = record.PublicKeyJWK
	m.legacyKey = legacyKey
	m.secrets = secrets
	m.progress(PhaseFetching, 0)
	return nil
}

func (m *migration) derive(ctx context.Context) error {
	deriver := m.session.manager.deriver

	pair, err := deriver.DeriveKeyPair(m.password, deriver.GenerateSalt())
	if err != nil {
		return NewMigrationError(PhaseDeriving, "failed to derive new key pair", err)
	}

	m.pair = pair
	m.progress(PhaseDeriving, 0)
	return nil
}

// reencrypt re-wraps every secret for the new public key on a bounded worker
// pool. Results are staged by index; progress is reported in completion order.
func (m *migration) reencrypt(ctx context.Context) error {
	total := len(m.secrets)
	m.progress(PhaseReencrypting, 0)

	staged := make([]*conversations.ConversationSecret, total)
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	jobs := make(chan int)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	workers := min(m.session.manager.workers, total)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}

				item, err := m.rewrap(m.secrets[i])
				if err != nil {
					cancel(NewMigrationError(PhaseReencrypting,
						fmt.Sprintf("failed to re-encrypt secret of conversation %s", m.secrets[i].ConversationID), err))
					continue
				}
				staged[i] = item

				mu.Lock()
				if ctx.Err() == nil {
					done++
					m.progress(PhaseReencrypting, done)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range m.secrets {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := context.Cause(ctx); err != nil {
		return err
	}

	m.staged = staged
	return nil
}

func (m *migration) rewrap(secret *conversations.ConversationSecret) (*conversations.ConversationSecret, error) {
	wrapper := m.session.manager.wrapper

	plain, err := conversations.UnwrapSecret(wrapper, secret.EncryptedSecret, m.legacyKey)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(plain)

	encoded, err := conversations.WrapSecret(wrapper, plain, m.pair.PublicKey)
	if err != nil {
		return nil, err
	}

	return &conversations.ConversationSecret{
		ConversationID:  secret.ConversationID,
		UserID:          secret.UserID,
		EncryptedSecret: encoded,
		CreatedAt:       secret.CreatedAt,
		UpdatedAt:       secret.UpdatedAt,
	}, nil
}

// upload commits the staged rekey; its progress event follows the commit, so
// an observer never sees uploading for a rekey that was rejected
func (m *migration) upload(ctx context.Context) error {
	err := m.session.manager.secrets.CommitRekey(ctx, &conversations.Rekey{
		UserID:               m.session.user.ID,
		ExpectedPublicKeyJWK: m.legacyJWK,
		PublicKeyJWK:         m.pair.PublicKeyJWK.String(),
		Salt:                 m.pair.Salt,
		Secrets:              m.staged,
	})
	if err != nil {
		return NewMigrationError(PhaseUploading, "commit rejected", err)
	}

	m.progress(PhaseUploading, len(m.secrets))
	return nil
}

// complete runs after the commit and therefore never fails the migration
func (m *migration) complete(_ context.Context) error {
	s := m.session
	mgr := s.manager

	if err := mgr.legacy.Delete(s.user.ID); err != nil {
		mgr.logger.Error("Failed to delete legacy private key after migration", "user_id", s.user.ID, "error", err)
	}
	m.legacyKey = nil

	s.cache.Store(m.pair)
	if s.closed.Load() {
		s.cache.Store(nil)
	}

	m.progress(PhaseComplete, len(m.secrets))
	return nil
}
