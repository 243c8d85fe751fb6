// Package keymanagement owns the in-memory key cache of a signed-in user and
// the operations that fill it: initializing keys for a new account, deriving
// them again at sign-in, and migrating a legacy account to derived keys.
package keymanagement

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tortoisewolfe/securemsg/auth"
	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/conversations"
	"github.com/tortoisewolfe/securemsg/encryption"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/legacykeys"
	"github.com/tortoisewolfe/securemsg/userkeys"
)

// DefaultReencryptWorkers bounds the re-encryption pool when none is configured
const DefaultReencryptWorkers = 4

// KeyDeriver is the part of keyderivation.Service used here
type KeyDeriver interface {
	GenerateSalt() []byte
	DeriveKeyPair(password string, salt []byte) (*keyderivation.DerivedKeyPair, error)
}

// Manager holds the collaborators shared by all key sessions
type Manager struct {
	logger   logging.Logger
	sessions auth.SessionProvider
	deriver  KeyDeriver
	userKeys userkeys.UserKeyRepository
	secrets  conversations.SecretRepository
	legacy   legacykeys.Store
	wrapper  encryption.KeyWrapper
	workers  int
}

func NewManager(logger logging.Logger, sessions auth.SessionProvider, deriver KeyDeriver, userKeys userkeys.UserKeyRepository, secrets conversations.SecretRepository, legacy legacykeys.Store, wrapper encryption.KeyWrapper, workers int) *Manager {

	if logger == nil {
		logger = logging.NopLogger
	}
	if workers < 1 {
		workers = DefaultReencryptWorkers
	}

	return &Manager{
		logger:   logger,
		sessions: sessions,
		deriver:  deriver,
		userKeys: userKeys,
		secrets:  secrets,
		legacy:   legacy,
		wrapper:  wrapper,
		workers:  workers,
	}
}

// NewSession binds a key session to the user signed in on ctx
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	user, err := m.sessions.CurrentUser(ctx)
	if err != nil {
		return nil, NewAuthenticationError(err)
	}

	m.logger.Debug("Key session opened", "user_id", user.ID)
	return &Session{manager: m, user: *user}, nil
}

// Session is the key session of one user on one device. It owns a single
// cache slot. DeriveKeys, InitializeKeys and MigrateKeys are mutually
// exclusive: a call made while another one runs fails with
// OperationInProgressError.
type Session struct {
	manager *Manager
	user    auth.User

	op     sync.Mutex
	cache  atomic.Pointer[keyderivation.DerivedKeyPair]
	closed atomic.Bool
}

// User returns the user the session was opened for
func (s *Session) User() auth.User {
	return s.user
}

// authenticate checks that the session is open and still belongs to the signed-in user
func (s *Session) authenticate(ctx context.Context) error {
	if s.closed.Load() {
		return NewAuthenticationError(auth.ErrNoSession)
	}

	current, err := s.manager.sessions.CurrentUser(ctx)
	if err != nil {
		return NewAuthenticationError(err)
	}
	if current.ID != s.user.ID {
		return NewAuthenticationError(auth.ErrNoSession)
	}
	return nil
}

// begin claims the session for one exclusive operation
func (s *Session) begin() (func(), error) {
	if !s.op.TryLock() {
		return nil, NewOperationInProgressError(s.user.ID)
	}
	return s.op.Unlock, nil
}

// publish caches pair unless the session was closed while the operation ran
func (s *Session) publish(pair *keyderivation.DerivedKeyPair) error {
	s.cache.Store(pair)
	if s.closed.Load() {
		s.cache.Store(nil)
		return NewAuthenticationError(auth.ErrNoSession)
	}
	return nil
}

func (s *Session) loadRecord(ctx context.Context, op string) (*userkeys.UserKeyRecord, error) {
	record, err := s.manager.userKeys.Get(ctx, s.user.ID)
	if err != nil {
		return nil, NewConnectionError(op, err)
	}
	return record, nil
}

// KeyStatus reports whether the user has no keys, legacy keys or derived keys
func (s *Session) KeyStatus(ctx context.Context) (Status, error) {
	if err := s.authenticate(ctx); err != nil {
		return StatusMissing, err
	}

	record, err := s.loadRecord(ctx, "status")
	if err != nil {
		return StatusMissing, err
	}

	switch {
	case record == nil:
		return StatusMissing, nil
	case record.IsLegacy():
		return StatusLegacy, nil
	default:
		return StatusDerived, nil
	}
}

// NeedsMigration reports whether the stored key record is a legacy record.
// A user without any key record does not need migration.
func (s *Session) NeedsMigration(ctx context.Context) (bool, error) {
	status, err := s.KeyStatus(ctx)
	if err != nil {
		return false, err
	}
	return status == StatusLegacy, nil
}

// DeriveKeys recomputes the key pair from the password and the stored salt,
// checks it against the stored public key and caches it
func (s *Session) DeriveKeys(ctx context.Context, password string) (*keyderivation.DerivedKeyPair, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}

	logger := s.manager.logger
	userID := s.user.ID

	record, err := s.loadRecord(ctx, "derive")
	if err != nil {
		logger.Error("Failed to load key record", "user_id", userID, "error", err)
		return nil, err
	}
	if record == nil {
		return nil, NewKeysNotInitializedError(userID)
	}
	if record.IsLegacy() {
		return nil, NewMigrationRequiredError(userID)
	}

	salt, err := keyderivation.DecodeSalt(*record.Salt)
	if err != nil {
		return nil, keyderivation.NewKeyDerivationError("stored salt is invalid", err)
	}

	stored, err := keyderivation.ParseJWK(record.PublicKeyJWK)
	if err != nil {
		return nil, keyderivation.NewKeyDerivationError("stored public key is invalid", err)
	}

	started := time.Now()
	pair, err := s.manager.deriver.DeriveKeyPair(password, salt)
	if err != nil {
		logger.Error("Key derivation failed", "user_id", userID, "error", err)
		return nil, err
	}
	logger.Debug("Derived key pair", "user_id", userID, "duration", time.Since(started))

	if !keyderivation.VerifyPublicKey(pair.PublicKeyJWK, stored) {
		logger.Warn("Derived public key does not match stored key", "user_id", userID)
		return nil, NewInvalidPasswordError(userID)
	}

	if err := s.publish(pair); err != nil {
		return nil, err
	}

	logger.Info("Keys derived", "user_id", userID)
	return pair, nil
}

// InitializeKeys creates the first key pair of an account. The pair is cached
// only after its public key and salt have been persisted.
func (s *Session) InitializeKeys(ctx context.Context, password string) (*keyderivation.DerivedKeyPair, error) {
	end, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer end()

	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}

	logger := s.manager.logger
	userID := s.user.ID

	existing, err := s.loadRecord(ctx, "initialize")
	if err != nil {
		logger.Error("Failed to check for existing key record", "user_id", userID, "error", err)
		return nil, err
	}
	if existing != nil {
		return nil, NewKeysAlreadyInitializedError(userID)
	}

	pair, err := s.manager.deriver.DeriveKeyPair(password, s.manager.deriver.GenerateSalt())
	if err != nil {
		logger.Error("Key derivation failed", "user_id", userID, "error", err)
		return nil, err
	}

	salt := pair.Salt
	now := time.Now().UTC()
	record := &userkeys.UserKeyRecord{
		UserID:       userID,
		PublicKeyJWK: pair.PublicKeyJWK.String(),
		Salt:         &salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.manager.userKeys.Create(ctx, record); err != nil {
		if userkeys.IsUserKeyAlreadyExistsError(err) {
			logger.Warn("Key record was created concurrently", "user_id", userID)
			return nil, NewKeysAlreadyInitializedError(userID)
		}
		logger.Error("Failed to persist key record", "user_id", userID, "error", err)
		return nil, NewConnectionError("initialize", err)
	}

	if err := s.publish(pair); err != nil {
		return nil, err
	}

	logger.Info("Keys initialized", "user_id", userID)
	return pair, nil
}

// GetCurrentKeys returns the cached key pair, or nil. It performs no I/O.
func (s *Session) GetCurrentKeys() *keyderivation.DerivedKeyPair {
	if s.closed.Load() {
		return nil
	}
	return s.cache.Load()
}

// ClearKeys drops the cached key pair. It performs no I/O.
func (s *Session) ClearKeys() {
	s.cache.Store(nil)
}

// Close clears the cache and ends the session; later operations fail with AuthenticationError
func (s *Session) Close() {
	s.closed.Store(true)
	s.ClearKeys()
	s.manager.logger.Debug("Key session closed", "user_id", s.user.ID)
}
