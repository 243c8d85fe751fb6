package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/keymanagement"
)

const (
	// sessionLifetime bounds both the cookie and an idle key session
	sessionLifetime = 12 * time.Hour
	// maxKeySessionsPerUser caps the key sessions one user can hold open
	maxKeySessionsPerUser = 8
)

type keySessionEntry struct {
	session  *keymanagement.Session
	lastUsed time.Time
}

// KeySessionRegistry keeps the key sessions of the agent in memory, keyed by
// an opaque id that is stored in the user's cookie. Losing the process loses
// every cached key pair, which is intended: the user signs in again.
// Sessions idle for longer than the cookie lifetime are closed, and a user
// opening more than maxKeySessionsPerUser loses the least recently used one.
type KeySessionRegistry struct {
	logger      logging.Logger
	manager     *keymanagement.Manager
	idleTimeout time.Duration
	maxPerUser  int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*keySessionEntry
}

func NewKeySessionRegistry(logger logging.Logger, manager *keymanagement.Manager) *KeySessionRegistry {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &KeySessionRegistry{
		logger:      logger,
		manager:     manager,
		idleTimeout: sessionLifetime,
		maxPerUser:  maxKeySessionsPerUser,
		now:         time.Now,
		sessions:    make(map[string]*keySessionEntry),
	}
}

// Open starts a key session for the user signed in on ctx
func (r *KeySessionRegistry) Open(ctx context.Context) (string, *keymanagement.Session, error) {
	session, err := r.manager.NewSession(ctx)
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	userID := session.User().ID

	r.mu.Lock()
	now := r.now()
	evicted := r.expireLocked(now)

	var oldestID string
	var oldest *keySessionEntry
	count := 0
	for entryID, entry := range r.sessions {
		if entry.session.User().ID != userID {
			continue
		}
		count++
		if oldest == nil || entry.lastUsed.Before(oldest.lastUsed) {
			oldestID, oldest = entryID, entry
		}
	}
	if count >= r.maxPerUser && oldest != nil {
		delete(r.sessions, oldestID)
		evicted = append(evicted, oldest.session)
	}

	r.sessions[id] = &keySessionEntry{session: session, lastUsed: now}
	r.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
	if len(evicted) > 0 {
		r.logger.Debug("Key sessions evicted", "count", len(evicted))
	}

	r.logger.Debug("Key session registered", "user_id", userID)
	return id, session, nil
}

// Get returns the key session with the given id if it belongs to userID and
// has not been idle for too long
func (r *KeySessionRegistry) Get(id, userID string) *keymanagement.Session {
	if id == "" {
		return nil
	}

	r.mu.Lock()
	entry, ok := r.sessions[id]
	if !ok || entry.session.User().ID != userID {
		r.mu.Unlock()
		return nil
	}

	now := r.now()
	if now.Sub(entry.lastUsed) > r.idleTimeout {
		delete(r.sessions, id)
		r.mu.Unlock()
		entry.session.Close()
		r.logger.Debug("Idle key session expired", "user_id", userID)
		return nil
	}
	entry.lastUsed = now
	r.mu.Unlock()

	return entry.session
}

// expireLocked forgets idle sessions and returns them for closing; r.mu must be held
func (r *KeySessionRegistry) expireLocked(now time.Time) []*keymanagement.Session {
	var expired []*keymanagement.Session
	for id, entry := range r.sessions {
		if now.Sub(entry.lastUsed) > r.idleTimeout {
			delete(r.sessions, id)
			expired = append(expired, entry.session)
		}
	}
	return expired
}

// Close ends and forgets a key session; unknown ids are ignored
func (r *KeySessionRegistry) Close(id string) {
	r.mu.Lock()
	entry, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		entry.session.Close()
	}
}

// CloseAll ends every key session, clearing all cached key pairs
func (r *KeySessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*keySessionEntry)
	r.mu.Unlock()

	for _, entry := range sessions {
		entry.session.Close()
	}
	r.logger.Info("Closed all key sessions", "count", len(sessions))
}

// Len returns the number of open key sessions
func (r *KeySessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
