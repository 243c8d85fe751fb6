package sessions

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

const (
	sessionName     = "securemsg-agent-session"
	userIDKey       = "user_id"
	emailKey        = "email"
	keySessionIDKey = "key_session_id"
)

// ErrNoIdentity is returned when the cookie carries no signed-in user
var ErrNoIdentity = errors.New("no identity in session")

// Identity is what the cookie remembers about a signed-in user. Key material
// is never put into the cookie; it stays in the agent's memory.
type Identity struct {
	UserID       string
	Email        string
	KeySessionID string
}

type IdentityStore interface {
	GetIdentity() (*Identity, error)
	SetIdentity(identity Identity) error
	ClearIdentity() error
}

// GorillaIdentityStore implements IdentityStore using gorilla sessions
type GorillaIdentityStore struct {
	store   sessions.Store
	request *gin.Context
}

// NewGorillaIdentityStore creates a new GorillaIdentityStore for a specific request
func NewGorillaIdentityStore(store sessions.Store, c *gin.Context) IdentityStore {
	return &GorillaIdentityStore{
		store:   store,
		request: c,
	}
}

// GetIdentity retrieves the signed-in user from the session
func (s *GorillaIdentityStore) GetIdentity() (*Identity, error) {
	session, err := s.store.Get(s.request.Request, sessionName)
	if err != nil {
		return nil, err
	}

	userID, ok := session.Values[userIDKey].(string)
	if !ok || userID == "" {
		return nil, ErrNoIdentity
	}

	email, _ := session.Values[emailKey].(string)
	keySessionID, _ := session.Values[keySessionIDKey].(string)

	return &Identity{UserID: userID, Email: email, KeySessionID: keySessionID}, nil
}

// SetIdentity stores the signed-in user in the session
func (s *GorillaIdentityStore) SetIdentity(identity Identity) error {
	// a cookie signed with an old key yields a fresh session together with an error
	session, err := s.store.Get(s.request.Request, sessionName)
	if session == nil {
		return err
	}

	session.Values[userIDKey] = identity.UserID
	session.Values[emailKey] = identity.Email
	session.Values[keySessionIDKey] = identity.KeySessionID
	return session.Save(s.request.Request, s.request.Writer)
}

// ClearIdentity removes the user from the session and expires the cookie
func (s *GorillaIdentityStore) ClearIdentity() error {
	session, err := s.store.Get(s.request.Request, sessionName)
	if err != nil && session == nil {
		return err
	}

	delete(session.Values, userIDKey)
	delete(session.Values, emailKey)
	delete(session.Values, keySessionIDKey)
	session.Options.MaxAge = -1
	return session.Save(s.request.Request, s.request.Writer)
}

// IdentityStoreFactory is a function that creates an IdentityStore for a given request context.
type IdentityStoreFactory func(c *gin.Context) IdentityStore

// NewIdentityStoreFactory creates a new IdentityStoreFactory.
func NewIdentityStoreFactory(store sessions.Store) IdentityStoreFactory {
	return func(c *gin.Context) IdentityStore {
		return NewGorillaIdentityStore(store, c)
	}
}

// NewCookieStore creates the cookie store used by the agent. Cookies are
// HTTP-only and same-site strict; they are only marked secure when the agent
// is served over TLS.
func NewCookieStore(key []byte, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
	return store
}
