package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tortoisewolfe/securemsg/auth"
	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/keymanagement"
	"github.com/tortoisewolfe/securemsg/web/sessions"
)

// keySessionContextKey is the gin context key under which RequireAuth stores the key session
const keySessionContextKey = "keySession"

type AuthMiddleware struct {
	logger               logging.Logger
	identityStoreFactory sessions.IdentityStoreFactory
	keySessions          *sessions.KeySessionRegistry
}

func NewAuthMiddleware(logger logging.Logger, identityStoreFactory sessions.IdentityStoreFactory, keySessions *sessions.KeySessionRegistry) *AuthMiddleware {
	return &AuthMiddleware{
		logger:               logger,
		identityStoreFactory: identityStoreFactory,
		keySessions:          keySessions,
	}
}

// RequireAuth puts the signed-in user on the request context and attaches
// the user's key session, opening a new one if the agent restarted
func (m *AuthMiddleware) RequireAuth(c *gin.Context) {
	identityStore := m.identityStoreFactory(c)
	identity, err := identityStore.GetIdentity()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "sign in first"})
		return
	}

	user := &auth.User{ID: identity.UserID, Email: identity.Email}
	c.Request = c.Request.WithContext(auth.WithUser(c.Request.Context(), user))

	session := m.keySessions.Get(identity.KeySessionID, user.ID)
	if session == nil {
		id, opened, err := m.keySessions.Open(c.Request.Context())
		if err != nil {
			m.logger.Error("Failed to open key session", "user_id", user.ID, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": err.Error()})
			return
		}

		identity.KeySessionID = id
		if err := identityStore.SetIdentity(*identity); err != nil {
			m.logger.Error("Failed to store key session id", "user_id", user.ID, "error", err)
			m.keySessions.Close(id)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		session = opened
	}

	c.Set(keySessionContextKey, session)
	c.Next()
}

// KeySession returns the key session attached by RequireAuth
func KeySession(c *gin.Context) *keymanagement.Session {
	value, ok := c.Get(keySessionContextKey)
	if !ok {
		return nil
	}
	session, _ := value.(*keymanagement.Session)
	return session
}
