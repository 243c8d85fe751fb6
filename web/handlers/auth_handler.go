package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/web/sessions"
)

type AuthHandler struct {
	logger               logging.Logger
	identityStoreFactory sessions.IdentityStoreFactory
	keySessions          *sessions.KeySessionRegistry
}

func NewAuthHandler(logger logging.Logger, identityStoreFactory sessions.IdentityStoreFactory, keySessions *sessions.KeySessionRegistry) *AuthHandler {
	return &AuthHandler{
		logger:               logger,
		identityStoreFactory: identityStoreFactory,
		keySessions:          keySessions,
	}
}

type signInRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email"`
}

// SignIn records the user the host application has authenticated. The route
// sits behind RequireAgentToken, so only the holder of the agent token gets here.
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: err.Error()})
		return
	}

	identityStore := h.identityStoreFactory(c)

	// a previous user's key session on this cookie ends here
	if previous, err := identityStore.GetIdentity(); err == nil {
		h.keySessions.Close(previous.KeySessionID)
	}

	if err := identityStore.SetIdentity(sessions.Identity{UserID: req.UserID, Email: req.Email}); err != nil {
		h.logger.Error("Failed to store identity in session", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal", Message: "failed to start session"})
		return
	}

	h.logger.Info("User signed in", "user_id", req.UserID)
	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "email": req.Email})
}

// SignOut ends the key session, clearing any cached key pair, and expires the cookie
func (h *AuthHandler) SignOut(c *gin.Context) {
	identityStore := h.identityStoreFactory(c)

	if identity, err := identityStore.GetIdentity(); err == nil {
		h.keySessions.Close(identity.KeySessionID)
		h.logger.Info("User signed out", "user_id", identity.UserID)
	}

	if err := identityStore.ClearIdentity(); err != nil {
		h.logger.Error("Failed to clear session", "error", err)
		// Don't block sign-out, the key session is already gone.
	}
	c.Status(http.StatusNoContent)
}
