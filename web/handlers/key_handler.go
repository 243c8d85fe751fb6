package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/keymanagement"
	"github.com/tortoisewolfe/securemsg/web/middleware"
)

type KeyHandler struct {
	logger logging.Logger
}

func NewKeyHandler(logger logging.Logger) *KeyHandler {
	return &KeyHandler{logger: logger}
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

// keyResponse is the public part of a key pair; the private key never leaves the agent
type keyResponse struct {
	PublicKeyJWK keyderivation.JWK `json:"public_key_jwk"`
	Salt         string            `json:"salt"`
}

func newKeyResponse(pair *keyderivation.DerivedKeyPair) keyResponse {
	return keyResponse{PublicKeyJWK: pair.PublicKeyJWK, Salt: pair.Salt}
}

func bindPassword(c *gin.Context) (string, bool) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "password is required"})
		return "", false
	}
	return req.Password, true
}

func (h *KeyHandler) Status(c *gin.Context) {
	session := middleware.KeySession(c)

	status, err := session.KeyStatus(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"needs_migration": status == keymanagement.StatusLegacy,
		"keys_loaded":     session.GetCurrentKeys() != nil,
	})
}

func (h *KeyHandler) Initialize(c *gin.Context) {
	password, ok := bindPassword(c)
	if !ok {
		return
	}

	pair, err := middleware.KeySession(c).InitializeKeys(c.Request.Context(), password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newKeyResponse(pair))
}

func (h *KeyHandler) Derive(c *gin.Context) {
	password, ok := bindPassword(c)
	if !ok {
		return
	}

	pair, err := middleware.KeySession(c).DeriveKeys(c.Request.Context(), password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newKeyResponse(pair))
}

type migrationOutcome struct {
	pair *keyderivation.DerivedKeyPair
	err  error
}

// Migrate runs the key migration and streams its progress as server-sent
// events: "progress" per step, then a single "complete" or "error" event
func (h *KeyHandler) Migrate(c *gin.Context) {
	password, ok := bindPassword(c)
	if !ok {
		return
	}

	session := middleware.KeySession(c)
	ctx := c.Request.Context()

	events := make(chan keymanagement.Progress, 16)
	done := make(chan migrationOutcome, 1)

	go func() {
		pair, err := session.MigrateKeys(ctx, password, func(p keymanagement.Progress) {
			select {
			case events <- p:
			case <-ctx.Done():
			}
		})
		close(events)
		done <- migrationOutcome{pair: pair, err: err}
	}()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		if p, ok := <-events; ok {
			c.SSEvent("progress", p)
			return true
		}

		outcome := <-done
		if outcome.err != nil {
			h.logger.Warn("Key migration failed", "user_id", session.User().ID, "error", outcome.err)
			_, body := classify(outcome.err)
			c.SSEvent("error", body)
			return false
		}
		c.SSEvent("complete", newKeyResponse(outcome.pair))
		return false
	})
}

func (h *KeyHandler) Current(c *gin.Context) {
	pair := middleware.KeySession(c).GetCurrentKeys()
	if pair == nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "no_keys_loaded", Message: "derive or initialize keys first"})
		return
	}
	c.JSON(http.StatusOK, newKeyResponse(pair))
}

func (h *KeyHandler) Clear(c *gin.Context) {
	middleware.KeySession(c).ClearKeys()
	c.Status(http.StatusNoContent)
}
