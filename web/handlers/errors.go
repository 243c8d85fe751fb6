package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tortoisewolfe/securemsg/keyderivation"
	"github.com/tortoisewolfe/securemsg/keymanagement"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Phase   string `json:"phase,omitempty"`
}

// classify maps key management errors onto an HTTP status and a stable error code
func classify(err error) (int, errorBody) {
	body := errorBody{Message: err.Error()}

	if phase, ok := keymanagement.MigrationPhaseOf(err); ok {
		body.Phase = phase.String()
	}

	switch {
	case keymanagement.IsOperationInProgressError(err):
		body.Error = "operation_in_progress"
		return http.StatusConflict, body
	case keymanagement.IsAuthenticationError(err):
		body.Error = "unauthenticated"
		return http.StatusUnauthorized, body
	case keymanagement.IsInvalidPasswordError(err):
		body.Error = "invalid_password"
		return http.StatusForbidden, body
	case keymanagement.IsKeysNotInitializedError(err):
		body.Error = "keys_not_initialized"
		return http.StatusNotFound, body
	case keymanagement.IsKeysAlreadyInitializedError(err):
		body.Error = "keys_already_initialized"
		return http.StatusConflict, body
	case keymanagement.IsMigrationRequiredError(err):
		body.Error = "migration_required"
		return http.StatusConflict, body
	case keymanagement.IsMigrationError(err):
		body.Error = "migration_failed"
		return http.StatusInternalServerError, body
	case keyderivation.IsKeyDerivationError(err):
		body.Error = "key_derivation_failed"
		return http.StatusUnprocessableEntity, body
	case keymanagement.IsConnectionError(err):
		body.Error = "store_unavailable"
		return http.StatusServiceUnavailable, body
	default:
		body.Error = "internal"
		return http.StatusInternalServerError, body
	}
}

func abortWithError(c *gin.Context, err error) {
	status, body := classify(err)
	c.AbortWithStatusJSON(status, body)
}
