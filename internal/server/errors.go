package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/failure"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	messageEmailInUse         = "Email already in use"
	messageInvalidCredentials = "Invalid credentials"
	messageUnauthorized       = "unauthorized"
	messageIdentityRejected   = "identity_rejected"
	messageInvalidRequest     = "invalid_request"
	messageServerError        = "server_error"
)

// statusFor maps a classified failure onto its HTTP status and client-facing message.
func statusFor(err error) (int, string, bool) {
	kind, ok := failure.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, messageServerError, false
	}
	switch kind {
	case failure.KindDuplicateEmail:
		return http.StatusBadRequest, messageEmailInUse, true
	case failure.KindInvalidCredential:
		return http.StatusUnauthorized, messageInvalidCredentials, true
	case failure.KindMissingCredential, failure.KindInvalidToken, failure.KindTokenExpired, failure.KindPrincipalNotFound:
		return http.StatusUnauthorized, messageUnauthorized, true
	case failure.KindIdentityRejected:
		return http.StatusUnauthorized, messageIdentityRejected, true
	default:
		return http.StatusInternalServerError, messageServerError, false
	}
}

// writeError responds with the translation of err. Unclassified errors are logged and reported as 500.
func (h *httpHandler) writeError(c *gin.Context, operation string, err error) {
	status, message, classified := statusFor(err)
	if !classified {
		h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func (h *httpHandler) rejectUnauthorized(c *gin.Context, err error) {
	switch {
	case failure.Is(err, failure.KindMissingCredential):
	case errors.Is(err, jwt.ErrTokenExpired):
		h.logger.Info("token validation failed", zap.Error(err))
	case failure.Is(err, failure.KindInvalidToken):
		h.logger.Warn("token validation failed", zap.Error(err))
	case failure.Is(err, failure.KindPrincipalNotFound):
		h.logger.Warn("token principal not found", zap.Error(err))
	}
	h.writeError(c, "authorize", err)
}
