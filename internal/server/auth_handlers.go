package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type signupRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signupResponsePayload struct {
	Message string     `json:"message"`
	User    users.User `json:"user"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponsePayload struct {
	Token     string     `json:"token"`
	ExpiresAt int64      `json:"expires_at"`
	User      users.User `json:"user"`
}

type profileUpdateRequestPayload struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

type profileUpdateResponsePayload struct {
	Message string        `json:"message"`
	User    users.Profile `json:"user"`
}

func newSessionResponse(session auth.Session) sessionResponsePayload {
	return sessionResponsePayload{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Unix(),
		User:      session.User,
	}
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidRequest})
		return
	}

	user, err := h.credentials.Signup(c.Request.Context(), request.Email, request.Password, request.Name)
	if errors.Is(err, auth.ErrInvalidSignup) {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidRequest})
		return
	}
	if err != nil {
		h.writeError(c, "signup", err)
		return
	}

	h.logger.Info("user signed up", zap.String("user_id", user.ID))
	c.JSON(http.StatusCreated, signupResponsePayload{Message: "Signup successful", User: user})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidRequest})
		return
	}

	session, err := h.credentials.Login(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

// handleCurrentProfile re-reads the principal so a user deleted after gating yields 404.
func (h *httpHandler) handleCurrentProfile(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": messageUnauthorized})
		return
	}

	user, err := h.profiles.FindByID(c.Request.Context(), principal.ID)
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		h.writeError(c, "load user", err)
		return
	}

	var profile *users.Profile
	stored, err := h.profiles.FindProfile(c.Request.Context(), user.ID)
	switch {
	case err == nil:
		profile = &stored
	case errors.Is(err, users.ErrProfileNotFound):
	default:
		h.writeError(c, "load profile", err)
		return
	}

	c.JSON(http.StatusOK, users.ComposeProfileView(user, profile))
}

func (h *httpHandler) handleProfileUpdate(c *gin.Context) {
	principal, ok := auth.PrincipalFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": messageUnauthorized})
		return
	}

	var request profileUpdateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidRequest})
		return
	}

	profile, err := h.profiles.UpdateProfile(c.Request.Context(), principal.ID, users.ProfileFields{
		DisplayName:    request.Name,
		PhoneNumber:    request.Phone,
		MailingAddress: request.Address,
	})
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		h.writeError(c, "update profile", err)
		return
	}

	c.JSON(http.StatusOK, profileUpdateResponsePayload{Message: "Profile updated", User: profile})
}

type googleTokenRequestPayload struct {
	IDToken string `json:"id_token"`
}

func (h *httpHandler) handleGoogleTokenExchange(c *gin.Context) {
	var request googleTokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": messageInvalidRequest})
		return
	}

	identity, err := h.googleVerifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("google token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": messageUnauthorized})
		return
	}

	user, err := h.resolver.Resolve(c.Request.Context(), identity)
	if err != nil {
		h.writeError(c, "resolve google identity", err)
		return
	}

	session, err := h.credentials.IssueFor(user)
	if err != nil {
		h.writeError(c, "issue session", err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}
