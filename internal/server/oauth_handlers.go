package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/oauth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const oauthCookiePath = "/api/oauth"

func (h *httpHandler) provider(c *gin.Context) (IdentityProvider, bool) {
	provider, ok := h.providers[strings.ToLower(c.Param("provider"))]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		return nil, false
	}
	return provider, true
}

func (h *httpHandler) handleProviderStart(c *gin.Context) {
	provider, ok := h.provider(c)
	if !ok {
		return
	}

	state, err := h.states.Issue(provider.Name())
	if err != nil {
		h.writeError(c, "issue oauth state", err)
		return
	}

	h.setStateCookie(c, state, int(h.states.TTL()/time.Second))
	c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

// handleProviderCallback completes a provider login and hands the session token to the frontend.
func (h *httpHandler) handleProviderCallback(c *gin.Context) {
	provider, ok := h.provider(c)
	if !ok {
		return
	}
	logger := h.logger.With(zap.String("provider", provider.Name()))

	cookieState, _ := c.Cookie(oauth.StateCookieName)
	h.setStateCookie(c, "", -1)

	if providerError := c.Query("error"); providerError != "" {
		logger.Info("provider login declined", zap.String("reason", providerError))
		h.redirectFailure(c)
		return
	}

	state := c.Query("state")
	if state == "" || state != cookieState {
		logger.Warn("oauth state mismatch")
		h.redirectFailure(c)
		return
	}
	if err := h.states.Verify(state, provider.Name()); err != nil {
		logger.Warn("oauth state rejected", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	identity, err := provider.Identity(c.Request.Context(), c.Query("code"))
	if err != nil {
		logger.Warn("provider identity exchange failed", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	user, err := h.resolver.Resolve(c.Request.Context(), identity)
	if err != nil {
		if failure.Is(err, failure.KindIdentityRejected) {
			logger.Info("provider identity rejected", zap.Error(err))
		} else {
			logger.Error("provider identity resolution failed", zap.Error(err))
		}
		h.redirectFailure(c)
		return
	}

	session, err := h.credentials.IssueFor(user)
	if err != nil {
		logger.Error("failed to issue session token", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	logger.Info("provider login succeeded", zap.String("user_id", user.ID))
	c.Redirect(http.StatusFound, h.frontendURL+"/auth?token="+url.QueryEscape(session.Token))
}

func (h *httpHandler) setStateCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauth.StateCookieName, value, maxAge, oauthCookiePath, "", c.Request.TLS != nil, true)
}

func (h *httpHandler) redirectFailure(c *gin.Context) {
	c.Redirect(http.StatusFound, h.failureRedirect)
}
