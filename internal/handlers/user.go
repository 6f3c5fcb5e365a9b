package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ruby4mag/service-downtime-backend/internal/auth"
	"github.com/ruby4mag/service-downtime-backend/internal/db"
)

func (h *Handler) Login(c *gin.Context) {
	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := c.ShouldBindJSON(&credentials); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	identity, err := h.Authenticator.Authenticate(c.Request.Context(), credentials.Username, credentials.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("login rejected", zap.String("username", credentials.Username))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	jwtToken, expiresAt, err := h.Tokens.GenerateJWT(identity.Username, identity.ClientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	refreshToken, err := h.Tokens.GenerateRefreshToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate refresh token"})
		return
	}

	session := db.Session{Username: identity.Username, ClientID: identity.ClientID, ClientName: identity.ClientName}
	if err := h.Sessions.Save(c.Request.Context(), refreshToken, session, h.Tokens.RefreshTTL()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store refresh token"})
		h.logger.Error("storing refresh token failed", zap.Error(err))
		return
	}

	h.logger.Info("login", zap.String("username", identity.Username), zap.String("client", identity.ClientID))
	c.JSON(http.StatusOK, gin.H{
		"token":         jwtToken,
		"refresh_token": refreshToken,
		"username":      identity.Username,
		"clientId":      identity.ClientID,
		"clientName":    identity.ClientName,
		"expiresAt":     expiresAt.UTC(),
	})
}

func (h *Handler) RefreshToken(c *gin.Context) {
	var request struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := c.ShouldBindJSON(&request); err != nil || request.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	session, err := h.Sessions.Lookup(c.Request.Context(), request.RefreshToken)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
			return
		}
		h.logger.Error("reading refresh token failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	newToken, expiresAt, err := h.Tokens.GenerateJWT(session.Username, session.ClientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": newToken, "expiresAt": expiresAt.UTC()})
}
