package handlers

import (
	"net/http"

	"mafiaserver/database"
	"mafiaserver/middlewares"
	"mafiaserver/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type loginRequest struct {
	Nickname string `json:"nickname" binding:"required"`
}

// LoginHandler issues an identity token for a nickname. The token is later
// presented on the websocket authenticate message.
func LoginHandler(c *gin.Context, store database.Store, logger *zap.Logger) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname is required"})
		return
	}

	userID := uuid.New().String()
	token, err := middlewares.GenerateToken(userID, req.Nickname)
	if err != nil {
		logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	if err := store.UpsertUser(c.Request.Context(), userID, req.Nickname); err != nil {
		// The in-memory session remains the source of truth; log and go on.
		logger.Error("failed to persist user at login", zap.Error(err))
	}

	logger.Info("user logged in", zap.String("userID", userID), zap.String("nickname", req.Nickname))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"user": models.AuthenticatedPayload{
			UserID:   userID,
			Nickname: req.Nickname,
			Avatar:   "👤",
			Coins:    100,
		},
	})
}
