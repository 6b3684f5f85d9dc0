package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sessionTTL = 24 * time.Hour

type sessionInfo struct {
	UserID   string `json:"userID"`
	Nickname string `json:"nickname"`
}

// StoreSessionID issues a fresh session ID bound to the given identity and
// stores it in Redis. The ID is sent to the client and presented again on
// reconnect in place of a token.
func StoreSessionID(ctx context.Context, rdb *redis.Client, userID, nickname string, logger *zap.Logger) (string, error) {
	sessionID := uuid.New().String()

	infoJSON, err := json.Marshal(sessionInfo{UserID: userID, Nickname: nickname})
	if err != nil {
		logger.Error("Error encoding session info", zap.Error(err))
		return "", err
	}

	if err := rdb.Set(ctx, "session:"+sessionID, infoJSON, sessionTTL).Err(); err != nil {
		logger.Error("Error storing session info in Redis", zap.Error(err))
		return "", err
	}
	return sessionID, nil
}

// LookupSessionID resolves a session ID back to the identity it was issued
// for and deletes it, so each ID is usable exactly once.
func LookupSessionID(ctx context.Context, rdb *redis.Client, sessionID string, logger *zap.Logger) (userID, nickname string, ok bool) {
	if sessionID == "" {
		return "", "", false
	}

	infoJSON, err := rdb.Get(ctx, "session:"+sessionID).Result()
	if err != nil {
		logger.Warn("Invalid or expired session ID", zap.Error(err))
		return "", "", false
	}

	var info sessionInfo
	if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
		logger.Error("Failed to decode session info", zap.Error(err))
		return "", "", false
	}

	rdb.Del(ctx, "session:"+sessionID)
	return info.UserID, info.Nickname, true
}
