package handlers

import (
	"net/http"
	"time"

	"mafiaserver/database"
	"mafiaserver/gateway"
	"mafiaserver/models"
	"mafiaserver/rooms"
	"mafiaserver/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var startTime = time.Now()

// HealthHandler answers liveness probes.
func HealthHandler(c *gin.Context, gw *gateway.Handler) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"uptime":    int(time.Since(startTime).Seconds()),
		"timestamp": time.Now().Format(time.RFC3339),
		"websocket": gin.H{
			"clients": gw.ClientCount(),
			"ready":   true,
		},
	})
}

// StatusHandler reports aggregate server and game statistics. All reads are
// lock-free snapshots; a persistence failure degrades the totals but never
// the response.
func StatusHandler(c *gin.Context, store database.Store, registry *session.Registry, manager *rooms.Manager, gw *gateway.Handler, logger *zap.Logger) {
	stats, err := store.GetStats(c.Request.Context())
	if err != nil {
		logger.Error("failed to read stats", zap.Error(err))
		stats = models.Stats{}
	}

	online, authenticated := registry.Counts()
	activeRooms, activeGames := manager.Counts()

	c.JSON(http.StatusOK, gin.H{
		"server":    "Mafia Game Server",
		"status":    "running",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    int(time.Since(startTime).Seconds()),
		"websocket": gin.H{
			"clients": gw.ClientCount(),
			"ready":   true,
		},
		"game": gin.H{
			"totalUsers":         stats.TotalUsers,
			"totalGames":         stats.TotalGames,
			"onlineUsers":        online,
			"authenticatedUsers": authenticated,
			"activeRooms":        activeRooms,
			"activeGames":        activeGames,
		},
	})
}
