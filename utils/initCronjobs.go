package utils

import (
	"time"

	"mafiaserver/models"
	"mafiaserver/rooms"
	"mafiaserver/session"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CronCleaner schedules the periodic housekeeping jobs: recycling finished
// rooms, evicting idle user entries and pruning ancient game records.
func CronCleaner(db *gorm.DB, registry *session.Registry, manager *rooms.Manager, logger *zap.Logger) *cron.Cron {
	c := cron.New()

	// Finished rooms go back to the lobby or disappear; empty rooms go away.
	c.AddFunc("@every 1m", func() {
		manager.Sweep()
	})

	// Users with no connection and no room are dropped after an hour.
	c.AddFunc("@every 10m", func() {
		registry.EvictIdle(time.Hour)
	})

	// Game records older than 90 days are of no interest to the stats page.
	c.AddFunc("@daily", func() {
		result := db.Where("ended_at <= ?", time.Now().AddDate(0, 0, -90)).
			Delete(&models.GameRecord{})
		if result.Error != nil {
			logger.Error("failed to prune old game records", zap.Error(result.Error))
		} else if result.RowsAffected > 0 {
			logger.Info("pruned old game records", zap.Int64("deleted", result.RowsAffected))
		}
	})

	c.Start()
	return c
}
