package database

import (
	"context"
	"errors"
	"time"

	"mafiaserver/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrPersistence wraps any storage failure so callers can log and move on;
// gameplay never blocks on the database.
var ErrPersistence = errors.New("persistence error")

// GameResult is what the phase engine hands over when a session ends.
type GameResult struct {
	RoomID    string
	RoomName  string
	Winner    string
	Days      int
	StartedAt time.Time
	EndedAt   time.Time
	Players   []string // user IDs, winners first is not implied
	Winners   []string // user IDs on the winning side
}

// Store is the persistence gateway consumed by the rest of the server.
type Store interface {
	UpsertUser(ctx context.Context, userID, nickname string) error
	SaveGameResult(ctx context.Context, result GameResult) error
	GetStats(ctx context.Context) (models.Stats, error)
	Close() error
}

// SQLStore implements Store on PostgreSQL via gorm.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewSQLStore(db *gorm.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

func (s *SQLStore) UpsertUser(ctx context.Context, userID, nickname string) error {
	record := models.UserRecord{UserID: userID, Nickname: nickname}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"nickname", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		s.logger.Error("failed to upsert user record", zap.String("userID", userID), zap.Error(err))
		return ErrPersistence
	}
	return nil
}

func (s *SQLStore) SaveGameResult(ctx context.Context, result GameResult) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := models.GameRecord{
			RoomID:    result.RoomID,
			RoomName:  result.RoomName,
			Winner:    result.Winner,
			Days:      result.Days,
			Players:   len(result.Players),
			StartedAt: result.StartedAt,
			EndedAt:   result.EndedAt,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if len(result.Players) > 0 {
			if err := tx.Model(&models.UserRecord{}).
				Where("user_id IN ?", result.Players).
				Update("games_played", gorm.Expr("games_played + 1")).Error; err != nil {
				return err
			}
		}
		if len(result.Winners) > 0 {
			if err := tx.Model(&models.UserRecord{}).
				Where("user_id IN ?", result.Winners).
				Update("games_won", gorm.Expr("games_won + 1")).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to save game result", zap.String("roomID", result.RoomID), zap.Error(err))
		return ErrPersistence
	}
	return nil
}

func (s *SQLStore) GetStats(ctx context.Context) (models.Stats, error) {
	var stats models.Stats
	if err := s.db.WithContext(ctx).Model(&models.UserRecord{}).Count(&stats.TotalUsers).Error; err != nil {
		return stats, ErrPersistence
	}
	if err := s.db.WithContext(ctx).Model(&models.GameRecord{}).Count(&stats.TotalGames).Error; err != nil {
		return stats, ErrPersistence
	}
	return stats, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
