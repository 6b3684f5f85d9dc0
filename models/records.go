package models

import (
	"time"

	"gorm.io/gorm"
)

// UserRecord is the durable row behind a known player identity.
type UserRecord struct {
	gorm.Model
	UserID      string `gorm:"unique;not null"`
	Nickname    string `gorm:"not null"`
	GamesPlayed int    `gorm:"not null"`
	GamesWon    int    `gorm:"not null"`
}

// GameRecord is written once per finished game session.
type GameRecord struct {
	gorm.Model
	RoomID    string `gorm:"not null"`
	RoomName  string `gorm:"not null"`
	Winner    string `gorm:"not null"` // "mafia" or "town"
	Days      int    `gorm:"not null"`
	Players   int    `gorm:"not null"`
	StartedAt time.Time
	EndedAt   time.Time
}

// Stats is the aggregate exposed on the status surface.
type Stats struct {
	TotalUsers int64 `json:"totalUsers"`
	TotalGames int64 `json:"totalGames"`
}
