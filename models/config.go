package models

// Config holds all startup configuration loaded from config.json.
// Redis connection settings stay in environment variables (REDIS_ADDR etc.).
type Config struct {
	DBHost     string `json:"db_host"`
	DBUser     string `json:"db_user"`
	DBPassword string `json:"db_password"`
	DBName     string `json:"db_name"`
	DBSSLMode  string `json:"db_sslmode"`

	ListenAddr      string `json:"listen_addr"`
	MaxPayloadBytes int64  `json:"max_payload_bytes"`
	PingIntervalSec int    `json:"ping_interval_sec"`

	Game GameConfig `json:"game"`
}

// GameConfig controls room limits, phase durations and the role ratio.
type GameConfig struct {
	MinPlayers  int `json:"min_players"`
	MaxCapacity int `json:"max_capacity"`

	NightSec int `json:"night_sec"`
	DaySec   int `json:"day_sec"`
	VoteSec  int `json:"vote_sec"`
	GraceSec int `json:"grace_sec"` // reconnection window for disconnected players

	MafiaPer int `json:"mafia_per"` // one mafia per this many players, rounded up
}

// ApplyDefaults fills zero values so a minimal config file still works.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = 64 * 1024
	}
	if c.PingIntervalSec == 0 {
		c.PingIntervalSec = 10
	}
	if c.Game.MinPlayers == 0 {
		c.Game.MinPlayers = 4
	}
	if c.Game.MaxCapacity == 0 {
		c.Game.MaxCapacity = 16
	}
	if c.Game.NightSec == 0 {
		c.Game.NightSec = 60
	}
	if c.Game.DaySec == 0 {
		c.Game.DaySec = 120
	}
	if c.Game.VoteSec == 0 {
		c.Game.VoteSec = 60
	}
	if c.Game.GraceSec == 0 {
		c.Game.GraceSec = 60
	}
	if c.Game.MafiaPer == 0 {
		c.Game.MafiaPer = 4
	}
}
