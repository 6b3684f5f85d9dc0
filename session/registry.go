// Package session holds the process-wide table of online users. Connections
// hold only user IDs; every lookup goes through the registry, so nothing
// dangles after a disconnect or reconnect.
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn is the registry's view of a live connection.
type Conn interface {
	Send(messageType string, payload interface{}) bool
	CloseNow()
}

// User is an online (or recently online) identity. All mutations go through
// the registry so they are serialized per user.
type User struct {
	ID            string
	Nickname      string
	Avatar        string
	Coins         int
	Authenticated bool
	RoomID        string
	LastSeen      time.Time

	mu   sync.Mutex
	conn Conn // nil while disconnected
}

// Registry is the single authoritative in-memory user table.
type Registry struct {
	mu     sync.RWMutex
	users  map[string]*User
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		users:  make(map[string]*User),
		logger: logger,
	}
}

// Register creates or revives the user entry for an authenticated identity.
func (r *Registry) Register(userID, nickname string) *User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[userID]; ok {
		u.mu.Lock()
		u.Nickname = nickname
		u.Authenticated = true
		u.LastSeen = time.Now()
		u.mu.Unlock()
		return u
	}

	u := &User{
		ID:            userID,
		Nickname:      nickname,
		Avatar:        "👤",
		Coins:         100,
		Authenticated: true,
		LastSeen:      time.Now(),
	}
	r.users[userID] = u
	r.logger.Info("user registered", zap.String("userID", userID), zap.String("nickname", nickname))
	return u
}

// Get returns the user entry, or nil when the identity is not online.
func (r *Registry) Get(userID string) *User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[userID]
}

// BindConnection attaches a connection to the user and returns the previous
// one, if any, so the caller can close a superseded login.
func (r *Registry) BindConnection(userID string, c Conn) (prev Conn) {
	u := r.Get(userID)
	if u == nil {
		return nil
	}
	u.mu.Lock()
	prev = u.conn
	u.conn = c
	u.LastSeen = time.Now()
	u.mu.Unlock()
	if prev != nil && prev != c {
		return prev
	}
	return nil
}

// UnbindConnection detaches the given connection. A connection that was
// already superseded by a rebind is left alone.
func (r *Registry) UnbindConnection(userID string, c Conn) {
	u := r.Get(userID)
	if u == nil {
		return
	}
	u.mu.Lock()
	if u.conn == c {
		u.conn = nil
		u.LastSeen = time.Now()
	}
	u.mu.Unlock()
}

// Connection returns the currently bound connection, or nil.
func (r *Registry) Connection(userID string) Conn {
	u := r.Get(userID)
	if u == nil {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.conn
}

// MarkRoomIfFree atomically claims the user into a room. It fails when the
// user is unknown or already belongs to one, so two concurrent joins can
// never both win.
func (r *Registry) MarkRoomIfFree(userID, roomID string) bool {
	u := r.Get(userID)
	if u == nil {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.RoomID != "" {
		return false
	}
	u.RoomID = roomID
	return true
}

// MarkRoom records the user's current room; empty means no room.
func (r *Registry) MarkRoom(userID, roomID string) {
	u := r.Get(userID)
	if u == nil {
		return
	}
	u.mu.Lock()
	u.RoomID = roomID
	u.mu.Unlock()
}

// RoomOf returns the room the user currently belongs to.
func (r *Registry) RoomOf(userID string) string {
	u := r.Get(userID)
	if u == nil {
		return ""
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.RoomID
}

// Nickname returns the display name for a user ID, falling back to the ID.
func (r *Registry) Nickname(userID string) string {
	u := r.Get(userID)
	if u == nil {
		return userID
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.Nickname
}

// Counts reports online (connected) and authenticated user totals for the
// status surface.
func (r *Registry) Counts() (online, authenticated int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		u.mu.Lock()
		if u.conn != nil {
			online++
		}
		if u.Authenticated {
			authenticated++
		}
		u.mu.Unlock()
	}
	return online, authenticated
}

// EvictIdle drops entries with no connection, no room and no activity within
// maxIdle. Called from the cron sweeper.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, u := range r.users {
		u.mu.Lock()
		idle := u.conn == nil && u.RoomID == "" && u.LastSeen.Before(cutoff)
		u.mu.Unlock()
		if idle {
			delete(r.users, id)
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info("evicted idle users", zap.Int("count", evicted))
	}
	return evicted
}
