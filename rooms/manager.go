// Package rooms owns the room lifecycle: create, list, join, leave, start,
// reset and destroy. Mutations on one room are serialized through that
// room's lock; rooms never contend with each other.
package rooms

import (
	"math/rand"
	"sync"
	"time"

	"mafiaserver/broadcast"
	"mafiaserver/database"
	"mafiaserver/game"
	"mafiaserver/models"
	"mafiaserver/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager is the authoritative room table.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	cfg      models.GameConfig
	registry *session.Registry
	broker   *broadcast.Broker
	store    database.Store
	logger   *zap.Logger
}

func NewManager(cfg models.GameConfig, registry *session.Registry, broker *broadcast.Broker, store database.Store, logger *zap.Logger) *Manager {
	return &Manager{
		rooms:    make(map[string]*Room),
		cfg:      cfg,
		registry: registry,
		broker:   broker,
		store:    store,
		logger:   logger,
	}
}

// withRoom runs fn with the room lock held. A panic out of the phase engine
// is confined here: the session is force-ended and other rooms are
// untouched.
func (m *Manager) withRoom(roomID string, fn func(r *Room) error) (err error) {
	m.mu.RLock()
	r := m.rooms[roomID]
	m.mu.RUnlock()
	if r == nil {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("phase engine fault, force-ending room",
				zap.String("roomID", r.ID), zap.Any("panic", rec))
			m.forceEndLocked(r)
			err = ErrEngineFault
		}
	}()
	return fn(r)
}

// CreateRoom creates a room with the creator as its first member.
func (m *Manager) CreateRoom(creatorID, name string, capacity int) (models.RoomSummary, error) {
	if capacity <= 1 || capacity > m.cfg.MaxCapacity {
		return models.RoomSummary{}, ErrInvalidCapacity
	}

	r := &Room{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    StatusLobby,
		Capacity:  capacity,
		Members:   []string{creatorID},
		CreatorID: creatorID,
		CreatedAt: time.Now(),
		grace:     make(map[string]*time.Timer),
	}
	if !m.registry.MarkRoomIfFree(creatorID, r.ID) {
		return models.RoomSummary{}, ErrInvalidRoomState
	}

	m.mu.Lock()
	m.rooms[r.ID] = r
	m.mu.Unlock()

	m.logger.Info("room created",
		zap.String("roomID", r.ID), zap.String("name", name),
		zap.Int("capacity", capacity), zap.String("creator", creatorID))

	r.mu.Lock()
	summary := r.summary()
	m.publishRoomLocked(r, false)
	r.mu.Unlock()
	return summary, nil
}

// ListRooms returns a point-in-time snapshot of all room summaries.
func (m *Manager) ListRooms() []models.RoomSummary {
	m.mu.RLock()
	all := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		all = append(all, r)
	}
	m.mu.RUnlock()

	summaries := make([]models.RoomSummary, 0, len(all))
	for _, r := range all {
		r.mu.Lock()
		summaries = append(summaries, r.summary())
		r.mu.Unlock()
	}
	return summaries
}

// JoinRoom adds the user as a member. Joins are rejected once the room has
// left the lobby.
func (m *Manager) JoinRoom(roomID, userID string) error {
	return m.withRoom(roomID, func(r *Room) error {
		if r.Status != StatusLobby {
			return ErrInvalidRoomState
		}
		if len(r.Members) >= r.Capacity {
			return ErrRoomFull
		}
		// The registry claim is atomic; a concurrent join of the same user
		// into another room loses here instead of double-appearing.
		if !m.registry.MarkRoomIfFree(userID, roomID) {
			return ErrInvalidRoomState
		}
		r.Members = append(r.Members, userID)
		m.logger.Info("user joined room", zap.String("roomID", roomID), zap.String("userID", userID))
		m.publishRoomLocked(r, false)
		return nil
	})
}

// LeaveRoom removes the user's membership. The creator leaving a lobby
// destroys the room; a leaver mid-game stays in the session history as an
// absent, eliminated player.
func (m *Manager) LeaveRoom(roomID, userID string) error {
	destroy := false
	err := m.withRoom(roomID, func(r *Room) error {
		if !r.hasMember(userID) {
			return ErrInvalidRoomState
		}
		r.cancelGrace(userID)

		if r.Status == StatusInProgress {
			// Membership history survives; the session marks the player out.
			m.registry.MarkRoom(userID, "")
			m.broker.Stream(r.ID).Forget(userID)
			r.session.MarkAbsent(userID)
			return nil
		}

		r.removeMember(userID)
		m.registry.MarkRoom(userID, "")
		m.broker.Stream(r.ID).Forget(userID)

		if userID == r.CreatorID && r.Status == StatusLobby {
			destroy = true
			return nil
		}
		if len(r.Members) == 0 {
			destroy = true
			return nil
		}
		m.publishRoomLocked(r, false)
		return nil
	})
	if err != nil {
		return err
	}
	if destroy {
		m.DestroyRoom(roomID)
	}
	return nil
}

// StartGame transitions a lobby into a running game and instantiates its
// phase engine. Only the creator may start.
func (m *Manager) StartGame(roomID, userID string) error {
	return m.withRoom(roomID, func(r *Room) error {
		if r.Status != StatusLobby {
			return ErrInvalidRoomState
		}
		if userID != r.CreatorID {
			return ErrInvalidRoomState
		}
		if len(r.Members) < m.cfg.MinPlayers {
			return ErrNotEnoughPlayers
		}

		infos := make([]game.PlayerInfo, 0, len(r.Members))
		for _, id := range r.Members {
			infos = append(infos, game.PlayerInfo{ID: id, Nickname: m.registry.Nickname(id)})
		}

		gameCfg := game.Config{
			NightDuration: time.Duration(m.cfg.NightSec) * time.Second,
			DayDuration:   time.Duration(m.cfg.DaySec) * time.Second,
			VoteDuration:  time.Duration(m.cfg.VoteSec) * time.Second,
			MafiaPer:      m.cfg.MafiaPer,
		}
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		events := &roomEvents{m: m, r: r}

		// Timer callbacks re-enter through the same per-room serialization
		// and fault isolation as direct calls.
		run := func(f func()) {
			r.mu.Lock()
			defer r.mu.Unlock()
			defer func() {
				if rec := recover(); rec != nil {
					m.logger.Error("phase engine fault in timer, force-ending room",
						zap.String("roomID", r.ID), zap.Any("panic", rec))
					m.forceEndLocked(r)
				}
			}()
			f()
		}

		r.Status = StatusInProgress
		r.session = game.NewSession(gameCfg, infos, rng, m.logger, events, run)
		m.logger.Info("game started",
			zap.String("roomID", r.ID), zap.Int("players", len(infos)))
		m.publishRoomLocked(r, false)
		r.session.Start()
		return nil
	})
}

// SubmitNightAction forwards a night submission into the room's session.
func (m *Manager) SubmitNightAction(roomID, userID string, action game.ActionType, targetID string) error {
	return m.withRoom(roomID, func(r *Room) error {
		if r.Status != StatusInProgress {
			return game.ErrInvalidPhaseAction
		}
		return r.session.SubmitNightAction(userID, action, targetID)
	})
}

// SubmitVote forwards a vote into the room's session.
func (m *Manager) SubmitVote(roomID, userID, targetID string) error {
	return m.withRoom(roomID, func(r *Room) error {
		if r.Status != StatusInProgress {
			return game.ErrInvalidPhaseAction
		}
		return r.session.SubmitVote(userID, targetID)
	})
}

// Chat relays a discussion message to the room. Chat mutates no game state.
func (m *Manager) Chat(roomID, userID, message string) error {
	return m.withRoom(roomID, func(r *Room) error {
		if !r.hasMember(userID) {
			return ErrInvalidRoomState
		}
		m.broker.Stream(r.ID).Publish(models.MsgChat, models.ChatBroadcast{
			From:      userID,
			Nickname:  m.registry.Nickname(userID),
			Message:   message,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return nil
	})
}

// Disconnected handles a dropped connection for a room member. In a lobby
// the member simply leaves; mid-game a reconnection grace window opens, and
// only its expiry marks the player absent.
func (m *Manager) Disconnected(roomID, userID string) {
	var leave bool
	err := m.withRoom(roomID, func(r *Room) error {
		if !r.hasMember(userID) {
			return nil
		}
		if r.Status != StatusInProgress {
			leave = true
			return nil
		}
		r.cancelGrace(userID)
		grace := time.Duration(m.cfg.GraceSec) * time.Second
		r.grace[userID] = time.AfterFunc(grace, func() {
			m.graceExpired(roomID, userID)
		})
		m.logger.Info("reconnection window opened",
			zap.String("roomID", roomID), zap.String("userID", userID),
			zap.Duration("grace", grace))
		m.publishRoomLocked(r, false)
		return nil
	})
	if err == nil && leave {
		if err := m.LeaveRoom(roomID, userID); err != nil {
			m.logger.Warn("failed to remove disconnected member",
				zap.String("roomID", roomID), zap.String("userID", userID), zap.Error(err))
		}
	}
}

// Reconnected cancels a pending grace timer after the identity rebound a
// new connection.
func (m *Manager) Reconnected(roomID, userID string) {
	_ = m.withRoom(roomID, func(r *Room) error {
		r.cancelGrace(userID)
		m.publishRoomLocked(r, false)
		return nil
	})
}

func (m *Manager) graceExpired(roomID, userID string) {
	_ = m.withRoom(roomID, func(r *Room) error {
		if _, pending := r.grace[userID]; !pending {
			return nil // rebound in time
		}
		delete(r.grace, userID)
		m.logger.Info("reconnection window expired",
			zap.String("roomID", roomID), zap.String("userID", userID))
		m.registry.MarkRoom(userID, "")
		m.broker.Stream(r.ID).Forget(userID)
		if r.session != nil {
			r.session.MarkAbsent(userID)
		}
		return nil
	})
}

// Snapshot builds a full-state roomUpdate for a member whose reconnect fell
// outside the replay backlog.
func (m *Manager) Snapshot(roomID string) (models.RoomUpdatePayload, uint64, error) {
	var payload models.RoomUpdatePayload
	err := m.withRoom(roomID, func(r *Room) error {
		payload = m.roomPayloadLocked(r, true)
		return nil
	})
	if err != nil {
		return payload, 0, err
	}
	return payload, m.broker.Stream(roomID).Seq(), nil
}

// DestroyRoom notifies members, releases the broadcast stream and removes
// the room.
func (m *Manager) DestroyRoom(roomID string) {
	m.mu.Lock()
	r := m.rooms[roomID]
	delete(m.rooms, roomID)
	m.mu.Unlock()
	if r == nil {
		return
	}

	r.mu.Lock()
	r.cancelAllGrace()
	if r.session != nil {
		r.session.Abort()
		r.session = nil
	}
	r.Status = StatusEnded
	members := append([]string(nil), r.Members...)
	r.Members = nil
	stream := m.broker.Stream(r.ID)
	stream.Publish(models.MsgRoomUpdate, models.RoomUpdatePayload{
		ID: r.ID, Name: r.Name, Status: string(StatusEnded), Destroyed: true,
	})
	r.mu.Unlock()

	for _, id := range members {
		if m.registry.RoomOf(id) == roomID {
			m.registry.MarkRoom(id, "")
		}
	}
	m.broker.Release(roomID)
	m.logger.Info("room destroyed", zap.String("roomID", roomID))
}

// Sweep resets finished rooms back to lobbies and destroys empty ones.
// Wired to the cron scheduler.
func (m *Manager) Sweep() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		destroy := false
		err := m.withRoom(id, func(r *Room) error {
			switch {
			case len(r.Members) == 0:
				destroy = true
			case r.Status == StatusEnded:
				// Keep only members who still hold a connection.
				kept := r.Members[:0]
				for _, uid := range r.Members {
					if m.registry.Connection(uid) != nil {
						kept = append(kept, uid)
					} else {
						m.registry.MarkRoom(uid, "")
						m.broker.Stream(r.ID).Forget(uid)
					}
				}
				r.Members = kept
				if len(r.Members) == 0 {
					destroy = true
					return nil
				}
				r.Status = StatusLobby
				m.publishRoomLocked(r, false)
			}
			return nil
		})
		if err == nil && destroy {
			m.DestroyRoom(id)
		}
	}
}

// Counts reports active room and running game totals for the status surface.
func (m *Manager) Counts() (activeRooms, activeGames int) {
	m.mu.RLock()
	all := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		all = append(all, r)
	}
	m.mu.RUnlock()

	activeRooms = len(all)
	for _, r := range all {
		r.mu.Lock()
		if r.Status == StatusInProgress {
			activeGames++
		}
		r.mu.Unlock()
	}
	return activeRooms, activeGames
}

// Shutdown force-ends every running session so pending broadcasts flush
// before connections close.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.withRoom(id, func(r *Room) error {
			if r.session != nil {
				m.forceEndLocked(r)
			}
			return nil
		})
	}
}

// forceEndLocked terminates a faulted or shutting-down session. Callers
// hold the room lock.
func (m *Manager) forceEndLocked(r *Room) {
	if r.session != nil {
		r.session.Abort()
		r.session = nil
	}
	r.Status = StatusEnded
	r.cancelAllGrace()
	m.broker.Stream(r.ID).Publish(models.MsgGameOver, models.GameOverPayload{Outcome: "aborted"})
}

// roomPayloadLocked builds the roomUpdate body. Callers hold the room lock.
func (m *Manager) roomPayloadLocked(r *Room, full bool) models.RoomUpdatePayload {
	payload := models.RoomUpdatePayload{
		ID:        r.ID,
		Name:      r.Name,
		Status:    string(r.Status),
		Capacity:  r.Capacity,
		CreatorID: r.CreatorID,
		Full:      full,
	}
	alive := make(map[string]bool)
	if r.session != nil {
		for _, p := range r.session.Roster() {
			alive[p.ID] = p.Alive
		}
		payload.Phase = string(r.session.Phase())
		payload.Day = r.session.Day()
		payload.Deadline = r.session.Deadline().Unix()
	}
	for _, id := range r.Members {
		isAlive := r.Status != StatusInProgress || alive[id]
		payload.Members = append(payload.Members, models.MemberInfo{
			ID:       id,
			Nickname: m.registry.Nickname(id),
			Alive:    isAlive,
			Online:   m.registry.Connection(id) != nil,
		})
	}
	return payload
}

// publishRoomLocked emits a sequenced roomUpdate. Callers hold the room lock.
func (m *Manager) publishRoomLocked(r *Room, full bool) {
	m.broker.Stream(r.ID).Publish(models.MsgRoomUpdate, m.roomPayloadLocked(r, full))
}
