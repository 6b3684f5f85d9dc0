// Package gateway accepts duplex connections, authenticates them, frames
// messages and routes each inbound envelope to the owning component. A
// connection holds nothing but identifiers; all shared state lives behind
// the session registry and the room manager.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"mafiaserver/auth"
	"mafiaserver/broadcast"
	"mafiaserver/database"
	"mafiaserver/game"
	"mafiaserver/models"
	"mafiaserver/rooms"
	"mafiaserver/session"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Error codes returned to clients in the error envelope.
const (
	CodeAuthError          = "auth_error"
	CodeMalformedMessage   = "malformed_message"
	CodeRoomNotFound       = "room_not_found"
	CodeRoomFull           = "room_full"
	CodeInvalidRoomState   = "invalid_room_state"
	CodeInvalidPhaseAction = "invalid_phase_action"
	CodeNotEnoughPlayers   = "not_enough_players"
	CodeInvalidCapacity    = "invalid_capacity"
	CodeInternal           = "internal_error"
)

// Handler wires incoming websocket connections to the registry, room
// manager and broadcast broker.
type Handler struct {
	registry *session.Registry
	manager  *rooms.Manager
	broker   *broadcast.Broker
	store    database.Store
	rdb      *redis.Client
	logger   *zap.Logger
	cfg      models.Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewHandler(cfg models.Config, registry *session.Registry, manager *rooms.Manager, broker *broadcast.Broker, store database.Store, rdb *redis.Client, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		manager:  manager,
		broker:   broker,
		store:    store,
		rdb:      rdb,
		logger:   logger,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*Client]struct{}),
	}
}

// ClientCount reports currently open connections for the status surface.
func (h *Handler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll force-closes every open connection. Part of shutdown, after the
// room manager has flushed its final broadcasts.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	open := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		open = append(open, c)
	}
	h.mu.Unlock()
	for _, c := range open {
		c.CloseNow()
	}
}

// HandleWS upgrades the HTTP request and runs the connection's read loop.
func (h *Handler) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Error upgrading WebSocket", zap.Error(err))
		return
	}

	client := newClient(conn, h.logger)
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	conn.SetReadLimit(h.cfg.MaxPayloadBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go client.writePump(time.Duration(h.cfg.PingIntervalSec) * time.Second)
	h.readLoop(c.Request.Context(), client)
}

func (h *Handler) readLoop(ctx context.Context, c *Client) {
	defer h.teardown(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.String("userID", c.userID), zap.Error(err))
			}
			return
		}
		if !c.limiter.Allow() {
			h.logger.Warn("client flooding, closing", zap.String("userID", c.userID))
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			if h.strike(c, "invalid message envelope") {
				return
			}
			continue
		}
		if closed := h.dispatch(ctx, c, env); closed {
			return
		}
	}
}

// dispatch routes one envelope. It returns true when the connection must
// close.
func (h *Handler) dispatch(ctx context.Context, c *Client, env models.Envelope) bool {
	if c.userID == "" && env.Type != models.MsgAuthenticate {
		c.sendError(CodeAuthError, "authenticate first")
		return false
	}

	switch env.Type {
	case models.MsgAuthenticate:
		return h.handleAuthenticate(ctx, c, env.Payload)

	case models.MsgCreateRoom:
		var p models.CreateRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Name == "" {
			return h.strike(c, "bad createRoom payload")
		}
		summary, err := h.manager.CreateRoom(c.userID, p.Name, p.Capacity)
		if err != nil {
			h.replyError(c, err)
			return false
		}
		h.attachToRoom(c, summary.ID, 0)

	case models.MsgJoinRoom:
		var p models.JoinRoomPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.RoomID == "" {
			return h.strike(c, "bad joinRoom payload")
		}
		if err := h.manager.JoinRoom(p.RoomID, c.userID); err != nil {
			h.replyError(c, err)
			return false
		}
		h.attachToRoom(c, p.RoomID, 0)

	case models.MsgLeaveRoom:
		roomID := h.registry.RoomOf(c.userID)
		if roomID == "" {
			c.sendError(CodeInvalidRoomState, "not in a room")
			return false
		}
		if err := h.manager.LeaveRoom(roomID, c.userID); err != nil {
			h.replyError(c, err)
		}

	case models.MsgListRooms:
		c.Send(models.MsgRoomList, gin.H{"rooms": h.manager.ListRooms()})

	case models.MsgStartGame:
		roomID := h.registry.RoomOf(c.userID)
		if roomID == "" {
			c.sendError(CodeInvalidRoomState, "not in a room")
			return false
		}
		if err := h.manager.StartGame(roomID, c.userID); err != nil {
			h.replyError(c, err)
		}

	case models.MsgSubmitNightAct:
		var p models.NightActionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return h.strike(c, "bad night action payload")
		}
		action, ok := parseAction(p.Action)
		if !ok {
			c.sendError(CodeInvalidPhaseAction, "unknown night action")
			return false
		}
		roomID := h.registry.RoomOf(c.userID)
		if err := h.manager.SubmitNightAction(roomID, c.userID, action, p.TargetID); err != nil {
			h.replyError(c, err)
		}

	case models.MsgSubmitVote:
		var p models.VotePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return h.strike(c, "bad vote payload")
		}
		roomID := h.registry.RoomOf(c.userID)
		if err := h.manager.SubmitVote(roomID, c.userID, p.TargetID); err != nil {
			h.replyError(c, err)
		}

	case models.MsgChat:
		var p models.ChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.Message == "" {
			return h.strike(c, "bad chat payload")
		}
		roomID := h.registry.RoomOf(c.userID)
		if roomID == "" {
			c.sendError(CodeInvalidRoomState, "not in a room")
			return false
		}
		if err := h.manager.Chat(roomID, c.userID, p.Message); err != nil {
			h.replyError(c, err)
		}

	case models.MsgAck:
		var p models.AckPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return h.strike(c, "bad ack payload")
		}
		if roomID := h.registry.RoomOf(c.userID); roomID != "" {
			h.broker.Stream(roomID).Ack(c.userID, p.Seq)
		}

	default:
		return h.strike(c, "unknown message type")
	}
	return false
}

func (h *Handler) handleAuthenticate(ctx context.Context, c *Client, payload json.RawMessage) bool {
	if c.userID != "" {
		c.sendError(CodeAuthError, "already authenticated")
		return false
	}

	var p models.AuthenticatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return h.strike(c, "bad authenticate payload")
	}

	var userID, nickname string
	switch {
	case p.Token != "":
		claims, err := auth.ParseToken(p.Token)
		if err != nil {
			h.logger.Warn("token validation failed", zap.Error(err))
			c.sendError(CodeAuthError, "invalid token")
			return false
		}
		userID, nickname = claims.UserID, claims.Nickname
	case p.SessionID != "":
		var ok bool
		userID, nickname, ok = database.LookupSessionID(ctx, h.rdb, p.SessionID, h.logger)
		if !ok {
			c.sendError(CodeAuthError, "invalid or expired session")
			return false
		}
	default:
		c.sendError(CodeAuthError, "missing credentials")
		return false
	}

	user := h.registry.Register(userID, nickname)
	if prev := h.registry.BindConnection(userID, c); prev != nil {
		prev.CloseNow()
	}
	c.setUserID(userID)
	h.logger.Info("client authenticated",
		zap.String("userID", userID), zap.String("nickname", nickname))

	go func() {
		upsertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.store.UpsertUser(upsertCtx, userID, nickname); err != nil {
			h.logger.Error("failed to upsert user record", zap.Error(err))
		}
	}()

	sessionID, err := database.StoreSessionID(ctx, h.rdb, userID, nickname, h.logger)
	if err != nil {
		h.logger.Error("failed to issue session ID", zap.Error(err))
	}
	c.Send(models.MsgAuthenticated, models.AuthenticatedPayload{
		UserID:    userID,
		Nickname:  user.Nickname,
		Avatar:    user.Avatar,
		Coins:     user.Coins,
		SessionID: sessionID,
	})

	// Rebind into an ongoing room, resuming the delta stream without gap or
	// duplicate where the backlog allows.
	if roomID := h.registry.RoomOf(userID); roomID != "" {
		h.manager.Reconnected(roomID, userID)
		h.attachToRoom(c, roomID, p.LastSeq)
	}
	return false
}

// attachToRoom subscribes the connection to the room stream, replaying
// missed deltas when possible and falling back to a full snapshot.
func (h *Handler) attachToRoom(c *Client, roomID string, lastSeq uint64) {
	stream := h.broker.Stream(roomID)
	if stream.Resume(c.userID, c, lastSeq) {
		return
	}
	snapshot, seq, err := h.manager.Snapshot(roomID)
	if err != nil {
		h.replyError(c, err)
		return
	}
	c.sendSeq(models.MsgRoomUpdate, seq, snapshot)
	stream.Ack(c.userID, seq)
}

// strike counts one malformed message; past the threshold the connection is
// closed. Returns true when the caller must close.
func (h *Handler) strike(c *Client, reason string) bool {
	c.strikes++
	c.sendError(CodeMalformedMessage, reason)
	if c.strikes >= maxStrikes {
		h.logger.Warn("too many malformed messages, closing",
			zap.String("userID", c.userID), zap.Int("strikes", c.strikes))
		return true
	}
	return false
}

func (h *Handler) teardown(c *Client) {
	c.CloseNow()
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	if c.userID == "" {
		return
	}
	h.registry.UnbindConnection(c.userID, c)
	if h.registry.Connection(c.userID) != nil {
		// Superseded by a newer connection for the same identity.
		return
	}
	if roomID := h.registry.RoomOf(c.userID); roomID != "" {
		h.broker.Stream(roomID).Unsubscribe(c.userID)
		h.manager.Disconnected(roomID, c.userID)
	}
	h.logger.Info("client disconnected", zap.String("userID", c.userID))
}

// replyError maps a component error onto the wire taxonomy.
func (h *Handler) replyError(c *Client, err error) {
	code := CodeInternal
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		code = CodeRoomNotFound
	case errors.Is(err, rooms.ErrRoomFull):
		code = CodeRoomFull
	case errors.Is(err, rooms.ErrInvalidRoomState):
		code = CodeInvalidRoomState
	case errors.Is(err, rooms.ErrNotEnoughPlayers):
		code = CodeNotEnoughPlayers
	case errors.Is(err, rooms.ErrInvalidCapacity):
		code = CodeInvalidCapacity
	case errors.Is(err, game.ErrInvalidPhaseAction):
		code = CodeInvalidPhaseAction
	}
	c.sendError(code, err.Error())
}

func parseAction(s string) (game.ActionType, bool) {
	switch game.ActionType(s) {
	case game.ActionKill, game.ActionProtect, game.ActionInspect:
		return game.ActionType(s), true
	}
	return "", false
}
