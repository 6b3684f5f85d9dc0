package models

import "encoding/json"

// Envelope frames every websocket message in both directions. Inbound,
// Payload is decoded per Type; outbound, Seq carries the per-room sequence
// number for sequenced room deltas (0 for direct replies and private sends).
type Envelope struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound message types.
const (
	MsgAuthenticate   = "authenticate"
	MsgCreateRoom     = "createRoom"
	MsgJoinRoom       = "joinRoom"
	MsgLeaveRoom      = "leaveRoom"
	MsgListRooms      = "listRooms"
	MsgStartGame      = "startGame"
	MsgSubmitNightAct = "submitNightAction"
	MsgSubmitVote     = "submitVote"
	MsgChat           = "chat"
	MsgAck            = "ack"
)

// Outbound message types.
const (
	MsgAuthenticated   = "authenticated"
	MsgRoomUpdate      = "roomUpdate"
	MsgRoomList        = "roomList"
	MsgPhaseUpdate     = "phaseUpdate"
	MsgPrivateRoleInfo = "privateRoleInfo"
	MsgNightResult     = "nightResult"
	MsgGameOver        = "gameOver"
	MsgError           = "error"
)

type AuthenticatePayload struct {
	Token     string `json:"token,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	LastSeq   uint64 `json:"lastSeq,omitempty"`
}

type CreateRoomPayload struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type NightActionPayload struct {
	Action   string `json:"action"` // "kill", "protect", "inspect"
	TargetID string `json:"targetId"`
}

type VotePayload struct {
	TargetID string `json:"targetId"` // empty means abstain
}

type ChatPayload struct {
	Message string `json:"message"`
}

type AckPayload struct {
	Seq uint64 `json:"seq"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AuthenticatedPayload struct {
	UserID    string `json:"userId"`
	Nickname  string `json:"nickname"`
	Avatar    string `json:"avatar"`
	Coins     int    `json:"coins"`
	SessionID string `json:"sessionId"`
}

// RoomSummary is the read-only listing entry for the lobby browser.
type RoomSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Occupancy int    `json:"occupancy"`
	Capacity  int    `json:"capacity"`
	Status    string `json:"status"`
}

// MemberInfo describes one room member in a roomUpdate.
type MemberInfo struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Alive    bool   `json:"alive"`
	Online   bool   `json:"online"`
}

// RoomUpdatePayload is the sequenced full room state delta. Full is set when
// the update substitutes for missed deltas after a reconnect beyond the
// backlog window.
type RoomUpdatePayload struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    string       `json:"status"`
	Capacity  int          `json:"capacity"`
	CreatorID string       `json:"creatorId"`
	Members   []MemberInfo `json:"members"`
	Destroyed bool         `json:"destroyed,omitempty"`
	Full      bool         `json:"full,omitempty"`
	Phase     string       `json:"phase,omitempty"`
	Day       int          `json:"day,omitempty"`
	Deadline  int64        `json:"deadline,omitempty"`
}

// EliminatedInfo rides on a phaseUpdate when a player was just eliminated.
type EliminatedInfo struct {
	PlayerID string `json:"playerId"`
	Cause    string `json:"cause"` // "night", "vote" or "absent"
}

type PhaseUpdatePayload struct {
	Phase      string          `json:"phase"`
	Day        int             `json:"day"`
	Deadline   int64           `json:"deadline,omitempty"` // unix seconds
	Alive      []string        `json:"alive"`
	Eliminated *EliminatedInfo `json:"eliminated,omitempty"`
}

// RoleInfoPayload is sent privately to exactly one player.
type RoleInfoPayload struct {
	Role      string   `json:"role"`
	MafiaTeam []string `json:"mafiaTeam,omitempty"`
}

// NightResultPayload is the detective's private inspection outcome.
type NightResultPayload struct {
	TargetID string `json:"targetId"`
	IsMafia  bool   `json:"isMafia"`
}

type GameOverPlayer struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
	Alive    bool   `json:"alive"`
}

type GameOverPayload struct {
	Outcome string           `json:"outcome"` // "mafia", "town" or "aborted"
	Days    int              `json:"days"`
	Roster  []GameOverPlayer `json:"roster"`
}

type ChatBroadcast struct {
	From      string `json:"from"`
	Nickname  string `json:"nickname"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
