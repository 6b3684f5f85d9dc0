package rooms

import (
	"sync"
	"time"

	"mafiaserver/game"
	"mafiaserver/models"
)

// Status is the room lifecycle state.
type Status string

const (
	StatusLobby      Status = "lobby"
	StatusInProgress Status = "in_progress"
	StatusEnded      Status = "ended"
)

// Room groups players for one match. All mutating access happens under mu;
// the manager is the only writer of the rooms table itself.
type Room struct {
	mu sync.Mutex

	ID        string
	Name      string
	Status    Status
	Capacity  int
	Members   []string // ordered user IDs
	CreatorID string
	CreatedAt time.Time

	// session exists if and only if Status is StatusInProgress.
	session *game.Session

	// grace holds pending reconnection-window timers per disconnected member.
	grace map[string]*time.Timer
}

// hasMember reports membership. Callers hold mu.
func (r *Room) hasMember(userID string) bool {
	for _, id := range r.Members {
		if id == userID {
			return true
		}
	}
	return false
}

// removeMember drops the user from the ordered member list. Callers hold mu.
func (r *Room) removeMember(userID string) {
	for i, id := range r.Members {
		if id == userID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return
		}
	}
}

// cancelGrace disarms a pending reconnection timer. Callers hold mu.
func (r *Room) cancelGrace(userID string) {
	if t, ok := r.grace[userID]; ok {
		t.Stop()
		delete(r.grace, userID)
	}
}

// cancelAllGrace disarms every pending reconnection timer. Callers hold mu.
func (r *Room) cancelAllGrace() {
	for id, t := range r.grace {
		t.Stop()
		delete(r.grace, id)
	}
}

// summary builds the lobby listing entry. Callers hold mu.
func (r *Room) summary() models.RoomSummary {
	return models.RoomSummary{
		ID:        r.ID,
		Name:      r.Name,
		Occupancy: len(r.Members),
		Capacity:  r.Capacity,
		Status:    string(r.Status),
	}
}
