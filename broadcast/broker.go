// Package broadcast fans room state deltas out to connected members. Each
// room owns an independent sequenced stream; delivery to every subscriber is
// in order with no duplicates, and a bounded backlog allows gap-free replay
// after a reconnect.
package broadcast

import (
	"encoding/json"
	"sync"

	"mafiaserver/models"

	"go.uber.org/zap"
)

// DefaultBacklog is how many deltas a stream retains for replay. A resume
// beyond this window gets a full snapshot instead.
const DefaultBacklog = 64

// Conn is the dispatcher's view of a connection bound to a room member.
type Conn interface {
	// Enqueue hands a marshaled frame to the connection's write queue.
	// It returns false when the queue is gone or full.
	Enqueue(data []byte) bool
}

// Broker owns one Stream per active room.
type Broker struct {
	mu      sync.Mutex
	streams map[string]*Stream
	backlog int
	logger  *zap.Logger
}

func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		streams: make(map[string]*Stream),
		backlog: DefaultBacklog,
		logger:  logger,
	}
}

// Stream returns the room's stream, creating it on first use.
func (b *Broker) Stream(roomID string) *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[roomID]
	if !ok {
		s = &Stream{
			roomID:  roomID,
			backlog: b.backlog,
			subs:    make(map[string]Conn),
			cursors: make(map[string]uint64),
			logger:  b.logger,
		}
		b.streams[roomID] = s
	}
	return s
}

// Release drops the stream of a destroyed room.
func (b *Broker) Release(roomID string) {
	b.mu.Lock()
	delete(b.streams, roomID)
	b.mu.Unlock()
}

type backlogEntry struct {
	seq  uint64
	data []byte
}

// Stream is a single room's ordered delta feed.
type Stream struct {
	roomID  string
	backlog int
	logger  *zap.Logger

	mu      sync.Mutex
	seq     uint64
	ring    []backlogEntry
	subs    map[string]Conn   // by user ID
	cursors map[string]uint64 // last acknowledged seq per user
}

// Publish assigns the next sequence number, frames the delta and delivers it
// to every subscriber in order.
func (s *Stream) Publish(messageType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal delta payload",
			zap.String("roomID", s.roomID), zap.String("type", messageType), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	frame, err := json.Marshal(models.Envelope{Type: messageType, Seq: s.seq, Payload: raw})
	if err != nil {
		s.logger.Error("failed to marshal delta frame", zap.Error(err))
		return
	}

	s.ring = append(s.ring, backlogEntry{seq: s.seq, data: frame})
	if len(s.ring) > s.backlog {
		s.ring = s.ring[len(s.ring)-s.backlog:]
	}

	for userID, conn := range s.subs {
		if !conn.Enqueue(frame) {
			s.logger.Warn("dropping slow subscriber",
				zap.String("roomID", s.roomID), zap.String("userID", userID))
			delete(s.subs, userID)
		}
	}
}

// SendTo delivers a private, unsequenced message to one member (role info,
// inspection results). It is not part of the replayable stream.
func (s *Stream) SendTo(userID, messageType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal private payload", zap.Error(err))
		return
	}
	frame, err := json.Marshal(models.Envelope{Type: messageType, Payload: raw})
	if err != nil {
		return
	}

	s.mu.Lock()
	conn := s.subs[userID]
	s.mu.Unlock()
	if conn != nil {
		conn.Enqueue(frame)
	}
}

// Subscribe attaches a fresh connection starting at the current head.
func (s *Stream) Subscribe(userID string, c Conn) {
	s.mu.Lock()
	s.subs[userID] = c
	s.cursors[userID] = s.seq
	s.mu.Unlock()
}

// Unsubscribe detaches the member's connection but keeps its ack cursor so a
// reconnect within the backlog window can replay the gap.
func (s *Stream) Unsubscribe(userID string) {
	s.mu.Lock()
	delete(s.subs, userID)
	s.mu.Unlock()
}

// Forget drops the member entirely (left the room for good).
func (s *Stream) Forget(userID string) {
	s.mu.Lock()
	delete(s.subs, userID)
	delete(s.cursors, userID)
	s.mu.Unlock()
}

// Ack records the highest sequence number the member's client has applied.
func (s *Stream) Ack(userID string, seq uint64) {
	s.mu.Lock()
	if seq > s.cursors[userID] {
		s.cursors[userID] = seq
	}
	s.mu.Unlock()
}

// Resume re-attaches a reconnecting member. lastSeq is the client's own
// statement of the last delta it applied; the stored ack cursor is trusted
// when higher. When the gap fits the backlog the missing deltas are replayed
// in order and Resume reports true; otherwise the caller must send a full
// snapshot.
func (s *Stream) Resume(userID string, c Conn, lastSeq uint64) (replayed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.cursors[userID]; cur > lastSeq {
		lastSeq = cur
	}

	if lastSeq < s.oldestReplayable() {
		s.subs[userID] = c
		s.cursors[userID] = s.seq
		return false
	}

	for _, entry := range s.ring {
		if entry.seq > lastSeq {
			if !c.Enqueue(entry.data) {
				return false
			}
		}
	}
	s.subs[userID] = c
	s.cursors[userID] = lastSeq
	return true
}

// Seq returns the current head sequence number.
func (s *Stream) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// oldestReplayable is the newest seq from which the backlog can fill every
// gap. Callers must hold s.mu.
func (s *Stream) oldestReplayable() uint64 {
	if len(s.ring) == 0 {
		return s.seq
	}
	return s.ring[0].seq - 1
}
