package broadcast

import (
	"encoding/json"
	"fmt"
	"testing"

	"mafiaserver/models"

	"go.uber.org/zap"
)

// fakeConn records enqueued frames. A zero capacity means unbounded.
type fakeConn struct {
	frames [][]byte
	cap    int
}

func (c *fakeConn) Enqueue(data []byte) bool {
	if c.cap > 0 && len(c.frames) >= c.cap {
		return false
	}
	c.frames = append(c.frames, data)
	return true
}

func (c *fakeConn) seqs(t *testing.T) []uint64 {
	t.Helper()
	out := make([]uint64, 0, len(c.frames))
	for _, frame := range c.frames {
		var env models.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		out = append(out, env.Seq)
	}
	return out
}

func newTestStream(backlog int) *Stream {
	return &Stream{
		roomID:  "room-1",
		backlog: backlog,
		subs:    make(map[string]Conn),
		cursors: make(map[string]uint64),
		logger:  zap.NewNop(),
	}
}

type delta struct {
	N int `json:"n"`
}

func TestPublishAssignsContiguousSequence(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	a := &fakeConn{}
	b := &fakeConn{}
	s.Subscribe("alice", a)
	s.Subscribe("bob", b)

	for i := 1; i <= 5; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}

	want := []uint64{1, 2, 3, 4, 5}
	for name, conn := range map[string]*fakeConn{"alice": a, "bob": b} {
		got := conn.seqs(t)
		if len(got) != len(want) {
			t.Fatalf("%s received %d frames, want %d", name, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s frame %d has seq %d, want %d", name, i, got[i], want[i])
			}
		}
	}
	if s.Seq() != 5 {
		t.Errorf("Seq() = %d, want 5", s.Seq())
	}
}

func TestLateSubscriberReceivesOnlyNewDeltas(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	s.Publish(models.MsgRoomUpdate, delta{N: 1})
	s.Publish(models.MsgRoomUpdate, delta{N: 2})

	c := &fakeConn{}
	s.Subscribe("alice", c)
	s.Publish(models.MsgRoomUpdate, delta{N: 3})

	got := c.seqs(t)
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("seqs = %v, want [3]", got)
	}
}

func TestResumeReplaysGapWithinBacklog(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	c := &fakeConn{}
	s.Subscribe("alice", c)
	for i := 1; i <= 3; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}

	s.Unsubscribe("alice")
	for i := 4; i <= 7; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}

	rc := &fakeConn{}
	if !s.Resume("alice", rc, 3) {
		t.Fatal("Resume reported snapshot needed, want replay")
	}
	got := rc.seqs(t)
	want := []uint64{4, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("replayed %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("replay frame %d has seq %d, want %d", i, got[i], want[i])
		}
	}

	// The resumed connection is live again.
	s.Publish(models.MsgRoomUpdate, delta{N: 8})
	got = rc.seqs(t)
	if got[len(got)-1] != 8 {
		t.Errorf("last seq after resume = %d, want 8", got[len(got)-1])
	}
}

func TestResumeTrustsStoredCursorOverStaleClient(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	c := &fakeConn{}
	s.Subscribe("alice", c)
	for i := 1; i <= 5; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}
	s.Ack("alice", 4)
	s.Unsubscribe("alice")
	s.Publish(models.MsgRoomUpdate, delta{N: 6})

	// The client understates its position; the ack cursor wins.
	rc := &fakeConn{}
	if !s.Resume("alice", rc, 1) {
		t.Fatal("Resume reported snapshot needed, want replay")
	}
	got := rc.seqs(t)
	want := []uint64{5, 6}
	if len(got) != len(want) {
		t.Fatalf("replayed seqs = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("replay frame %d has seq %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResumeBeyondBacklogFallsBackToSnapshot(t *testing.T) {
	s := newTestStream(4)
	c := &fakeConn{}
	s.Subscribe("alice", c)
	s.Publish(models.MsgRoomUpdate, delta{N: 1})
	s.Unsubscribe("alice")

	// Ten more deltas push seq 1 out of a four-entry backlog.
	for i := 2; i <= 11; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}

	rc := &fakeConn{}
	if s.Resume("alice", rc, 1) {
		t.Fatal("Resume replayed across an evicted gap")
	}
	if len(rc.frames) != 0 {
		t.Errorf("snapshot path enqueued %d frames, want 0", len(rc.frames))
	}

	// After the snapshot handoff the cursor sits at the head and new
	// deltas flow normally.
	s.Publish(models.MsgRoomUpdate, delta{N: 12})
	got := rc.seqs(t)
	if len(got) != 1 || got[0] != 12 {
		t.Errorf("seqs after snapshot resume = %v, want [12]", got)
	}
}

func TestBacklogEvictsOldestEntries(t *testing.T) {
	s := newTestStream(3)
	for i := 1; i <= 10; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ring) != 3 {
		t.Fatalf("ring len = %d, want 3", len(s.ring))
	}
	if s.ring[0].seq != 8 || s.ring[2].seq != 10 {
		t.Errorf("ring seqs = [%d..%d], want [8..10]", s.ring[0].seq, s.ring[2].seq)
	}
}

func TestSendToTargetsOneSubscriber(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	a := &fakeConn{}
	b := &fakeConn{}
	s.Subscribe("alice", a)
	s.Subscribe("bob", b)

	s.SendTo("alice", models.MsgPrivateRoleInfo, models.RoleInfoPayload{Role: "detective"})

	if len(a.frames) != 1 {
		t.Fatalf("alice got %d frames, want 1", len(a.frames))
	}
	if len(b.frames) != 0 {
		t.Errorf("bob got %d frames, want 0", len(b.frames))
	}
	var env models.Envelope
	if err := json.Unmarshal(a.frames[0], &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != models.MsgPrivateRoleInfo {
		t.Errorf("type = %q, want %q", env.Type, models.MsgPrivateRoleInfo)
	}
	if env.Seq != 0 {
		t.Errorf("private message carried seq %d, want none", env.Seq)
	}

	// Private sends to detached members are dropped, not queued.
	s.SendTo("carol", models.MsgPrivateRoleInfo, models.RoleInfoPayload{Role: "doctor"})
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	slow := &fakeConn{cap: 2}
	fast := &fakeConn{}
	s.Subscribe("slow", slow)
	s.Subscribe("fast", fast)

	for i := 1; i <= 5; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}

	if len(slow.frames) != 2 {
		t.Errorf("slow received %d frames, want 2", len(slow.frames))
	}
	if len(fast.frames) != 5 {
		t.Errorf("fast received %d frames, want 5", len(fast.frames))
	}
	s.mu.Lock()
	_, stillSubscribed := s.subs["slow"]
	s.mu.Unlock()
	if stillSubscribed {
		t.Error("overflowing subscriber was not detached")
	}
}

func TestBrokerStreamsAreIndependent(t *testing.T) {
	b := NewBroker(zap.NewNop())
	one := b.Stream("room-1")
	two := b.Stream("room-2")
	if one == two {
		t.Fatal("distinct rooms share a stream")
	}
	if b.Stream("room-1") != one {
		t.Fatal("repeated lookup returned a new stream")
	}

	c1 := &fakeConn{}
	c2 := &fakeConn{}
	one.Subscribe("alice", c1)
	two.Subscribe("alice", c2)
	for i := 1; i <= 3; i++ {
		one.Publish(models.MsgChat, delta{N: i})
	}
	two.Publish(models.MsgChat, delta{N: 99})

	if got := one.Seq(); got != 3 {
		t.Errorf("room-1 seq = %d, want 3", got)
	}
	if got := two.Seq(); got != 1 {
		t.Errorf("room-2 seq = %d, want 1", got)
	}
	if len(c2.frames) != 1 {
		t.Errorf("room-2 subscriber got %d frames, want 1", len(c2.frames))
	}

	b.Release("room-1")
	if b.Stream("room-1") == one {
		t.Error("released stream was returned again")
	}
}

func TestForgetDropsCursor(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	c := &fakeConn{}
	s.Subscribe("alice", c)
	for i := 1; i <= 3; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}
	s.Ack("alice", 3)
	s.Forget("alice")

	s.mu.Lock()
	_, hasCursor := s.cursors["alice"]
	_, hasSub := s.subs["alice"]
	s.mu.Unlock()
	if hasCursor || hasSub {
		t.Errorf("forget left state behind: cursor=%v sub=%v", hasCursor, hasSub)
	}
}

func TestAckNeverMovesBackwards(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	c := &fakeConn{}
	s.Subscribe("alice", c)
	for i := 1; i <= 5; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}

	tests := []struct {
		ack  uint64
		want uint64
	}{
		{3, 3},
		{5, 5},
		{2, 5},
	}
	for _, tt := range tests {
		s.Ack("alice", tt.ack)
		s.mu.Lock()
		got := s.cursors["alice"]
		s.mu.Unlock()
		if got != tt.want {
			t.Errorf("after Ack(%d): cursor = %d, want %d", tt.ack, got, tt.want)
		}
	}
}

func TestUnmarshalledFramesCarryPayload(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	c := &fakeConn{}
	s.Subscribe("alice", c)
	s.Publish(models.MsgChat, models.ChatBroadcast{From: "bob", Message: "hello"})

	var env models.Envelope
	if err := json.Unmarshal(c.frames[0], &env); err != nil {
		t.Fatal(err)
	}
	var chat models.ChatBroadcast
	if err := json.Unmarshal(env.Payload, &chat); err != nil {
		t.Fatal(err)
	}
	if chat.From != "bob" || chat.Message != "hello" {
		t.Errorf("payload = %+v", chat)
	}
}

func TestManySubscribersAllCaughtUp(t *testing.T) {
	s := newTestStream(DefaultBacklog)
	conns := make([]*fakeConn, 8)
	for i := range conns {
		conns[i] = &fakeConn{}
		s.Subscribe(fmt.Sprintf("user-%d", i), conns[i])
	}
	for i := 1; i <= 20; i++ {
		s.Publish(models.MsgRoomUpdate, delta{N: i})
	}
	for i, c := range conns {
		if len(c.frames) != 20 {
			t.Errorf("subscriber %d got %d frames, want 20", i, len(c.frames))
		}
	}
}
