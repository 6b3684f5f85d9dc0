package game

import (
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"
)

// recorder captures engine events for assertions.
type recorder struct {
	roles       map[string]Role
	mafiaTeams  map[string][]string
	phases      []Phase
	eliminated  []string
	causes      map[string]string
	inspections map[string]bool // targetID -> isMafia as reported
	outcome     Outcome
	ended       bool
	endedDays   int
}

func newRecorder() *recorder {
	return &recorder{
		roles:       make(map[string]Role),
		mafiaTeams:  make(map[string][]string),
		causes:      make(map[string]string),
		inspections: make(map[string]bool),
	}
}

func (r *recorder) RoleAssigned(playerID string, role Role, mafiaTeam []string) {
	r.roles[playerID] = role
	r.mafiaTeams[playerID] = mafiaTeam
}

func (r *recorder) PhaseChanged(phase Phase, day int, deadline time.Time) {
	r.phases = append(r.phases, phase)
}

func (r *recorder) PlayerEliminated(playerID, cause string) {
	r.eliminated = append(r.eliminated, playerID)
	r.causes[playerID] = cause
}

func (r *recorder) InspectionResult(detectiveID, targetID string, isMafia bool) {
	r.inspections[targetID] = isMafia
}

func (r *recorder) GameEnded(outcome Outcome, roster []PlayerState, days int) {
	r.ended = true
	r.outcome = outcome
	r.endedDays = days
}

// newTestSession builds a night-phase session with a fixed role assignment.
func newTestSession(t *testing.T, roles map[string]Role) (*Session, *recorder) {
	t.Helper()
	rec := newRecorder()
	var infos []PlayerInfo
	for id := range roles {
		infos = append(infos, PlayerInfo{ID: id, Nickname: id})
	}
	cfg := Config{
		NightDuration: time.Hour,
		DayDuration:   time.Hour,
		VoteDuration:  time.Hour,
		MafiaPer:      4,
	}
	run := func(f func()) { f() }
	s := NewSession(cfg, infos, rand.New(rand.NewSource(1)), zap.NewNop(), rec, run)
	for id, role := range roles {
		s.players[id].Role = role
	}
	s.day = 1
	s.startedAt = time.Now()
	s.beginNight()
	t.Cleanup(s.disarm)
	return s, rec
}

func TestRoleCounts(t *testing.T) {
	tests := []struct {
		players   int
		mafia     int
		detective int
		doctor    int
	}{
		{4, 1, 0, 0},
		{5, 2, 1, 0},
		{6, 2, 1, 1},
		{8, 2, 1, 1},
		{9, 3, 1, 1},
		{12, 3, 1, 1},
		{16, 4, 1, 1},
	}
	for _, tt := range tests {
		mafia, detective, doctor := RoleCounts(tt.players, 4)
		if mafia != tt.mafia || detective != tt.detective || doctor != tt.doctor {
			t.Errorf("RoleCounts(%d): got (%d,%d,%d), want (%d,%d,%d)",
				tt.players, mafia, detective, doctor, tt.mafia, tt.detective, tt.doctor)
		}
	}
}

func TestDealRolesMatchesRatioExactly(t *testing.T) {
	for n := 4; n <= 16; n++ {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		roles := dealRoles(ids, 4, rand.New(rand.NewSource(int64(n))))

		counts := make(map[Role]int)
		for _, role := range roles {
			counts[role]++
		}
		wantMafia, wantDetective, wantDoctor := RoleCounts(n, 4)
		if counts[RoleMafia] != wantMafia {
			t.Errorf("n=%d: mafia count %d, want %d", n, counts[RoleMafia], wantMafia)
		}
		if counts[RoleDetective] != wantDetective {
			t.Errorf("n=%d: detective count %d, want %d", n, counts[RoleDetective], wantDetective)
		}
		if counts[RoleDoctor] != wantDoctor {
			t.Errorf("n=%d: doctor count %d, want %d", n, counts[RoleDoctor], wantDoctor)
		}
		if got := counts[RoleCivilian]; got != n-wantMafia-wantDetective-wantDoctor {
			t.Errorf("n=%d: civilian count %d", n, got)
		}
	}
}

func TestStartNotifiesMafiaOfTeammates(t *testing.T) {
	rec := newRecorder()
	infos := make([]PlayerInfo, 8)
	for i := range infos {
		id := string(rune('a' + i))
		infos[i] = PlayerInfo{ID: id, Nickname: id}
	}
	cfg := Config{NightDuration: time.Hour, DayDuration: time.Hour, VoteDuration: time.Hour, MafiaPer: 4}
	s := NewSession(cfg, infos, rand.New(rand.NewSource(7)), zap.NewNop(), rec, func(f func()) { f() })
	s.Start()
	defer s.disarm()

	for id, role := range rec.roles {
		team := rec.mafiaTeams[id]
		if role == RoleMafia {
			if len(team) != 2 {
				t.Errorf("mafia %s: team size %d, want 2", id, len(team))
			}
		} else if team != nil {
			t.Errorf("non-mafia %s was told the mafia team", id)
		}
	}
	if s.Phase() != PhaseNight {
		t.Errorf("phase after Start = %s, want night", s.Phase())
	}
}

func TestNightDoctorSavesTarget(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"mafia": RoleMafia, "doctor": RoleDoctor, "a": RoleCivilian,
		"b": RoleCivilian, "c": RoleCivilian, "d": RoleCivilian,
	})

	if err := s.SubmitNightAction("mafia", ActionKill, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitNightAction("doctor", ActionProtect, "a"); err != nil {
		t.Fatal(err)
	}
	// All eligible actors submitted, so the night resolved early.
	if s.Phase() != PhaseDay {
		t.Fatalf("phase = %s, want day", s.Phase())
	}
	if len(rec.eliminated) != 0 {
		t.Errorf("eliminated = %v, want none (doctor protected the target)", rec.eliminated)
	}
}

func TestNightKillWhenDoctorProtectsElsewhere(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"mafia": RoleMafia, "doctor": RoleDoctor, "a": RoleCivilian,
		"b": RoleCivilian, "c": RoleCivilian, "d": RoleCivilian,
	})

	if err := s.SubmitNightAction("mafia", ActionKill, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitNightAction("doctor", ActionProtect, "b"); err != nil {
		t.Fatal(err)
	}
	if len(rec.eliminated) != 1 || rec.eliminated[0] != "a" {
		t.Fatalf("eliminated = %v, want [a]", rec.eliminated)
	}
	if rec.causes["a"] != "night" {
		t.Errorf("cause = %q, want night", rec.causes["a"])
	}
	if s.players["a"].Alive {
		t.Error("victim still alive after resolution")
	}
}

func TestNightInspectionReportsMafia(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"mafia": RoleMafia, "detective": RoleDetective, "a": RoleCivilian,
		"b": RoleCivilian, "c": RoleCivilian, "d": RoleCivilian,
	})

	if err := s.SubmitNightAction("detective", ActionInspect, "mafia"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitNightAction("mafia", ActionKill, "a"); err != nil {
		t.Fatal(err)
	}
	isMafia, ok := rec.inspections["mafia"]
	if !ok || !isMafia {
		t.Errorf("inspection of mafia: got (%v,%v), want (true,true)", isMafia, ok)
	}
}

func TestNightActionOverwrite(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"m1": RoleMafia, "m2": RoleMafia, "a": RoleCivilian, "b": RoleCivilian,
		"c": RoleCivilian, "d": RoleCivilian, "e": RoleCivilian, "f": RoleCivilian,
	})

	if err := s.SubmitNightAction("m1", ActionKill, "a"); err != nil {
		t.Fatal(err)
	}
	// Resubmission overwrites the earlier target.
	if err := s.SubmitNightAction("m1", ActionKill, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitNightAction("m2", ActionKill, "b"); err != nil {
		t.Fatal(err)
	}
	if len(rec.eliminated) != 1 || rec.eliminated[0] != "b" {
		t.Fatalf("eliminated = %v, want [b]", rec.eliminated)
	}
}

func TestNightActionValidation(t *testing.T) {
	s, _ := newTestSession(t, map[string]Role{
		"mafia": RoleMafia, "doctor": RoleDoctor, "a": RoleCivilian,
		"b": RoleCivilian, "c": RoleCivilian, "d": RoleCivilian,
	})
	s.players["b"].Alive = false

	tests := []struct {
		name   string
		actor  string
		typ    ActionType
		target string
	}{
		{"civilian cannot kill", "a", ActionKill, "c"},
		{"doctor cannot kill", "doctor", ActionKill, "c"},
		{"mafia cannot protect", "mafia", ActionProtect, "c"},
		{"dead target rejected", "mafia", ActionKill, "b"},
		{"unknown actor", "ghost", ActionKill, "c"},
		{"unknown target", "mafia", ActionKill, "ghost"},
	}
	for _, tt := range tests {
		if err := s.SubmitNightAction(tt.actor, tt.typ, tt.target); err != ErrInvalidPhaseAction {
			t.Errorf("%s: err = %v, want ErrInvalidPhaseAction", tt.name, err)
		}
	}
}

func TestVoteOutsidePhaseRejected(t *testing.T) {
	s, _ := newTestSession(t, map[string]Role{
		"mafia": RoleMafia, "a": RoleCivilian, "b": RoleCivilian, "c": RoleCivilian,
	})
	// Still night: votes are not open.
	if err := s.SubmitVote("a", "b"); err != ErrInvalidPhaseAction {
		t.Fatalf("vote during night: err = %v, want ErrInvalidPhaseAction", err)
	}
	// Day: night actions are closed.
	s.disarm()
	s.beginDay()
	if err := s.SubmitNightAction("mafia", ActionKill, "a"); err != ErrInvalidPhaseAction {
		t.Fatalf("night action during day: err = %v, want ErrInvalidPhaseAction", err)
	}
}

func TestVotingTieEliminatesNobody(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"m": RoleMafia, "a": RoleCivilian, "b": RoleCivilian,
		"c": RoleCivilian, "d": RoleCivilian,
	})
	s.disarm()
	s.beginVoting()

	// 5 living players: a gets 2 votes, b gets 2 votes, one abstain.
	votes := map[string]string{"m": "a", "c": "a", "a": "b", "d": "b", "b": ""}
	for voter, target := range votes {
		if err := s.SubmitVote(voter, target); err != nil {
			t.Fatalf("vote %s->%q: %v", voter, target, err)
		}
	}

	if len(rec.eliminated) != 0 {
		t.Errorf("eliminated = %v, want none on a tie", rec.eliminated)
	}
	if s.Phase() != PhaseNight {
		t.Errorf("phase = %s, want night (next round)", s.Phase())
	}
	if s.Day() != 2 {
		t.Errorf("day = %d, want 2", s.Day())
	}
}

func TestVotingMajorityEliminates(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"m1": RoleMafia, "m2": RoleMafia, "a": RoleCivilian, "b": RoleCivilian,
		"c": RoleCivilian, "d": RoleCivilian, "e": RoleCivilian,
	})
	s.disarm()
	s.beginVoting()

	for _, voter := range []string{"a", "b", "c", "d"} {
		if err := s.SubmitVote(voter, "m1"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SubmitVote("m1", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitVote("m2", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitVote("e", ""); err != nil {
		t.Fatal(err)
	}

	if len(rec.eliminated) != 1 || rec.eliminated[0] != "m1" {
		t.Fatalf("eliminated = %v, want [m1]", rec.eliminated)
	}
	if rec.causes["m1"] != "vote" {
		t.Errorf("cause = %q, want vote", rec.causes["m1"])
	}
}

func TestRevoteOverwrites(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"m": RoleMafia, "a": RoleCivilian, "b": RoleCivilian, "c": RoleCivilian,
	})
	s.disarm()
	s.beginVoting()

	if err := s.SubmitVote("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitVote("a", "m"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitVote("b", "m"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitVote("c", "m"); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitVote("m", "a"); err != nil {
		t.Fatal(err)
	}

	if len(rec.eliminated) != 1 || rec.eliminated[0] != "m" {
		t.Fatalf("eliminated = %v, want [m] after revote", rec.eliminated)
	}
	if !rec.ended || rec.outcome != OutcomeTownWin {
		t.Errorf("ended=%v outcome=%s, want town win after last mafia died", rec.ended, rec.outcome)
	}
}

func TestSelfVoteRejected(t *testing.T) {
	s, _ := newTestSession(t, map[string]Role{
		"m": RoleMafia, "a": RoleCivilian, "b": RoleCivilian, "c": RoleCivilian,
	})
	s.disarm()
	s.beginVoting()
	if err := s.SubmitVote("a", "a"); err != ErrInvalidPhaseAction {
		t.Fatalf("self vote: err = %v, want ErrInvalidPhaseAction", err)
	}
}

func TestMafiaWipeoutEndsImmediately(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"m": RoleMafia, "a": RoleCivilian, "b": RoleCivilian,
		"c": RoleCivilian, "d": RoleCivilian,
	})
	// Day phase has a running timer; the mafia leaving must end the game
	// without waiting for it.
	s.disarm()
	s.beginDay()
	s.MarkAbsent("m")

	if !rec.ended {
		t.Fatal("game did not end when the last mafia left")
	}
	if rec.outcome != OutcomeTownWin {
		t.Errorf("outcome = %s, want town", rec.outcome)
	}
	if s.Phase() != PhaseEnded {
		t.Errorf("phase = %s, want ended", s.Phase())
	}
}

func TestMafiaParityWins(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"m": RoleMafia, "a": RoleCivilian, "b": RoleCivilian, "c": RoleCivilian,
	})
	// Eliminate civilians until one mafia faces one civilian.
	s.MarkAbsent("a")
	if rec.ended {
		t.Fatal("game ended too early")
	}
	s.MarkAbsent("b")

	if !rec.ended || rec.outcome != OutcomeMafiaWin {
		t.Fatalf("ended=%v outcome=%s, want mafia win at parity", rec.ended, rec.outcome)
	}
}

func TestDeadlineResolvesWithPartialSubmissions(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"mafia": RoleMafia, "doctor": RoleDoctor, "a": RoleCivilian,
		"b": RoleCivilian, "c": RoleCivilian, "d": RoleCivilian,
	})
	if err := s.SubmitNightAction("mafia", ActionKill, "a"); err != nil {
		t.Fatal(err)
	}
	// The doctor never acted; the deadline path resolves the night anyway.
	s.endNight()

	if len(rec.eliminated) != 1 || rec.eliminated[0] != "a" {
		t.Fatalf("eliminated = %v, want [a]", rec.eliminated)
	}
	if s.Phase() != PhaseDay {
		t.Errorf("phase = %s, want day", s.Phase())
	}
}

func TestAbsentPlayersCountAsEliminated(t *testing.T) {
	s, rec := newTestSession(t, map[string]Role{
		"m1": RoleMafia, "m2": RoleMafia, "a": RoleCivilian, "b": RoleCivilian,
		"c": RoleCivilian, "d": RoleCivilian, "e": RoleCivilian, "f": RoleCivilian,
	})
	s.MarkAbsent("a")

	if rec.causes["a"] != "absent" {
		t.Errorf("cause = %q, want absent", rec.causes["a"])
	}
	roster := s.Roster()
	for _, p := range roster {
		if p.ID == "a" {
			if p.Alive || !p.Absent {
				t.Errorf("absent player state = %+v", p)
			}
			if p.Role != RoleCivilian {
				t.Error("role was not retained for the absent player")
			}
		}
	}
}
