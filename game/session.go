// Package game implements the per-room phase state machine: role assignment,
// night actions, day discussion, voting and win resolution. A Session has no
// lock of its own; the owning room serializes every call, including timer
// callbacks, through the run hook it supplies.
package game

import (
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Phase is one stage of the per-round state machine.
type Phase string

const (
	PhaseNight  Phase = "night"
	PhaseDay    Phase = "day"
	PhaseVoting Phase = "voting"
	PhaseEnded  Phase = "ended"
)

// Outcome names the winning side of a finished session.
type Outcome string

const (
	OutcomeMafiaWin Outcome = "mafia"
	OutcomeTownWin  Outcome = "town"
)

// ActionType is a night capability.
type ActionType string

const (
	ActionKill    ActionType = "kill"
	ActionProtect ActionType = "protect"
	ActionInspect ActionType = "inspect"
)

// roleFor maps each night action to the only role allowed to submit it.
var roleFor = map[ActionType]Role{
	ActionKill:    RoleMafia,
	ActionProtect: RoleDoctor,
	ActionInspect: RoleDetective,
}

// PlayerState is the session's view of one participant.
type PlayerState struct {
	ID       string
	Nickname string
	Role     Role
	Alive    bool
	Absent   bool
}

// PlayerInfo seeds a session participant.
type PlayerInfo struct {
	ID       string
	Nickname string
}

// Config controls phase durations and the role ratio.
type Config struct {
	NightDuration time.Duration
	DayDuration   time.Duration
	VoteDuration  time.Duration
	MafiaPer      int
}

// Events receives state deltas as the machine advances. Calls are made while
// the room's execution context is held, so handlers must not block.
type Events interface {
	RoleAssigned(playerID string, role Role, mafiaTeam []string)
	PhaseChanged(phase Phase, day int, deadline time.Time)
	PlayerEliminated(playerID, cause string)
	InspectionResult(detectiveID, targetID string, isMafia bool)
	GameEnded(outcome Outcome, roster []PlayerState, days int)
}

type nightAction struct {
	actor  string
	typ    ActionType
	target string
	order  int
}

// Session is one running game owned exclusively by its room.
type Session struct {
	cfg    Config
	logger *zap.Logger
	events Events
	run    func(func()) // executes a closure under the room's lock
	rng    *rand.Rand

	phase     Phase
	day       int
	players   map[string]*PlayerState
	order     []string
	actions   map[string]nightAction
	actionSeq int
	votes     map[string]string // voter -> target, "" is an explicit abstain
	deadline  time.Time
	timer     *time.Timer
	timerGen  int
	startedAt time.Time
}

func NewSession(cfg Config, infos []PlayerInfo, rng *rand.Rand, logger *zap.Logger, events Events, run func(func())) *Session {
	s := &Session{
		cfg:     cfg,
		logger:  logger,
		events:  events,
		run:     run,
		rng:     rng,
		players: make(map[string]*PlayerState, len(infos)),
		actions: make(map[string]nightAction),
		votes:   make(map[string]string),
	}
	for _, info := range infos {
		s.players[info.ID] = &PlayerState{ID: info.ID, Nickname: info.Nickname, Alive: true}
		s.order = append(s.order, info.ID)
	}
	return s
}

// Start deals roles, notifies each player privately and opens the first
// night. Mafia members additionally learn their teammates.
func (s *Session) Start() {
	s.startedAt = time.Now()
	s.day = 1

	roles := dealRoles(s.order, s.cfg.MafiaPer, s.rng)
	var mafiaTeam []string
	for _, id := range s.order {
		s.players[id].Role = roles[id]
		if roles[id] == RoleMafia {
			mafiaTeam = append(mafiaTeam, id)
		}
	}
	for _, id := range s.order {
		team := []string(nil)
		if roles[id] == RoleMafia {
			team = mafiaTeam
		}
		s.events.RoleAssigned(id, roles[id], team)
	}

	s.beginNight()
}

// SubmitNightAction records one role action for the current night. A repeat
// submission from the same player overwrites the prior one.
func (s *Session) SubmitNightAction(actorID string, typ ActionType, targetID string) error {
	if s.phase != PhaseNight {
		return ErrInvalidPhaseAction
	}
	actor, ok := s.players[actorID]
	if !ok || !actor.Alive {
		return ErrInvalidPhaseAction
	}
	if roleFor[typ] != actor.Role {
		return ErrInvalidPhaseAction
	}
	target, ok := s.players[targetID]
	if !ok || !target.Alive {
		return ErrInvalidPhaseAction
	}

	s.actionSeq++
	s.actions[actorID] = nightAction{actor: actorID, typ: typ, target: targetID, order: s.actionSeq}

	if s.allNightActorsDone() {
		s.disarm()
		s.resolveNight()
	}
	return nil
}

// SubmitVote records one vote for the current voting window. An empty target
// is an explicit abstain; a revote overwrites the prior one.
func (s *Session) SubmitVote(voterID, targetID string) error {
	if s.phase != PhaseVoting {
		return ErrInvalidPhaseAction
	}
	voter, ok := s.players[voterID]
	if !ok || !voter.Alive {
		return ErrInvalidPhaseAction
	}
	if targetID != "" {
		target, ok := s.players[targetID]
		if !ok || !target.Alive || targetID == voterID {
			return ErrInvalidPhaseAction
		}
	}

	s.votes[voterID] = targetID

	if s.allVotesDone() {
		s.disarm()
		s.resolveVoting()
	}
	return nil
}

// MarkAbsent removes a player from active play while keeping role and
// history: a leaver or an expired reconnection grace period counts as an
// elimination for win purposes.
func (s *Session) MarkAbsent(playerID string) {
	if s.phase == PhaseEnded {
		return
	}
	p, ok := s.players[playerID]
	if !ok || p.Absent {
		return
	}
	p.Absent = true
	if p.Alive {
		p.Alive = false
		s.events.PlayerEliminated(playerID, "absent")
	}
	if s.checkWin() {
		return
	}
	// The departure may leave every remaining participant already done.
	switch s.phase {
	case PhaseNight:
		if s.allNightActorsDone() {
			s.disarm()
			s.resolveNight()
		}
	case PhaseVoting:
		if s.allVotesDone() {
			s.disarm()
			s.resolveVoting()
		}
	}
}

// Abort terminates the session without a winner; the room boundary uses it
// for fault isolation and shutdown. No events are emitted.
func (s *Session) Abort() {
	s.disarm()
	s.phase = PhaseEnded
}

func (s *Session) Phase() Phase { return s.phase }

func (s *Session) Day() int { return s.day }

func (s *Session) Deadline() time.Time { return s.deadline }

func (s *Session) StartedAt() time.Time { return s.startedAt }

// RoleOf returns the role dealt to the given player.
func (s *Session) RoleOf(playerID string) Role {
	if p, ok := s.players[playerID]; ok {
		return p.Role
	}
	return ""
}

// Roster returns a copy of every player state in join order.
func (s *Session) Roster() []PlayerState {
	roster := make([]PlayerState, 0, len(s.order))
	for _, id := range s.order {
		roster = append(roster, *s.players[id])
	}
	return roster
}

// AliveIDs returns the IDs of living players in join order.
func (s *Session) AliveIDs() []string {
	var alive []string
	for _, id := range s.order {
		if s.players[id].Alive {
			alive = append(alive, id)
		}
	}
	return alive
}

func (s *Session) beginNight() {
	s.phase = PhaseNight
	s.actions = make(map[string]nightAction)
	s.actionSeq = 0
	s.arm(s.cfg.NightDuration, s.endNight)
	s.events.PhaseChanged(PhaseNight, s.day, s.deadline)
}

// endNight is the deadline path into night resolution.
func (s *Session) endNight() {
	if s.phase != PhaseNight {
		return
	}
	s.resolveNight()
}

func (s *Session) resolveNight() {
	victim := s.nightVictim()

	// Inspections resolve regardless of the kill outcome.
	for _, id := range s.order {
		act, ok := s.actions[id]
		if !ok || act.typ != ActionInspect {
			continue
		}
		if p := s.players[id]; p.Alive {
			s.events.InspectionResult(id, act.target, s.players[act.target].Role == RoleMafia)
		}
	}

	if victim != "" {
		s.players[victim].Alive = false
		s.events.PlayerEliminated(victim, "night")
	}

	if s.checkWin() {
		return
	}
	s.beginDay()
}

// nightVictim picks the mafia's plurality kill target, unless a doctor
// protected it. A tie between targets goes to the one backed by the earliest
// submission.
func (s *Session) nightVictim() string {
	killVotes := make(map[string]int)
	firstOrder := make(map[string]int)
	protected := make(map[string]bool)

	for actorID, act := range s.actions {
		if !s.players[actorID].Alive {
			continue // actor died or went absent after submitting
		}
		switch act.typ {
		case ActionKill:
			killVotes[act.target]++
			if cur, ok := firstOrder[act.target]; !ok || act.order < cur {
				firstOrder[act.target] = act.order
			}
		case ActionProtect:
			protected[act.target] = true
		}
	}

	victim := ""
	best := 0
	for target, n := range killVotes {
		if n > best || (n == best && victim != "" && firstOrder[target] < firstOrder[victim]) {
			victim = target
			best = n
		}
	}
	if victim == "" || protected[victim] || !s.players[victim].Alive {
		return ""
	}
	return victim
}

func (s *Session) beginDay() {
	s.phase = PhaseDay
	s.arm(s.cfg.DayDuration, s.endDay)
	s.events.PhaseChanged(PhaseDay, s.day, s.deadline)
}

func (s *Session) endDay() {
	if s.phase != PhaseDay {
		return
	}
	s.beginVoting()
}

func (s *Session) beginVoting() {
	s.phase = PhaseVoting
	s.votes = make(map[string]string)
	s.arm(s.cfg.VoteDuration, s.endVoting)
	s.events.PhaseChanged(PhaseVoting, s.day, s.deadline)
}

func (s *Session) endVoting() {
	if s.phase != PhaseVoting {
		return
	}
	s.resolveVoting()
}

// resolveVoting eliminates the candidate holding a strict majority of cast
// votes. Abstentions do not count as cast; a tie or no majority eliminates
// nobody.
func (s *Session) resolveVoting() {
	tally := make(map[string]int)
	cast := 0
	for voterID, target := range s.votes {
		if !s.players[voterID].Alive || target == "" {
			continue
		}
		tally[target]++
		cast++
	}

	for target, n := range tally {
		if n*2 > cast && s.players[target].Alive {
			s.players[target].Alive = false
			s.events.PlayerEliminated(target, "vote")
			break
		}
	}

	if s.checkWin() {
		return
	}
	s.day++
	s.beginNight()
}

// checkWin evaluates the win condition and finishes the session when met.
func (s *Session) checkWin() bool {
	mafia, others := 0, 0
	for _, p := range s.players {
		if !p.Alive {
			continue
		}
		if p.Role == RoleMafia {
			mafia++
		} else {
			others++
		}
	}

	switch {
	case mafia == 0:
		s.finish(OutcomeTownWin)
	case mafia >= others:
		s.finish(OutcomeMafiaWin)
	default:
		return false
	}
	return true
}

func (s *Session) finish(outcome Outcome) {
	s.disarm()
	s.phase = PhaseEnded
	s.logger.Info("game session finished",
		zap.String("outcome", string(outcome)), zap.Int("days", s.day))
	s.events.GameEnded(outcome, s.Roster(), s.day)
}

// allNightActorsDone reports whether every living night-capable player has a
// pending submission.
func (s *Session) allNightActorsDone() bool {
	for _, id := range s.order {
		p := s.players[id]
		if !p.Alive || !p.Role.IsNightRole() {
			continue
		}
		if _, ok := s.actions[id]; !ok {
			return false
		}
	}
	return true
}

func (s *Session) allVotesDone() bool {
	for _, id := range s.order {
		if !s.players[id].Alive {
			continue
		}
		if _, ok := s.votes[id]; !ok {
			return false
		}
	}
	return true
}

// arm schedules the phase deadline. The generation counter guarantees a
// stale timer that already fired never touches a later phase.
func (s *Session) arm(d time.Duration, onDeadline func()) {
	s.timerGen++
	gen := s.timerGen
	s.deadline = time.Now().Add(d)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() {
		s.run(func() {
			if s.timerGen == gen {
				onDeadline()
			}
		})
	})
}

// disarm cancels the pending deadline, if any.
func (s *Session) disarm() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
