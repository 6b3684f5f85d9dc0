package rooms

import (
	"context"
	"time"

	"mafiaserver/database"
	"mafiaserver/game"
	"mafiaserver/models"

	"go.uber.org/zap"
)

// roomEvents bridges the phase engine to the broadcast stream. Every method
// is invoked while the room lock is held, so it only publishes and never
// calls back into the manager's locking paths.
type roomEvents struct {
	m *Manager
	r *Room
}

func (e *roomEvents) RoleAssigned(playerID string, role game.Role, mafiaTeam []string) {
	stream := e.m.broker.Stream(e.r.ID)
	stream.SendTo(playerID, models.MsgPrivateRoleInfo, models.RoleInfoPayload{
		Role:      string(role),
		MafiaTeam: mafiaTeam,
	})
}

func (e *roomEvents) PhaseChanged(phase game.Phase, day int, deadline time.Time) {
	e.m.broker.Stream(e.r.ID).Publish(models.MsgPhaseUpdate, models.PhaseUpdatePayload{
		Phase:    string(phase),
		Day:      day,
		Deadline: deadline.Unix(),
		Alive:    e.r.session.AliveIDs(),
	})
}

func (e *roomEvents) PlayerEliminated(playerID, cause string) {
	e.m.broker.Stream(e.r.ID).Publish(models.MsgPhaseUpdate, models.PhaseUpdatePayload{
		Phase: string(e.r.session.Phase()),
		Day:   e.r.session.Day(),
		Alive: e.r.session.AliveIDs(),
		Eliminated: &models.EliminatedInfo{
			PlayerID: playerID,
			Cause:    cause,
		},
	})
}

func (e *roomEvents) InspectionResult(detectiveID, targetID string, isMafia bool) {
	e.m.broker.Stream(e.r.ID).SendTo(detectiveID, models.MsgNightResult, models.NightResultPayload{
		TargetID: targetID,
		IsMafia:  isMafia,
	})
}

func (e *roomEvents) GameEnded(outcome game.Outcome, roster []game.PlayerState, days int) {
	r := e.r
	startedAt := r.session.StartedAt()
	r.session = nil
	r.Status = StatusEnded
	r.cancelAllGrace()

	payload := models.GameOverPayload{
		Outcome: string(outcome),
		Days:    days,
		Roster:  make([]models.GameOverPlayer, 0, len(roster)),
	}
	result := database.GameResult{
		RoomID:    r.ID,
		RoomName:  r.Name,
		Winner:    string(outcome),
		Days:      days,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
	}
	for _, p := range roster {
		payload.Roster = append(payload.Roster, models.GameOverPlayer{
			ID:       p.ID,
			Nickname: p.Nickname,
			Role:     string(p.Role),
			Alive:    p.Alive,
		})
		result.Players = append(result.Players, p.ID)
		won := (outcome == game.OutcomeMafiaWin) == (p.Role == game.RoleMafia)
		if won {
			result.Winners = append(result.Winners, p.ID)
		}
	}

	e.m.broker.Stream(r.ID).Publish(models.MsgGameOver, payload)
	e.m.logger.Info("room game ended",
		zap.String("roomID", r.ID), zap.String("outcome", string(outcome)), zap.Int("days", days))

	// Persistence never blocks gameplay; failures only degrade stats.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.m.store.SaveGameResult(ctx, result); err != nil {
			e.m.logger.Error("failed to persist game result",
				zap.String("roomID", result.RoomID), zap.Error(err))
		}
	}()
}
