package game

import "math/rand"

// Role is a hidden per-player assignment made once at game start.
type Role string

const (
	RoleMafia     Role = "mafia"
	RoleDetective Role = "detective"
	RoleDoctor    Role = "doctor"
	RoleCivilian  Role = "civilian"
)

// IsNightRole reports whether the role acts during the Night phase.
func (r Role) IsNightRole() bool {
	return r == RoleMafia || r == RoleDetective || r == RoleDoctor
}

// RoleCounts computes the fixed role distribution for a session of n
// players: one mafia per mafiaPer players rounded up, one detective from five
// players, one doctor from six, remainder civilian.
func RoleCounts(n, mafiaPer int) (mafia, detective, doctor int) {
	if mafiaPer <= 0 {
		mafiaPer = 4
	}
	mafia = (n + mafiaPer - 1) / mafiaPer
	if n >= 5 {
		detective = 1
	}
	if n >= 6 {
		doctor = 1
	}
	return mafia, detective, doctor
}

// dealRoles shuffles the player order with the session's rng and assigns
// roles according to RoleCounts. Deterministic for a given seed.
func dealRoles(playerIDs []string, mafiaPer int, rng *rand.Rand) map[string]Role {
	order := make([]string, len(playerIDs))
	copy(order, playerIDs)
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	mafia, detective, doctor := RoleCounts(len(order), mafiaPer)
	roles := make(map[string]Role, len(order))
	for i, id := range order {
		switch {
		case i < mafia:
			roles[id] = RoleMafia
		case i < mafia+detective:
			roles[id] = RoleDetective
		case i < mafia+detective+doctor:
			roles[id] = RoleDoctor
		default:
			roles[id] = RoleCivilian
		}
	}
	return roles
}
