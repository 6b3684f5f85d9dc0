package game

import "errors"

var (
	// ErrInvalidPhaseAction covers actions submitted outside their defining
	// phase, by a dead or absent player, or against an invalid target.
	ErrInvalidPhaseAction = errors.New("action not valid in current phase")
)
