package rooms

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room full")
	ErrInvalidRoomState = errors.New("operation not valid for current room state")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	ErrInvalidCapacity  = errors.New("invalid room capacity")
	ErrEngineFault      = errors.New("game engine fault")
)
