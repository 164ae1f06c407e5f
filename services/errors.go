package services

import (
	"errors"
	"fmt"

	"songline/rules"
)

// GameError is a rule or protocol failure reported to the client that caused
// it. Errors compare equal under errors.Is when their codes match.
type GameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *GameError) Error() string {
	return e.Message
}

func (e *GameError) Is(target error) bool {
	t, ok := target.(*GameError)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e carrying a more specific message.
func (e *GameError) Withf(format string, args ...any) *GameError {
	return &GameError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrUnknownType        = &GameError{Code: "unknown_type", Message: "unknown message type"}
	ErrMalformedPayload   = &GameError{Code: "malformed_payload", Message: "malformed payload"}
	ErrWrongPhase         = &GameError{Code: "wrong_phase", Message: "action not allowed in the current phase"}
	ErrTeamFull           = &GameError{Code: "team_full", Message: "team is full"}
	ErrLeaderExists       = &GameError{Code: "leader_exists", Message: "team already has a leader"}
	ErrNotTeamLeader      = &GameError{Code: "not_team_leader", Message: "only the team leader can do that"}
	ErrNoTokens           = &GameError{Code: "no_tokens", Message: "no veto tokens left"}
	ErrReconnectExpired   = &GameError{Code: "reconnect_expired", Message: "reconnection window expired"}
	ErrUnauthorized       = &GameError{Code: "unauthorized", Message: "not allowed"}
	ErrInvalidTransition  = &GameError{Code: "invalid_transition", Message: "invalid status transition"}
	ErrNotJoined          = &GameError{Code: "not_joined", Message: "join the room first"}
	ErrPlayerNotFound     = &GameError{Code: "player_not_found", Message: "player not found"}
	ErrInvalidPosition    = &GameError{Code: "invalid_position", Message: "position is outside the timeline"}
	ErrRateLimited        = &GameError{Code: "rate_limited", Message: "too many messages"}
	ErrNotInitialized     = &GameError{Code: "not_initialized", Message: "room is not initialized"}
	ErrAlreadyInitialized = &GameError{Code: "already_initialized", Message: "room is already initialized"}
	ErrSongPoolEmpty      = &GameError{Code: "song_pool_empty", Message: "no songs left to play"}
	ErrTeamsIncomplete    = &GameError{Code: "teams_incomplete", Message: "both teams need at least one player"}
	ErrInternal           = &GameError{Code: "internal", Message: "internal error"}
)

// Directory and gateway errors.
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")
	ErrInvalidMode        = errors.New("invalid game mode")
	ErrInvalidToken       = errors.New("invalid host token")
	ErrExpiredToken       = errors.New("host token expired")
	ErrInvalidSong        = errors.New("invalid song")
)

// asGameError maps any error to the form sent on the wire.
func asGameError(err error) *GameError {
	var gameErr *GameError
	if errors.As(err, &gameErr) {
		return gameErr
	}
	var transitionErr *rules.StatusTransitionError
	if errors.As(err, &transitionErr) {
		return ErrInvalidTransition.Withf("%s", transitionErr.Error())
	}
	if errors.Is(err, rules.ErrInvalidPosition) {
		return ErrInvalidPosition
	}
	return ErrInternal
}
