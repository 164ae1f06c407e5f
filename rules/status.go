package rules

import (
	"fmt"
	"slices"

	"songline/models"
)

var statusTransitions = map[models.RoomStatus][]models.RoomStatus{
	models.StatusLobby:   {models.StatusPlaying},
	models.StatusPlaying: {models.StatusFinished},
}

type StatusTransitionError struct {
	From models.RoomStatus
	To   models.RoomStatus
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func CanTransition(from, to models.RoomStatus) bool {
	return slices.Contains(statusTransitions[from], to)
}

// TransitionStatus moves a room forward; lobby -> playing -> finished only.
func TransitionStatus(state *models.GameState, to models.RoomStatus) error {
	if !CanTransition(state.Status, to) {
		return &StatusTransitionError{From: state.Status, To: to}
	}
	state.Status = to
	return nil
}
