package rules

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"songline/models"
)

func TestNextPhase(t *testing.T) {
	next, ok := NextPhase(models.PhaseListening, false)
	assert.True(t, ok)
	assert.Equal(t, models.PhaseQuiz, next)

	next, _ = NextPhase(models.PhaseQuiz, false)
	assert.Equal(t, models.PhasePlacement, next)

	next, _ = NextPhase(models.PhasePlacement, true)
	assert.Equal(t, models.PhaseVetoWindow, next)

	next, _ = NextPhase(models.PhaseVetoWindow, true)
	assert.Equal(t, models.PhaseVetoPlacement, next)

	next, _ = NextPhase(models.PhaseVetoWindow, false)
	assert.Equal(t, models.PhaseReveal, next)

	next, _ = NextPhase(models.PhaseVetoPlacement, false)
	assert.Equal(t, models.PhaseReveal, next)

	for _, used := range []bool{true, false} {
		_, ok := NextPhase(models.PhaseReveal, used)
		assert.False(t, ok)
	}
}

func TestPhaseDeadline(t *testing.T) {
	settings := models.Settings{QuizSeconds: 30, PlacementSeconds: 20, VetoWindowSeconds: 10, VetoPlacementSeconds: 15}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, ListeningDeadline, PhaseDeadline(models.PhaseListening, settings, now))
	assert.True(t, PhaseDeadline(models.PhaseReveal, settings, now).IsZero())
	assert.Equal(t, now.Add(30*time.Second), PhaseDeadline(models.PhaseQuiz, settings, now))
	assert.Equal(t, now.Add(15*time.Second), PhaseDeadline(models.PhaseVetoPlacement, settings, now))
	assert.Zero(t, PhaseDuration(models.PhaseListening, settings))
	assert.False(t, IsTimed(models.PhaseReveal))
	assert.True(t, IsTimed(models.PhaseVetoWindow))
}

func TestActingTeam(t *testing.T) {
	assert.Equal(t, models.TeamA, ActingTeam(models.PhaseQuiz, models.TeamA))
	assert.Equal(t, models.TeamB, ActingTeam(models.PhaseVetoWindow, models.TeamA))
	assert.Equal(t, models.TeamA, ActingTeam(models.PhaseVetoPlacement, models.TeamB))
}

func TestTransitionStatus(t *testing.T) {
	state := &models.GameState{Status: models.StatusLobby}

	assert.NoError(t, TransitionStatus(state, models.StatusPlaying))
	assert.NoError(t, TransitionStatus(state, models.StatusFinished))

	err := TransitionStatus(state, models.StatusLobby)
	var transitionErr *StatusTransitionError
	assert.True(t, errors.As(err, &transitionErr))
	assert.EqualError(t, err, "invalid status transition finished -> lobby")
	assert.Equal(t, models.StatusFinished, state.Status)

	assert.Error(t, TransitionStatus(&models.GameState{Status: models.StatusLobby}, models.StatusFinished))
}
