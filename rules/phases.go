package rules

import (
	"time"

	"songline/models"
)

// ListeningDeadline stands in for "no deadline yet" while a round waits for
// its song to be scanned.
var ListeningDeadline = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

var phaseSuccessors = map[models.Phase]models.Phase{
	models.PhaseListening:     models.PhaseQuiz,
	models.PhaseQuiz:          models.PhasePlacement,
	models.PhasePlacement:     models.PhaseVetoWindow,
	models.PhaseVetoPlacement: models.PhaseReveal,
}

// NextPhase returns the phase after current. The veto window branches on
// whether a token was spent; reveal has no successor.
func NextPhase(current models.Phase, vetoUsed bool) (models.Phase, bool) {
	if current == models.PhaseVetoWindow {
		if vetoUsed {
			return models.PhaseVetoPlacement, true
		}
		return models.PhaseReveal, true
	}
	next, ok := phaseSuccessors[current]
	return next, ok
}

// PhaseDuration is zero for listening and reveal, which wait on a trigger.
func PhaseDuration(phase models.Phase, settings models.Settings) time.Duration {
	var seconds int
	switch phase {
	case models.PhaseQuiz:
		seconds = settings.QuizSeconds
	case models.PhasePlacement:
		seconds = settings.PlacementSeconds
	case models.PhaseVetoWindow:
		seconds = settings.VetoWindowSeconds
	case models.PhaseVetoPlacement:
		seconds = settings.VetoPlacementSeconds
	}
	return time.Duration(seconds) * time.Second
}

// PhaseDeadline computes endsAt for a phase entered at now.
func PhaseDeadline(phase models.Phase, settings models.Settings, now time.Time) time.Time {
	switch phase {
	case models.PhaseListening:
		return ListeningDeadline
	case models.PhaseReveal:
		return time.Time{}
	}
	return now.Add(PhaseDuration(phase, settings))
}

func IsTimed(phase models.Phase) bool {
	switch phase {
	case models.PhaseQuiz, models.PhasePlacement, models.PhaseVetoWindow, models.PhaseVetoPlacement:
		return true
	}
	return false
}

// ActingTeam is the team whose leader resolves the phase.
func ActingTeam(phase models.Phase, activeTeam models.TeamID) models.TeamID {
	switch phase {
	case models.PhaseVetoWindow, models.PhaseVetoPlacement:
		return activeTeam.Opponent()
	}
	return activeTeam
}
