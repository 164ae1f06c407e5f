package rules

import (
	"sort"

	"songline/models"
)

type WinResult struct {
	HasWinner bool          `json:"hasWinner"`
	Winner    models.TeamID `json:"winner,omitempty"`
	IsTie     bool          `json:"isTie"`
}

// CheckWinner reports a winner once a team reaches target. Both teams reaching
// it in the same step is a tie that needs a tiebreaker.
func CheckWinner(scoreA, scoreB, target int) WinResult {
	reachedA := scoreA >= target
	reachedB := scoreB >= target
	switch {
	case reachedA && reachedB:
		return WinResult{IsTie: true}
	case reachedA:
		return WinResult{HasWinner: true, Winner: models.TeamA}
	case reachedB:
		return WinResult{HasWinner: true, Winner: models.TeamB}
	default:
		return WinResult{}
	}
}

// FinalStandings picks the higher score when the song pool runs out.
func FinalStandings(scoreA, scoreB int) WinResult {
	switch {
	case scoreA > scoreB:
		return WinResult{HasWinner: true, Winner: models.TeamA}
	case scoreB > scoreA:
		return WinResult{HasWinner: true, Winner: models.TeamB}
	default:
		return WinResult{}
	}
}

// ResolveTiebreaker returns the team with the earliest correct submission.
// With no correct submission there is no winner for the attempt.
func ResolveTiebreaker(submissions []models.TiebreakerSubmission) (models.TeamID, bool) {
	correct := make([]models.TiebreakerSubmission, 0, len(submissions))
	for _, s := range submissions {
		if s.Correct {
			correct = append(correct, s)
		}
	}
	if len(correct) == 0 {
		return "", false
	}
	sort.SliceStable(correct, func(i, j int) bool {
		return correct[i].SubmittedAt.Before(correct[j].SubmittedAt)
	})
	return correct[0].Team, true
}
