package rules

import "songline/models"

// ActiveTeamForRound is team A on odd rounds and team B on even rounds.
func ActiveTeamForRound(number int) models.TeamID {
	if number%2 == 1 {
		return models.TeamA
	}
	return models.TeamB
}
