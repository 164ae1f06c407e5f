// Package rules holds the game rules: answer checking, quiz options,
// timeline placement, veto resolution, scoring and the round phase machine.
// Nothing in here performs I/O.
package rules

import (
	"strings"

	"songline/models"
)

// NormalizeName lower-cases a name, collapses whitespace and drops a
// leading "The ".
func NormalizeName(name string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(name)), " ")
	return strings.TrimPrefix(normalized, "the ")
}

func NamesMatch(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// YearScore is 1 for an exact year, 0.5 when one year off and 0 otherwise.
func YearScore(actual, guessed int) float64 {
	switch diff := abs(actual - guessed); diff {
	case 0:
		return 1
	case 1:
		return 0.5
	default:
		return 0
	}
}

// YearWithinTolerance uses the same one-year tolerance as scoring.
func YearWithinTolerance(actual, guessed int) bool {
	return abs(actual-guessed) <= 1
}

func ValidateAnswer(song models.Song, artist, title string, year int) models.AnswerResult {
	result := models.AnswerResult{
		ArtistCorrect: NamesMatch(song.Artist, artist),
		TitleCorrect:  NamesMatch(song.Title, title),
		YearScore:     YearScore(song.Year, year),
	}
	if result.ArtistCorrect {
		result.TotalScore++
	}
	if result.TitleCorrect {
		result.TotalScore++
	}
	result.TotalScore += result.YearScore
	return result
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
