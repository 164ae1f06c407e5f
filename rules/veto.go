package rules

import (
	"fmt"

	"songline/models"
)

type VetoResolution struct {
	Field           models.VetoField `json:"field"`
	FieldWasCorrect bool             `json:"fieldWasCorrect"`
	VetoSuccessful  bool             `json:"vetoSuccessful"`
}

// ResolveVeto checks the challenged field of the active team's claimed
// answer. The veto succeeds exactly when that field was wrong.
func ResolveVeto(song models.Song, claimed models.QuizAnswer, field models.VetoField) (VetoResolution, error) {
	var correct bool
	switch field {
	case models.VetoFieldArtist:
		correct = NamesMatch(song.Artist, claimed.Artist)
	case models.VetoFieldTitle:
		correct = NamesMatch(song.Title, claimed.Title)
	case models.VetoFieldYear:
		correct = YearWithinTolerance(song.Year, claimed.Year)
	default:
		return VetoResolution{}, fmt.Errorf("unknown veto field %q", field)
	}
	return VetoResolution{
		Field:           field,
		FieldWasCorrect: correct,
		VetoSuccessful:  !correct,
	}, nil
}
