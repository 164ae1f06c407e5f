package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"songline/models"
)

func TestResolveVetoSymmetry(t *testing.T) {
	claims := []models.QuizAnswer{
		{Artist: "Queen", Title: "Bohemian Rhapsody", Year: 1975},
		{Artist: "ABBA", Title: "Bohemian Rhapsody", Year: 1976},
		{Artist: "the queen", Title: "Waterloo", Year: 1977},
		{Artist: "", Title: "", Year: 0},
	}
	fields := []models.VetoField{models.VetoFieldArtist, models.VetoFieldTitle, models.VetoFieldYear}

	for _, claim := range claims {
		for _, field := range fields {
			res, err := ResolveVeto(bohemian, claim, field)
			require.NoError(t, err)
			assert.Equal(t, !res.FieldWasCorrect, res.VetoSuccessful, "claim %+v field %s", claim, field)
		}
	}
}

func TestResolveVetoYearTolerance(t *testing.T) {
	testCases := []struct {
		year        int
		wantSuccess bool
	}{
		{1975, false},
		{1974, false},
		{1976, false},
		{1977, true},
		{1973, true},
	}
	for _, tc := range testCases {
		res, err := ResolveVeto(bohemian, models.QuizAnswer{Year: tc.year}, models.VetoFieldYear)
		require.NoError(t, err)
		assert.Equal(t, tc.wantSuccess, res.VetoSuccessful, "year %d", tc.year)
	}
}

func TestResolveVetoUnknownField(t *testing.T) {
	_, err := ResolveVeto(bohemian, models.QuizAnswer{}, "album")
	assert.Error(t, err)
}
