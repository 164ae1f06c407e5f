package rules

import (
	"math/rand/v2"

	"songline/models"
)

const QuizOptionCount = 4

// GenerateQuizOptions builds independent artist and title option sets for the
// correct song. Each set holds the correct value plus up to three distinct
// wrong values drawn from the pool; smaller pools give smaller sets.
func GenerateQuizOptions(correct models.Song, pool []models.Song, rng *rand.Rand) models.QuizOptions {
	candidates := make([]models.Song, 0, len(pool))
	for _, song := range pool {
		if song.ID != correct.ID {
			candidates = append(candidates, song)
		}
	}
	shuffle(rng, len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	artists := pickDistinct(correct.Artist, candidates, func(s models.Song) string { return s.Artist })
	titles := pickDistinct(correct.Title, candidates, func(s models.Song) string { return s.Title })

	artistIndex := shuffleWithAnswer(rng, artists)
	titleIndex := shuffleWithAnswer(rng, titles)

	return models.QuizOptions{
		Artists:            artists,
		Titles:             titles,
		CorrectArtistIndex: artistIndex,
		CorrectTitleIndex:  titleIndex,
	}
}

// pickDistinct returns the correct value first, followed by up to
// QuizOptionCount-1 values that differ from it and from each other.
func pickDistinct(correct string, candidates []models.Song, field func(models.Song) string) []string {
	seen := map[string]struct{}{NormalizeName(correct): {}}
	options := []string{correct}
	for _, song := range candidates {
		if len(options) == QuizOptionCount {
			break
		}
		value := field(song)
		key := NormalizeName(value)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		options = append(options, value)
	}
	return options
}

// shuffleWithAnswer shuffles options in place and returns the new index of the
// value that was at index 0.
func shuffleWithAnswer(rng *rand.Rand, options []string) int {
	order := make([]int, len(options))
	for i := range order {
		order[i] = i
	}
	shuffle(rng, len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
		order[i], order[j] = order[j], order[i]
	})
	for i, original := range order {
		if original == 0 {
			return i
		}
	}
	return 0
}

func shuffle(rng *rand.Rand, n int, swap func(i, j int)) {
	if rng == nil {
		rand.Shuffle(n, swap)
		return
	}
	rng.Shuffle(n, swap)
}

// ShuffleSongs returns a shuffled copy of songs.
func ShuffleSongs(songs []models.Song, rng *rand.Rand) []models.Song {
	shuffled := make([]models.Song, len(songs))
	copy(shuffled, songs)
	shuffle(rng, len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}
