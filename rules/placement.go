package rules

import (
	"errors"
	"fmt"
	"math"

	"songline/models"
)

var (
	ErrInvalidPosition  = errors.New("invalid timeline position")
	ErrDuplicateSong    = errors.New("song already placed on a timeline")
	ErrUnsortedTimeline = errors.New("timeline is not in chronological order")
)

// IsValidPlacement reports whether a song from year can sit at position:
// the year before it must not be later and the year after it must not be
// earlier. Equal years are placeable on either side.
func IsValidPlacement(timeline []models.TimelineSong, year, position int) bool {
	if position < 0 || position > len(timeline) {
		return false
	}
	lower := math.MinInt
	if position > 0 {
		lower = timeline[position-1].Year
	}
	upper := math.MaxInt
	if position < len(timeline) {
		upper = timeline[position].Year
	}
	return year >= lower && year <= upper
}

// CorrectPosition is the index of the first entry later than year, or the
// timeline length when there is none.
func CorrectPosition(timeline []models.TimelineSong, year int) int {
	for i, entry := range timeline {
		if entry.Year > year {
			return i
		}
	}
	return len(timeline)
}

func IsSorted(timeline []models.TimelineSong) bool {
	for i := 1; i < len(timeline); i++ {
		if timeline[i-1].Year > timeline[i].Year {
			return false
		}
	}
	return true
}

// InsertIntoTimeline returns a new timeline with entry inserted at position.
// The position must be valid for the entry's year.
func InsertIntoTimeline(timeline []models.TimelineSong, entry models.TimelineSong, position int) ([]models.TimelineSong, error) {
	if !IsSorted(timeline) {
		return nil, ErrUnsortedTimeline
	}
	if !IsValidPlacement(timeline, entry.Year, position) {
		return nil, fmt.Errorf("%w: %d for year %d", ErrInvalidPosition, position, entry.Year)
	}
	updated := make([]models.TimelineSong, 0, len(timeline)+1)
	updated = append(updated, timeline[:position]...)
	updated = append(updated, entry)
	updated = append(updated, timeline[position:]...)
	return updated, nil
}

// SongPlaced reports whether songID is on any team's timeline.
func SongPlaced(teams map[models.TeamID]*models.Team, songID string) bool {
	for _, team := range teams {
		for _, entry := range team.Timeline {
			if entry.ID == songID {
				return true
			}
		}
	}
	return false
}
