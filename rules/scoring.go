package rules

import (
	"fmt"
	"time"

	"songline/models"
)

// StealPoints is recorded on a song won through a successful veto.
const StealPoints = 1.0

type RoundInput struct {
	Song             models.Song
	ActiveTeam       models.TeamID
	ActiveTimeline   []models.TimelineSong
	OpponentTimeline []models.TimelineSong
	Quiz             models.QuizAnswer
	Placement        models.Placement
	Veto             models.VetoDecision
	VetoPlacement    *models.Placement
}

// ResolveRound decides who, if anyone, receives the round's song.
//
// A successful veto hands the song to the challenger when its own placement is
// valid, and the active team gets nothing. Otherwise the active team receives
// the song when its answer scored above zero and its placement is valid.
func ResolveRound(in RoundInput) models.RoundOutcome {
	outcome := models.RoundOutcome{
		VetoSuccessful:   in.Veto.Used && in.Veto.Successful,
		CorrectPosition:  CorrectPosition(in.ActiveTimeline, in.Song.Year),
		Position:         in.Placement.Position,
		PlacementCorrect: !in.Placement.TimedOut && IsValidPlacement(in.ActiveTimeline, in.Song.Year, in.Placement.Position),
	}

	if outcome.VetoSuccessful {
		outcome.CorrectPosition = CorrectPosition(in.OpponentTimeline, in.Song.Year)
		outcome.Position = -1
		outcome.PlacementCorrect = false
		if in.VetoPlacement != nil {
			outcome.Position = in.VetoPlacement.Position
			outcome.PlacementCorrect = !in.VetoPlacement.TimedOut &&
				IsValidPlacement(in.OpponentTimeline, in.Song.Year, in.VetoPlacement.Position)
		}
		if outcome.PlacementCorrect {
			outcome.ScoringTeam = in.ActiveTeam.Opponent()
			outcome.Stolen = true
			outcome.PointsEarned = StealPoints
		}
		return outcome
	}

	if in.Quiz.Result.TotalScore > 0 && outcome.PlacementCorrect {
		outcome.ScoringTeam = in.ActiveTeam
		outcome.PointsEarned = in.Quiz.Result.TotalScore
	}
	return outcome
}

// AwardSong places the song on the scoring team's timeline. Scores are never
// stored; they follow from the timeline length.
func AwardSong(teams map[models.TeamID]*models.Team, outcome models.RoundOutcome, song models.Song, at time.Time) error {
	if outcome.ScoringTeam == "" {
		return nil
	}
	team, ok := teams[outcome.ScoringTeam]
	if !ok {
		return fmt.Errorf("unknown team %q", outcome.ScoringTeam)
	}
	if SongPlaced(teams, song.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateSong, song.ID)
	}
	timeline, err := InsertIntoTimeline(team.Timeline, models.NewTimelineSong(song, outcome.PointsEarned, at), outcome.Position)
	if err != nil {
		return err
	}
	team.Timeline = timeline
	return nil
}
