package services

import (
	"time"

	"songline/models"
	"songline/rules"
)

// The views below are what clients see of a GameState. The song pool,
// session ids of other players, quiz answer keys and the current song
// (for players, until reveal) never leave the server.

type PlayerView struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Team         models.TeamID `json:"team"`
	Connected    bool          `json:"connected"`
	IsTeamLeader bool          `json:"isTeamLeader"`
}

func newPlayerView(p *models.Player) PlayerView {
	return PlayerView{
		ID:           p.ID,
		Name:         p.Name,
		Team:         p.Team,
		Connected:    p.Connected,
		IsTeamLeader: p.IsTeamLeader,
	}
}

type TeamView struct {
	ID       models.TeamID         `json:"id"`
	Name     string                `json:"name"`
	Players  []PlayerView          `json:"players"`
	Timeline []models.TimelineSong `json:"timeline"`
	Tokens   int                   `json:"tokens"`
	Score    int                   `json:"score"`
}

// ClaimView is a quiz answer before reveal: what was claimed, not whether
// it was right.
type ClaimView struct {
	Team     models.TeamID `json:"team"`
	Artist   string        `json:"artist"`
	Title    string        `json:"title"`
	Year     int           `json:"year"`
	TimedOut bool          `json:"timedOut"`
}

func newClaimView(a models.QuizAnswer) ClaimView {
	return ClaimView{Team: a.Team, Artist: a.Artist, Title: a.Title, Year: a.Year, TimedOut: a.TimedOut}
}

type VetoView struct {
	Team     models.TeamID    `json:"team"`
	Used     bool             `json:"used"`
	Field    models.VetoField `json:"field,omitempty"`
	TimedOut bool             `json:"timedOut"`
}

type QuizChoices struct {
	Artists []string `json:"artists"`
	Titles  []string `json:"titles"`
}

type RoundView struct {
	Number      int                   `json:"number"`
	Phase       models.Phase          `json:"phase"`
	ActiveTeam  models.TeamID         `json:"activeTeam"`
	ActingTeam  models.TeamID         `json:"actingTeam"`
	StartedAt   time.Time             `json:"startedAt"`
	EndsAt      time.Time             `json:"endsAt"`
	Song        *models.Song          `json:"song,omitempty"`
	QuizOptions *QuizChoices          `json:"quizOptions,omitempty"`
	Claim       *ClaimView            `json:"claim,omitempty"`
	Placement   *models.Placement     `json:"placement,omitempty"`
	Veto        *VetoView             `json:"veto,omitempty"`
	Reveal      *models.RevealPayload `json:"reveal,omitempty"`
}

type TiebreakerView struct {
	Attempt   int             `json:"attempt"`
	StartedAt time.Time       `json:"startedAt"`
	EndsAt    time.Time       `json:"endsAt"`
	Submitted []models.TeamID `json:"submitted"`
	Song      *models.Song    `json:"song,omitempty"`
}

type StateView struct {
	RoomID       string                     `json:"roomId"`
	Code         string                     `json:"code"`
	Status       models.RoomStatus          `json:"status"`
	Mode         models.GameMode            `json:"mode"`
	Settings     models.Settings            `json:"settings"`
	Teams        map[models.TeamID]TeamView `json:"teams"`
	CurrentRound *RoundView                 `json:"currentRound"`
	RoundsPlayed int                        `json:"roundsPlayed"`
	SongsLeft    int                        `json:"songsLeft"`
	PlayedSongs  []models.Song              `json:"playedSongs"`
	Winner       models.TeamID              `json:"winner,omitempty"`
	Tiebreaker   *TiebreakerView            `json:"tiebreaker,omitempty"`
	You          *PlayerView                `json:"you,omitempty"`
	ServerTime   time.Time                  `json:"serverTime"`
}

func buildStateView(st *models.GameState, role Role, sessionID string, now time.Time) StateView {
	view := StateView{
		RoomID:       st.RoomID,
		Code:         st.Code,
		Status:       st.Status,
		Mode:         st.Mode,
		Settings:     st.Settings,
		Teams:        make(map[models.TeamID]TeamView, len(st.Teams)),
		RoundsPlayed: st.RoundsPlayed,
		SongsLeft:    len(st.SongPool),
		PlayedSongs:  st.PlayedSongs,
		Winner:       st.Winner,
		ServerTime:   now,
	}
	for id, team := range st.Teams {
		players := make([]PlayerView, 0, len(team.Players))
		for _, p := range team.Players {
			players = append(players, newPlayerView(p))
		}
		view.Teams[id] = TeamView{
			ID:       team.ID,
			Name:     team.Name,
			Players:  players,
			Timeline: team.Timeline,
			Tokens:   team.Tokens,
			Score:    team.Score(),
		}
	}
	if sessionID != "" {
		if p := st.PlayerBySession(sessionID); p != nil {
			you := newPlayerView(p)
			view.You = &you
		}
	}
	if st.CurrentRound != nil {
		view.CurrentRound = buildRoundView(st.CurrentRound, role)
	}
	if tb := st.Tiebreaker; tb != nil {
		tv := &TiebreakerView{Attempt: tb.Attempt, StartedAt: tb.StartedAt, EndsAt: tb.EndsAt, Submitted: []models.TeamID{}}
		for _, sub := range tb.Submissions {
			tv.Submitted = append(tv.Submitted, sub.Team)
		}
		if role == RoleHost {
			tv.Song = playbackOnly(tb.Song)
		}
		view.Tiebreaker = tv
	}
	return view
}

// playbackOnly is what the host needs to play a song without showing it.
func playbackOnly(song models.Song) *models.Song {
	return &models.Song{ID: song.ID, PreviewURL: song.PreviewURL}
}

func buildRoundView(r *models.Round, role Role) *RoundView {
	phase := r.Phase()
	view := &RoundView{
		Number:     r.Number,
		Phase:      phase,
		ActiveTeam: r.ActiveTeam,
		ActingTeam: rules.ActingTeam(phase, r.ActiveTeam),
		StartedAt:  r.StartedAt,
		EndsAt:     r.EndsAt,
	}
	if role == RoleHost {
		view.Song = playbackOnly(r.Song)
	}

	switch p := r.Payload.(type) {
	case models.QuizPayload:
		view.QuizOptions = &QuizChoices{Artists: p.QuizOptions.Artists, Titles: p.QuizOptions.Titles}
	case models.PlacementPayload:
		claim := newClaimView(p.QuizAnswer)
		view.Claim = &claim
	case models.VetoWindowPayload:
		claim := newClaimView(p.QuizAnswer)
		placement := p.Placement
		view.Claim = &claim
		view.Placement = &placement
	case models.VetoPlacementPayload:
		claim := newClaimView(p.QuizAnswer)
		placement := p.Placement
		view.Claim = &claim
		view.Placement = &placement
		view.Veto = &VetoView{Team: p.VetoDecision.Team, Used: p.VetoDecision.Used, Field: p.VetoDecision.Field, TimedOut: p.VetoDecision.TimedOut}
	case models.RevealPayload:
		song := r.Song
		reveal := p
		view.Song = &song
		view.Reveal = &reveal
	}
	return view
}
