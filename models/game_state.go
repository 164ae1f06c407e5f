package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type RoomStatus string

const (
	StatusLobby    RoomStatus = "lobby"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

type GameMode string

const (
	ModeClassic GameMode = "classic"
	ModeCustom  GameMode = "custom"
)

func (m GameMode) Valid() bool {
	return m == ModeClassic || m == ModeCustom
}

type TeamID string

const (
	TeamA TeamID = "A"
	TeamB TeamID = "B"
)

var TeamIDs = []TeamID{TeamA, TeamB}

func (t TeamID) Valid() bool {
	return t == TeamA || t == TeamB
}

// Opponent returns the other team.
func (t TeamID) Opponent() TeamID {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

const InitialVetoTokens = 3

// Settings are the host-tunable rules of a room.
type Settings struct {
	TargetScore          int `json:"targetScore" validate:"min=1,max=50"`
	QuizSeconds          int `json:"quizSeconds" validate:"min=5,max=300"`
	PlacementSeconds     int `json:"placementSeconds" validate:"min=5,max=300"`
	VetoWindowSeconds    int `json:"vetoWindowSeconds" validate:"min=5,max=300"`
	VetoPlacementSeconds int `json:"vetoPlacementSeconds" validate:"min=5,max=300"`
	TiebreakerSeconds    int `json:"tiebreakerSeconds" validate:"min=5,max=300"`
	MaxTeamSize          int `json:"maxTeamSize" validate:"min=1,max=20"`
}

type Player struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"sessionId"`
	Name         string    `json:"name"`
	Team         TeamID    `json:"team"`
	Connected    bool      `json:"connected"`
	LastSeen     time.Time `json:"lastSeen"`
	IsTeamLeader bool      `json:"isTeamLeader"`
}

type Team struct {
	ID       TeamID         `json:"id"`
	Name     string         `json:"name"`
	Players  []*Player      `json:"players"`
	Timeline []TimelineSong `json:"timeline"`
	Tokens   int            `json:"tokens"`
}

func NewTeam(id TeamID) *Team {
	return &Team{
		ID:       id,
		Name:     "Team " + string(id),
		Players:  []*Player{},
		Timeline: []TimelineSong{},
		Tokens:   InitialVetoTokens,
	}
}

// Score is always derived from the timeline.
func (t *Team) Score() int {
	return len(t.Timeline)
}

func (t *Team) MarshalJSON() ([]byte, error) {
	type alias Team
	return json.Marshal(struct {
		*alias
		Score int `json:"score"`
	}{alias: (*alias)(t), Score: t.Score()})
}

func (t *Team) Leader() *Player {
	for _, p := range t.Players {
		if p.IsTeamLeader {
			return p
		}
	}
	return nil
}

func (t *Team) RemovePlayer(playerID string) *Player {
	for i, p := range t.Players {
		if p.ID == playerID {
			t.Players = append(t.Players[:i], t.Players[i+1:]...)
			return p
		}
	}
	return nil
}

// Tiebreaker is a sudden-death attempt shared by both teams.
type Tiebreaker struct {
	Attempt     int                    `json:"attempt"`
	Song        Song                   `json:"song"`
	StartedAt   time.Time              `json:"startedAt"`
	EndsAt      time.Time              `json:"endsAt"`
	Submissions []TiebreakerSubmission `json:"submissions"`
}

type TiebreakerSubmission struct {
	Team        TeamID    `json:"team"`
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	Year        int       `json:"year"`
	Correct     bool      `json:"correct"`
	SubmittedAt time.Time `json:"submittedAt"`
}

func (tb *Tiebreaker) Submitted(team TeamID) bool {
	for _, s := range tb.Submissions {
		if s.Team == team {
			return true
		}
	}
	return false
}

// GameState is the authoritative snapshot of one room.
type GameState struct {
	RoomID         string           `json:"roomId"`
	Code           string           `json:"code"`
	Status         RoomStatus       `json:"status"`
	Mode           GameMode         `json:"mode"`
	Settings       Settings         `json:"settings"`
	Teams          map[TeamID]*Team `json:"teams"`
	CurrentRound   *Round           `json:"currentRound"`
	RoundsPlayed   int              `json:"roundsPlayed"`
	SongPool       []Song           `json:"songPool"`
	PlayedSongs    []Song           `json:"playedSongs"`
	Winner         TeamID           `json:"winner,omitempty"`
	Tiebreaker     *Tiebreaker      `json:"tiebreaker,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	LastActivityAt time.Time        `json:"lastActivityAt"`
}

func NewGameState(roomID, code string, mode GameMode, settings Settings, now time.Time) *GameState {
	return &GameState{
		RoomID:   roomID,
		Code:     code,
		Status:   StatusLobby,
		Mode:     mode,
		Settings: settings,
		Teams: map[TeamID]*Team{
			TeamA: NewTeam(TeamA),
			TeamB: NewTeam(TeamB),
		},
		SongPool:       []Song{},
		PlayedSongs:    []Song{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func (g *GameState) Team(id TeamID) *Team {
	return g.Teams[id]
}

func (g *GameState) Players() []*Player {
	var players []*Player
	for _, id := range TeamIDs {
		if team := g.Teams[id]; team != nil {
			players = append(players, team.Players...)
		}
	}
	return players
}

func (g *GameState) PlayerBySession(sessionID string) *Player {
	for _, p := range g.Players() {
		if p.SessionID == sessionID {
			return p
		}
	}
	return nil
}

func (g *GameState) PlayerByID(playerID string) *Player {
	for _, p := range g.Players() {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// Clone deep-copies the state through its persisted form.
func (g *GameState) Clone() (*GameState, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("clone game state: %w", err)
	}
	var copied GameState
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("clone game state: %w", err)
	}
	return &copied, nil
}
