package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamScoreIsDerived(t *testing.T) {
	team := NewTeam(TeamA)
	team.Timeline = append(team.Timeline, TimelineSong{ID: "a", Year: 1990}, TimelineSong{ID: "b", Year: 2000})

	data, err := json.Marshal(team)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 2, decoded["score"])
	assert.EqualValues(t, InitialVetoTokens, decoded["tokens"])
}

func TestRoundPayloadSurvivesReload(t *testing.T) {
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	state := NewGameState("room-1", "ABCD", ModeClassic, Settings{TargetScore: 10}, now)
	state.CurrentRound = &Round{
		Number:     2,
		Song:       Song{ID: "s1", Title: "Heroes", Artist: "David Bowie", Year: 1977},
		ActiveTeam: TeamB,
		StartedAt:  now,
		EndsAt:     now.Add(15 * time.Second),
		Payload: VetoWindowPayload{
			QuizAnswer: QuizAnswer{Team: TeamB, Artist: "David Bowie", Year: 1978, Correct: false},
			Placement:  Placement{Team: TeamB, Position: 0},
		},
	}

	restored, err := state.Clone()
	require.NoError(t, err)
	require.NotNil(t, restored.CurrentRound)
	assert.Equal(t, PhaseVetoWindow, restored.CurrentRound.Phase())

	payload, ok := restored.CurrentRound.Payload.(VetoWindowPayload)
	require.True(t, ok)
	assert.Equal(t, 1978, payload.QuizAnswer.Year)
	assert.Equal(t, TeamB, payload.Placement.Team)
	assert.True(t, restored.CurrentRound.EndsAt.Equal(state.CurrentRound.EndsAt))
}

func TestRoundWithoutPayloadIsListening(t *testing.T) {
	round := &Round{Number: 1}
	assert.Equal(t, PhaseListening, round.Phase())

	var decoded Round
	require.NoError(t, json.Unmarshal([]byte(`{"number":1,"phase":"listening"}`), &decoded))
	assert.Equal(t, PhaseListening, decoded.Phase())

	assert.Error(t, json.Unmarshal([]byte(`{"number":1,"phase":"encore"}`), &decoded))
}

func TestPlayerLookup(t *testing.T) {
	state := NewGameState("room-1", "ABCD", ModeCustom, Settings{}, time.Now())
	p := &Player{ID: "p1", SessionID: "sess-1", Team: TeamB}
	state.Teams[TeamB].Players = append(state.Teams[TeamB].Players, p)

	assert.Same(t, p, state.PlayerBySession("sess-1"))
	assert.Same(t, p, state.PlayerByID("p1"))
	assert.Nil(t, state.PlayerBySession("nope"))
	assert.Same(t, p, state.Teams[TeamB].RemovePlayer("p1"))
	assert.Empty(t, state.Players())
}
