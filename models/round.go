package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Phase string

const (
	PhaseListening     Phase = "listening"
	PhaseQuiz          Phase = "quiz"
	PhasePlacement     Phase = "placement"
	PhaseVetoWindow    Phase = "veto_window"
	PhaseVetoPlacement Phase = "veto_placement"
	PhaseReveal        Phase = "reveal"
)

type VetoField string

const (
	VetoFieldArtist VetoField = "artist"
	VetoFieldTitle  VetoField = "title"
	VetoFieldYear   VetoField = "year"
)

func (f VetoField) Valid() bool {
	return f == VetoFieldArtist || f == VetoFieldTitle || f == VetoFieldYear
}

// QuizOptions holds the multiple-choice sets for one song. The correct
// indices never leave the server.
type QuizOptions struct {
	Artists            []string `json:"artists"`
	Titles             []string `json:"titles"`
	CorrectArtistIndex int      `json:"correctArtistIndex"`
	CorrectTitleIndex  int      `json:"correctTitleIndex"`
}

type AnswerResult struct {
	ArtistCorrect bool    `json:"artistCorrect"`
	TitleCorrect  bool    `json:"titleCorrect"`
	YearScore     float64 `json:"yearScore"`
	TotalScore    float64 `json:"totalScore"`
}

// Correct reports whether both artist and title were named correctly.
func (r AnswerResult) Correct() bool {
	return r.ArtistCorrect && r.TitleCorrect
}

type QuizAnswer struct {
	Team        TeamID       `json:"team"`
	Artist      string       `json:"artist"`
	Title       string       `json:"title"`
	Year        int          `json:"year"`
	Result      AnswerResult `json:"result"`
	Correct     bool         `json:"correct"`
	TimedOut    bool         `json:"timedOut"`
	SubmittedAt time.Time    `json:"submittedAt"`
}

type Placement struct {
	Team        TeamID    `json:"team"`
	Position    int       `json:"position"`
	TimedOut    bool      `json:"timedOut"`
	SubmittedAt time.Time `json:"submittedAt"`
}

type VetoDecision struct {
	Team       TeamID    `json:"team"`
	Used       bool      `json:"used"`
	Field      VetoField `json:"field,omitempty"`
	Successful bool      `json:"successful"`
	TimedOut   bool      `json:"timedOut"`
	DecidedAt  time.Time `json:"decidedAt"`
}

type RoundOutcome struct {
	ScoringTeam      TeamID  `json:"scoringTeam,omitempty"`
	Stolen           bool    `json:"stolen"`
	PointsEarned     float64 `json:"pointsEarned"`
	Position         int     `json:"position"`
	CorrectPosition  int     `json:"correctPosition"`
	PlacementCorrect bool    `json:"placementCorrect"`
	VetoSuccessful   bool    `json:"vetoSuccessful"`
}

// PhasePayload is the phase-specific part of a round. Exactly one variant
// exists per phase, carrying only what that phase needs.
type PhasePayload interface {
	Phase() Phase
}

type ListeningPayload struct{}

type QuizPayload struct {
	QuizOptions QuizOptions `json:"quizOptions"`
}

type PlacementPayload struct {
	QuizAnswer QuizAnswer `json:"quizAnswer"`
}

type VetoWindowPayload struct {
	QuizAnswer QuizAnswer `json:"quizAnswer"`
	Placement  Placement  `json:"placement"`
}

type VetoPlacementPayload struct {
	QuizAnswer   QuizAnswer   `json:"quizAnswer"`
	Placement    Placement    `json:"placement"`
	VetoDecision VetoDecision `json:"vetoDecision"`
}

type RevealPayload struct {
	QuizAnswer    QuizAnswer   `json:"quizAnswer"`
	Placement     Placement    `json:"placement"`
	VetoDecision  VetoDecision `json:"vetoDecision"`
	VetoPlacement *Placement   `json:"vetoPlacement,omitempty"`
	Outcome       RoundOutcome `json:"outcome"`
}

func (ListeningPayload) Phase() Phase     { return PhaseListening }
func (QuizPayload) Phase() Phase          { return PhaseQuiz }
func (PlacementPayload) Phase() Phase     { return PhasePlacement }
func (VetoWindowPayload) Phase() Phase    { return PhaseVetoWindow }
func (VetoPlacementPayload) Phase() Phase { return PhaseVetoPlacement }
func (RevealPayload) Phase() Phase        { return PhaseReveal }

// Round is the phase-agnostic header plus the current phase payload.
type Round struct {
	Number     int          `json:"number"`
	Song       Song         `json:"song"`
	ActiveTeam TeamID       `json:"activeTeam"`
	StartedAt  time.Time    `json:"startedAt"`
	EndsAt     time.Time    `json:"endsAt"`
	Payload    PhasePayload `json:"-"`
}

func (r *Round) Phase() Phase {
	if r.Payload == nil {
		return PhaseListening
	}
	return r.Payload.Phase()
}

type roundWire struct {
	Number     int             `json:"number"`
	Song       Song            `json:"song"`
	ActiveTeam TeamID          `json:"activeTeam"`
	Phase      Phase           `json:"phase"`
	StartedAt  time.Time       `json:"startedAt"`
	EndsAt     time.Time       `json:"endsAt"`
	Payload    json.RawMessage `json:"payload"`
}

func (r Round) MarshalJSON() ([]byte, error) {
	var payload PhasePayload = ListeningPayload{}
	if r.Payload != nil {
		payload = r.Payload
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(roundWire{
		Number:     r.Number,
		Song:       r.Song,
		ActiveTeam: r.ActiveTeam,
		Phase:      payload.Phase(),
		StartedAt:  r.StartedAt,
		EndsAt:     r.EndsAt,
		Payload:    raw,
	})
}

func (r *Round) UnmarshalJSON(data []byte) error {
	var wire roundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := decodePhasePayload(wire.Phase, wire.Payload)
	if err != nil {
		return err
	}
	*r = Round{
		Number:     wire.Number,
		Song:       wire.Song,
		ActiveTeam: wire.ActiveTeam,
		StartedAt:  wire.StartedAt,
		EndsAt:     wire.EndsAt,
		Payload:    payload,
	}
	return nil
}

func decodePhasePayload(phase Phase, raw json.RawMessage) (PhasePayload, error) {
	switch phase {
	case PhaseListening, "":
		return ListeningPayload{}, nil
	case PhaseQuiz:
		var p QuizPayload
		if err := json.Unmarshal(orEmpty(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case PhasePlacement:
		var p PlacementPayload
		if err := json.Unmarshal(orEmpty(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case PhaseVetoWindow:
		var p VetoWindowPayload
		if err := json.Unmarshal(orEmpty(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case PhaseVetoPlacement:
		var p VetoPlacementPayload
		if err := json.Unmarshal(orEmpty(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	case PhaseReveal:
		var p RevealPayload
		if err := json.Unmarshal(orEmpty(raw), &p); err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown round phase %q", phase)
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("{}")
	}
	return raw
}
