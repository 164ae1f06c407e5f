package services

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"songline/models"
)

// Inbound message types.
const (
	MsgJoin                      = "join"
	MsgReconnect                 = "reconnect"
	MsgLeave                     = "leave"
	MsgReassignTeam              = "reassign_team"
	MsgUpdateSettings            = "update_settings"
	MsgStartGame                 = "start_game"
	MsgClaimTeamLeader           = "claim_team_leader"
	MsgSongScanned               = "song_scanned"
	MsgSubmitQuiz                = "submit_quiz"
	MsgSubmitPlacement           = "submit_placement"
	MsgUseVeto                   = "use_veto"
	MsgPassVeto                  = "pass_veto"
	MsgSubmitVetoPlacement       = "submit_veto_placement"
	MsgNextRound                 = "next_round"
	MsgSubmitQuizSuggestion      = "submit_quiz_suggestion"
	MsgSubmitPlacementSuggestion = "submit_placement_suggestion"
	MsgSubmitVetoSuggestion      = "submit_veto_suggestion"
	MsgSubmitTiebreaker          = "submit_tiebreaker"
	MsgAddCustomSongs            = "add_custom_songs"
	MsgPlayAgain                 = "play_again"
	MsgRequestState              = "request_state"
	MsgPong                      = "pong"
)

// Outbound message types.
const (
	MsgStateSync             = "state_sync"
	MsgWelcome               = "welcome"
	MsgPlayerJoined          = "player_joined"
	MsgPlayerLeft            = "player_left"
	MsgTeamChanged           = "team_changed"
	MsgSettingsUpdated       = "settings_updated"
	MsgLeaderClaimed         = "leader_claimed"
	MsgLeaderChanged         = "leader_changed"
	MsgPhaseChanged          = "phase_changed"
	MsgQuizResult            = "quiz_result"
	MsgPlacementSubmitted    = "placement_submitted"
	MsgVetoWindowOpen        = "veto_window_open"
	MsgVetoDecision          = "veto_decision"
	MsgNewRoundResult        = "new_round_result"
	MsgGameWon               = "game_won"
	MsgGameFinished          = "game_finished"
	MsgTiebreakerStarted     = "tiebreaker_started"
	MsgTiebreakerResult      = "tiebreaker_result"
	MsgCustomSongsAdded      = "custom_songs_added"
	MsgTeammateQuizVote      = "teammate_quiz_vote"
	MsgTeammatePlacementVote = "teammate_placement_vote"
	MsgTeammateVetoVote      = "teammate_veto_vote"
	MsgPing                  = "ping"
	MsgError                 = "error"
)

// InboundMessage is the envelope every client sends.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type JoinPayload struct {
	SessionID string        `json:"sessionId" validate:"required,max=64"`
	Name      string        `json:"name" validate:"required,max=32"`
	Team      models.TeamID `json:"team,omitempty" validate:"omitempty,oneof=A B"`
}

type ReconnectPayload struct {
	SessionID string `json:"sessionId" validate:"required,max=64"`
}

type ReassignTeamPayload struct {
	PlayerID string        `json:"playerId" validate:"required"`
	Team     models.TeamID `json:"team" validate:"required,oneof=A B"`
}

// UpdateSettingsPayload changes only the fields that are present.
type UpdateSettingsPayload struct {
	TargetScore          *int `json:"targetScore,omitempty" validate:"omitempty,min=1,max=50"`
	QuizSeconds          *int `json:"quizSeconds,omitempty" validate:"omitempty,min=5,max=300"`
	PlacementSeconds     *int `json:"placementSeconds,omitempty" validate:"omitempty,min=5,max=300"`
	VetoWindowSeconds    *int `json:"vetoWindowSeconds,omitempty" validate:"omitempty,min=5,max=300"`
	VetoPlacementSeconds *int `json:"vetoPlacementSeconds,omitempty" validate:"omitempty,min=5,max=300"`
	TiebreakerSeconds    *int `json:"tiebreakerSeconds,omitempty" validate:"omitempty,min=5,max=300"`
	MaxTeamSize          *int `json:"maxTeamSize,omitempty" validate:"omitempty,min=1,max=20"`
}

func (p UpdateSettingsPayload) apply(s models.Settings) models.Settings {
	set := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	set(&s.TargetScore, p.TargetScore)
	set(&s.QuizSeconds, p.QuizSeconds)
	set(&s.PlacementSeconds, p.PlacementSeconds)
	set(&s.VetoWindowSeconds, p.VetoWindowSeconds)
	set(&s.VetoPlacementSeconds, p.VetoPlacementSeconds)
	set(&s.TiebreakerSeconds, p.TiebreakerSeconds)
	set(&s.MaxTeamSize, p.MaxTeamSize)
	return s
}

// AnswerPayload is used for quiz answers, quiz suggestions and tiebreaker
// submissions.
type AnswerPayload struct {
	Artist string `json:"artist" validate:"max=200"`
	Title  string `json:"title" validate:"max=200"`
	Year   int    `json:"year" validate:"min=0,max=3000"`
}

type PositionPayload struct {
	Position *int `json:"position" validate:"required,min=0"`
}

type VetoPayload struct {
	Field models.VetoField `json:"field" validate:"required,oneof=artist title year"`
}

type VetoSuggestionPayload struct {
	Use   bool             `json:"use"`
	Field models.VetoField `json:"field,omitempty" validate:"omitempty,oneof=artist title year"`
}

type AddCustomSongsPayload struct {
	Songs []models.Song `json:"songs" validate:"required,min=1,max=500,dive"`
}

var validate = validator.New()

// decodePayload unmarshals and validates a payload. Every failure is a
// malformed_payload protocol error.
func decodePayload(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return ErrMalformedPayload.Withf("payload is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ErrMalformedPayload.Withf("malformed payload: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		return ErrMalformedPayload.Withf("invalid payload: %v", err)
	}
	return nil
}

func errorMessage(err *GameError) Message {
	return Message{Type: MsgError, Payload: err}
}
