package models

import (
	"time"
)

// Room is the directory record that maps a join code to a room instance.
// The authoritative game state lives in the room snapshot, not here.
type Room struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	Code           string    `json:"code" gorm:"size:8;uniqueIndex;not null"`
	Status         string    `json:"status" gorm:"size:16;not null;default:'lobby'"` // lobby, playing, finished
	Mode           string    `json:"mode" gorm:"size:16;not null;default:'classic'"` // classic, custom
	TeamAPlayers   int       `json:"team_a_players" gorm:"not null;default:0"`
	TeamBPlayers   int       `json:"team_b_players" gorm:"not null;default:0"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Relationships
	Events []RoomEvent `json:"events,omitempty" gorm:"foreignKey:RoomID"`
}
