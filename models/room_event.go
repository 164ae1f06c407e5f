package models

import (
	"time"

	"gorm.io/datatypes"
)

type RoomEvent struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	RoomID    string         `json:"room_id" gorm:"size:36;index;not null"`
	Type      string         `json:"type" gorm:"size:64;not null"`
	Payload   datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `json:"created_at"`
}
