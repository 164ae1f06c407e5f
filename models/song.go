package models

import (
	"time"
)

// Song is an immutable catalog entry.
type Song struct {
	ID         string    `json:"id" gorm:"primaryKey;size:64" validate:"required,max=64"`
	Title      string    `json:"title" gorm:"not null" validate:"required,max=255"`
	Artist     string    `json:"artist" gorm:"not null;index" validate:"required,max=255"`
	Year       int       `json:"year" gorm:"not null;index" validate:"min=1900,max=2100"`
	PreviewURL string    `json:"previewUrl" validate:"max=2048"`
	CreatedAt  time.Time `json:"-"`
	UpdatedAt  time.Time `json:"-"`
}

// TimelineSong is a song once it has been won and placed on a team timeline.
type TimelineSong struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Year         int       `json:"year"`
	PreviewURL   string    `json:"previewUrl,omitempty"`
	PointsEarned float64   `json:"pointsEarned"`
	AddedAt      time.Time `json:"addedAt"`
}

func NewTimelineSong(song Song, points float64, at time.Time) TimelineSong {
	return TimelineSong{
		ID:           song.ID,
		Title:        song.Title,
		Artist:       song.Artist,
		Year:         song.Year,
		PreviewURL:   song.PreviewURL,
		PointsEarned: points,
		AddedAt:      at,
	}
}
