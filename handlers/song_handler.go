package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"songline/models"
	"songline/services"
)

// SongStore is the writable song catalog.
type SongStore interface {
	Songs(ctx context.Context) ([]models.Song, error)
	AddSongs(ctx context.Context, songs []models.Song) (int, error)
}

type SongHandler struct {
	songs SongStore
}

func NewSongHandler(songs SongStore) *SongHandler {
	return &SongHandler{
		songs: songs,
	}
}

func (h *SongHandler) ListSongs(c *gin.Context) {
	songs, err := h.songs.Songs(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list songs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list songs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": len(songs), "songs": songs})
}

func (h *SongHandler) AddSongs(c *gin.Context) {
	var req services.AddSongsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	added, err := h.songs.AddSongs(c.Request.Context(), req.Songs)
	if errors.Is(err, services.ErrInvalidSong) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to add songs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add songs"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"added": added, "skipped": len(req.Songs) - added})
}
