package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"songline/services"
)

const qrSize = 256

type RoomHandler struct {
	directory *services.DirectoryService
}

func NewRoomHandler(directory *services.DirectoryService) *RoomHandler {
	return &RoomHandler{
		directory: directory,
	}
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req services.CreateRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	room, err := h.directory.CreateRoom(c.Request.Context(), req.Mode)
	switch {
	case errors.Is(err, services.ErrInvalidMode):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrCodeSpaceExhausted):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, room)
}

func (h *RoomHandler) GetRoomByCode(c *gin.Context) {
	room, err := h.directory.Lookup(c.Request.Context(), c.Param("code"))
	if errors.Is(err, services.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("code", c.Param("code")).Msg("room lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up room"})
		return
	}

	c.JSON(http.StatusOK, room)
}

// GetRoomQR renders the room's join URL as a PNG QR code.
func (h *RoomHandler) GetRoomQR(c *gin.Context) {
	room, err := h.directory.Lookup(c.Request.Context(), c.Param("code"))
	if errors.Is(err, services.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up room"})
		return
	}

	png, err := qrcode.Encode(h.directory.JoinURL(room.Code), qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("code", room.Code).Msg("failed to encode QR code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate QR code"})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
