package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"songline/config"
	"songline/services"
)

type WSHandler struct {
	hub       *services.Hub
	directory *services.DirectoryService
	tokens    *services.TokenManager
	transport config.TransportConfig
	upgrader  websocket.Upgrader
}

func NewWSHandler(hub *services.Hub, directory *services.DirectoryService, tokens *services.TokenManager, transport config.TransportConfig, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:       hub,
		directory: directory,
		tokens:    tokens,
		transport: transport,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// hostToken reads the token from the Authorization header, falling back to
// the query string since browsers cannot set headers on websocket requests.
func hostToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}

// Connect upgrades GET /ws/rooms/:roomId. Players connect anonymously and
// identify with a join message; role=host requires the room's host token.
func (h *WSHandler) Connect(c *gin.Context) {
	roomID := c.Param("roomId")

	exists, err := h.directory.RoomExists(c.Request.Context(), roomID)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("room lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up room"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	role := services.RolePlayer
	switch c.DefaultQuery("role", string(services.RolePlayer)) {
	case string(services.RolePlayer):
	case string(services.RoleHost):
		if err := h.tokens.VerifyFor(hostToken(c), roomID); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, services.ErrExpiredToken) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		role = services.RoleHost
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("websocket upgrade failed")
		return
	}

	limiter := rate.NewLimiter(rate.Limit(h.transport.MessageRate), h.transport.MessageBurst)
	client := h.hub.RegisterClient(conn, roomID, role, limiter)
	log.Info().Str("room", roomID).Str("conn", client.ID()).Str("role", string(role)).Msg("websocket connected")
}
