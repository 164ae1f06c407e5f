package routes

import (
	"github.com/gin-gonic/gin"

	"songline/handlers"
	"songline/middleware"
)

func SetupRoutes(
	router *gin.Engine,
	roomHandler *handlers.RoomHandler,
	songHandler *handlers.SongHandler,
	wsHandler *handlers.WSHandler,
	adminKey string,
) {
	rooms := router.Group("/rooms")
	{
		rooms.POST("", roomHandler.CreateRoom)
		rooms.GET("/:code", roomHandler.GetRoomByCode)
		rooms.GET("/:code/qr", roomHandler.GetRoomQR)
	}

	songs := router.Group("/songs")
	{
		songs.GET("", songHandler.ListSongs)
		songs.POST("", middleware.RequireAdminKey(adminKey), songHandler.AddSongs)
	}

	// Real-time room traffic
	router.GET("/ws/rooms/:roomId", wsHandler.Connect)

	router.GET("/health", handlers.Health)
}
