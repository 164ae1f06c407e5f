package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"songline/config"
	"songline/handlers"
	"songline/logger"
	"songline/middleware"
	"songline/models"
	"songline/routes"
	"songline/services"
)

const hostTokenMaxAge = 24 * time.Hour

type songSource interface {
	services.SongCatalog
	handlers.SongStore
}

func main() {
	// Load configuration
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store    services.StateStore
		repo     services.RoomRepository
		catalog  songSource
		recorder services.RoomRecorder
	)

	if cfg.StateBackend == config.StateBackendMemory {
		songs := []models.Song{}
		if cfg.CatalogPath != "" {
			loaded, err := services.LoadCatalogFile(cfg.CatalogPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to load song catalog")
			}
			songs = loaded
		}
		memoryRepo := services.NewMemoryRoomRepository()
		store = services.NewMemoryStateStore()
		repo = memoryRepo
		recorder = memoryRepo
		catalog = services.NewMemoryCatalog(songs)
	} else {
		// Initialize database
		db, err := config.InitDB(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}

		// Auto-migrate database models
		err = db.AutoMigrate(
			&models.Room{},
			&models.RoomEvent{},
			&models.Song{},
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate database")
		}

		catalogService := services.NewCatalogService(db)
		if cfg.CatalogPath != "" {
			seeded, err := catalogService.SeedFromFile(ctx, cfg.CatalogPath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to seed song catalog")
			}
			if seeded > 0 {
				log.Info().Int("songs", seeded).Msg("song catalog seeded")
			}
		}
		gormRepo := services.NewGormRoomRepository(db)
		repo = gormRepo
		recorder = gormRepo
		catalog = catalogService

		switch cfg.StateBackend {
		case config.StateBackendSQLite:
			sqliteStore, err := services.NewSQLiteStateStore(cfg.SQLitePath)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to open sqlite state store")
			}
			defer sqliteStore.Close()
			store = sqliteStore
		default:
			// Initialize Redis
			redisClient := config.InitRedis(cfg)
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Fatal().Err(err).Msg("Failed to connect to redis")
			}
			defer redisClient.Close()
			store = services.NewRedisStateStore(redisClient, cfg.StateTTL)
		}
	}
	log.Info().Str("backend", cfg.StateBackend).Msg("state store ready")

	// Initialize WebSocket hub and room actors
	hub := services.NewHub(cfg.Transport.PongTimeout)
	manager := services.NewRoomManager(services.SessionDeps{
		Hub:      hub,
		Store:    store,
		Catalog:  catalog,
		Recorder: recorder,
		Config: services.SessionConfig{
			Defaults:        cfg.Game,
			ReconnectWindow: cfg.Transport.ReconnectWindow,
		},
	}, cfg.Transport.RoomIdleEviction)
	hub.SetDispatcher(manager)
	go hub.RunHeartbeat(ctx, cfg.Transport.HeartbeatInterval)
	go manager.Run(ctx)

	// Initialize services
	tokens := services.NewTokenManager(cfg.JWTSecret, hostTokenMaxAge)
	directory := services.NewDirectoryService(repo, manager, tokens, cfg.PublicURL)

	// Initialize handlers
	roomHandler := handlers.NewRoomHandler(directory)
	songHandler := handlers.NewSongHandler(catalog)
	wsHandler := handlers.NewWSHandler(hub, directory, tokens, cfg.Transport, cfg.AllowedOrigins)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	// Setup routes
	routes.SetupRoutes(router, roomHandler, songHandler, wsHandler, cfg.AdminKey)

	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.BindAddress, cfg.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	// Start server
	log.Info().Str("addr", server.Addr).Msg("Server starting")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
