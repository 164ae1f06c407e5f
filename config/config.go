package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"songline/models"
)

type Config struct {
	Port           string
	BindAddress    string
	PublicURL      string
	AllowedOrigins []string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	RedisHost      string
	RedisPort      string
	RedisPassword  string
	RedisDB        int
	JWTSecret      string
	StateBackend   string
	SQLitePath     string
	StateTTL       time.Duration
	CatalogPath    string
	AdminKey       string
	LogLevel       string
	LogFormat      string

	Game      models.Settings
	Transport TransportConfig
}

// TransportConfig covers connection health and room lifetime.
type TransportConfig struct {
	ReconnectWindow   time.Duration
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	RoomIdleEviction  time.Duration
	MessageRate       float64
	MessageBurst      int
}

const (
	StateBackendRedis  = "redis"
	StateBackendSQLite = "sqlite"
	StateBackendMemory = "memory"
)

func DefaultGameSettings() models.Settings {
	return models.Settings{
		TargetScore:          10,
		QuizSeconds:          30,
		PlacementSeconds:     30,
		VetoWindowSeconds:    15,
		VetoPlacementSeconds: 20,
		TiebreakerSeconds:    30,
		MaxTeamSize:          6,
	}
}

func DefaultTransport() TransportConfig {
	return TransportConfig{
		ReconnectWindow:   5 * time.Minute,
		HeartbeatInterval: 5 * time.Second,
		PongTimeout:       10 * time.Second,
		RoomIdleEviction:  10 * time.Minute,
		MessageRate:       10,
		MessageBurst:      20,
	}
}

// LoadDotEnv loads variables from a .env file if present. Existing
// environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func Load() *Config {
	game := DefaultGameSettings()
	game.TargetScore = getEnvInt("TARGET_SCORE", game.TargetScore)
	game.QuizSeconds = getEnvInt("QUIZ_SECONDS", game.QuizSeconds)
	game.PlacementSeconds = getEnvInt("PLACEMENT_SECONDS", game.PlacementSeconds)
	game.VetoWindowSeconds = getEnvInt("VETO_WINDOW_SECONDS", game.VetoWindowSeconds)
	game.VetoPlacementSeconds = getEnvInt("VETO_PLACEMENT_SECONDS", game.VetoPlacementSeconds)
	game.TiebreakerSeconds = getEnvInt("TIEBREAKER_SECONDS", game.TiebreakerSeconds)
	game.MaxTeamSize = getEnvInt("MAX_TEAM_SIZE", game.MaxTeamSize)

	transport := DefaultTransport()
	transport.ReconnectWindow = getEnvSeconds("RECONNECT_WINDOW_SECONDS", transport.ReconnectWindow)
	transport.HeartbeatInterval = getEnvSeconds("HEARTBEAT_INTERVAL_SECONDS", transport.HeartbeatInterval)
	transport.PongTimeout = getEnvSeconds("PONG_TIMEOUT_SECONDS", transport.PongTimeout)
	transport.RoomIdleEviction = time.Duration(getEnvInt("ROOM_IDLE_EVICT_MINUTES", int(transport.RoomIdleEviction/time.Minute))) * time.Minute
	transport.MessageRate = float64(getEnvInt("MESSAGE_RATE_PER_SECOND", int(transport.MessageRate)))
	transport.MessageBurst = getEnvInt("MESSAGE_BURST", transport.MessageBurst)

	return &Config{
		Port:           getEnv("PORT", "8080"),
		BindAddress:    getEnv("BIND_ADDRESS", "localhost"),
		PublicURL:      strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:5173"), "/"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "songline"),
		DBPassword:     getEnv("DB_PASSWORD", "songline123"),
		DBName:         getEnv("DB_NAME", "songline"),
		RedisHost:      getEnv("REDIS_HOST", "localhost"),
		RedisPort:      getEnv("REDIS_PORT", "6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		JWTSecret:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		StateBackend:   getEnv("STATE_BACKEND", StateBackendRedis),
		SQLitePath:     getEnv("SQLITE_PATH", "./songline-state.db"),
		StateTTL:       time.Duration(getEnvInt("STATE_TTL_HOURS", 24)) * time.Hour,
		CatalogPath:    getEnv("CATALOG_PATH", ""),
		AdminKey:       getEnv("ADMIN_KEY", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		Game:           game,
		Transport:      transport,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			return value
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, int(defaultValue/time.Second))) * time.Second
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return client
}
