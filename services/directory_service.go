package services

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"songline/models"
)

const (
	// CodeAlphabet leaves out 0, O, I, L and 1.
	CodeAlphabet    = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	CodeLength      = 4
	MaxCodeAttempts = 10

	eventRoomCreated = "room_created"
)

// GenerateCode draws a join code from CodeAlphabet.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// errCodeTaken marks an insert that lost the race for a join code.
var errCodeTaken = errors.New("room code already taken")

type RoomRepository interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	Insert(ctx context.Context, room *models.Room) error
	FindByCode(ctx context.Context, code string) (*models.Room, error)
	FindByID(ctx context.Context, roomID string) (*models.Room, error)
	UpdateSummary(ctx context.Context, summary RoomSummary) error
	RecordEvent(ctx context.Context, roomID, eventType string, payload any) error
}

// GormRoomRepository keeps the room directory and the room event log.
type GormRoomRepository struct {
	db *gorm.DB
}

func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	return &GormRoomRepository{db: db}
}

func (r *GormRoomRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Room{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRoomRepository) Insert(ctx context.Context, room *models.Room) error {
	err := r.db.WithContext(ctx).Create(room).Error
	if isUniqueViolation(err) {
		return errCodeTaken
	}
	return err
}

func (r *GormRoomRepository) FindByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *GormRoomRepository) FindByID(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *GormRoomRepository) UpdateSummary(ctx context.Context, summary RoomSummary) error {
	return r.db.WithContext(ctx).Model(&models.Room{}).Where("id = ?", summary.RoomID).Updates(map[string]interface{}{
		"status":           string(summary.Status),
		"team_a_players":   summary.TeamAPlayers,
		"team_b_players":   summary.TeamBPlayers,
		"last_activity_at": summary.LastActivityAt,
	}).Error
}

func (r *GormRoomRepository) RecordEvent(ctx context.Context, roomID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	event := models.RoomEvent{RoomID: roomID, Type: eventType, Payload: data}
	return r.db.WithContext(ctx).Create(&event).Error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 is unique_violation
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// RoomInitializer creates the session for a freshly registered room.
type RoomInitializer interface {
	Initialize(ctx context.Context, roomID, code string, mode models.GameMode) error
}

type DirectoryService struct {
	repo      RoomRepository
	rooms     RoomInitializer
	tokens    *TokenManager
	publicURL string
	now       func() time.Time
	newCode   func() (string, error)
}

func NewDirectoryService(repo RoomRepository, rooms RoomInitializer, tokens *TokenManager, publicURL string) *DirectoryService {
	return &DirectoryService{
		repo:      repo,
		rooms:     rooms,
		tokens:    tokens,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
		newCode:   GenerateCode,
	}
}

type CreateRoomRequest struct {
	Mode models.GameMode `json:"mode"`
}

type CreateRoomResponse struct {
	RoomID    string          `json:"roomId"`
	Code      string          `json:"code"`
	Mode      models.GameMode `json:"mode"`
	WSURL     string          `json:"wsUrl"`
	JoinURL   string          `json:"joinUrl"`
	HostToken string          `json:"hostToken"`
}

type TeamCounts struct {
	A int `json:"A"`
	B int `json:"B"`
}

type LookupResponse struct {
	RoomID  string     `json:"roomId"`
	Code    string     `json:"code"`
	Status  string     `json:"status"`
	Mode    string     `json:"mode"`
	Players TeamCounts `json:"players"`
}

// CreateRoom registers a room under a fresh join code and initializes its
// session in the lobby.
func (s *DirectoryService) CreateRoom(ctx context.Context, mode models.GameMode) (*CreateRoomResponse, error) {
	if mode == "" {
		mode = models.ModeClassic
	}
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	room, err := s.registerRoom(ctx, mode)
	if err != nil {
		return nil, err
	}

	if err := s.rooms.Initialize(ctx, room.ID, room.Code, mode); err != nil {
		return nil, fmt.Errorf("failed to initialize room %s: %w", room.ID, err)
	}
	if err := s.repo.RecordEvent(ctx, room.ID, eventRoomCreated, map[string]string{"code": room.Code, "mode": string(mode)}); err != nil {
		log.Warn().Err(err).Str("room", room.ID).Msg("failed to record room event")
	}

	token, err := s.tokens.Issue(room.ID, s.now())
	if err != nil {
		return nil, err
	}

	log.Info().Str("room", room.ID).Str("code", room.Code).Str("mode", string(mode)).Msg("room created")
	return &CreateRoomResponse{
		RoomID:    room.ID,
		Code:      room.Code,
		Mode:      mode,
		WSURL:     "/ws/rooms/" + room.ID,
		JoinURL:   s.JoinURL(room.Code),
		HostToken: token,
	}, nil
}

func (s *DirectoryService) registerRoom(ctx context.Context, mode models.GameMode) (*models.Room, error) {
	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		exists, err := s.repo.CodeExists(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to check room code: %w", err)
		}
		if exists {
			log.Debug().Str("code", code).Int("attempt", attempt).Msg("room code collision")
			continue
		}

		now := s.now()
		room := &models.Room{
			ID:             uuid.NewString(),
			Code:           code,
			Status:         string(models.StatusLobby),
			Mode:           string(mode),
			LastActivityAt: now,
		}
		err = s.repo.Insert(ctx, room)
		if errors.Is(err, errCodeTaken) {
			log.Debug().Str("code", code).Int("attempt", attempt).Msg("room code taken on insert")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create room: %w", err)
		}
		return room, nil
	}
	return nil, ErrCodeSpaceExhausted
}

// Lookup resolves a join code, case-insensitively.
func (s *DirectoryService) Lookup(ctx context.Context, code string) (*LookupResponse, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, ErrRoomNotFound
	}
	room, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return &LookupResponse{
		RoomID:  room.ID,
		Code:    room.Code,
		Status:  room.Status,
		Mode:    room.Mode,
		Players: TeamCounts{A: room.TeamAPlayers, B: room.TeamBPlayers},
	}, nil
}

// RoomExists reports whether a room id was issued by this directory.
func (s *DirectoryService) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return false, nil
	}
	_, err := s.repo.FindByID(ctx, roomID)
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *DirectoryService) JoinURL(code string) string {
	return s.publicURL + "/join/" + code
}
