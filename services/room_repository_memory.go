package services

import (
	"context"
	"encoding/json"
	"sync"

	"songline/models"
)

// MemoryRoomRepository is the directory used when no database is
// configured. Events are kept only as their raw JSON.
type MemoryRoomRepository struct {
	mutex  sync.RWMutex
	byCode map[string]*models.Room
	byID   map[string]*models.Room
	events []models.RoomEvent
}

func NewMemoryRoomRepository() *MemoryRoomRepository {
	return &MemoryRoomRepository{
		byCode: make(map[string]*models.Room),
		byID:   make(map[string]*models.Room),
	}
}

func (r *MemoryRoomRepository) CodeExists(_ context.Context, code string) (bool, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.byCode[code]
	return ok, nil
}

func (r *MemoryRoomRepository) Insert(_ context.Context, room *models.Room) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.byCode[room.Code]; ok {
		return errCodeTaken
	}
	stored := *room
	r.byCode[room.Code] = &stored
	r.byID[room.ID] = &stored
	return nil
}

func (r *MemoryRoomRepository) FindByCode(_ context.Context, code string) (*models.Room, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	room, ok := r.byCode[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	found := *room
	return &found, nil
}

func (r *MemoryRoomRepository) FindByID(_ context.Context, roomID string) (*models.Room, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	room, ok := r.byID[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	found := *room
	return &found, nil
}

func (r *MemoryRoomRepository) UpdateSummary(_ context.Context, summary RoomSummary) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	room, ok := r.byID[summary.RoomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.Status = string(summary.Status)
	room.TeamAPlayers = summary.TeamAPlayers
	room.TeamBPlayers = summary.TeamBPlayers
	room.LastActivityAt = summary.LastActivityAt
	return nil
}

func (r *MemoryRoomRepository) RecordEvent(_ context.Context, roomID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, models.RoomEvent{ID: uint(len(r.events) + 1), RoomID: roomID, Type: eventType, Payload: data})
	return nil
}

// Events returns the recorded events of a room in order.
func (r *MemoryRoomRepository) Events(roomID string) []models.RoomEvent {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	var events []models.RoomEvent
	for _, e := range r.events {
		if e.RoomID == roomID {
			events = append(events, e)
		}
	}
	return events
}
