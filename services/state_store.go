package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"songline/models"
)

var ErrStateNotFound = errors.New("room state not found")

// StateStore keeps exactly one snapshot per room.
type StateStore interface {
	Load(ctx context.Context, roomID string) (*models.GameState, error)
	Save(ctx context.Context, state *models.GameState) error
}

func encodeState(state *models.GameState) ([]byte, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room state: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*models.GameState, error) {
	var state models.GameState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room state: %w", err)
	}
	return &state, nil
}

// MemoryStateStore is used in tests and single-process development.
type MemoryStateStore struct {
	mutex  sync.RWMutex
	states map[string][]byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string][]byte)}
}

func (m *MemoryStateStore) Load(_ context.Context, roomID string) (*models.GameState, error) {
	m.mutex.RLock()
	data, ok := m.states[roomID]
	m.mutex.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeState(data)
}

func (m *MemoryStateStore) Save(_ context.Context, state *models.GameState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	m.mutex.Lock()
	m.states[state.RoomID] = data
	m.mutex.Unlock()
	return nil
}
