package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"songline/models"
)

const createRoomStatesTable = `
CREATE TABLE IF NOT EXISTS room_states (
	room_id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);`

// SQLiteStateStore persists snapshots to a local file, for deployments
// without Redis.
type SQLiteStateStore struct {
	db *sql.DB
}

func NewSQLiteStateStore(path string) (*SQLiteStateStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite state store: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createRoomStatesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create room_states table: %w", err)
	}
	return &SQLiteStateStore{db: db}, nil
}

func (s *SQLiteStateStore) Load(ctx context.Context, roomID string) (*models.GameState, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM room_states WHERE room_id = ?`, roomID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read room state: %w", err)
	}
	return decodeState([]byte(data))
}

func (s *SQLiteStateStore) Save(ctx context.Context, state *models.GameState) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO room_states (room_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		state.RoomID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store room state: %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}
