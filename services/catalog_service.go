package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"songline/models"
)

// SongCatalog is where classic rooms draw their song pool from.
type SongCatalog interface {
	Songs(ctx context.Context) ([]models.Song, error)
}

// MemoryCatalog backs the catalog when no database is configured.
type MemoryCatalog struct {
	mutex sync.RWMutex
	songs []models.Song
}

func NewMemoryCatalog(songs []models.Song) *MemoryCatalog {
	c := &MemoryCatalog{}
	for _, song := range songs {
		if !c.has(song.ID) {
			c.songs = append(c.songs, song)
		}
	}
	return c
}

func (c *MemoryCatalog) has(id string) bool {
	for _, song := range c.songs {
		if song.ID == id {
			return true
		}
	}
	return false
}

func (c *MemoryCatalog) Songs(context.Context) ([]models.Song, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	songs := make([]models.Song, len(c.songs))
	copy(songs, c.songs)
	return songs, nil
}

func (c *MemoryCatalog) AddSongs(_ context.Context, songs []models.Song) (int, error) {
	if err := ValidateSongs(songs); err != nil {
		return 0, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	added := 0
	for _, song := range songs {
		if c.has(song.ID) {
			continue
		}
		c.songs = append(c.songs, song)
		added++
	}
	return added, nil
}

type CatalogService struct {
	db *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

type AddSongsRequest struct {
	Songs []models.Song `json:"songs" binding:"required,min=1,max=1000"`
}

func (s *CatalogService) Songs(ctx context.Context) ([]models.Song, error) {
	var songs []models.Song
	err := s.db.WithContext(ctx).Order("year, id").Find(&songs).Error
	return songs, err
}

func (s *CatalogService) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Song{}).Count(&count).Error
	return count, err
}

// AddSongs inserts the songs in one transaction and returns how many were
// new. Songs whose id already exists are skipped.
func (s *CatalogService) AddSongs(ctx context.Context, songs []models.Song) (int, error) {
	if err := ValidateSongs(songs); err != nil {
		return 0, err
	}

	added := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range songs {
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&songs[i])
			if result.Error != nil {
				return result.Error
			}
			added += int(result.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add songs: %w", err)
	}
	return added, nil
}

// SeedFromFile loads a JSON catalog into an empty songs table.
func (s *CatalogService) SeedFromFile(ctx context.Context, path string) (int, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	songs, err := LoadCatalogFile(path)
	if err != nil {
		return 0, err
	}
	return s.AddSongs(ctx, songs)
}

// LoadCatalogFile reads a JSON array of songs.
func LoadCatalogFile(path string) ([]models.Song, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var songs []models.Song
	if err := json.Unmarshal(data, &songs); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	if err := ValidateSongs(songs); err != nil {
		return nil, err
	}
	return songs, nil
}

// ValidateSongs checks every song and rejects duplicate ids within the batch.
func ValidateSongs(songs []models.Song) error {
	seen := make(map[string]bool, len(songs))
	for i, song := range songs {
		if err := validate.Struct(song); err != nil {
			return fmt.Errorf("%w: song %d: %v", ErrInvalidSong, i, err)
		}
		if seen[song.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidSong, song.ID)
		}
		seen[song.ID] = true
	}
	return nil
}
