package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix = "room:"
	roomTTL       = 24 * time.Hour
)

// Directory defines the interface for the published room directory
type Directory interface {
	SaveRoom(ctx context.Context, room *RoomRecord) error
	GetRoom(ctx context.Context, code string) (*RoomRecord, error)
	DeleteRoom(ctx context.Context, code string) error
}

// RoomRecord is the serializable room summary for the directory
type RoomRecord struct {
	Code      string    `json:"code"`
	Players   int       `json:"players"`
	Started   bool      `json:"started"`
	CreatedAt time.Time `json:"createdAt"`
}

// RedisDirectory implements Directory using Redis
type RedisDirectory struct {
	client *redis.Client
}

// NewRedisDirectory creates a new Redis directory
func NewRedisDirectory(addr, password string, db int) (*RedisDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisDirectory{client: client}, nil
}

// Close closes the Redis connection
func (d *RedisDirectory) Close() error {
	return d.client.Close()
}

// SaveRoom writes a room record. Records carry a TTL so that entries
// left behind by a crashed server expire on their own.
func (d *RedisDirectory) SaveRoom(ctx context.Context, room *RoomRecord) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	key := roomKeyPrefix + room.Code
	if err := d.client.Set(ctx, key, data, roomTTL).Err(); err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}

	return nil
}

// GetRoom retrieves a room record; a missing record returns nil, nil
func (d *RedisDirectory) GetRoom(ctx context.Context, code string) (*RoomRecord, error) {
	key := roomKeyPrefix + code
	data, err := d.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	var room RoomRecord
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}

	return &room, nil
}

// DeleteRoom removes a room record
func (d *RedisDirectory) DeleteRoom(ctx context.Context, code string) error {
	key := roomKeyPrefix + code
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// MemoryDirectory implements Directory using an in-memory map (for testing/simple deployments)
type MemoryDirectory struct {
	mu    sync.RWMutex
	rooms map[string]*RoomRecord
}

// NewMemoryDirectory creates a new in-memory directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		rooms: make(map[string]*RoomRecord),
	}
}

func (d *MemoryDirectory) SaveRoom(ctx context.Context, room *RoomRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rooms[room.Code] = room
	return nil
}

func (d *MemoryDirectory) GetRoom(ctx context.Context, code string) (*RoomRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.rooms[code], nil
}

func (d *MemoryDirectory) DeleteRoom(ctx context.Context, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.rooms, code)
	return nil
}
