package game

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand"
	"strconv"
	"time"

	"starfall-online/internal/events"
)

const (
	roomCodeLength = 5
	secretLength   = 10
)

// Room is one game world and the players inside it. All fields are
// guarded by the owning Registry; rooms carry no lock of their own.
type Room struct {
	Code      string
	players   map[string]*Player
	leader    string
	secret    string
	gameMap   *GameMap
	mapFrame  string
	started   bool
	createdAt time.Time
}

func newRoom(code string, gameMap *GameMap) *Room {
	mapFrame, _ := events.Marshal(events.KindSetMap, gameMap)
	return &Room{
		Code:      code,
		players:   make(map[string]*Player),
		gameMap:   gameMap,
		mapFrame:  mapFrame,
		createdAt: time.Now(),
	}
}

// newPlayerID draws ids until one is free in this room.
func (r *Room) newPlayerID() string {
	for {
		id := generatePlayerID()
		if _, taken := r.players[id]; !taken {
			return id
		}
	}
}

// newPlayerType draws color slots until one is free in this room. The
// caller checks the player cap first, so a free slot always exists.
func (r *Room) newPlayerType() PlayerType {
	for {
		playerType := PlayerTypes[mrand.Intn(len(PlayerTypes))]
		if !r.typeTaken(playerType) {
			return playerType
		}
	}
}

func (r *Room) typeTaken(playerType PlayerType) bool {
	for _, p := range r.players {
		if p.Type == playerType {
			return true
		}
	}
	return false
}

// nextSpawn hands out the map's spawn points in join order.
func (r *Room) nextSpawn() events.Coordinates {
	if i := len(r.players); i < len(r.gameMap.Spawns) {
		return r.gameMap.Spawns[i]
	}
	return fallbackSpawn
}

func (r *Room) full() bool {
	return len(r.players) >= r.gameMap.PlayerCap
}

// authenticate accepts only the current leader presenting the current
// secret.
func (r *Room) authenticate(playerID, secret string) bool {
	return r.leader != "" && playerID == r.leader && secret == r.secret
}

// Error types
type RoomError string

func (e RoomError) Error() string { return string(e) }

// The error text doubles as the reason string in a join rejection.
const (
	ErrCodeInvalid RoomError = "code invalid"
	ErrGameRunning RoomError = "game is running"
	ErrGameFull    RoomError = "game is full"
)

// Helper functions

// generatePlayerID returns the decimal form of a random 64-bit integer.
func generatePlayerID() string {
	var b [8]byte
	rand.Read(b[:])
	return strconv.FormatUint(binary.BigEndian.Uint64(b[:]), 10)
}

func generateRoomCode() string {
	const charset = "ABCDEFGHKLMNOPQRSTUVWXYZ" // A to Z without I and J
	code := make([]byte, roomCodeLength)
	rand.Read(code)
	for i := range code {
		code[i] = charset[int(code[i])%len(charset)]
	}
	return string(code)
}

func generateSecret() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	secret := make([]byte, secretLength)
	rand.Read(secret)
	for i := range secret {
		secret[i] = charset[int(secret[i])%len(charset)]
	}
	return string(secret)
}
