package game

import (
	"math/rand"

	"go.uber.org/zap"

	"starfall-online/internal/events"
)

// Map generation constants, in world units.
const (
	MapTileSize      = 256
	MapNumberOfTiles = 100
	MapSize          = MapTileSize * MapNumberOfTiles

	PlanetRadius           = 125
	DistanceBetweenPlanets = 1000
	targetPlanetCount      = 25

	outerBounds    = 10 * MapTileSize
	innerAreaLower = 35 * MapTileSize
	innerAreaUpper = 65 * MapTileSize

	// MaxPlayersPerRoom caps room membership and sizes the spawn list.
	MaxPlayersPerRoom = 10

	placementTries = 20
)

const minPlanetDistanceSquared int64 = DistanceBetweenPlanets * DistanceBetweenPlanets

// fallbackSpawn is handed out if a room's spawn list ever runs dry.
var fallbackSpawn = events.Coordinates{X: 5 * MapTileSize, Y: 5 * MapTileSize}

// PlanetType selects the texture a planet renders with.
type PlanetType string

const (
	PlanetEarth  PlanetType = "EARTH"
	PlanetRed    PlanetType = "RED"
	PlanetYellow PlanetType = "YELLOW"
	PlanetGas    PlanetType = "GAS"
	PlanetWhite  PlanetType = "WHITE"
)

// planetTypes are the types regular planets draw from. EARTH is reserved
// for the enemy home world.
var planetTypes = [...]PlanetType{PlanetRed, PlanetYellow, PlanetGas, PlanetWhite}

// Planet is one celestial body on the map.
type Planet struct {
	Position events.Coordinates `json:"position"`
	Radius   int                `json:"radius"`
	Type     PlanetType         `json:"planetType"`
}

// GameMap is the immutable world a room plays on. It is serialized
// wholesale into the SetMap frame every joiner receives.
type GameMap struct {
	Size        events.Coordinates   `json:"size"`
	Planets     []Planet             `json:"planets"`
	PlayerCap   int                  `json:"playerCap"`
	Spawns      []events.Coordinates `json:"spawns"`
	EnemyPlanet Planet               `json:"enemyPlanet"`
}

// NewGameMap generates a random map: an enemy home world deep in the
// inner area, up to 25 regular planets spread across the playable area,
// and one spawn point per player slot.
func NewGameMap(logger *zap.Logger) *GameMap {
	enemy := Planet{
		Position: randomPoint(innerAreaLower, innerAreaUpper),
		Radius:   PlanetRadius,
		Type:     PlanetEarth,
	}

	planets := make([]Planet, 0, targetPlanetCount)
	for i := 0; i < targetPlanetCount; i++ {
		pos, ok := placePlanet(planets, enemy, logger)
		if !ok {
			continue
		}
		planets = append(planets, Planet{
			Position: pos,
			Radius:   PlanetRadius,
			Type:     planetTypes[rand.Intn(len(planetTypes))],
		})
	}

	m := &GameMap{
		Size:        events.Coordinates{X: MapSize, Y: MapSize},
		Planets:     planets,
		PlayerCap:   MaxPlayersPerRoom,
		EnemyPlanet: enemy,
	}
	m.Spawns = placeSpawns(m, logger)
	return m
}

// placePlanet rejection-samples a position clear of everything placed so
// far. A crowded field must not stall map generation, so it gives up on
// the planet after placementTries rejections.
func placePlanet(placed []Planet, enemy Planet, logger *zap.Logger) (events.Coordinates, bool) {
	pos := randomPoint(outerBounds, MapSize-outerBounds)
	tries := 0
	for !planetFits(placed, enemy, pos) {
		if tries > placementTries {
			logger.Warn("Gave up placing a planet", zap.Int("tries", tries))
			return events.Coordinates{}, false
		}
		pos = randomPoint(outerBounds, MapSize-outerBounds)
		tries++
	}
	return pos, true
}

func planetFits(placed []Planet, enemy Planet, pos events.Coordinates) bool {
	if distanceSquared(pos, enemy.Position) < minPlanetDistanceSquared {
		return false
	}
	for _, p := range placed {
		if distanceSquared(pos, p.Position) < minPlanetDistanceSquared {
			return false
		}
	}
	return true
}

// placeSpawns spreads one spawn point per player slot, keeping clear of
// planets and of each other. After placementTries rejections a candidate
// is accepted as is, so the list always reaches the player cap.
func placeSpawns(m *GameMap, logger *zap.Logger) []events.Coordinates {
	spawns := make([]events.Coordinates, 0, m.PlayerCap)
	for len(spawns) < m.PlayerCap {
		pos := randomPoint(outerBounds, MapSize-outerBounds)
		tries := 0
		for !spawnFits(m, spawns, pos) {
			if tries > placementTries {
				logger.Warn("Gave up separating a spawn point", zap.Int("tries", tries))
				break
			}
			pos = randomPoint(outerBounds, MapSize-outerBounds)
			tries++
		}
		spawns = append(spawns, pos)
	}
	return spawns
}

func spawnFits(m *GameMap, spawns []events.Coordinates, pos events.Coordinates) bool {
	if distanceSquared(pos, m.EnemyPlanet.Position) < minPlanetDistanceSquared {
		return false
	}
	for _, p := range m.Planets {
		if distanceSquared(pos, p.Position) < minPlanetDistanceSquared {
			return false
		}
	}
	for _, s := range spawns {
		if distanceSquared(pos, s) < minPlanetDistanceSquared {
			return false
		}
	}
	return true
}

// distanceSquared compares in integer space. Coordinates stay below
// 25600, so the squared sum fits comfortably in an int64.
func distanceSquared(a, b events.Coordinates) int64 {
	dx := int64(a.X - b.X)
	dy := int64(a.Y - b.Y)
	return dx*dx + dy*dy
}

func randomPoint(lower, upper int) events.Coordinates {
	return events.Coordinates{
		X: rand.Intn(upper-lower) + lower,
		Y: rand.Intn(upper-lower) + lower,
	}
}
