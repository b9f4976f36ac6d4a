package game

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"starfall-online/internal/events"
)

// RoomStatus is a point-in-time summary of one room, handed to the
// directory callbacks.
type RoomStatus struct {
	Code      string
	Players   int
	Started   bool
	CreatedAt time.Time
}

// Registry is the sole owner of all room state. Every operation takes
// the registry lock, so at most one operation touches rooms at a time;
// sessions stay concurrent because Client.Send never blocks.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	logger *zap.Logger

	onRoomUpdate func(RoomStatus)
	onRoomClose  func(code string)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// SetOnRoomUpdate registers a callback fired whenever a room is created
// or its membership changes. It runs on its own goroutine.
func (g *Registry) SetOnRoomUpdate(callback func(RoomStatus)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRoomUpdate = callback
}

// SetOnRoomClose registers a callback fired after a room is destroyed.
// It runs on its own goroutine.
func (g *Registry) SetOnRoomClose(callback func(code string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onRoomClose = callback
}

// CreateGame opens a fresh room and admits the creator as its first
// member and leader.
func (g *Registry) CreateGame(client Client) (playerID, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	code = g.newRoomCodeLocked()
	room := newRoom(code, NewGameMap(g.logger))
	g.rooms[code] = room
	g.logger.Info("Room created", zap.String("room", code))

	playerID = g.admitLocked(room, client)
	g.notifyUpdateLocked(room)
	return playerID, code
}

// JoinGame admits a player into an existing room.
func (g *Registry) JoinGame(code string, client Client) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return "", ErrCodeInvalid
	}
	if room.started {
		return "", ErrGameRunning
	}
	if room.full() {
		return "", ErrGameFull
	}

	playerID := g.admitLocked(room, client)
	g.notifyUpdateLocked(room)
	return playerID, nil
}

// JoinOrCreate serves the legacy command protocol, where joining a room
// that does not exist yet creates it under the given name.
func (g *Registry) JoinOrCreate(name string, client Client) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[name]
	if !ok {
		room = newRoom(name, NewGameMap(g.logger))
		g.rooms[name] = room
		g.logger.Info("Room created", zap.String("room", name))
	}
	if room.started {
		return "", ErrGameRunning
	}
	if room.full() {
		return "", ErrGameFull
	}

	playerID := g.admitLocked(room, client)
	g.notifyUpdateLocked(room)
	return playerID, nil
}

// LeaveGame removes a player. The last player out closes the room; a
// departing leader hands leadership to an arbitrary remaining player.
func (g *Registry) LeaveGame(code, playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return
	}
	if _, ok := room.players[playerID]; !ok {
		return
	}

	delete(room.players, playerID)
	wasLeader := room.leader == playerID
	if wasLeader {
		room.leader = ""
		room.secret = ""
	}
	g.logger.Info("Player left room",
		zap.String("room", code),
		zap.String("player", playerID))

	if len(room.players) == 0 {
		g.closeRoomLocked(room)
		return
	}

	frame, _ := events.Marshal(events.KindPlayerLeftGame, events.PlayerLeft{PlayerID: playerID})
	g.broadcastLocked(room, playerID, frame)

	if _, open := g.rooms[code]; !open {
		// The broadcast evicted everyone who was left.
		return
	}
	if wasLeader && room.leader == "" {
		g.electAnyLeaderLocked(room)
	}
	g.notifyUpdateLocked(room)
}

// GameState fans the leader's world snapshot out to everyone else in
// the room. Calls that fail authentication are dropped without a reply.
func (g *Registry) GameState(code, senderID, secret, payload string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return
	}
	if !room.authenticate(senderID, secret) {
		g.logger.Debug("Rejected game state broadcast",
			zap.String("room", code),
			zap.String("player", senderID))
		return
	}
	g.broadcastLocked(room, senderID, events.Build(events.KindGameState, []byte(payload)))
}

// StartGame marks the room as running, which closes it to new joins,
// and tells everyone else. Leader-only, like GameState.
func (g *Registry) StartGame(code, senderID, secret string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return
	}
	if !room.authenticate(senderID, secret) {
		g.logger.Debug("Rejected start game",
			zap.String("room", code),
			zap.String("player", senderID))
		return
	}
	room.started = true
	g.logger.Info("Game started", zap.String("room", code))
	g.broadcastLocked(room, senderID, events.Build(events.KindStartGame, []byte("{}")))
	g.notifyUpdateLocked(room)
}

// GameMessage fans an arbitrary prebuilt frame out to the rest of the
// room. It carries chat lines as well as PlayerState traffic.
func (g *Registry) GameMessage(code, senderID, frame string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.rooms[code]
	if !ok {
		return
	}
	g.broadcastLocked(room, senderID, frame)
}

// ListGames returns the open room codes, sorted.
func (g *Registry) ListGames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	codes := make([]string, 0, len(g.rooms))
	for code := range g.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Stats reports room and player totals for the stats endpoint.
func (g *Registry) Stats() (rooms, players int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, room := range g.rooms {
		players += len(room.players)
	}
	return len(g.rooms), players
}

// admitLocked inserts a player and emits the join sequence: the current
// members to the newcomer, then the ack, the map, leadership if the
// room had none, and finally the newcomer to everyone else.
func (g *Registry) admitLocked(room *Room, client Client) string {
	player := &Player{
		ID:     room.newPlayerID(),
		Type:   room.newPlayerType(),
		Spawn:  room.nextSpawn(),
		Client: client,
	}

	for _, p := range room.players {
		frame, _ := events.Marshal(events.KindPlayerJoinedGame, p.joined())
		g.send(client, frame)
	}

	room.players[player.ID] = player

	g.send(client, events.JoinAccepted(room.Code, string(player.Type), player.Spawn))
	g.send(client, room.mapFrame)

	if room.leader == "" {
		g.electLeaderLocked(room, player.ID)
	}

	frame, _ := events.Marshal(events.KindPlayerJoinedGame, player.joined())
	g.broadcastLocked(room, player.ID, frame)

	g.logger.Info("Player joined room",
		zap.String("room", room.Code),
		zap.String("player", player.ID),
		zap.String("playerType", string(player.Type)))
	return player.ID
}

// electLeaderLocked hands leadership to the given player under a fresh
// secret. Any previously issued secret stops working here.
func (g *Registry) electLeaderLocked(room *Room, playerID string) {
	room.leader = playerID
	room.secret = generateSecret()
	frame, _ := events.Marshal(events.KindRoomLeader, events.RoomLeader{Secret: room.secret})
	g.send(room.players[playerID].Client, frame)
	g.logger.Info("Room leader elected",
		zap.String("room", room.Code),
		zap.String("player", playerID))
}

// electAnyLeaderLocked promotes an arbitrary remaining player.
func (g *Registry) electAnyLeaderLocked(room *Room) {
	for id := range room.players {
		g.electLeaderLocked(room, id)
		return
	}
}

// broadcastLocked fans a frame out to every room member except src.
// Members whose send fails are dropped from the room on the spot, and
// the room is repaired afterwards.
func (g *Registry) broadcastLocked(room *Room, src string, frame string) {
	var unreachable []string
	for id, p := range room.players {
		if id == src {
			continue
		}
		if err := p.Client.Send(frame); err != nil {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) == 0 {
		return
	}
	for _, id := range unreachable {
		delete(room.players, id)
		g.logger.Warn("Dropped unreachable player",
			zap.String("room", room.Code),
			zap.String("player", id))
	}
	g.repairLocked(room)
	if _, open := g.rooms[room.Code]; open {
		g.notifyUpdateLocked(room)
	}
}

// repairLocked restores room invariants after players were dropped
// without a regular leave: an empty room closes, a lost leader is
// replaced.
func (g *Registry) repairLocked(room *Room) {
	if len(room.players) == 0 {
		g.closeRoomLocked(room)
		return
	}
	if room.leader != "" {
		if _, ok := room.players[room.leader]; !ok {
			g.electAnyLeaderLocked(room)
		}
	}
}

func (g *Registry) closeRoomLocked(room *Room) {
	delete(g.rooms, room.Code)
	g.logger.Info("Room closed", zap.String("room", room.Code))
	g.notifyCloseLocked(room.Code)
}

func (g *Registry) newRoomCodeLocked() string {
	for {
		code := generateRoomCode()
		if _, taken := g.rooms[code]; !taken {
			return code
		}
	}
}

// send delivers a frame to a single player, logging delivery failures.
// Targeted sends do not evict; an unreachable player falls out on the
// next broadcast or on heartbeat timeout.
func (g *Registry) send(client Client, frame string) {
	if err := client.Send(frame); err != nil {
		g.logger.Debug("Dropped frame to unreachable player", zap.Error(err))
	}
}

func (g *Registry) notifyUpdateLocked(room *Room) {
	if g.onRoomUpdate == nil {
		return
	}
	status := RoomStatus{
		Code:      room.Code,
		Players:   len(room.players),
		Started:   room.started,
		CreatedAt: room.createdAt,
	}
	go g.onRoomUpdate(status)
}

func (g *Registry) notifyCloseLocked(code string) {
	if g.onRoomClose == nil {
		return
	}
	go g.onRoomClose(code)
}
