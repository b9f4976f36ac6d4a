package ws

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"starfall-online/internal/events"
	"starfall-online/internal/game"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Ping cadence; also how often the heartbeat deadline is checked.
	heartbeatInterval = 5 * time.Second

	// A peer that produced no pong for this long is considered gone.
	clientTimeout = 10 * time.Second

	// Maximum frame size accepted from the peer. Leaders relay whole
	// world snapshots, so this is roomy.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256

	// Join codes are validated before the registry sees them.
	joinCodeLength = 5
)

// Error types
type SessionError string

func (e SessionError) Error() string { return string(e) }

const (
	ErrSessionClosed  SessionError = "session closed"
	ErrSendBufferFull SessionError = "send buffer full"

	errMissingSecret  SessionError = "state event without a secret field"
	errStateNotObject SessionError = "state payload is not a JSON object"
)

// Session drives one websocket connection: it reads frames, dispatches
// them, and writes whatever the registry or its own handlers queue up.
// A session is room-less until a join succeeds, in a room until it
// leaves or fails, and closed exactly once.
type Session struct {
	ID       string
	conn     *websocket.Conn
	registry *game.Registry
	hub      *Hub
	logger   *zap.Logger
	send     chan string

	closeMu sync.Mutex
	closed  bool

	mu            sync.Mutex
	roomCode      string
	playerID      string
	name          string
	lastHeartbeat time.Time
}

// NewSession wraps an upgraded connection. Call Run to start serving it.
func NewSession(id string, conn *websocket.Conn, registry *game.Registry, hub *Hub, logger *zap.Logger) *Session {
	return &Session{
		ID:            id,
		conn:          conn,
		registry:      registry,
		hub:           hub,
		logger:        logger,
		send:          make(chan string, sendBufferSize),
		lastHeartbeat: time.Now(),
	}
}

// Run services the connection until it drops: writes and heartbeat on
// their own goroutine, reads and dispatch on the calling one.
func (s *Session) Run() {
	go s.writePump()
	s.readPump()
}

// Send queues a frame for delivery. It never blocks: a closed session
// or a full buffer reports an error instead, which the registry treats
// as the player being gone.
func (s *Session) Send(text string) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.send <- text:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close tears the session down once: the room membership goes first so
// the rest of the room hears about it, then the connection.
func (s *Session) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.send)
	s.closeMu.Unlock()

	s.leaveRoom()
	s.hub.Unregister(s)
	if s.conn != nil {
		s.conn.Close()
	}
	s.logger.Info("Session closed",
		zap.String("session", s.ID),
		zap.String("name", s.Name()))
}

func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.touchHeartbeat()
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Info("Read failed",
					zap.String("session", s.ID),
					zap.Error(err))
			}
			return
		}
		if err := s.dispatch(strings.TrimSpace(string(message))); err != nil {
			s.logger.Warn("Protocol fault, closing session",
				zap.String("session", s.ID),
				zap.Error(err))
			return
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		case <-ticker.C:
			if s.heartbeatExpired(time.Now()) {
				s.logger.Info("Heartbeat timed out",
					zap.String("session", s.ID))
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame. A returned error is a protocol
// fault and terminates the session.
func (s *Session) dispatch(frame string) error {
	if frame == "" {
		return nil
	}
	if strings.HasPrefix(frame, "/") {
		s.handleCommand(frame)
		return nil
	}
	if kind, payload, ok := events.Parse(frame); ok {
		return s.handleEvent(frame, kind, payload)
	}
	// Anything else is chat, fanned out to the sender's room.
	if code, playerID := s.Room(); playerID != "" {
		s.registry.GameMessage(code, playerID, frame)
	}
	return nil
}

func (s *Session) handleEvent(frame string, kind events.Kind, payload string) error {
	switch kind {
	case events.KindCreateGame:
		s.handleCreateGame()
	case events.KindJoinGame:
		s.handleJoinGame(payload)
	case events.KindStartGame:
		return s.handleStartGame(payload)
	case events.KindGameState:
		return s.handleGameState(payload)
	case events.KindPlayerState:
		return s.handlePlayerState(payload)
	case events.KindPing:
		s.reply(frame)
	default:
		s.reply("!!! unknown event: " + frame)
	}
	return nil
}

func (s *Session) handleCreateGame() {
	s.leaveRoom()
	playerID, code := s.registry.CreateGame(s)
	s.setRoom(code, playerID)
}

func (s *Session) handleJoinGame(payload string) {
	var req events.JoinGameRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		req.Code = ""
	}
	if len(req.Code) != joinCodeLength {
		s.reply(events.JoinRejected("Code should be 5 characters"))
		return
	}
	if !alphanumeric(req.Code) {
		s.reply(events.JoinRejected("Code should be alpha numeric"))
		return
	}

	s.leaveRoom()
	playerID, err := s.registry.JoinGame(req.Code, s)
	if err != nil {
		s.reply(events.JoinRejected(err.Error()))
		return
	}
	s.setRoom(req.Code, playerID)
}

func (s *Session) handleStartGame(payload string) error {
	secret, err := stateSecret(payload)
	if err != nil {
		return err
	}
	if code, playerID := s.Room(); playerID != "" {
		s.registry.StartGame(code, playerID, secret)
	}
	return nil
}

func (s *Session) handleGameState(payload string) error {
	secret, err := stateSecret(payload)
	if err != nil {
		return err
	}
	if code, playerID := s.Room(); playerID != "" {
		s.registry.GameState(code, playerID, secret, payload)
	}
	return nil
}

func (s *Session) handlePlayerState(payload string) error {
	fields, err := parseStatePayload(payload)
	if err != nil {
		return err
	}
	code, playerID := s.Room()
	if playerID == "" {
		return nil
	}

	// The server vouches for the sender's identity; whatever the client
	// put under playerId is overwritten.
	fields["playerId"] = playerID
	injected, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to rebuild player state: %w", err)
	}
	s.registry.GameMessage(code, playerID, events.Build(events.KindPlayerState, injected))
	return nil
}

func (s *Session) handleCommand(frame string) {
	command, arg, _ := strings.Cut(frame, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/list":
		for _, code := range s.registry.ListGames() {
			s.reply(code)
		}
	case "/join":
		if arg == "" {
			s.reply("!!! room name is required")
			return
		}
		s.leaveRoom()
		playerID, err := s.registry.JoinOrCreate(arg, s)
		if err != nil {
			s.reply(events.JoinRejected(err.Error()))
			return
		}
		s.setRoom(arg, playerID)
	case "/name":
		if arg == "" {
			s.reply("!!! name is required")
			return
		}
		s.setName(arg)
		s.reply("name changed to: " + arg)
	default:
		s.reply("!!! unknown command: " + frame)
	}
}

// reply queues a server-generated frame for this session alone.
func (s *Session) reply(frame string) {
	if err := s.Send(frame); err != nil {
		s.logger.Debug("Dropped reply",
			zap.String("session", s.ID),
			zap.Error(err))
	}
}

// Room returns the current membership, empty strings when room-less.
func (s *Session) Room() (code, playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode, s.playerID
}

func (s *Session) setRoom(code, playerID string) {
	s.mu.Lock()
	s.roomCode = code
	s.playerID = playerID
	s.mu.Unlock()
}

// leaveRoom tells the registry the player is gone and forgets the
// membership. No-op for a room-less session.
func (s *Session) leaveRoom() {
	code, playerID := s.Room()
	if playerID == "" {
		return
	}
	s.registry.LeaveGame(code, playerID)
	s.setRoom("", "")
}

// Name returns the display name set via the /name command.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

func (s *Session) touchHeartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

func (s *Session) heartbeatExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastHeartbeat) > clientTimeout
}

// stateSecret pulls the authentication secret out of a state payload.
func stateSecret(payload string) (string, error) {
	fields, err := parseStatePayload(payload)
	if err != nil {
		return "", err
	}
	secret, ok := fields["secret"].(string)
	if !ok {
		return "", errMissingSecret
	}
	return secret, nil
}

// parseStatePayload requires a JSON object, the only shape state events
// may carry.
func parseStatePayload(payload string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("malformed state payload: %w", err)
	}
	if fields == nil {
		return nil, errStateNotObject
	}
	return fields, nil
}

func alphanumeric(s string) bool {
	for _, c := range s {
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !ok {
			return false
		}
	}
	return true
}
