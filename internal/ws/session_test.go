package ws

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"starfall-online/internal/events"
	"starfall-online/internal/game"
)

// newTestSession builds a session without a live connection; dispatch
// and the send queue work without one.
func newTestSession(reg *game.Registry) *Session {
	hub := NewHub(zap.NewNop())
	s := NewSession(uuid.New().String(), nil, reg, hub, zap.NewNop())
	hub.Register(s)
	return s
}

// nextFrame pops the oldest queued outbound frame.
func nextFrame(t *testing.T, s *Session) string {
	t.Helper()
	select {
	case frame := <-s.send:
		return frame
	default:
		t.Fatal("no frame queued")
		return ""
	}
}

func drain(s *Session) {
	for {
		select {
		case <-s.send:
		default:
			return
		}
	}
}

// createRoom drives a session through CreateGame and returns the room
// code and the leader secret it was issued.
func createRoom(t *testing.T, s *Session) (code, secret string) {
	t.Helper()
	if err := s.dispatch("Event CreateGame:{}"); err != nil {
		t.Fatalf("CreateGame dispatch failed: %v", err)
	}
	code, playerID := s.Room()
	if code == "" || playerID == "" {
		t.Fatal("session did not enter a room")
	}
	for i := 0; i < 3; i++ {
		frame := nextFrame(t, s)
		kind, payload, _ := events.Parse(frame)
		if kind != events.KindRoomLeader {
			continue
		}
		var leader events.RoomLeader
		if err := json.Unmarshal([]byte(payload), &leader); err != nil {
			t.Fatalf("bad RoomLeader payload: %v", err)
		}
		secret = leader.Secret
	}
	if secret == "" {
		t.Fatal("no RoomLeader frame after create")
	}
	return code, secret
}

func joinRoom(t *testing.T, s *Session, code string) {
	t.Helper()
	if err := s.dispatch(fmt.Sprintf(`Event JoinGame:{"code":%q}`, code)); err != nil {
		t.Fatalf("JoinGame dispatch failed: %v", err)
	}
	if _, playerID := s.Room(); playerID == "" {
		t.Fatal("join was rejected")
	}
	drain(s)
}

func TestDispatchEchoesPing(t *testing.T) {
	s := newTestSession(game.NewRegistry(zap.NewNop()))

	if err := s.dispatch(`Event Ping:{"timestamp":12345}`); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got := nextFrame(t, s); got != `Event Ping:{"timestamp":12345}` {
		t.Errorf("echo = %q", got)
	}
}

func TestDispatchUnknownEvent(t *testing.T) {
	s := newTestSession(game.NewRegistry(zap.NewNop()))

	if err := s.dispatch(`Event Fly:{"wings":2}`); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got := nextFrame(t, s); got != `!!! unknown event: Event Fly:{"wings":2}` {
		t.Errorf("reply = %q", got)
	}
}

func TestJoinGameValidation(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantReason string
	}{
		{name: "too short", payload: `{"code":"ABC"}`, wantReason: "Code should be 5 characters"},
		{name: "too long", payload: `{"code":"ABCDEF"}`, wantReason: "Code should be 5 characters"},
		{name: "empty", payload: `{}`, wantReason: "Code should be 5 characters"},
		{name: "garbage payload", payload: `no json here`, wantReason: "Code should be 5 characters"},
		{name: "not alphanumeric", payload: `{"code":"AB!DE"}`, wantReason: "Code should be alpha numeric"},
		{name: "unknown room", payload: `{"code":"ZZZZZ"}`, wantReason: "code invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(game.NewRegistry(zap.NewNop()))
			if err := s.dispatch("Event JoinGame:" + tt.payload); err != nil {
				t.Fatalf("dispatch failed: %v", err)
			}

			kind, payload, ok := events.Parse(nextFrame(t, s))
			if !ok || kind != events.KindJoinGame {
				t.Fatalf("reply kind = %q, want JoinGame", kind)
			}
			var answer events.JoinGameAnswer
			if err := json.Unmarshal([]byte(payload), &answer); err != nil {
				t.Fatalf("bad reply payload: %v", err)
			}
			if answer.OK {
				t.Error("expected a rejection")
			}
			if answer.Reason == nil || *answer.Reason != tt.wantReason {
				t.Errorf("reason = %v, want %q", answer.Reason, tt.wantReason)
			}
			if code, playerID := s.Room(); code != "" || playerID != "" {
				t.Error("rejected session must stay room-less")
			}
		})
	}
}

func TestCreateGameEntersRoom(t *testing.T) {
	reg := game.NewRegistry(zap.NewNop())
	s := newTestSession(reg)

	if err := s.dispatch("Event CreateGame:{}"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	code, playerID := s.Room()
	if len(code) != 5 || playerID == "" {
		t.Fatalf("Room() = (%q, %q), want a code and player id", code, playerID)
	}

	wantKinds := []events.Kind{events.KindJoinGame, events.KindSetMap, events.KindRoomLeader}
	for _, want := range wantKinds {
		kind, _, _ := events.Parse(nextFrame(t, s))
		if kind != want {
			t.Errorf("frame kind = %q, want %q", kind, want)
		}
	}
}

func TestRejoinLeavesPreviousRoom(t *testing.T) {
	reg := game.NewRegistry(zap.NewNop())
	s := newTestSession(reg)

	first, _ := createRoom(t, s)
	if err := s.dispatch("Event CreateGame:{}"); err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	second, _ := s.Room()
	if second == first {
		t.Fatal("expected a fresh room on rejoin")
	}

	codes := reg.ListGames()
	if len(codes) != 1 || codes[0] != second {
		t.Errorf("ListGames = %v, want only %q; the abandoned room must close", codes, second)
	}
}

func TestPlayerStateInjectionOverridesClient(t *testing.T) {
	reg := game.NewRegistry(zap.NewNop())
	leader := newTestSession(reg)
	code, _ := createRoom(t, leader)
	member := newTestSession(reg)
	joinRoom(t, member, code)
	drain(leader)

	_, memberID := member.Room()
	err := member.dispatch(`Event PlayerState:{"position":{"x":1,"y":2},"playerId":"spoofed"}`)
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	kind, payload, ok := events.Parse(nextFrame(t, leader))
	if !ok || kind != events.KindPlayerState {
		t.Fatalf("frame kind = %q, want PlayerState", kind)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if fields["playerId"] != memberID {
		t.Errorf("playerId = %v, want the real sender %q", fields["playerId"], memberID)
	}
	position, _ := fields["position"].(map[string]any)
	if position["x"] != 1.0 || position["y"] != 2.0 {
		t.Errorf("position = %v, want the client values preserved", fields["position"])
	}
	if len(member.send) != 0 {
		t.Error("sender received its own player state")
	}
}

func TestGameStateTravelsVerbatim(t *testing.T) {
	reg := game.NewRegistry(zap.NewNop())
	leader := newTestSession(reg)
	code, secret := createRoom(t, leader)
	member := newTestSession(reg)
	joinRoom(t, member, code)
	drain(leader)

	payload := `{"secret":"` + secret + `","stars":[{"position":{"x":9,"y":9}}]}`
	if err := leader.dispatch("Event GameState:" + payload); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if got := nextFrame(t, member); got != "Event GameState:"+payload {
		t.Errorf("member got %q, want the payload verbatim", got)
	}
	if len(leader.send) != 0 {
		t.Error("sender received its own game state")
	}
}

func TestStartGameClosesRoom(t *testing.T) {
	reg := game.NewRegistry(zap.NewNop())
	leader := newTestSession(reg)
	code, secret := createRoom(t, leader)
	member := newTestSession(reg)
	joinRoom(t, member, code)
	drain(leader)

	if err := leader.dispatch(fmt.Sprintf(`Event StartGame:{"secret":%q}`, secret)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got := nextFrame(t, member); got != "Event StartGame:{}" {
		t.Errorf("member got %q, want Event StartGame:{}", got)
	}

	late := newTestSession(reg)
	if err := late.dispatch(fmt.Sprintf(`Event JoinGame:{"code":%q}`, code)); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	_, payload, _ := events.Parse(nextFrame(t, late))
	var answer events.JoinGameAnswer
	if err := json.Unmarshal([]byte(payload), &answer); err != nil {
		t.Fatalf("bad reply payload: %v", err)
	}
	if answer.OK || answer.Reason == nil || *answer.Reason != "game is running" {
		t.Errorf("late join answer = %s, want game is running", payload)
	}
}

func TestMalformedStateTerminatesSession(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "game state not json", frame: "Event GameState:not json"},
		{name: "game state array", frame: "Event GameState:[1,2]"},
		{name: "game state null", frame: "Event GameState:null"},
		{name: "game state without secret", frame: `Event GameState:{"stars":[]}`},
		{name: "player state not json", frame: "Event PlayerState:{{"},
		{name: "start game without secret", frame: "Event StartGame:{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(game.NewRegistry(zap.NewNop()))
			if err := s.dispatch(tt.frame); err == nil {
				t.Fatalf("dispatch(%q) = nil, want a protocol fault", tt.frame)
			}
		})
	}
}

func TestChatFanOut(t *testing.T) {
	reg := game.NewRegistry(zap.NewNop())
	leader := newTestSession(reg)
	code, _ := createRoom(t, leader)
	member := newTestSession(reg)
	joinRoom(t, member, code)
	drain(leader)

	if err := member.dispatch("hello everyone"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if got := nextFrame(t, leader); got != "hello everyone" {
		t.Errorf("leader got %q, want the chat line", got)
	}
	if len(member.send) != 0 {
		t.Error("sender received its own chat line")
	}

	// Chat from a room-less session goes nowhere.
	idle := newTestSession(reg)
	if err := idle.dispatch("anyone?"); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(idle.send) != 0 {
		t.Errorf("idle session got %d frames", len(idle.send))
	}
}

func TestLegacyCommands(t *testing.T) {
	t.Run("name", func(t *testing.T) {
		s := newTestSession(game.NewRegistry(zap.NewNop()))
		if err := s.dispatch("/name Jimmy"); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if got := nextFrame(t, s); got != "name changed to: Jimmy" {
			t.Errorf("reply = %q", got)
		}
		if s.Name() != "Jimmy" {
			t.Errorf("Name() = %q, want Jimmy", s.Name())
		}
	})

	t.Run("name requires an argument", func(t *testing.T) {
		s := newTestSession(game.NewRegistry(zap.NewNop()))
		s.dispatch("/name")
		if got := nextFrame(t, s); got != "!!! name is required" {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("join creates the named room", func(t *testing.T) {
		reg := game.NewRegistry(zap.NewNop())
		s := newTestSession(reg)
		if err := s.dispatch("/join MainGame"); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if code, playerID := s.Room(); code != "MainGame" || playerID == "" {
			t.Errorf("Room() = (%q, %q), want MainGame membership", code, playerID)
		}
		if codes := reg.ListGames(); len(codes) != 1 || codes[0] != "MainGame" {
			t.Errorf("ListGames = %v, want [MainGame]", codes)
		}
	})

	t.Run("join requires an argument", func(t *testing.T) {
		s := newTestSession(game.NewRegistry(zap.NewNop()))
		s.dispatch("/join")
		if got := nextFrame(t, s); got != "!!! room name is required" {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("list prints one room per frame", func(t *testing.T) {
		reg := game.NewRegistry(zap.NewNop())
		occupant := newTestSession(reg)
		occupant.dispatch("/join Alpha")
		occupant2 := newTestSession(reg)
		occupant2.dispatch("/join Beta")

		s := newTestSession(reg)
		if err := s.dispatch("/list"); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
		if got := nextFrame(t, s); got != "Alpha" {
			t.Errorf("first room = %q, want Alpha", got)
		}
		if got := nextFrame(t, s); got != "Beta" {
			t.Errorf("second room = %q, want Beta", got)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		s := newTestSession(game.NewRegistry(zap.NewNop()))
		s.dispatch("/fly now")
		if got := nextFrame(t, s); got != "!!! unknown command: /fly now" {
			t.Errorf("reply = %q", got)
		}
	})
}

func TestHeartbeatExpiry(t *testing.T) {
	s := newTestSession(game.NewRegistry(zap.NewNop()))
	now := time.Now()

	if s.heartbeatExpired(now) {
		t.Error("fresh session must not be expired")
	}
	if s.heartbeatExpired(now.Add(clientTimeout)) {
		t.Error("session at exactly the timeout must not be expired")
	}
	if !s.heartbeatExpired(now.Add(clientTimeout + time.Second)) {
		t.Error("session past the timeout must be expired")
	}

	s.touchHeartbeat()
	if s.heartbeatExpired(time.Now().Add(clientTimeout)) {
		t.Error("pong must reset the heartbeat window")
	}
}

func TestCloseLeavesRoomAndRefusesSends(t *testing.T) {
	reg := game.NewRegistry(zap.NewNop())
	hub := NewHub(zap.NewNop())
	s := NewSession(uuid.New().String(), nil, reg, hub, zap.NewNop())
	hub.Register(s)
	if err := s.dispatch("/join MainGame"); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	s.Close()
	s.Close() // idempotent

	if err := s.Send("late frame"); err != ErrSessionClosed {
		t.Errorf("Send after close = %v, want %v", err, ErrSessionClosed)
	}
	if codes := reg.ListGames(); len(codes) != 0 {
		t.Errorf("ListGames = %v, want the room closed on disconnect", codes)
	}
	if hub.Count() != 0 {
		t.Errorf("hub count = %d, want 0", hub.Count())
	}
}

func TestSendBufferOverflow(t *testing.T) {
	s := newTestSession(game.NewRegistry(zap.NewNop()))

	for i := 0; i < sendBufferSize; i++ {
		if err := s.Send("frame"); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if err := s.Send("one too many"); err != ErrSendBufferFull {
		t.Errorf("overflow send = %v, want %v", err, ErrSendBufferFull)
	}
}
