// Package events defines the text frame protocol spoken over the websocket:
// every application event travels as "Event <Kind>:<json payload>".
package events

import (
	"encoding/json"
	"strings"
)

// Kind identifies one application-level event.
type Kind string

const (
	KindCreateGame       Kind = "CreateGame"
	KindJoinGame         Kind = "JoinGame"
	KindStartGame        Kind = "StartGame"
	KindGameState        Kind = "GameState"
	KindPlayerState      Kind = "PlayerState"
	KindPlayerJoinedGame Kind = "PlayerJoinedGame"
	KindPlayerLeftGame   Kind = "PlayerLeftGame"
	KindRoomLeader       Kind = "RoomLeader"
	KindSetMap           Kind = "SetMap"
	KindPing             Kind = "Ping"
)

const framePrefix = "Event "

// Coordinates is a point on the game map.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// JoinGameRequest is the payload a client sends with KindJoinGame.
type JoinGameRequest struct {
	Code string `json:"code"`
}

// JoinGameAnswer is the reply to a create or join attempt. The pointer
// fields serialize as explicit nulls on rejection, which the browser
// client relies on.
type JoinGameAnswer struct {
	OK         bool         `json:"ok"`
	Reason     *string      `json:"reason"`
	Code       *string      `json:"code"`
	PlayerType *string      `json:"playerType"`
	Spawn      *Coordinates `json:"spawn"`
}

// PlayerJoined announces a room member to the rest of the room.
type PlayerJoined struct {
	PlayerID   string      `json:"playerId"`
	PlayerType string      `json:"playerType"`
	Spawn      Coordinates `json:"spawn"`
}

// PlayerLeft announces a departure.
type PlayerLeft struct {
	PlayerID string `json:"playerId"`
}

// RoomLeader carries the shared secret to a newly elected leader.
type RoomLeader struct {
	Secret string `json:"secret"`
}

// Build assembles a frame from a kind and an already-serialized payload.
func Build(kind Kind, payload []byte) string {
	return framePrefix + string(kind) + ":" + string(payload)
}

// Marshal assembles a frame, JSON-encoding the payload.
func Marshal(kind Kind, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return Build(kind, data), nil
}

// Parse splits an inbound frame into its kind and raw payload. ok is
// false when the frame is not an event frame at all. A frame without a
// colon yields an empty payload.
func Parse(frame string) (kind Kind, payload string, ok bool) {
	if !strings.HasPrefix(frame, framePrefix) {
		return "", "", false
	}
	rest := frame[len(framePrefix):]
	name, payload, _ := strings.Cut(rest, ":")
	return Kind(name), payload, true
}

// JoinAccepted builds the positive join reply.
func JoinAccepted(code, playerType string, spawn Coordinates) string {
	frame, _ := Marshal(KindJoinGame, JoinGameAnswer{
		OK:         true,
		Code:       &code,
		PlayerType: &playerType,
		Spawn:      &spawn,
	})
	return frame
}

// JoinRejected builds the negative join reply. Everything but the
// reason stays null.
func JoinRejected(reason string) string {
	frame, _ := Marshal(KindJoinGame, JoinGameAnswer{Reason: &reason})
	return frame
}
