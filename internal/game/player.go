package game

import "starfall-online/internal/events"

// Client is the send capability of one player's connection. Send must
// not block; a failed send marks the player as unreachable.
type Client interface {
	Send(text string) error
}

// PlayerType is the color slot a player occupies, unique within a room.
type PlayerType string

const (
	PlayerBlue      PlayerType = "BLUE"
	PlayerRed       PlayerType = "RED"
	PlayerYellow    PlayerType = "YELLOW"
	PlayerGreen     PlayerType = "GREEN"
	PlayerGray      PlayerType = "GRAY"
	PlayerLightBlue PlayerType = "LIGHTBLUE"
	PlayerOrange    PlayerType = "ORANGE"
	PlayerPink      PlayerType = "PINK"
	PlayerPurple    PlayerType = "PURPLE"
	PlayerTurquoise PlayerType = "TURQUOISE"
)

// PlayerTypes lists every color slot. Its length matches
// MaxPlayersPerRoom, so a full room uses each slot exactly once.
var PlayerTypes = [...]PlayerType{
	PlayerBlue, PlayerRed, PlayerYellow, PlayerGreen, PlayerGray,
	PlayerLightBlue, PlayerOrange, PlayerPink, PlayerPurple, PlayerTurquoise,
}

// Player is one room member.
type Player struct {
	ID     string
	Name   string
	Type   PlayerType
	Spawn  events.Coordinates
	Client Client
}

// joined builds the announcement payload the rest of the room sees.
func (p *Player) joined() events.PlayerJoined {
	return events.PlayerJoined{
		PlayerID:   p.ID,
		PlayerType: string(p.Type),
		Spawn:      p.Spawn,
	}
}
