package types

import "github.com/DoyleJ11/raidhall/internal/engine"

const (
	MsgUpdate = "raid:update"
	MsgError  = "error"
)

// ClientMessage is what a websocket client may send: "action" from a raid
// member or "vote" from a viewer.
type ClientMessage struct {
	Type       string          `json:"type"`
	PlayerID   string          `json:"playerId,omitempty"`
	Action     *engine.Action  `json:"action,omitempty"`
	Actions    []engine.Action `json:"actions,omitempty"`
	Viewer     string          `json:"viewer,omitempty"`
	Option     string          `json:"option,omitempty"`
	Weight     int             `json:"weight,omitempty"`
	Subscriber bool            `json:"subscriber,omitempty"`
}

// ServerMessage carries either an engine event (Type is the event type) or a
// full raid:update snapshot.
type ServerMessage struct {
	Type       string        `json:"type"`
	InstanceID string        `json:"instanceId,omitempty"`
	Version    int           `json:"version,omitempty"`
	State      *engine.State `json:"state,omitempty"`
	Event      *engine.Event `json:"event,omitempty"`
	Kind       string        `json:"kind,omitempty"`
	Error      string        `json:"error,omitempty"`
}
