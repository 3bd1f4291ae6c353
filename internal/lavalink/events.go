package lavalink

import "log"

// DestroyReason says why a player was torn down.
type DestroyReason string

const (
	// DestroyRequested means Destroy was called through the API.
	DestroyRequested DestroyReason = "requested"
	// DestroyChannelDeleted means the voice channel was deleted upstream.
	DestroyChannelDeleted DestroyReason = "channel_deleted"
	// DestroyDisconnected means the client was removed from voice.
	DestroyDisconnected DestroyReason = "disconnected"
	// DestroyReconnectFailed means an auto-reconnect attempt failed.
	DestroyReconnectFailed DestroyReason = "reconnect_failed"
	// DestroyNodeClosed means the owning node connection went away.
	DestroyNodeClosed DestroyReason = "node_closed"
)

// Event is one of the closed set of lifecycle notifications emitted by the
// manager: PlayerMoveEvent, PlayerDisconnectEvent, PlayerDestroyEvent or
// NodeErrorEvent.
type Event interface {
	isEvent()
}

// PlayerMoveEvent is emitted when the client was moved to another voice channel.
type PlayerMoveEvent struct {
	Player       *Player
	OldChannelID string
	NewChannelID string
}

// PlayerDisconnectEvent is emitted when the client was removed from voice and
// the player is kept alive (onDisconnect.DestroyPlayer is off).
type PlayerDisconnectEvent struct {
	Player       *Player
	OldChannelID string
}

// PlayerDestroyEvent is emitted as part of player teardown.
type PlayerDestroyEvent struct {
	Player *Player
	Reason DestroyReason
}

// NodeErrorEvent is emitted when a node fails to connect or errors out.
type NodeErrorEvent struct {
	Node NodeClient
	Err  error
}

func (PlayerMoveEvent) isEvent()       {}
func (PlayerDisconnectEvent) isEvent() {}
func (PlayerDestroyEvent) isEvent()    {}
func (NodeErrorEvent) isEvent()        {}

// Events returns the manager's lifecycle event stream. Events are emitted in
// processing order, so per-guild ordering matches the gateway stream.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// emit safely publishes a lifecycle event without blocking the router.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		log.Printf("[Manager] Lifecycle event dropped (channel full) - %T", ev)
	}
}
