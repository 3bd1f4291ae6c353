package lavalink

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// PlayerCreateOptions seed a new player session.
type PlayerCreateOptions struct {
	GuildID        string
	VoiceChannelID string
	// Node pins the player to a specific node ID; empty picks one.
	Node     string
	SelfDeaf bool
	SelfMute bool
	Volume   *int
}

// Player is the per-guild playback session. It tracks the voice credential
// triple the gateway delivers in halves, plus connection and pause state.
// Sessions are created through Manager.CreatePlayer only and removed from
// the registry only as the terminal step of Destroy.
type Player struct {
	manager *Manager
	node    NodeClient
	queue   *Queue

	mu             sync.Mutex
	guildID        string
	voiceChannelID string
	voice          VoiceCredentials
	connected      bool
	paused         bool
	selfDeaf       bool
	selfMute       bool
	volume         int

	destroying               bool
	destroyWithoutDisconnect bool
}

func newPlayer(m *Manager, node NodeClient, opts PlayerCreateOptions) *Player {
	volume := 100
	if opts.Volume != nil {
		volume = *opts.Volume
	}
	return &Player{
		manager:        m,
		node:           node,
		queue:          newQueue(opts.GuildID, m.config.Queue),
		guildID:        opts.GuildID,
		voiceChannelID: opts.VoiceChannelID,
		selfDeaf:       opts.SelfDeaf,
		selfMute:       opts.SelfMute,
		volume:         volume,
	}
}

// GuildID returns the guild this session belongs to.
func (p *Player) GuildID() string { return p.guildID }

// Node returns the backend node serving this session.
func (p *Player) Node() NodeClient { return p.node }

// Queue returns the player's track queue.
func (p *Player) Queue() *Queue { return p.queue }

// VoiceChannelID returns the current voice channel, or "" when voiceless.
func (p *Player) VoiceChannelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voiceChannelID
}

// Voice returns the current voice credential triple.
func (p *Player) Voice() VoiceCredentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.voice
}

// Connected reports whether the session holds a live voice connection.
func (p *Player) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Paused reports whether playback is paused.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Connect asks the gateway to join the player's voice channel.
func (p *Player) Connect(ctx context.Context) error {
	p.mu.Lock()
	channelID := p.voiceChannelID
	selfMute, selfDeaf := p.selfMute, p.selfDeaf
	p.mu.Unlock()

	if channelID == "" {
		return ErrNoVoiceChannel
	}
	err := p.manager.config.SendToShard(ctx, VoiceStateRequest{
		GuildID:   p.guildID,
		ChannelID: &channelID,
		SelfMute:  selfMute,
		SelfDeaf:  selfDeaf,
	})
	if err != nil {
		return fmt.Errorf("failed to request voice join for guild %s: %w", p.guildID, err)
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// Disconnect asks the gateway to leave voice. The stored channel ID is kept
// so a later Connect can rejoin.
func (p *Player) Disconnect(ctx context.Context) error {
	err := p.manager.config.SendToShard(ctx, VoiceStateRequest{
		GuildID:   p.guildID,
		ChannelID: nil,
	})
	if err != nil {
		return fmt.Errorf("failed to request voice leave for guild %s: %w", p.guildID, err)
	}

	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

// Pause suspends playback on the node.
func (p *Player) Pause(ctx context.Context) error {
	paused := true
	if err := p.node.UpdatePlayer(ctx, p.guildID, PlayerUpdate{Paused: &paused}); err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	return nil
}

// Resume continues playback on the node.
func (p *Player) Resume(ctx context.Context) error {
	paused := false
	if err := p.node.UpdatePlayer(ctx, p.guildID, PlayerUpdate{Paused: &paused}); err != nil {
		return err
	}
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	return nil
}

// SetVolume applies the configured decrementer and pushes the result to the
// node, as a filter when ApplyVolumeAsFilter is on.
func (p *Player) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1000 {
		volume = 1000
	}

	effective := int(float64(volume) * p.manager.config.Player.VolumeDecrementer)
	var update PlayerUpdate
	if p.manager.config.Player.ApplyVolumeAsFilter {
		filterVolume := float64(effective) / 100
		update.Filters = &Filters{Volume: &filterVolume}
	} else {
		update.Volume = &effective
	}
	if err := p.node.UpdatePlayer(ctx, p.guildID, update); err != nil {
		return err
	}

	p.mu.Lock()
	p.volume = volume
	p.mu.Unlock()
	return nil
}

// Play starts the next queued track, consulting the autoplay hook when the
// queue is empty.
func (p *Player) Play(ctx context.Context) error {
	track, err := p.queue.Shift(ctx)
	if err != nil {
		return err
	}
	if track == nil {
		autoPlay := p.manager.config.Player.AutoPlay
		if autoPlay == nil {
			return ErrQueueEmpty
		}
		var last *Track
		if prev := p.queue.Previous(); len(prev) > 0 {
			last = &prev[len(prev)-1]
		}
		if err := autoPlay(ctx, p, last); err != nil {
			return fmt.Errorf("autoplay failed for guild %s: %w", p.guildID, err)
		}
		if track, err = p.queue.Shift(ctx); err != nil || track == nil {
			return ErrQueueEmpty
		}
	}
	return p.node.UpdatePlayer(ctx, p.guildID, PlayerUpdate{Encoded: &track.Encoded})
}

// MarkDestroyWithoutDisconnect flags the session so teardown skips the
// gateway leave, e.g. when the voice connection is already gone.
func (p *Player) MarkDestroyWithoutDisconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyWithoutDisconnect = true
}

func (p *Player) destroyWithoutDisconnectSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyWithoutDisconnect
}

func (p *Player) inDestroy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroying
}

// Destroy tears the session down: leave voice (unless flagged), remove the
// node-side player, drop the persisted queue, notify observers and, as the
// terminal step, remove the registry entry.
func (p *Player) Destroy(ctx context.Context, reason DestroyReason) error {
	p.mu.Lock()
	if p.destroying {
		p.mu.Unlock()
		if p.manager.config.Debug.PlayerDestroy.DontThrowError {
			log.Printf("[Player] Destroy called twice for guild %s", p.guildID)
			return nil
		}
		return ErrPlayerDestroyed
	}
	p.destroying = true
	skipDisconnect := p.destroyWithoutDisconnect
	connected := p.connected
	p.mu.Unlock()

	if p.manager.config.Debug.PlayerDestroy.Log {
		log.Printf("[Player] Destroying guild %s | reason=%s", p.guildID, reason)
	}

	if connected && !skipDisconnect {
		if err := p.Disconnect(ctx); err != nil {
			log.Printf("[ERR] Voice leave during destroy of guild %s: %v", p.guildID, err)
		}
	}
	if p.node != nil && p.node.SessionID() != "" {
		if err := p.node.DestroyPlayer(ctx, p.guildID); err != nil {
			log.Printf("[ERR] Node-side destroy of guild %s: %v", p.guildID, err)
		}
	}
	if err := p.manager.config.Queue.Store.Delete(ctx, p.guildID); err != nil {
		log.Printf("[ERR] Queue cleanup of guild %s: %v", p.guildID, err)
	}

	p.manager.emit(PlayerDestroyEvent{Player: p, Reason: reason})
	p.manager.removePlayer(p.guildID)
	return nil
}
