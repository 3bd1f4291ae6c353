package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"lavabridge/internal/version"
)

// Manager is the control plane: it owns the player registry and the node
// pool, and reconciles gateway voice events into node commands. Registry
// state lives on the instance, so independent managers never interfere.
type Manager struct {
	config Config
	nodes  *NodeManager
	events chan Event

	mu        sync.RWMutex
	players   map[string]*Player
	initiated bool
}

// New resolves and validates options and builds an uninitiated manager.
// Node connections are not attempted until Init.
func New(opts Options) (*Manager, error) {
	cfg := applyOptions(opts)
	if err := validateOptions(&cfg); err != nil {
		return nil, err
	}

	m := &Manager{
		config:  cfg,
		players: make(map[string]*Player),
		events:  make(chan Event, 32),
	}
	m.nodes = NewNodeManager(func(c NodeClient, err error) {
		m.emit(NodeErrorEvent{Node: c, Err: err})
	})
	clientName := version.AppName + "/" + version.Version
	for _, n := range cfg.Nodes {
		m.nodes.Add(NewNode(n, m.clientID, clientName))
	}
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.config }

// NodeManager returns the backend node pool.
func (m *Manager) NodeManager() *NodeManager { return m.nodes }

// Initiated reports whether Init succeeded for at least one node.
func (m *Manager) Initiated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initiated
}

// Useable reports whether at least one node is currently connected.
func (m *Manager) Useable() bool {
	return m.nodes.Least() != nil
}

func (m *Manager) clientID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Client.ID
}

// Init merges the client identity (call-time values win) and connects every
// configured node, best effort. The manager is initiated when at least one
// node came up; total failure leaves it uninitiated without returning an
// error, so the caller must check Initiated.
func (m *Manager) Init(ctx context.Context, client ClientOptions) error {
	m.mu.Lock()
	if m.initiated {
		m.mu.Unlock()
		return nil
	}
	if client.ID != "" {
		m.config.Client.ID = client.ID
	}
	if client.Username != "" {
		m.config.Client.Username = client.Username
	}
	if m.config.Client.ID == "" {
		m.mu.Unlock()
		return ErrMissingClientID
	}
	m.mu.Unlock()

	success := m.nodes.ConnectAll(ctx)
	if success > 0 {
		m.mu.Lock()
		m.initiated = true
		m.mu.Unlock()
	} else {
		log.Printf("[ERR] Could not connect to at least 1 node")
	}
	return nil
}

// Close tears down all node connections.
func (m *Manager) Close() {
	m.nodes.CloseAll()
}

// CreatePlayer returns the existing session for the guild or creates a new
// one. Idempotent: a second call with the same guild ID returns the same
// session untouched.
func (m *Manager) CreatePlayer(ctx context.Context, opts PlayerCreateOptions) (*Player, error) {
	m.mu.Lock()
	if p, ok := m.players[opts.GuildID]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	node, err := m.pickNode(opts.Node)
	if err != nil {
		return nil, err
	}

	p := newPlayer(m, node, opts)
	if err := p.queue.load(ctx); err != nil {
		log.Printf("[ERR] Failed to restore queue for guild %s: %v", opts.GuildID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.players[opts.GuildID]; ok {
		return existing, nil
	}
	m.players[opts.GuildID] = p
	return p, nil
}

func (m *Manager) pickNode(id string) (NodeClient, error) {
	if id != "" {
		node, ok := m.nodes.Node(id)
		if !ok {
			return nil, fmt.Errorf("%w: unknown node %q", ErrInvalidNode, id)
		}
		return node, nil
	}
	if node := m.nodes.Least(); node != nil {
		return node, nil
	}
	all := m.nodes.Nodes()
	if len(all) == 0 {
		return nil, ErrNoNodes
	}
	return all[0], nil
}

// Player looks up the session for a guild.
func (m *Manager) Player(guildID string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[guildID]
	return p, ok
}

// Players returns all registered sessions.
func (m *Manager) Players() []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	return out
}

// DestroyPlayer runs the session's own teardown. No-op when the guild has
// no session.
func (m *Manager) DestroyPlayer(ctx context.Context, guildID string, reason DestroyReason) error {
	p, ok := m.Player(guildID)
	if !ok {
		return nil
	}
	return p.Destroy(ctx, reason)
}

// DeletePlayer removes the registry entry directly, bypassing teardown.
// Deleting a session that is still connected leaks the node-side voice
// connection, so by default this fails with ErrPlayerStillConnected; the
// playerDestroy debug option downgrades that to a logged warning.
func (m *Manager) DeletePlayer(guildID string) error {
	p, ok := m.Player(guildID)
	if !ok {
		return nil
	}
	if p.Connected() && !p.destroyWithoutDisconnectSet() {
		if !m.config.Debug.PlayerDestroy.DontThrowError {
			return fmt.Errorf("guild %s: %w", guildID, ErrPlayerStillConnected)
		}
		log.Printf("[ERR] Deleting still-connected player for guild %s; use Destroy instead", guildID)
	}
	m.removePlayer(guildID)
	return nil
}

// removePlayer drops the registry entry. Terminal step of Destroy.
func (m *Manager) removePlayer(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, guildID)
}

// rawEnvelope is the gateway dispatch envelope. Some sources hand the inner
// payload directly, so every payload read falls back to the envelope itself.
type rawEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

// channelDelete is the CHANNEL_DELETE payload subset the router needs.
type channelDelete struct {
	GuildID string `json:"guild_id"`
	ID      string `json:"id"`
}

// voiceUpdate merges the VOICE_SERVER_UPDATE and VOICE_STATE_UPDATE payload
// shapes. Pointer fields distinguish absent from empty.
type voiceUpdate struct {
	GuildID   string  `json:"guild_id"`
	Token     *string `json:"token"`
	Endpoint  string  `json:"endpoint"`
	SessionID *string `json:"session_id"`
	ChannelID *string `json:"channel_id"`
	UserID    string  `json:"user_id"`
}

// HandleRaw feeds one raw gateway dispatch through the voice reconciliation
// state machine. Unrecognized or irrelevant events are absorbed silently;
// only node-readiness failures surface as errors.
func (m *Manager) HandleRaw(ctx context.Context, payload []byte) error {
	var envelope rawEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		m.debugAudio("HandleRaw: undecodable payload: %v", err)
		return nil
	}
	data := envelope.D
	if data == nil {
		data = payload
	}
	return m.HandleRawEvent(ctx, envelope.T, data)
}

// HandleRawEvent is HandleRaw for callers that already split the dispatch
// into event type and payload, like a discordgo raw event handler.
func (m *Manager) HandleRawEvent(ctx context.Context, eventType string, data json.RawMessage) error {
	if !m.Initiated() {
		m.debugAudio("HandleRawEvent: manager is not initiated yet")
		return nil
	}

	switch eventType {
	case "CHANNEL_DELETE":
		return m.handleChannelDelete(ctx, data)
	case "VOICE_SERVER_UPDATE", "VOICE_STATE_UPDATE":
		return m.handleVoiceUpdate(ctx, data)
	default:
		// Not a voice-relevant dispatch.
		return nil
	}
}

func (m *Manager) handleChannelDelete(ctx context.Context, data json.RawMessage) error {
	var del channelDelete
	if err := json.Unmarshal(data, &del); err != nil || del.GuildID == "" || del.ID == "" {
		return nil
	}

	p, ok := m.Player(del.GuildID)
	if !ok || p.VoiceChannelID() != del.ID {
		return nil
	}
	return p.Destroy(ctx, DestroyChannelDeleted)
}

func (m *Manager) handleVoiceUpdate(ctx context.Context, data json.RawMessage) error {
	var update voiceUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		m.debugAudio("voice update: undecodable payload: %v", err)
		return nil
	}
	if update.Token == nil && update.SessionID == nil {
		m.debugAudio("voice update: neither token nor session_id present")
		return nil
	}

	p, ok := m.Player(update.GuildID)
	if !ok {
		m.debugAudio("voice update: no player for guild %s", update.GuildID)
		return nil
	}
	if p.inDestroy() {
		m.debugAudio("voice update: player for guild %s is being destroyed, ignoring", update.GuildID)
		return nil
	}

	// Server half: push the credential triple to the node.
	if update.Token != nil {
		if p.node.SessionID() == "" {
			return fmt.Errorf("guild %s: %w", update.GuildID, ErrNodeNotReady)
		}
		creds := VoiceCredentials{
			Token:     *update.Token,
			Endpoint:  update.Endpoint,
			SessionID: p.Voice().SessionID,
		}
		err := p.node.UpdatePlayer(ctx, p.guildID, PlayerUpdate{Voice: &creds})
		if err != nil {
			return fmt.Errorf("failed to push voice credentials for guild %s: %w", update.GuildID, err)
		}
		p.mu.Lock()
		p.voice.Token = creds.Token
		p.voice.Endpoint = creds.Endpoint
		p.mu.Unlock()
		m.debugAudio("voice update: pushed credentials for guild %s", update.GuildID)
		return nil
	}

	// State half: only updates about the local client matter.
	if update.UserID != m.clientID() {
		m.debugAudio("voice update: user %s is not the client, ignoring", update.UserID)
		return nil
	}

	if update.ChannelID != nil {
		p.mu.Lock()
		oldChannel := p.voiceChannelID
		if oldChannel != *update.ChannelID {
			p.mu.Unlock()
			m.emit(PlayerMoveEvent{Player: p, OldChannelID: oldChannel, NewChannelID: *update.ChannelID})
			p.mu.Lock()
		}
		if update.SessionID != nil {
			p.voice.SessionID = *update.SessionID
		}
		p.voiceChannelID = *update.ChannelID
		p.connected = true
		p.mu.Unlock()
		return nil
	}

	// The client was removed from voice.
	if m.config.Player.DestroyOnDisconnect {
		return p.Destroy(ctx, DestroyDisconnected)
	}

	m.emit(PlayerDisconnectEvent{Player: p, OldChannelID: p.VoiceChannelID()})
	if !p.Paused() {
		if err := p.Pause(ctx); err != nil {
			log.Printf("[ERR] Pause after disconnect of guild %s: %v", update.GuildID, err)
		}
	}

	if m.config.Player.AutoReconnect {
		if err := p.Connect(ctx); err != nil {
			log.Printf("[ERR] Reconnect of guild %s failed: %v", update.GuildID, err)
			return p.Destroy(ctx, DestroyReconnectFailed)
		}
		if p.Paused() {
			return p.Resume(ctx)
		}
		return nil
	}

	p.mu.Lock()
	p.voiceChannelID = ""
	p.voice = VoiceCredentials{}
	p.connected = false
	p.mu.Unlock()
	return nil
}

// debugAudio logs router diagnostics when the noAudio debug flag is on.
func (m *Manager) debugAudio(format string, args ...any) {
	if m.config.Debug.NoAudio {
		log.Printf("[Manager] NO-AUDIO "+format, args...)
	}
}
