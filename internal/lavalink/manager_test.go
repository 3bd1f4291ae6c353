package lavalink

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRig struct {
	m     *Manager
	node  *fakeNode
	shard *shardRecorder
}

func newTestRig(t *testing.T, mutate func(*Options)) *testRig {
	t.Helper()

	shard := &shardRecorder{}
	opts := Options{
		Client:      ClientOptions{ID: "client-id"},
		SendToShard: shard.send,
		Nodes:       []NodeOptions{{ID: "main", Host: "localhost", Port: 2333, Password: "pass"}},
	}
	if mutate != nil {
		mutate(&opts)
	}

	m, err := New(opts)
	require.NoError(t, err)

	node := newFakeNode("main")
	m.NodeManager().Add(node)

	require.NoError(t, m.Init(context.Background(), ClientOptions{}))
	require.True(t, m.Initiated())
	drainEvents(m)

	return &testRig{m: m, node: node, shard: shard}
}

// connectedPlayer creates a session and joins the given channel.
func (r *testRig) connectedPlayer(t *testing.T, guildID, channelID string) *Player {
	t.Helper()
	p, err := r.m.CreatePlayer(context.Background(), PlayerCreateOptions{
		GuildID:        guildID,
		VoiceChannelID: channelID,
	})
	require.NoError(t, err)
	require.NoError(t, p.Connect(context.Background()))
	return p
}

func serverUpdate(guildID, token, endpoint string) []byte {
	return []byte(fmt.Sprintf(
		`{"t":"VOICE_SERVER_UPDATE","d":{"guild_id":%q,"token":%q,"endpoint":%q}}`,
		guildID, token, endpoint))
}

func stateUpdate(guildID, userID, sessionID string, channelID *string) []byte {
	channel := "null"
	if channelID != nil {
		channel = fmt.Sprintf("%q", *channelID)
	}
	return []byte(fmt.Sprintf(
		`{"t":"VOICE_STATE_UPDATE","d":{"guild_id":%q,"user_id":%q,"session_id":%q,"channel_id":%s}}`,
		guildID, userID, sessionID, channel))
}

func channelDeleteEvent(guildID, channelID string) []byte {
	return []byte(fmt.Sprintf(
		`{"t":"CHANNEL_DELETE","d":{"guild_id":%q,"id":%q}}`, guildID, channelID))
}

func str(s string) *string { return &s }

func TestCreatePlayerIdempotent(t *testing.T) {
	r := newTestRig(t, nil)
	ctx := context.Background()

	first, err := r.m.CreatePlayer(ctx, PlayerCreateOptions{GuildID: "g1", VoiceChannelID: "c1"})
	require.NoError(t, err)
	second, err := r.m.CreatePlayer(ctx, PlayerCreateOptions{GuildID: "g1", VoiceChannelID: "other"})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, r.m.Players(), 1)
	assert.Equal(t, "c1", second.VoiceChannelID())
}

func TestChannelDeleteDestroysMatchingPlayer(t *testing.T) {
	r := newTestRig(t, nil)
	r.connectedPlayer(t, "g1", "c1")

	require.NoError(t, r.m.HandleRaw(context.Background(), channelDeleteEvent("g1", "c1")))

	_, ok := r.m.Player("g1")
	assert.False(t, ok)
	assert.Equal(t, []string{"g1"}, r.node.destroyedGuilds())

	events := drainEvents(r.m)
	require.Len(t, events, 1)
	destroy, ok := events[0].(PlayerDestroyEvent)
	require.True(t, ok)
	assert.Equal(t, DestroyChannelDeleted, destroy.Reason)
}

func TestChannelDeleteIgnoresMismatch(t *testing.T) {
	r := newTestRig(t, nil)
	r.connectedPlayer(t, "g1", "c1")

	require.NoError(t, r.m.HandleRaw(context.Background(), channelDeleteEvent("g1", "c2")))
	_, ok := r.m.Player("g1")
	assert.True(t, ok)

	// A guild without a player is expected noise.
	require.NoError(t, r.m.HandleRaw(context.Background(), channelDeleteEvent("g9", "c1")))
	assert.Empty(t, r.node.destroyedGuilds())
}

func TestChannelDeleteWithoutIDIsNoOp(t *testing.T) {
	r := newTestRig(t, nil)
	ctx := context.Background()

	// A player that never joined voice has an empty channel id; a truncated
	// delete payload must not match it.
	_, err := r.m.CreatePlayer(ctx, PlayerCreateOptions{GuildID: "g1"})
	require.NoError(t, err)

	require.NoError(t, r.m.HandleRaw(ctx, []byte(`{"t":"CHANNEL_DELETE","d":{"guild_id":"g1"}}`)))

	_, ok := r.m.Player("g1")
	assert.True(t, ok)
	assert.Empty(t, r.node.destroyedGuilds())
}

func TestVoiceServerUpdateRequiresNodeSession(t *testing.T) {
	r := newTestRig(t, nil)
	r.connectedPlayer(t, "g1", "c1")
	r.node.setSessionID("")

	err := r.m.HandleRaw(context.Background(), serverUpdate("g1", "tok", "ep"))
	require.ErrorIs(t, err, ErrNodeNotReady)
	assert.Empty(t, r.node.recordedUpdates())
}

func TestVoiceServerUpdatePushesCredentials(t *testing.T) {
	r := newTestRig(t, nil)
	r.connectedPlayer(t, "g1", "c1")
	ctx := context.Background()

	// The session half arrives first, then the server half.
	require.NoError(t, r.m.HandleRaw(ctx, stateUpdate("g1", "client-id", "voice-sess", str("c1"))))
	require.NoError(t, r.m.HandleRaw(ctx, serverUpdate("g1", "tok", "eu.voice.example")))

	updates := r.node.recordedUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, "g1", updates[0].guildID)
	require.NotNil(t, updates[0].update.Voice)
	assert.Equal(t, "tok", updates[0].update.Voice.Token)
	assert.Equal(t, "eu.voice.example", updates[0].update.Voice.Endpoint)
	assert.Equal(t, "voice-sess", updates[0].update.Voice.SessionID)

	// The server half never touches the channel.
	p, _ := r.m.Player("g1")
	assert.Equal(t, "c1", p.VoiceChannelID())
}

func TestVoiceStateUpdateIgnoresForeignUsers(t *testing.T) {
	r := newTestRig(t, nil)
	p := r.connectedPlayer(t, "g1", "c1")

	require.NoError(t, r.m.HandleRaw(context.Background(),
		stateUpdate("g1", "someone-else", "their-sess", str("c2"))))

	assert.Equal(t, "c1", p.VoiceChannelID())
	assert.Empty(t, p.Voice().SessionID)
	assert.Empty(t, drainEvents(r.m))
}

func TestVoiceStateUpdateMove(t *testing.T) {
	r := newTestRig(t, nil)
	p := r.connectedPlayer(t, "g1", "c1")
	ctx := context.Background()

	require.NoError(t, r.m.HandleRaw(ctx, stateUpdate("g1", "client-id", "s1", str("c2"))))

	assert.Equal(t, "c2", p.VoiceChannelID())
	assert.Equal(t, "s1", p.Voice().SessionID)
	events := drainEvents(r.m)
	require.Len(t, events, 1)
	move, ok := events[0].(PlayerMoveEvent)
	require.True(t, ok)
	assert.Equal(t, "c1", move.OldChannelID)
	assert.Equal(t, "c2", move.NewChannelID)

	// Same channel again: no move event, but the session ID refreshes.
	require.NoError(t, r.m.HandleRaw(ctx, stateUpdate("g1", "client-id", "s2", str("c2"))))
	assert.Equal(t, "s2", p.Voice().SessionID)
	assert.Empty(t, drainEvents(r.m))
}

func TestDisconnectDestroysByDefault(t *testing.T) {
	r := newTestRig(t, nil)
	r.connectedPlayer(t, "g1", "c1")

	require.NoError(t, r.m.HandleRaw(context.Background(),
		stateUpdate("g1", "client-id", "s1", nil)))

	_, ok := r.m.Player("g1")
	assert.False(t, ok)

	events := drainEvents(r.m)
	require.Len(t, events, 1)
	destroy, ok := events[0].(PlayerDestroyEvent)
	require.True(t, ok)
	assert.Equal(t, DestroyDisconnected, destroy.Reason)
}

func TestDisconnectPausesAndClearsVoice(t *testing.T) {
	r := newTestRig(t, func(o *Options) {
		o.Player.OnDisconnect = DisconnectOptions{
			DestroyPlayer: Bool(false),
			AutoReconnect: Bool(false),
		}
	})
	p := r.connectedPlayer(t, "g1", "c1")
	ctx := context.Background()
	require.NoError(t, r.m.HandleRaw(ctx, stateUpdate("g1", "client-id", "s1", str("c1"))))

	require.NoError(t, r.m.HandleRaw(ctx, stateUpdate("g1", "client-id", "s1", nil)))

	_, ok := r.m.Player("g1")
	assert.True(t, ok, "player must stay registered")
	assert.True(t, p.Paused())
	assert.False(t, p.Connected())
	assert.Empty(t, p.VoiceChannelID())
	assert.Equal(t, VoiceCredentials{}, p.Voice())

	events := drainEvents(r.m)
	require.Len(t, events, 1)
	disc, ok := events[0].(PlayerDisconnectEvent)
	require.True(t, ok)
	assert.Equal(t, "c1", disc.OldChannelID)
}

func TestDisconnectAutoReconnect(t *testing.T) {
	r := newTestRig(t, func(o *Options) {
		o.Player.OnDisconnect = DisconnectOptions{
			DestroyPlayer: Bool(false),
			AutoReconnect: Bool(true),
		}
	})
	p := r.connectedPlayer(t, "g1", "c1")
	ctx := context.Background()

	require.NoError(t, r.m.HandleRaw(ctx, stateUpdate("g1", "client-id", "s1", nil)))

	_, ok := r.m.Player("g1")
	assert.True(t, ok)
	assert.True(t, p.Connected())
	assert.False(t, p.Paused(), "resumed after successful reconnect")
	assert.Equal(t, "c1", p.VoiceChannelID(), "channel kept for the rejoin")

	// The rejoin went out through the gateway.
	sent := r.shard.sent()
	last := sent[len(sent)-1]
	require.NotNil(t, last.ChannelID)
	assert.Equal(t, "c1", *last.ChannelID)
}

func TestDisconnectReconnectFailureDestroys(t *testing.T) {
	r := newTestRig(t, func(o *Options) {
		o.Player.OnDisconnect = DisconnectOptions{
			DestroyPlayer: Bool(false),
			AutoReconnect: Bool(true),
		}
	})
	r.connectedPlayer(t, "g1", "c1")
	r.shard.fail(errors.New("gateway down"))

	require.NoError(t, r.m.HandleRaw(context.Background(),
		stateUpdate("g1", "client-id", "s1", nil)))

	_, ok := r.m.Player("g1")
	assert.False(t, ok)

	var reasons []DestroyReason
	for _, ev := range drainEvents(r.m) {
		if destroy, ok := ev.(PlayerDestroyEvent); ok {
			reasons = append(reasons, destroy.Reason)
		}
	}
	assert.Equal(t, []DestroyReason{DestroyReconnectFailed}, reasons)
}

func TestVoiceUpdateIgnoredMidDestroy(t *testing.T) {
	r := newTestRig(t, nil)
	p := r.connectedPlayer(t, "g1", "c1")

	p.mu.Lock()
	p.destroying = true
	p.mu.Unlock()

	require.NoError(t, r.m.HandleRaw(context.Background(),
		stateUpdate("g1", "client-id", "s1", str("c2"))))
	assert.Equal(t, "c1", p.VoiceChannelID())
}

func TestMalformedAndIrrelevantEventsAreNoOps(t *testing.T) {
	r := newTestRig(t, nil)
	r.connectedPlayer(t, "g1", "c1")
	ctx := context.Background()

	// No event-type tag.
	require.NoError(t, r.m.HandleRaw(ctx, []byte(`{"foo":"bar"}`)))
	// Unknown event type.
	require.NoError(t, r.m.HandleRaw(ctx, []byte(`{"t":"MESSAGE_CREATE","d":{}}`)))
	// Voice event without token or session_id.
	require.NoError(t, r.m.HandleRaw(ctx, []byte(`{"t":"VOICE_STATE_UPDATE","d":{"guild_id":"g1"}}`)))
	// Voice event for a guild without a player.
	require.NoError(t, r.m.HandleRaw(ctx, stateUpdate("g9", "client-id", "s1", str("c9"))))

	assert.Empty(t, r.node.recordedUpdates())
	assert.Empty(t, drainEvents(r.m))
}

func TestHandleRawToleratesFlatPayload(t *testing.T) {
	r := newTestRig(t, nil)
	p := r.connectedPlayer(t, "g1", "c1")

	// Fields at the top level instead of nested under "d".
	flat := []byte(`{"t":"VOICE_STATE_UPDATE","guild_id":"g1","user_id":"client-id","session_id":"s1","channel_id":"c1"}`)
	require.NoError(t, r.m.HandleRaw(context.Background(), flat))
	assert.Equal(t, "s1", p.Voice().SessionID)
}

func TestHandleRawBeforeInitIsNoOp(t *testing.T) {
	shard := &shardRecorder{}
	m, err := New(Options{
		Client:      ClientOptions{ID: "client-id"},
		SendToShard: shard.send,
		Nodes:       []NodeOptions{{ID: "main", Host: "localhost", Port: 2333, Password: "pass"}},
	})
	require.NoError(t, err)

	require.NoError(t, m.HandleRaw(context.Background(),
		stateUpdate("g1", "client-id", "s1", str("c1"))))
}

func TestInitPartialSuccess(t *testing.T) {
	shard := &shardRecorder{}
	m, err := New(Options{
		Client:      ClientOptions{ID: "client-id"},
		SendToShard: shard.send,
		Nodes:       []NodeOptions{{ID: "main", Host: "localhost", Port: 2333, Password: "pass"}},
	})
	require.NoError(t, err)

	good := newFakeNode("a")
	bad1 := newFakeNode("b")
	bad1.connectErr = errors.New("refused")
	bad2 := newFakeNode("c")
	bad2.connectErr = errors.New("refused")
	m.NodeManager().Add(good)
	m.NodeManager().Add(bad1)
	m.NodeManager().Add(bad2)
	// Drop the node built from options so only the fakes take part.
	m2 := m.NodeManager()
	m2.mu.Lock()
	delete(m2.nodes, "main")
	m2.mu.Unlock()

	require.NoError(t, m.Init(context.Background(), ClientOptions{}))
	assert.True(t, m.Initiated())

	errorCount := 0
	for _, ev := range drainEvents(m) {
		if _, ok := ev.(NodeErrorEvent); ok {
			errorCount++
		}
	}
	assert.Equal(t, 2, errorCount)
}

func TestInitTotalFailureDoesNotError(t *testing.T) {
	shard := &shardRecorder{}
	m, err := New(Options{
		Client:      ClientOptions{ID: "client-id"},
		SendToShard: shard.send,
		Nodes:       []NodeOptions{{ID: "main", Host: "localhost", Port: 2333, Password: "pass"}},
	})
	require.NoError(t, err)

	fake := newFakeNode("main")
	fake.connectErr = errors.New("refused")
	m.NodeManager().Add(fake)

	require.NoError(t, m.Init(context.Background(), ClientOptions{}))
	assert.False(t, m.Initiated())
}

func TestInitRequiresClientID(t *testing.T) {
	shard := &shardRecorder{}
	m, err := New(Options{
		SendToShard: shard.send,
		Nodes:       []NodeOptions{{ID: "main", Host: "localhost", Port: 2333, Password: "pass"}},
	})
	require.NoError(t, err)

	err = m.Init(context.Background(), ClientOptions{})
	require.ErrorIs(t, err, ErrMissingClientID)

	// Call-time identity wins and unblocks init.
	fake := newFakeNode("main")
	m.NodeManager().Add(fake)
	require.NoError(t, m.Init(context.Background(), ClientOptions{ID: "late-id"}))
	assert.True(t, m.Initiated())
	assert.Equal(t, "late-id", m.Config().Client.ID)
}

func TestInitIdempotent(t *testing.T) {
	r := newTestRig(t, nil)

	before := r.node.connects
	require.NoError(t, r.m.Init(context.Background(), ClientOptions{}))
	assert.Equal(t, before, r.node.connects, "second init must not reconnect")
}

func TestDeletePlayerGuardsConnectedSessions(t *testing.T) {
	r := newTestRig(t, nil)
	p := r.connectedPlayer(t, "g1", "c1")

	err := r.m.DeletePlayer("g1")
	require.ErrorIs(t, err, ErrPlayerStillConnected)
	_, ok := r.m.Player("g1")
	assert.True(t, ok)

	p.MarkDestroyWithoutDisconnect()
	require.NoError(t, r.m.DeletePlayer("g1"))
	_, ok = r.m.Player("g1")
	assert.False(t, ok)
}

func TestDeletePlayerDebugOverride(t *testing.T) {
	r := newTestRig(t, func(o *Options) {
		o.Debug.PlayerDestroy.DontThrowError = true
	})
	r.connectedPlayer(t, "g1", "c1")

	require.NoError(t, r.m.DeletePlayer("g1"))
	_, ok := r.m.Player("g1")
	assert.False(t, ok)
}

func TestDeletePlayerAbsentGuild(t *testing.T) {
	r := newTestRig(t, nil)
	require.NoError(t, r.m.DeletePlayer("missing"))
	require.NoError(t, r.m.DestroyPlayer(context.Background(), "missing", DestroyRequested))
}
