package lavalink

import (
	"context"
	"fmt"
	"time"
)

// VoiceStateRequest is the opcode 4 payload handed to SendToShard to join,
// move or leave a voice channel. A nil ChannelID means leave.
type VoiceStateRequest struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// SendToShardFunc delivers an outbound payload to the gateway shard that
// serves the guild. The caller owns the actual gateway connection.
type SendToShardFunc func(ctx context.Context, req VoiceStateRequest) error

// AutoPlayFunc is invoked when a player runs out of queued tracks.
type AutoPlayFunc func(ctx context.Context, p *Player, lastTrack *Track) error

// RequesterTransformer normalizes the requester object attached to tracks.
type RequesterTransformer func(requester any) any

// ClientOptions identify the local gateway client on whose behalf voice
// connections are authorized.
type ClientOptions struct {
	ID       string
	Username string
}

// NodeOptions describes one backend node.
type NodeOptions struct {
	ID       string
	Host     string
	Port     int
	Password string
	Secure   bool
}

// DisconnectOptions selects the recovery policy when the client is removed
// from a voice channel. When DestroyPlayer is set it wins over AutoReconnect
// and the reconnect is never attempted.
type DisconnectOptions struct {
	DestroyPlayer *bool
	AutoReconnect *bool
}

// EmptyQueueOptions configures behavior when the queue drains.
type EmptyQueueOptions struct {
	AutoPlay     AutoPlayFunc
	DestroyAfter *time.Duration
}

// PlayerOptions are per-player defaults applied at creation time.
type PlayerOptions struct {
	ApplyVolumeAsFilter    *bool
	PositionUpdateInterval *time.Duration
	DefaultSearchPlatform  string
	OnDisconnect           DisconnectOptions
	OnEmptyQueue           EmptyQueueOptions
	VolumeDecrementer      *float64
	RequesterTransformer   RequesterTransformer
	UseUnresolvedData      *bool
}

// QueueOptions configures the queue store and its observer.
type QueueOptions struct {
	MaxPreviousTracks *int
	Store             QueueStore
	Watcher           QueueChangesWatcher
}

// PlayerDestroyDebug tunes the misuse guard around DeletePlayer.
type PlayerDestroyDebug struct {
	DontThrowError bool
	Log            bool
}

// DebugOptions enable diagnostic logging paths.
type DebugOptions struct {
	NoAudio       bool
	PlayerDestroy PlayerDestroyDebug
}

// Options is the user-facing constructor input. Optional scalars are
// pointers; nil picks the documented default.
type Options struct {
	Client           ClientOptions
	SendToShard      SendToShardFunc
	Nodes            []NodeOptions
	Player           PlayerOptions
	LinksWhitelist   []string
	LinksBlacklist   []string
	AutoSkip         *bool
	AutoSkipOnError  *bool
	EmitNewSongsOnly *bool
	Queue            QueueOptions
	Debug            DebugOptions
}

// Config is the effective configuration: every recognized option resolved to
// a concrete value. Immutable once the manager is constructed.
type Config struct {
	Client           ClientOptions
	SendToShard      SendToShardFunc
	Nodes            []NodeOptions
	Player           PlayerConfig
	LinksWhitelist   []string
	LinksBlacklist   []string
	AutoSkip         bool
	AutoSkipOnError  bool
	EmitNewSongsOnly bool
	Queue            QueueConfig
	Debug            DebugOptions
}

// PlayerConfig is the resolved form of PlayerOptions.
type PlayerConfig struct {
	ApplyVolumeAsFilter    bool
	PositionUpdateInterval time.Duration
	DefaultSearchPlatform  string
	DestroyOnDisconnect    bool
	AutoReconnect          bool
	AutoPlay               AutoPlayFunc
	DestroyAfterEmpty      *time.Duration
	VolumeDecrementer      float64
	RequesterTransformer   RequesterTransformer
	UseUnresolvedData      bool
}

// QueueConfig is the resolved form of QueueOptions.
type QueueConfig struct {
	MaxPreviousTracks int
	Store             QueueStore
	Watcher           QueueChangesWatcher
}

const defaultMaxPreviousTracks = 25

// applyOptions merges user options over the default table. It never fails;
// validation happens separately in validateOptions.
func applyOptions(opts Options) Config {
	cfg := Config{
		Client: ClientOptions{
			ID:       opts.Client.ID,
			Username: stringOr(opts.Client.Username, "lavalink-client"),
		},
		SendToShard: opts.SendToShard,
		Nodes:       opts.Nodes,
		Player: PlayerConfig{
			ApplyVolumeAsFilter:    boolOr(opts.Player.ApplyVolumeAsFilter, false),
			PositionUpdateInterval: durationOr(opts.Player.PositionUpdateInterval, 100*time.Millisecond),
			DefaultSearchPlatform:  stringOr(opts.Player.DefaultSearchPlatform, "ytsearch"),
			DestroyOnDisconnect:    boolOr(opts.Player.OnDisconnect.DestroyPlayer, true),
			AutoReconnect:          boolOr(opts.Player.OnDisconnect.AutoReconnect, false),
			AutoPlay:               opts.Player.OnEmptyQueue.AutoPlay,
			DestroyAfterEmpty:      opts.Player.OnEmptyQueue.DestroyAfter,
			VolumeDecrementer:      floatOr(opts.Player.VolumeDecrementer, 1),
			RequesterTransformer:   opts.Player.RequesterTransformer,
			UseUnresolvedData:      boolOr(opts.Player.UseUnresolvedData, false),
		},
		LinksWhitelist:   opts.LinksWhitelist,
		LinksBlacklist:   opts.LinksBlacklist,
		AutoSkip:         boolOr(opts.AutoSkip, true),
		AutoSkipOnError:  boolOr(opts.AutoSkipOnError, true),
		EmitNewSongsOnly: boolOr(opts.EmitNewSongsOnly, false),
		Queue: QueueConfig{
			MaxPreviousTracks: intOr(opts.Queue.MaxPreviousTracks, defaultMaxPreviousTracks),
			Store:             opts.Queue.Store,
			Watcher:           opts.Queue.Watcher,
		},
		Debug: opts.Debug,
	}
	if cfg.LinksWhitelist == nil {
		cfg.LinksWhitelist = []string{}
	}
	if cfg.LinksBlacklist == nil {
		cfg.LinksBlacklist = []string{}
	}
	if cfg.Queue.Store == nil {
		cfg.Queue.Store = NewMemoryQueueStore()
	}
	return cfg
}

// validateOptions checks structural constraints on the resolved config.
// An out-of-range MaxPreviousTracks is clamped back to the default rather
// than rejected.
func validateOptions(cfg *Config) error {
	if cfg.SendToShard == nil {
		return ErrMissingSendToShard
	}
	if len(cfg.Nodes) == 0 {
		return ErrNoNodes
	}
	for i, n := range cfg.Nodes {
		if n.Host == "" || n.Port <= 0 || n.Password == "" {
			return fmt.Errorf("%w: nodes[%d] needs host, port and password", ErrInvalidNode, i)
		}
	}
	if cfg.Queue.MaxPreviousTracks < 0 {
		cfg.Queue.MaxPreviousTracks = defaultMaxPreviousTracks
	}
	return nil
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func durationOr(v *time.Duration, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return *v
}

// Bool is a convenience for building Options literals.
func Bool(v bool) *bool { return &v }

// Int is a convenience for building Options literals.
func Int(v int) *int { return &v }
