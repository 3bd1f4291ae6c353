package lavalink

import "errors"

var (
	// ErrMissingSendToShard indicates no gateway send function was configured.
	ErrMissingSendToShard = errors.New("SendToShard function was not provided, which is required")

	// ErrNoNodes indicates the node list is empty or missing.
	ErrNoNodes = errors.New("at least one node must be configured")

	// ErrInvalidNode indicates a node descriptor failed shape validation.
	ErrInvalidNode = errors.New("invalid node descriptor")

	// ErrMissingClientID indicates Init was called without a client identity.
	ErrMissingClientID = errors.New("client ID is not set; pass it to Init or as a constructor option")

	// ErrNodeNotReady indicates a voice credential push was attempted before
	// the node established its backend session.
	ErrNodeNotReady = errors.New("lavalink node is either not ready or not up to date")

	// ErrPlayerStillConnected indicates DeletePlayer was called on a player
	// that should be stopped through Destroy instead.
	ErrPlayerStillConnected = errors.New("use Player.Destroy, not Manager.DeletePlayer, to stop a connected player")

	// ErrPlayerDestroyed indicates an operation on a player that is mid-destroy.
	ErrPlayerDestroyed = errors.New("player is being destroyed")

	// ErrNoVoiceChannel indicates a connect attempt without a target channel.
	ErrNoVoiceChannel = errors.New("voice channel ID is not set")

	// ErrQueueEmpty indicates Play was called with nothing queued and no
	// autoplay hook configured.
	ErrQueueEmpty = errors.New("no tracks in queue")
)
