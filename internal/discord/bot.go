package discord

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"lavabridge/internal/config"
	"lavabridge/internal/lavalink"
	"lavabridge/pkg/retrylimit"
)

// Bot bridges the Discord gateway and the lavalink manager: raw voice
// dispatches flow in, opcode 4 voice state requests flow out.
type Bot struct {
	dg      *discordgo.Session
	cfg     *config.Config
	manager *lavalink.Manager
}

// NewBot creates the gateway session. The manager is attached separately
// because it needs the bot's SendToShard at construction time.
func NewBot(cfg *config.Config) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	b := &Bot{dg: dg, cfg: cfg}
	b.configureIntents()
	return b, nil
}

// SendToShard delivers an opcode 4 voice state update through the gateway.
func (b *Bot) SendToShard(_ context.Context, req lavalink.VoiceStateRequest) error {
	channelID := ""
	if req.ChannelID != nil {
		channelID = *req.ChannelID
	}
	return b.dg.ChannelVoiceJoinManual(req.GuildID, channelID, req.SelfMute, req.SelfDeaf)
}

// SetManager attaches the lavalink manager the bot feeds.
func (b *Bot) SetManager(m *lavalink.Manager) {
	b.manager = m
}

// Run opens the gateway connection and blocks until the context is done.
func (b *Bot) Run(ctx context.Context) error {
	if b.manager == nil {
		return errors.New("no lavalink manager attached")
	}

	b.dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) { b.onReady(ctx, r) })
	b.dg.AddHandler(func(s *discordgo.Session, e *discordgo.Event) { b.onRawEvent(ctx, e) })
	b.dg.AddHandler(b.onMessageCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	go b.consumeLifecycleEvents(ctx)

	<-ctx.Done()
	log.Println("[INFO] Shutdown signal received. Cleaning up...")
	for _, p := range b.manager.Players() {
		if err := p.Destroy(context.Background(), lavalink.DestroyRequested); err != nil {
			log.Printf("[ERR] Destroy of guild %s on shutdown: %v", p.GuildID(), err)
		}
	}
	b.manager.Close()
	return nil
}

// configureIntents asks only for what the voice bridge needs.
func (b *Bot) configureIntents() {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
}

// onReady initiates the manager with the gateway identity. Node connects
// are retried a few times since nodes often boot alongside the bot.
func (b *Bot) onReady(ctx context.Context, r *discordgo.Ready) {
	log.Printf("[INFO] Logged in as %s (%s)", r.User.Username, r.User.ID)
	go func() {
		err := retrylimit.WithRetryMax(ctx, func() error {
			err := b.manager.Init(ctx, lavalink.ClientOptions{
				ID:       r.User.ID,
				Username: r.User.Username,
			})
			if err != nil {
				return err
			}
			if !b.manager.Initiated() {
				return errors.New("no lavalink node connected")
			}
			return nil
		}, nil, 5)
		if err != nil {
			log.Printf("[ERR] Lavalink init failed: %v", err)
		}
	}()
}

// onRawEvent forwards voice-relevant dispatches into the reconciliation
// state machine.
func (b *Bot) onRawEvent(ctx context.Context, e *discordgo.Event) {
	switch e.Type {
	case "CHANNEL_DELETE", "VOICE_STATE_UPDATE", "VOICE_SERVER_UPDATE":
		if err := b.manager.HandleRawEvent(ctx, e.Type, e.RawData); err != nil {
			log.Printf("[ERR] Voice event %s: %v", e.Type, err)
		}
	}
}

// consumeLifecycleEvents logs manager notifications.
func (b *Bot) consumeLifecycleEvents(ctx context.Context) {
	for {
		select {
		case ev := <-b.manager.Events():
			switch ev := ev.(type) {
			case lavalink.PlayerMoveEvent:
				log.Printf("[INFO] Player moved in guild %s: %s -> %s",
					ev.Player.GuildID(), ev.OldChannelID, ev.NewChannelID)
			case lavalink.PlayerDisconnectEvent:
				log.Printf("[INFO] Player disconnected in guild %s (was in %s)",
					ev.Player.GuildID(), ev.OldChannelID)
			case lavalink.PlayerDestroyEvent:
				log.Printf("[INFO] Player destroyed in guild %s | reason=%s",
					ev.Player.GuildID(), ev.Reason)
			case lavalink.NodeErrorEvent:
				log.Printf("[ERR] Node %s: %v", ev.Node.ID(), ev.Err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// onMessageCreate handles the mention commands: join, leave, pause, resume.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.GuildID == "" {
		return
	}

	mentioned := false
	for _, user := range m.Mentions {
		if user.ID == s.State.User.ID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return
	}

	ctx := context.Background()
	content := strings.ToLower(m.Content)
	var err error
	switch {
	case strings.Contains(content, "join"):
		err = b.joinCaller(ctx, m)
	case strings.Contains(content, "leave"):
		err = b.manager.DestroyPlayer(ctx, m.GuildID, lavalink.DestroyRequested)
	case strings.Contains(content, "pause"):
		err = b.withPlayer(m.GuildID, func(p *lavalink.Player) error { return p.Pause(ctx) })
	case strings.Contains(content, "resume"):
		err = b.withPlayer(m.GuildID, func(p *lavalink.Player) error { return p.Resume(ctx) })
	default:
		return
	}
	if err != nil {
		log.Printf("[ERR] Command failed in guild %s: %v", m.GuildID, err)
		s.ChannelMessageSend(m.ChannelID, fmt.Sprintf("Error: %v", err))
	}
}

func (b *Bot) joinCaller(ctx context.Context, m *discordgo.MessageCreate) error {
	vs, err := b.FindUserVoiceState(m.GuildID, m.Author.ID)
	if err != nil {
		return err
	}
	p, err := b.manager.CreatePlayer(ctx, lavalink.PlayerCreateOptions{
		GuildID:        m.GuildID,
		VoiceChannelID: vs.ChannelID,
		SelfDeaf:       true,
	})
	if err != nil {
		return err
	}
	return p.Connect(ctx)
}

func (b *Bot) withPlayer(guildID string, fn func(*lavalink.Player) error) error {
	p, ok := b.manager.Player(guildID)
	if !ok {
		return fmt.Errorf("no player for guild %s", guildID)
	}
	return fn(p)
}
