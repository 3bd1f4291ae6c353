// cmd/bot/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"lavabridge/internal/config"
	"lavabridge/internal/discord"
	"lavabridge/internal/lavalink"
	"lavabridge/internal/queuestore"
	v "lavabridge/internal/version"
)

func main() {
	log.Printf("[INFO] Starting %v bot...", v.AppName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}

	store, closeStore, err := newQueueStore(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	bot, err := discord.NewBot(cfg)
	if err != nil {
		log.Fatal(err)
	}

	manager, err := lavalink.New(lavalink.Options{
		SendToShard: bot.SendToShard,
		Nodes: []lavalink.NodeOptions{{
			ID:       cfg.NodeID,
			Host:     cfg.NodeHost,
			Port:     cfg.NodePort,
			Password: cfg.NodePassword,
			Secure:   cfg.NodeSecure,
		}},
		Player: lavalink.PlayerOptions{
			OnDisconnect: lavalink.DisconnectOptions{
				DestroyPlayer: lavalink.Bool(false),
				AutoReconnect: lavalink.Bool(true),
			},
		},
		Queue: lavalink.QueueOptions{Store: store},
	})
	if err != nil {
		log.Fatal(err)
	}
	bot.SetManager(manager)

	errCh := make(chan error, 1)
	go func() {
		if err := bot.Run(ctx); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("[INFO] Received signal %s, shutting down...\n", s)
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Println("[ERR] Discord bot error:", err)
		}
		cancel()
	case <-ctx.Done():
	}

	log.Println("[INFO] Bot exited cleanly")
}

// newQueueStore picks redis when configured, the JSON file otherwise.
func newQueueStore(cfg *config.Config) (lavalink.QueueStore, func(), error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store := queuestore.NewRedisQueueStore(client, 0)
		return store, func() { client.Close() }, nil
	}
	store, err := queuestore.NewFileQueueStore(cfg.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}
