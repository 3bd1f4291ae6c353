// /internal/config/config.go
package config

import (
	"fmt"
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to system environment variables")
	}
}

// Config is the demo bot's environment-driven configuration. The library
// itself is configured programmatically; this only covers process wiring.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required,notEmpty"`

	NodeID       string `env:"LAVALINK_NODE_ID" envDefault:"main"`
	NodeHost     string `env:"LAVALINK_HOST" envDefault:"localhost"`
	NodePort     int    `env:"LAVALINK_PORT" envDefault:"2333"`
	NodePassword string `env:"LAVALINK_PASSWORD" envDefault:"youshallnotpass"`
	NodeSecure   bool   `env:"LAVALINK_SECURE" envDefault:"false"`

	// Queue persistence: redis wins when set, otherwise the JSON file.
	RedisAddr   string `env:"REDIS_ADDR"`
	StoragePath string `env:"STORAGE_PATH" envDefault:"queues.json"`
}

// New parses the environment into a Config.
func New() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}
