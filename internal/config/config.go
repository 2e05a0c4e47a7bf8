package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

// DefaultWalletsListURL is the canonical wallet registry published by the
// TON Connect maintainers.
const DefaultWalletsListURL = "https://raw.githubusercontent.com/ton-blockchain/wallets-list/main/wallets-v2.json"

type Config struct {
	Port             int    `env:"PORT" envDefault:"8080"`
	DatabaseURL      string `env:"DATABASE_URL,required"`
	RedisURL         string `env:"REDIS_URL,required"`
	InternalAPIToken string `env:"INTERNAL_API_TOKEN"`
	EncryptionKey    string `env:"ENCRYPTION_KEY"`
	ManifestURL      string `env:"TONCONNECT_MANIFEST_URL,required"`
	WalletsListURL   string `env:"WALLETS_LIST_URL" envDefault:"https://raw.githubusercontent.com/ton-blockchain/wallets-list/main/wallets-v2.json"`
	DefaultBridgeURL string `env:"DEFAULT_BRIDGE_URL" envDefault:"https://bridge.tonapi.io/bridge"`
	WalletLinksLimit int    `env:"WALLET_LINKS_LIMIT" envDefault:"4"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if !strings.HasPrefix(c.ManifestURL, "https://") {
		return fmt.Errorf("TONCONNECT_MANIFEST_URL must be an https URL; wallets refuse plain-http manifests")
	}
	if !strings.HasPrefix(c.DefaultBridgeURL, "https://") {
		return fmt.Errorf("DEFAULT_BRIDGE_URL must be an https URL")
	}
	if c.WalletLinksLimit <= 0 {
		return fmt.Errorf("WALLET_LINKS_LIMIT must be positive")
	}
	if c.EncryptionKey != "" {
		if key, err := hex.DecodeString(c.EncryptionKey); err != nil || len(key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	}

	if isProduction {
		if c.InternalAPIToken == "" {
			return fmt.Errorf("INTERNAL_API_TOKEN is required in production (generate with: openssl rand -hex 32)")
		}
		if len(c.InternalAPIToken) < 32 {
			return fmt.Errorf("INTERNAL_API_TOKEN must be at least 32 characters in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: session fragments hold connector private keys and will be stored in plaintext")
		}
	} else if c.InternalAPIToken == "" {
		log.Warn().Msg("INTERNAL_API_TOKEN is empty: wallet API authentication disabled")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
