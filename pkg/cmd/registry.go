package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/praxishq/automation/pkg/protocol"
	"github.com/praxishq/automation/pkg/ratelimit"
	"github.com/praxishq/automation/pkg/registry"
)

// Chat providers throttle aggressively; 25 messages per second per account
// stays under both Telegram's and WhatsApp's documented limits.
const (
	chatLimit       = 25
	chatLimitWindow = time.Second
)

func NewRegistry(logger *slog.Logger, credentials protocol.CredentialStore, redisURL string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registry.RegisterDefaults(reg, registry.Dependencies{
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
		Credentials: credentials,
		ChatLimiter: NewChatLimiter(redisURL),
		Logger:      logger,
	})

	return reg
}

// NewChatLimiter builds the provider rate limiter. Without a Redis URL the
// limit applies per process only.
func NewChatLimiter(redisURL string) ratelimit.Limiter {
	if redisURL == "" {
		return ratelimit.NewLocalLimiter(chatLimit, chatLimitWindow)
	}

	options, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse Redis URL: %w", err))
	}

	return ratelimit.NewRedisLimiter(redis.NewClient(options), "automation:ratelimit", chatLimit, chatLimitWindow)
}
