package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// IdempotencyStore remembers which deliveries a consumer has already taken.
// The bus delivers at least once, so every consumer with side effects claims
// the message id here before acting on it.
type IdempotencyStore interface {
	// MarkProcessed claims key for ttl. It reports false when the key was
	// already claimed.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)

	IsProcessed(ctx context.Context, key string) (bool, error)

	// Forget releases a claim so the delivery can be taken again
	Forget(ctx context.Context, key string) error

	Close() error
}

// ProcessedKey scopes a message id to one consumer, so two consumers of the
// same message type keep independent claims.
func ProcessedKey(consumer string, messageID uuid.UUID) string {
	return consumer + ":" + messageID.String()
}

type IdempotencyConfig struct {
	// TTL bounds how long a claim is kept. It must outlive the relay's
	// longest redelivery window.
	TTL     time.Duration
	Enabled bool
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
