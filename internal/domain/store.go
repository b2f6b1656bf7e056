package domain

import "context"

// ConversationStore is the narrow persistence contract the gateway consumes.
// Append is atomic per turn; no cross-turn transaction is required.
type ConversationStore interface {
	Append(ctx context.Context, turn ChatTurn) error

	// Recent returns up to limit turns for the pair, oldest first.
	Recent(ctx context.Context, userID, platform string, limit int) ([]ChatTurn, error)

	Clear(ctx context.Context, userID, platform string) error

	// Ping reports store reachability for health checks.
	Ping(ctx context.Context) error
}

// ThreadStore persists provider-native conversation handles (e.g. assistant
// thread IDs) keyed by (user, platform). A missing mapping is ("", nil).
type ThreadStore interface {
	Thread(ctx context.Context, userID, platform string) (string, error)
	SaveThread(ctx context.Context, userID, platform, threadID string) error
	DeleteThread(ctx context.Context, userID, platform string) error
}
