package domain

import "context"

// ModelAdapter is the contract every AI provider implements. Exactly one
// adapter instance is active per process; it is shared across platforms and
// requests and must be safe for concurrent calls.
//
// Providers with asynchronous chat APIs (submit a job, poll for completion)
// hide the polling inside Chat so callers always see a synchronous call.
type ModelAdapter interface {
	Name() string

	// Chat runs one conversation turn. The adapter owns its own
	// conversation-context strategy: a provider-native thread object, or a
	// bounded recent-history window read from the ConversationStore.
	Chat(ctx context.Context, userID, platform, message string) (*OutboundResponse, error)

	// Transcribe converts raw audio bytes to text. filename carries the
	// extension hint the provider needs ("voice.ogg").
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)

	// ClearHistory drops the conversation context for one (user, platform).
	ClearHistory(ctx context.Context, userID, platform string) error

	// CheckConnection verifies the provider is reachable and credentials work.
	CheckConnection(ctx context.Context) error
}
