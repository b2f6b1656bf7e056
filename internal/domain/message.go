package domain

import "time"

// MessageKind classifies an inbound message after platform parsing.
type MessageKind string

const (
	KindText        MessageKind = "text"
	KindAudio       MessageKind = "audio"
	KindUnsupported MessageKind = "unsupported"
)

// InboundMessage is the canonical, platform-agnostic form of a webhook event.
// It is built once by a PlatformAdapter from a verified payload and consumed
// exactly once by the Coordinator.
type InboundMessage struct {
	ID           string      // platform message ID, or a generated UUID when the platform supplies none
	Platform     string      // adapter name ("line", "whatsapp", ...)
	UserID       string
	DisplayName  string      // optional, not all platforms carry it
	Kind         MessageKind
	Text         string      // set when Kind == KindText
	Media        []byte      // raw audio bytes when Kind == KindAudio
	MediaName    string      // filename hint for transcription, e.g. "voice.ogg"
	ReplyContext string      // opaque per-platform delivery token (reply token, chat ID, channel ID)
	ReceivedAt   time.Time
}

// ResponseKind classifies an outbound response.
type ResponseKind string

const (
	ResponseText  ResponseKind = "text"
	ResponseAudio ResponseKind = "audio"
)

// Citation is a source reference attached to a model response.
type Citation struct {
	Label      string
	SourceName string
	Score      float64 // 0 when the provider reports no score
}

// OutboundResponse is the canonical reply handed back to the originating
// PlatformAdapter for delivery.
type OutboundResponse struct {
	Content   string
	Kind      ResponseKind
	Citations []Citation
	Metadata  map[string]string
}

// Conversation roles persisted to the ConversationStore.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is the unit persisted per conversation exchange. Append-only;
// ordering within a (UserID, Platform) pair follows CreatedAt.
type ChatTurn struct {
	UserID    string
	Platform  string
	Role      string // RoleUser | RoleAssistant
	Content   string
	CreatedAt time.Time
}
