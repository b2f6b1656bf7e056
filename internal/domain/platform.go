package domain

import (
	"context"
	"net/http"
	"net/url"
)

// PlatformAdapter is the contract every chat platform implements: verify the
// webhook came from the platform, translate its payload into canonical
// messages, and deliver replies through the platform's send API.
type PlatformAdapter interface {
	Name() string

	// VerifyWebhook checks the platform's signature over the raw body.
	// Malformed or missing headers return false, never an error.
	VerifyWebhook(body []byte, header http.Header) bool

	// Parse translates a raw webhook payload into canonical messages.
	// A single call may carry multiple events; a malformed event is skipped
	// and logged without aborting its siblings. The error is non-nil only
	// when the payload as a whole is unreadable.
	Parse(body []byte) ([]InboundMessage, error)

	// Deliver sends the response through the platform's API using the opaque
	// reply context captured at parse time. Failures are reported as errors,
	// never panics; the caller decides whether to log or drop.
	Deliver(ctx context.Context, resp OutboundResponse, replyContext string) error
}

// Challenger is implemented by adapters whose platform performs a
// verification handshake that expects an echoed value instead of event
// processing. Meta platforms send a hub.challenge GET query; Slack sends a
// url_verification JSON body.
type Challenger interface {
	Challenge(query url.Values, body []byte) (string, bool)
}
