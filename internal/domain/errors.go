package domain

import "errors"

// Error taxonomy for the gateway. Wrap these with fmt.Errorf("...: %w", ...)
// and match with errors.Is.
var (
	// ErrSignature rejects a webhook before parsing.
	ErrSignature = errors.New("webhook signature verification failed")

	// ErrRateLimited rejects a request at the HTTP boundary.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrParse marks one unreadable event; siblings still process.
	ErrParse = errors.New("event parse failed")

	// ErrTranscription is recovered into a user-facing fallback reply.
	ErrTranscription = errors.New("audio transcription failed")

	// ErrChatProvider covers provider chat failures, including poll timeouts.
	ErrChatProvider = errors.New("chat provider failed")

	// ErrDelivery marks a failed platform send; logged, never retried.
	ErrDelivery = errors.New("reply delivery failed")
)
