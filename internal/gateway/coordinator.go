// Package gateway wires verified platform traffic through the active model
// adapter and back: the coordinator owns the per-message pipeline, the server
// owns the HTTP surface.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
)

// State tracks a message through its linear lifecycle. Audio must pass
// transcription before it can reach the model.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateTranscribed State = "TRANSCRIBED"
	StateResponded   State = "RESPONDED"
	StateFailed      State = "FAILED"
)

// User-facing fallback replies for recoverable failures.
const (
	fallbackTranscription = "Sorry, I couldn't process that voice message. Please try again or send text."
	fallbackChat          = "The service is temporarily unavailable. Please try again in a moment."
	fallbackUnsupported   = "Sorry, I can only handle text and voice messages."
)

// Sending resetCommand as a text message clears the user's conversation
// history on the active provider instead of being routed to chat.
const (
	resetCommand      = "/reset"
	resetConfirmation = "Conversation history cleared."
)

// Coordinator runs one message through transcribe, chat, persist, deliver.
// Each message is processed on its own goroutine, bounded by a semaphore.
type Coordinator struct {
	model   domain.ModelAdapter
	store   domain.ConversationStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
}

type CoordinatorConfig struct {
	Model          domain.ModelAdapter
	Store          domain.ConversationStore
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	RequestTimeout time.Duration
	MaxConcurrent  int
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 32
	}
	return &Coordinator{
		model:   cfg.Model,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		timeout: cfg.RequestTimeout,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Dispatch processes the message asynchronously. The webhook handler returns
// immediately; platforms that retry on slow responses never see the model's
// latency.
func (c *Coordinator) Dispatch(adapter domain.PlatformAdapter, msg domain.InboundMessage) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.sem <- struct{}{}
		defer func() { <-c.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.Route(ctx, adapter, msg)
	}()
}

// Wait blocks until all dispatched messages have drained.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Route runs the full pipeline for one message and reports its final state.
func (c *Coordinator) Route(ctx context.Context, adapter domain.PlatformAdapter, msg domain.InboundMessage) State {
	logger := c.logger.With("platform", msg.Platform, "user", msg.UserID, "message_id", msg.ID)
	state := StateReceived

	var text string
	switch msg.Kind {
	case domain.KindText:
		if strings.TrimSpace(msg.Text) == resetCommand {
			return c.reset(ctx, logger, adapter, msg)
		}
		text = msg.Text

	case domain.KindAudio:
		start := time.Now()
		transcript, err := c.model.Transcribe(ctx, msg.Media, msg.MediaName)
		c.observe("transcribe", start)
		if err != nil {
			c.countTranscription("error")
			logger.Error("transcription failed", "err", err)
			c.deliver(ctx, adapter, msg, domain.OutboundResponse{Content: fallbackTranscription, Kind: domain.ResponseText})
			return StateFailed
		}
		c.countTranscription("ok")
		logger.Info("audio transcribed", "chars", len(transcript))
		text = transcript
		state = StateTranscribed

	default:
		logger.Info("unsupported message kind", "kind", msg.Kind)
		c.deliver(ctx, adapter, msg, domain.OutboundResponse{Content: fallbackUnsupported, Kind: domain.ResponseText})
		return StateFailed
	}

	start := time.Now()
	resp, err := c.model.Chat(ctx, msg.UserID, msg.Platform, text)
	c.observe("chat", start)
	if err != nil {
		logger.Error("chat failed", "state", state, "err", err)
		c.deliver(ctx, adapter, msg, domain.OutboundResponse{Content: fallbackChat, Kind: domain.ResponseText})
		return StateFailed
	}
	state = StateResponded

	// Turns are persisted only after a successful exchange so the history
	// never carries a user turn without its reply.
	c.appendTurn(ctx, logger, msg, domain.RoleUser, text)
	c.appendTurn(ctx, logger, msg, domain.RoleAssistant, resp.Content)

	c.deliver(ctx, adapter, msg, *resp)
	return state
}

// reset clears the user's history on the active provider and acknowledges.
// No turns are persisted; the command itself is not part of the conversation.
func (c *Coordinator) reset(ctx context.Context, logger *slog.Logger, adapter domain.PlatformAdapter, msg domain.InboundMessage) State {
	if err := c.model.ClearHistory(ctx, msg.UserID, msg.Platform); err != nil {
		logger.Error("history reset failed", "err", err)
		c.deliver(ctx, adapter, msg, domain.OutboundResponse{Content: fallbackChat, Kind: domain.ResponseText})
		return StateFailed
	}
	logger.Info("history reset")
	c.deliver(ctx, adapter, msg, domain.OutboundResponse{Content: resetConfirmation, Kind: domain.ResponseText})
	return StateResponded
}

func (c *Coordinator) appendTurn(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage, role, content string) {
	if c.store == nil {
		return
	}
	err := c.store.Append(ctx, domain.ChatTurn{
		UserID:    msg.UserID,
		Platform:  msg.Platform,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Error("turn persist failed", "role", role, "err", err)
	}
}

// deliver sends the response back on the originating platform. Failures are
// logged and counted, never retried.
func (c *Coordinator) deliver(ctx context.Context, adapter domain.PlatformAdapter, msg domain.InboundMessage, resp domain.OutboundResponse) {
	if err := adapter.Deliver(ctx, resp, msg.ReplyContext); err != nil {
		c.countDelivery(msg.Platform, "error")
		c.logger.Error("delivery failed", "platform", msg.Platform, "user", msg.UserID, "err", err)
		return
	}
	c.countDelivery(msg.Platform, "ok")
}

func (c *Coordinator) observe(op string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ModelCalls.WithLabelValues(c.model.Name(), op).Observe(time.Since(start).Seconds())
}

func (c *Coordinator) countTranscription(outcome string) {
	if c.metrics != nil {
		c.metrics.Transcriptions.WithLabelValues(outcome).Inc()
	}
}

func (c *Coordinator) countDelivery(platform, outcome string) {
	if c.metrics != nil {
		c.metrics.Deliveries.WithLabelValues(platform, outcome).Inc()
	}
}
