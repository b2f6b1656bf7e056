package model

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatrelay/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

const (
	openaiDefaultModel      = "gpt-4o-mini"
	openaiDefaultTranscribe = openai.Whisper1
)

// OpenAI implements domain.ModelAdapter against the chat completions API.
// Conversation context is a bounded recent-history window read from the
// ConversationStore; Whisper handles transcription.
type OpenAI struct {
	client          *openai.Client
	model           string
	transcribeModel string
	systemPrompt    string
	store           domain.ConversationStore
	maxHistory      int
	logger          *slog.Logger
}

type OpenAIConfig struct {
	APIKey          string
	APIBase         string
	Model           string
	TranscribeModel string
	SystemPrompt    string
	Store           domain.ConversationStore
	MaxHistory      int
	Logger          *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	if cfg.Model == "" {
		cfg.Model = openaiDefaultModel
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = openaiDefaultTranscribe
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 40
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		client:          openai.NewClientWithConfig(clientCfg),
		model:           cfg.Model,
		transcribeModel: cfg.TranscribeModel,
		systemPrompt:    cfg.SystemPrompt,
		store:           cfg.Store,
		maxHistory:      cfg.MaxHistory,
		logger:          cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Chat(ctx context.Context, userID, platform, message string) (*domain.OutboundResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, o.maxHistory+2)
	if o.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		})
	}

	if o.store != nil {
		history, err := o.store.Recent(ctx, userID, platform, o.maxHistory)
		if err != nil {
			// Degrade to a contextless exchange rather than failing the turn.
			o.logger.Warn("history load failed", "user", userID, "platform", platform, "err", err)
		}
		for _, turn := range history {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: turn.Role, Content: turn.Content})
		}
	}

	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", domain.ErrChatProvider)
	}

	o.logger.Debug("openai chat completed",
		"model", o.model,
		"duration", time.Since(start),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	return &domain.OutboundResponse{
		Content: resp.Choices[0].Message.Content,
		Kind:    domain.ResponseText,
	}, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio", domain.ErrTranscription)
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.transcribeModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTranscription, err)
	}
	return resp.Text, nil
}

func (o *OpenAI) ClearHistory(ctx context.Context, userID, platform string) error {
	if o.store == nil {
		return nil
	}
	return o.store.Clear(ctx, userID, platform)
}

func (o *OpenAI) CheckConnection(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	return nil
}
