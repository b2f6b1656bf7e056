package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/poll"

	openai "github.com/sashabaranov/go-openai"
)

// Assistant implements domain.ModelAdapter against the OpenAI Assistants API.
// Conversation context lives server-side in a provider thread per
// (user, platform); the submit-then-poll run lifecycle is hidden inside Chat.
type Assistant struct {
	client          *openai.Client
	assistantID     string
	transcribeModel string
	pollOpts        poll.Options
	threads         domain.ThreadStore
	logger          *slog.Logger
}

type AssistantConfig struct {
	APIKey          string
	APIBase         string
	AssistantID     string
	TranscribeModel string
	Poll            config.PollConfig
	Threads         domain.ThreadStore
	Logger          *slog.Logger
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientCfg.BaseURL = cfg.APIBase
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = openai.Whisper1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Assistant{
		client:          openai.NewClientWithConfig(clientCfg),
		assistantID:     cfg.AssistantID,
		transcribeModel: cfg.TranscribeModel,
		pollOpts:        pollOptions(cfg.Poll),
		threads:         cfg.Threads,
		logger:          cfg.Logger,
	}
}

func pollOptions(pc config.PollConfig) poll.Options {
	initial := time.Duration(pc.InitialIntervalMs) * time.Millisecond
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	max := time.Duration(pc.MaxIntervalMs) * time.Millisecond
	deadline := time.Duration(pc.DeadlineSeconds) * time.Second
	if deadline <= 0 {
		deadline = 60 * time.Second
	}

	var strategy poll.Strategy
	if pc.Strategy == "fixed" {
		strategy = poll.Fixed(initial)
	} else {
		strategy = poll.Exponential{Initial: initial, Max: max}
	}

	return poll.Options{
		Strategy: strategy,
		Deadline: deadline,
		Terminal: []string{string(openai.RunStatusCompleted)},
		Failing: []string{
			string(openai.RunStatusFailed),
			string(openai.RunStatusCancelled),
			string(openai.RunStatusExpired),
			string(openai.RunStatusRequiresAction),
			string(openai.RunStatusIncomplete),
		},
	}
}

func (a *Assistant) Name() string { return "assistant" }

func (a *Assistant) Chat(ctx context.Context, userID, platform, message string) (*domain.OutboundResponse, error) {
	threadID, err := a.ensureThread(ctx, userID, platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
	}

	_, err = a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})
	if isNotFound(err) {
		// The thread was deleted on the provider side; start over once.
		a.logger.Warn("assistant thread vanished, recreating", "user", userID, "platform", platform)
		if err := a.threads.DeleteThread(ctx, userID, platform); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
		}
		if threadID, err = a.ensureThread(ctx, userID, platform); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
		}
		_, err = a.client.CreateMessage(ctx, threadID, openai.MessageRequest{
			Role:    openai.ChatMessageRoleUser,
			Content: message,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
	}

	run, err := a.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: a.assistantID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
	}

	check := func(ctx context.Context) (string, struct{}, error) {
		r, err := a.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return "", struct{}{}, err
		}
		return string(r.Status), struct{}{}, nil
	}
	if _, err := poll.Poll(ctx, check, a.pollOpts); err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", domain.ErrChatProvider, run.ID, err)
	}

	return a.latestReply(ctx, threadID)
}

// ensureThread returns the provider thread for the pair, creating and
// persisting one when no mapping exists.
func (a *Assistant) ensureThread(ctx context.Context, userID, platform string) (string, error) {
	threadID, err := a.threads.Thread(ctx, userID, platform)
	if err != nil {
		return "", err
	}
	if threadID != "" {
		return threadID, nil
	}

	thread, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", err
	}
	if err := a.threads.SaveThread(ctx, userID, platform, thread.ID); err != nil {
		return "", err
	}
	a.logger.Info("assistant thread created", "user", userID, "platform", platform, "thread", thread.ID)
	return thread.ID, nil
}

// latestReply fetches the newest assistant message on the thread and maps its
// file citations.
func (a *Assistant) latestReply(ctx context.Context, threadID string) (*domain.OutboundResponse, error) {
	limit := 1
	order := "desc"
	list, err := a.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
	}
	if len(list.Messages) == 0 {
		return nil, fmt.Errorf("%w: run produced no messages", domain.ErrChatProvider)
	}

	resp := &domain.OutboundResponse{Kind: domain.ResponseText}
	for _, content := range list.Messages[0].Content {
		if content.Text == nil {
			continue
		}
		resp.Content += content.Text.Value
		resp.Citations = append(resp.Citations, a.citations(ctx, content.Text.Annotations)...)
	}
	return resp, nil
}

// messageAnnotation is the subset of the annotation object the gateway cares
// about. The client library surfaces annotations untyped, so they go through
// one JSON round trip.
type messageAnnotation struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	FileCitation struct {
		FileID string `json:"file_id"`
	} `json:"file_citation"`
}

func (a *Assistant) citations(ctx context.Context, annotations []any) []domain.Citation {
	var out []domain.Citation
	for _, raw := range annotations {
		buf, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var ann messageAnnotation
		if err := json.Unmarshal(buf, &ann); err != nil || ann.Type != "file_citation" {
			continue
		}

		source := ann.FileCitation.FileID
		if file, err := a.client.GetFile(ctx, ann.FileCitation.FileID); err == nil && file.FileName != "" {
			source = file.FileName
		}
		out = append(out, domain.Citation{Label: ann.Text, SourceName: source})
	}
	return out
}

func (a *Assistant) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("%w: empty audio", domain.ErrTranscription)
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	resp, err := a.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    a.transcribeModel,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrTranscription, err)
	}
	return resp.Text, nil
}

// ClearHistory deletes the provider thread and the local mapping; the next
// message starts a fresh thread.
func (a *Assistant) ClearHistory(ctx context.Context, userID, platform string) error {
	threadID, err := a.threads.Thread(ctx, userID, platform)
	if err != nil {
		return err
	}
	if threadID == "" {
		return nil
	}
	if _, err := a.client.DeleteThread(ctx, threadID); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete assistant thread: %w", err)
	}
	return a.threads.DeleteThread(ctx, userID, platform)
}

func (a *Assistant) CheckConnection(ctx context.Context) error {
	if _, err := a.client.RetrieveAssistant(ctx, a.assistantID); err != nil {
		return fmt.Errorf("assistant not reachable: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound
}
