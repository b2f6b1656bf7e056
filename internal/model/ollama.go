package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatrelay/internal/domain"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.1:8b"
	ollamaHTTPTimeout  = 120 * time.Second
)

// Ollama implements domain.ModelAdapter for a local or remote Ollama server.
// It has no transcription endpoint, so audio messages fail with
// ErrTranscription and the coordinator falls back.
type Ollama struct {
	apiBase      string
	model        string
	systemPrompt string
	store        domain.ConversationStore
	maxHistory   int
	client       *http.Client
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	Model        string
	SystemPrompt string
	Store        domain.ConversationStore
	MaxHistory   int
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultModel
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 40
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		apiBase:      cfg.APIBase,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		store:        cfg.Store,
		maxHistory:   cfg.MaxHistory,
		client:       &http.Client{Timeout: ollamaHTTPTimeout},
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
}

func (o *Ollama) Chat(ctx context.Context, userID, platform, message string) (*domain.OutboundResponse, error) {
	msgs := make([]ollamaMsg, 0, o.maxHistory+2)
	if o.systemPrompt != "" {
		msgs = append(msgs, ollamaMsg{Role: "system", Content: o.systemPrompt})
	}

	if o.store != nil {
		history, err := o.store.Recent(ctx, userID, platform, o.maxHistory)
		if err != nil {
			o.logger.Warn("history load failed", "user", userID, "platform", platform, "err", err)
		}
		for _, turn := range history {
			msgs = append(msgs, ollamaMsg{Role: turn.Role, Content: turn.Content})
		}
	}
	msgs = append(msgs, ollamaMsg{Role: domain.RoleUser, Content: message})

	body, err := json.Marshal(ollamaChatRequest{Model: o.model, Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrChatProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChatProvider, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("%w: ollama returned %d: %s", domain.ErrChatProvider, httpResp.StatusCode, string(respBody))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrChatProvider, err)
	}

	return &domain.OutboundResponse{
		Content: chatResp.Message.Content,
		Kind:    domain.ResponseText,
	}, nil
}

func (o *Ollama) Transcribe(context.Context, []byte, string) (string, error) {
	return "", fmt.Errorf("%w: ollama has no transcription endpoint", domain.ErrTranscription)
}

func (o *Ollama) ClearHistory(ctx context.Context, userID, platform string) error {
	if o.store == nil {
		return nil
	}
	return o.store.Clear(ctx, userID, platform)
}

func (o *Ollama) CheckConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}
