package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

func TestOllama_Chat(t *testing.T) {
	var captured ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMsg{Role: "assistant", Content: "pong"},
			Done:    true,
		})
	}))
	defer srv.Close()

	store := &memStore{}
	store.Append(context.Background(), domain.ChatTurn{
		UserID: "u1", Platform: "telegram", Role: domain.RoleUser,
		Content: "earlier question", CreatedAt: time.Now(),
	})
	store.Append(context.Background(), domain.ChatTurn{
		UserID: "u1", Platform: "telegram", Role: domain.RoleAssistant,
		Content: "earlier answer", CreatedAt: time.Now(),
	})

	o := NewOllama(OllamaConfig{
		APIBase:      srv.URL,
		SystemPrompt: "be brief",
		Store:        store,
		MaxHistory:   10,
	})

	resp, err := o.Chat(context.Background(), "u1", "telegram", "ping")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "pong" {
		t.Errorf("unexpected content %q", resp.Content)
	}

	// system + 2 history turns + current message
	if len(captured.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(captured.Messages), captured.Messages)
	}
	if captured.Messages[0].Role != "system" || captured.Messages[0].Content != "be brief" {
		t.Errorf("expected system prompt first, got %+v", captured.Messages[0])
	}
	if captured.Messages[1].Content != "earlier question" || captured.Messages[2].Content != "earlier answer" {
		t.Errorf("history out of order: %+v", captured.Messages)
	}
	if last := captured.Messages[3]; last.Role != domain.RoleUser || last.Content != "ping" {
		t.Errorf("expected current message last, got %+v", last)
	}
}

func TestOllama_Chat_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL})
	_, err := o.Chat(context.Background(), "u1", "telegram", "ping")
	if !errors.Is(err, domain.ErrChatProvider) {
		t.Fatalf("expected ErrChatProvider, got %v", err)
	}
}

func TestOllama_Transcribe_Unsupported(t *testing.T) {
	o := NewOllama(OllamaConfig{})
	_, err := o.Transcribe(context.Background(), []byte("audio"), "voice.ogg")
	if !errors.Is(err, domain.ErrTranscription) {
		t.Fatalf("expected ErrTranscription, got %v", err)
	}
}

func TestOllama_CheckConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL})
	if err := o.CheckConnection(context.Background()); err != nil {
		t.Fatalf("CheckConnection: %v", err)
	}
}
