package model

import (
	"context"
	"sync"

	"chatrelay/internal/domain"
)

// memStore is an in-memory ConversationStore for adapter tests.
type memStore struct {
	mu    sync.Mutex
	turns []domain.ChatTurn
}

func (s *memStore) Append(_ context.Context, turn domain.ChatTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

func (s *memStore) Recent(_ context.Context, userID, platform string, limit int) ([]domain.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChatTurn
	for _, t := range s.turns {
		if t.UserID == userID && t.Platform == platform {
			out = append(out, t)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) Clear(_ context.Context, userID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.turns[:0]
	for _, t := range s.turns {
		if t.UserID != userID || t.Platform != platform {
			kept = append(kept, t)
		}
	}
	s.turns = kept
	return nil
}

func (s *memStore) Ping(context.Context) error { return nil }

// memThreads is an in-memory ThreadStore for assistant tests.
type memThreads struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemThreads() *memThreads { return &memThreads{m: make(map[string]string)} }

func (s *memThreads) Thread(_ context.Context, userID, platform string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[userID+"/"+platform], nil
}

func (s *memThreads) SaveThread(_ context.Context, userID, platform, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID+"/"+platform] = threadID
	return nil
}

func (s *memThreads) DeleteThread(_ context.Context, userID, platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, userID+"/"+platform)
	return nil
}
