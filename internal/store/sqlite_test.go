package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendRecent_OrderAndLimit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		err := s.Append(ctx, domain.ChatTurn{
			UserID:    "u1",
			Platform:  "line",
			Role:      role,
			Content:   string(rune('a' + i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	turns, err := s.Recent(ctx, "u1", "line", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	// Most recent 3, oldest first: c, d, e.
	if turns[0].Content != "c" || turns[2].Content != "e" {
		t.Errorf("wrong order/window: %q %q %q", turns[0].Content, turns[1].Content, turns[2].Content)
	}
}

func TestRecent_PairIsolation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Append(ctx, domain.ChatTurn{UserID: "u1", Platform: "line", Role: domain.RoleUser, Content: "line msg"})
	s.Append(ctx, domain.ChatTurn{UserID: "u1", Platform: "slack", Role: domain.RoleUser, Content: "slack msg"})
	s.Append(ctx, domain.ChatTurn{UserID: "u2", Platform: "line", Role: domain.RoleUser, Content: "other user"})

	turns, err := s.Recent(ctx, "u1", "line", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Content != "line msg" {
		t.Fatalf("expected only u1/line turns, got %+v", turns)
	}
}

func TestRecent_Empty(t *testing.T) {
	s := testStore(t)
	turns, err := s.Recent(context.Background(), "nobody", "nowhere", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected no turns, got %d", len(turns))
	}
}

func TestClear(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Append(ctx, domain.ChatTurn{UserID: "u1", Platform: "line", Role: domain.RoleUser, Content: "hi"})
	s.Append(ctx, domain.ChatTurn{UserID: "u1", Platform: "slack", Role: domain.RoleUser, Content: "keep"})

	if err := s.Clear(ctx, "u1", "line"); err != nil {
		t.Fatal(err)
	}

	turns, _ := s.Recent(ctx, "u1", "line", 10)
	if len(turns) != 0 {
		t.Fatal("cleared pair should have no turns")
	}
	turns, _ = s.Recent(ctx, "u1", "slack", 10)
	if len(turns) != 1 {
		t.Fatal("other platform should be untouched")
	}
}

func TestThreads_SaveGetDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tid, err := s.Thread(ctx, "u1", "line")
	if err != nil {
		t.Fatal(err)
	}
	if tid != "" {
		t.Fatalf("expected empty thread, got %q", tid)
	}

	if err := s.SaveThread(ctx, "u1", "line", "thread_abc"); err != nil {
		t.Fatal(err)
	}
	tid, _ = s.Thread(ctx, "u1", "line")
	if tid != "thread_abc" {
		t.Fatalf("expected thread_abc, got %q", tid)
	}

	// Upsert replaces.
	if err := s.SaveThread(ctx, "u1", "line", "thread_def"); err != nil {
		t.Fatal(err)
	}
	tid, _ = s.Thread(ctx, "u1", "line")
	if tid != "thread_def" {
		t.Fatalf("expected thread_def, got %q", tid)
	}

	if err := s.DeleteThread(ctx, "u1", "line"); err != nil {
		t.Fatal(err)
	}
	tid, _ = s.Thread(ctx, "u1", "line")
	if tid != "" {
		t.Fatalf("expected empty after delete, got %q", tid)
	}
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Append(ctx, domain.ChatTurn{
		UserID: "u1", Platform: "line", Role: domain.RoleUser,
		Content: "ancient", CreatedAt: time.Now().AddDate(0, 0, -400),
	})
	s.Append(ctx, domain.ChatTurn{
		UserID: "u1", Platform: "line", Role: domain.RoleUser,
		Content: "recent",
	})

	removed, err := s.Prune(ctx, 365)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned, got %d", removed)
	}

	turns, _ := s.Recent(ctx, "u1", "line", 10)
	if len(turns) != 1 || turns[0].Content != "recent" {
		t.Fatalf("expected only the recent turn, got %+v", turns)
	}
}

func TestPing(t *testing.T) {
	s := testStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping should succeed: %v", err)
	}
}
