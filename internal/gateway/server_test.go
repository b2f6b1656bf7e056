package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/platform"
	"chatrelay/internal/ratelimit"
)

// challengeAdapter adds the Meta-style GET handshake to mockAdapter.
type challengeAdapter struct {
	mockAdapter
	verifyToken string
}

func (a *challengeAdapter) Challenge(query url.Values, _ []byte) (string, bool) {
	if query.Get("hub.mode") == "subscribe" && query.Get("hub.verify_token") == a.verifyToken {
		return query.Get("hub.challenge"), true
	}
	return "", false
}

func testServer(t *testing.T, adapters ...domain.PlatformAdapter) (*Server, *memStore) {
	t.Helper()

	reg := platform.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}

	store := &memStore{}
	model := &mockModel{}
	coord := NewCoordinator(CoordinatorConfig{Model: model, Store: store})

	cfg := config.Defaults()
	srv := NewServer(ServerConfig{
		Config:    cfg,
		Platforms: reg,
		Coord:     coord,
		Model:     model,
		Store:     store,
	})
	return srv, store
}

func TestServer_Webhook_Dispatch(t *testing.T) {
	adapter := &mockAdapter{
		verifyOK: true,
		parsed: []domain.InboundMessage{
			textMessage("one"),
			textMessage("two"),
		},
	}
	srv, store := testServer(t, adapter)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mock", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["received"] != 2 {
		t.Errorf("expected 2 received, got %d", resp["received"])
	}

	srv.coord.Wait()
	adapter.mu.Lock()
	delivered := len(adapter.delivered)
	adapter.mu.Unlock()
	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}
	if store.count() != 4 {
		t.Errorf("expected 4 persisted turns, got %d", store.count())
	}
}

func TestServer_Webhook_SignatureRejected(t *testing.T) {
	adapter := &mockAdapter{verifyOK: false}
	srv, _ := testServer(t, adapter)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mock", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestServer_Webhook_UnknownPlatform(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/discord", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestServer_Webhook_BadPayload(t *testing.T) {
	adapter := &mockAdapter{verifyOK: true, parseErr: domain.ErrParse}
	srv, _ := testServer(t, adapter)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mock", strings.NewReader(`garbage`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServer_Webhook_RateLimited(t *testing.T) {
	adapter := &mockAdapter{verifyOK: true}
	srv, _ := testServer(t, adapter)
	srv.limiter = ratelimit.NewClassLimiter(map[string]ratelimit.Class{
		config.ClassWebhook: {Limit: 1, Window: time.Minute},
	})

	h := srv.Handler()
	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/webhooks/mock", strings.NewReader(`{}`)))
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/webhooks/mock", strings.NewReader(`{}`)))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be limited, got %d", second.Code)
	}
}

func TestServer_Health_RateLimited(t *testing.T) {
	srv, _ := testServer(t)
	srv.limiter = ratelimit.NewClassLimiter(map[string]ratelimit.Class{
		config.ClassGeneral: {Limit: 1, Window: time.Minute},
	})

	h := srv.Handler()
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i+1, want, rec.Code)
		}
	}
}

func TestServer_Challenge_GET(t *testing.T) {
	adapter := &challengeAdapter{verifyToken: "vt"}
	srv, _ := testServer(t, adapter)

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/mock?hub.mode=subscribe&hub.verify_token=vt&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "12345" {
		t.Errorf("expected challenge echo, got %q", rec.Body.String())
	}

	bad := httptest.NewRequest(http.MethodGet,
		"/webhooks/mock?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	badRec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(badRec, bad)
	if badRec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong token, got %d", badRec.Code)
	}
}

func TestServer_TestSend(t *testing.T) {
	srv, store := testServer(t)

	body := strings.NewReader(`{"platform": "test", "userId": "u1", "text": "ping"}`)
	req := httptest.NewRequest(http.MethodPost, "/test/send", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp testSendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State != string(StateResponded) {
		t.Errorf("expected RESPONDED, got %q", resp.State)
	}
	if resp.Response != "mock reply" {
		t.Errorf("unexpected response %q", resp.Response)
	}
	if store.count() != 2 {
		t.Errorf("expected the test exchange persisted, got %d turns", store.count())
	}
}

func TestServer_TestSend_RequiresText(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/test/send", strings.NewReader(`{"userId": "u1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	srv.model = &mockModel{healthErr: domain.ErrChatProvider}
	degraded := httptest.NewRecorder()
	srv.Handler().ServeHTTP(degraded, httptest.NewRequest(http.MethodGet, "/health", nil))
	if degraded.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when model is down, got %d", degraded.Code)
	}
}
