package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"chatrelay/internal/config"
	"chatrelay/internal/domain"
	"chatrelay/internal/metrics"
	"chatrelay/internal/platform"
	"chatrelay/internal/ratelimit"

	"github.com/google/uuid"
)

const maxWebhookBody = 1 << 20 // platforms never legitimately exceed 1 MiB

// Server is the HTTP surface: webhook ingestion, the loopback test endpoint,
// health, and metrics.
type Server struct {
	cfg       *config.Config
	platforms *platform.Registry
	coord     *Coordinator
	limiter   *ratelimit.ClassLimiter
	model     domain.ModelAdapter
	store     domain.ConversationStore
	metrics   *metrics.Metrics
	logger    *slog.Logger
	httpSrv   *http.Server
}

type ServerConfig struct {
	Config    *config.Config
	Platforms *platform.Registry
	Coord     *Coordinator
	Limiter   *ratelimit.ClassLimiter
	Model     domain.ModelAdapter
	Store     domain.ConversationStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg:       cfg.Config,
		platforms: cfg.Platforms,
		coord:     cfg.Coord,
		limiter:   cfg.Limiter,
		model:     cfg.Model,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Handler builds the route table. Exposed separately from Start for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{platform}", s.handleWebhook)
	mux.HandleFunc("GET /webhooks/{platform}", s.handleChallenge)
	mux.HandleFunc("POST /test/send", s.handleTestSend)
	mux.Handle("GET /health", s.limitGeneral(http.HandlerFunc(s.handleHealth)))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.limitGeneral(s.metrics.Handler()))
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully and drains
// in-flight messages.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("gateway listening", "addr", addr, "platforms", s.platforms.Names())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.coord.Wait()
	return nil
}

// handleWebhook is the POST ingestion path: rate limit, adapter lookup,
// signature check, challenge handshake, parse, dispatch.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("platform")

	// Cheapest check first; a limited caller costs no signature work.
	if !s.allow(config.ClassWebhook, name) {
		s.countWebhook(name, "rate_limited")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	adapter, ok := s.platforms.Get(name)
	if !ok {
		s.countWebhook(name, "unknown_platform")
		http.Error(w, "Unknown platform", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.countWebhook(name, "bad_payload")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !adapter.VerifyWebhook(body, r.Header) {
		s.countWebhook(name, "signature_rejected")
		s.logger.Warn("webhook signature rejected", "platform", name)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// Slack sends its url_verification handshake as a signed POST.
	if ch, ok := adapter.(domain.Challenger); ok {
		if echo, ok := ch.Challenge(r.URL.Query(), body); ok {
			s.countWebhook(name, "ok")
			fmt.Fprint(w, html.EscapeString(echo))
			return
		}
	}

	msgs, err := adapter.Parse(body)
	if err != nil {
		s.countWebhook(name, "bad_payload")
		s.logger.Warn("webhook parse failed", "platform", name, "err", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		s.coord.Dispatch(adapter, msg)
	}

	s.countWebhook(name, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"received": len(msgs)})
}

// handleChallenge answers Meta's GET verification handshake.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("platform")

	if !s.allow(config.ClassWebhook, name) {
		s.countWebhook(name, "rate_limited")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	adapter, ok := s.platforms.Get(name)
	if !ok {
		s.countWebhook(name, "unknown_platform")
		http.Error(w, "Unknown platform", http.StatusNotFound)
		return
	}

	ch, ok := adapter.(domain.Challenger)
	if !ok {
		http.Error(w, "Not supported", http.StatusMethodNotAllowed)
		return
	}
	echo, ok := ch.Challenge(r.URL.Query(), nil)
	if !ok {
		s.countWebhook(name, "signature_rejected")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	s.countWebhook(name, "ok")
	fmt.Fprint(w, html.EscapeString(echo))
}

type testSendRequest struct {
	Platform string `json:"platform"`
	UserID   string `json:"userId"`
	Text     string `json:"text"`
}

type testSendResponse struct {
	State    string            `json:"state"`
	Response string            `json:"response"`
	Citation []domain.Citation `json:"citations,omitempty"`
}

// handleTestSend pushes a synthetic message through the full pipeline and
// returns the reply inline, bypassing platform delivery.
func (s *Server) handleTestSend(w http.ResponseWriter, r *http.Request) {
	if !s.allow(config.ClassTest, clientHost(r)) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	var req testSendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = "test-user"
	}
	if req.Platform == "" {
		req.Platform = "test"
	}

	msg := domain.InboundMessage{
		ID:           uuid.NewString(),
		Platform:     req.Platform,
		UserID:       req.UserID,
		Kind:         domain.KindText,
		Text:         req.Text,
		ReplyContext: "loopback",
		ReceivedAt:   time.Now(),
	}

	capture := &captureAdapter{}
	state := s.coord.Route(r.Context(), capture, msg)

	writeJSON(w, http.StatusOK, testSendResponse{
		State:    string(state),
		Response: capture.response.Content,
		Citation: capture.response.Citations,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := http.StatusOK
	modelStatus := "ok"
	if err := s.model.CheckConnection(ctx); err != nil {
		modelStatus = err.Error()
		status = http.StatusServiceUnavailable
	}
	storeStatus := "ok"
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			storeStatus = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, map[string]string{
		"status": map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
		"model":  modelStatus,
		"store":  storeStatus,
	})
}

// limitGeneral applies the general class, keyed by client host, to the
// read-only endpoints outside the webhook path.
func (s *Server) limitGeneral(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(config.ClassGeneral, clientHost(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allow(class, identity string) bool {
	if s.limiter == nil {
		return true
	}
	ok := s.limiter.Allow(class, identity)
	if !ok && s.metrics != nil {
		s.metrics.RateLimited.WithLabelValues(class).Inc()
	}
	return ok
}

func (s *Server) countWebhook(platform, outcome string) {
	if s.metrics != nil {
		s.metrics.WebhookRequests.WithLabelValues(platform, outcome).Inc()
	}
}

// captureAdapter is the loopback platform behind /test/send.
type captureAdapter struct {
	response domain.OutboundResponse
}

func (c *captureAdapter) Name() string                                { return "loopback" }
func (c *captureAdapter) VerifyWebhook([]byte, http.Header) bool      { return true }
func (c *captureAdapter) Parse([]byte) ([]domain.InboundMessage, error) { return nil, nil }

func (c *captureAdapter) Deliver(_ context.Context, resp domain.OutboundResponse, _ string) error {
	c.response = resp
	return nil
}

func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
