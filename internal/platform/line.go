package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/signature"
)

const (
	lineAPIBase     = "https://api.line.me"
	lineDataAPIBase = "https://api-data.line.me"
	lineMaxMsgLen   = 5000
	lineMaxMessages = 5 // reply API cap per call
)

// Line implements domain.PlatformAdapter for the LINE Messaging API.
// Webhooks are signed with a base64 HMAC-SHA256 in X-Line-Signature; replies
// go through the reply endpoint using the event's reply token.
type Line struct {
	channelSecret string
	accessToken   string
	apiBase       string
	dataAPIBase   string
	client        *http.Client
	logger        *slog.Logger
}

type LineConfig struct {
	ChannelSecret string
	AccessToken   string
	APIBase       string // override for tests
	DataAPIBase   string // override for tests
	Logger        *slog.Logger
}

func NewLine(cfg LineConfig) *Line {
	if cfg.APIBase == "" {
		cfg.APIBase = lineAPIBase
	}
	if cfg.DataAPIBase == "" {
		cfg.DataAPIBase = lineDataAPIBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Line{
		channelSecret: cfg.ChannelSecret,
		accessToken:   cfg.AccessToken,
		apiBase:       cfg.APIBase,
		dataAPIBase:   cfg.DataAPIBase,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        cfg.Logger,
	}
}

func (l *Line) Name() string { return "line" }

func (l *Line) VerifyWebhook(body []byte, header http.Header) bool {
	return signature.VerifySHA256Base64(body, l.channelSecret, header.Get("X-Line-Signature"))
}

// Webhook payload shapes. Events are kept raw so one malformed event cannot
// abort its siblings.
type lineWebhook struct {
	Destination string            `json:"destination"`
	Events      []json.RawMessage `json:"events"`
}

type lineEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Timestamp  int64  `json:"timestamp"` // milliseconds
	Source     struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

func (l *Line) Parse(body []byte) ([]domain.InboundMessage, error) {
	var payload lineWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	var msgs []domain.InboundMessage
	for i, raw := range payload.Events {
		var ev lineEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			l.logger.Warn("skipping malformed line event", "index", i, "err", err)
			continue
		}
		if ev.Type != "message" || ev.Source.UserID == "" {
			continue
		}

		msg := domain.InboundMessage{
			ID:           ev.Message.ID,
			Platform:     "line",
			UserID:       ev.Source.UserID,
			ReplyContext: ev.ReplyToken,
			ReceivedAt:   time.UnixMilli(ev.Timestamp),
		}

		switch ev.Message.Type {
		case "text":
			msg.Kind = domain.KindText
			msg.Text = ev.Message.Text
		case "audio":
			media, err := l.downloadContent(ev.Message.ID)
			if err != nil {
				l.logger.Warn("line audio download failed", "message_id", ev.Message.ID, "err", err)
				msg.Kind = domain.KindUnsupported
			} else {
				msg.Kind = domain.KindAudio
				msg.Media = media
				msg.MediaName = "voice.m4a"
			}
		default:
			msg.Kind = domain.KindUnsupported
		}

		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (l *Line) Deliver(ctx context.Context, resp domain.OutboundResponse, replyContext string) error {
	if replyContext == "" {
		return fmt.Errorf("%w: missing reply token", domain.ErrDelivery)
	}

	chunks := splitMessage(resp.Content, lineMaxMsgLen)
	if len(chunks) > lineMaxMessages {
		chunks = chunks[:lineMaxMessages]
	}

	type lineTextMessage struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	messages := make([]lineTextMessage, 0, len(chunks))
	for _, c := range chunks {
		messages = append(messages, lineTextMessage{Type: "text", Text: c})
	}

	payload, err := json.Marshal(map[string]any{
		"replyToken": replyContext,
		"messages":   messages,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.apiBase+"/v2/bot/message/reply", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.accessToken)

	httpResp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: line reply returned %d", domain.ErrDelivery, httpResp.StatusCode)
	}
	return nil
}

// downloadContent fetches a message's media bytes from the data API.
func (l *Line) downloadContent(messageID string) ([]byte, error) {
	u := l.dataAPIBase + "/v2/bot/message/" + url.PathEscape(messageID) + "/content"

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+l.accessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}
