package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/signature"
)

const (
	messengerAPIBase   = "https://graph.facebook.com/v21.0"
	messengerMaxMsgLen = 2000
)

// Messenger implements domain.PlatformAdapter for Meta's Messenger and
// Instagram messaging webhooks. These still sign with the legacy
// X-Hub-Signature header ("sha1=<hex>"). Audio attachments carry a direct
// download URL, unlike WhatsApp's media-ID indirection.
type Messenger struct {
	appSecret   string
	accessToken string
	verifyToken string
	apiBase     string
	client      *http.Client
	logger      *slog.Logger
}

type MessengerConfig struct {
	AppSecret   string
	AccessToken string
	VerifyToken string
	APIBase     string // override for tests
	Logger      *slog.Logger
}

func NewMessenger(cfg MessengerConfig) *Messenger {
	if cfg.APIBase == "" {
		cfg.APIBase = messengerAPIBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Messenger{
		appSecret:   cfg.AppSecret,
		accessToken: cfg.AccessToken,
		verifyToken: cfg.VerifyToken,
		apiBase:     cfg.APIBase,
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      cfg.Logger,
	}
}

func (m *Messenger) Name() string { return "messenger" }

func (m *Messenger) VerifyWebhook(body []byte, header http.Header) bool {
	return signature.VerifySHA1(body, m.appSecret, header.Get("X-Hub-Signature"))
}

// Challenge answers Meta's GET verification handshake.
func (m *Messenger) Challenge(query url.Values, _ []byte) (string, bool) {
	if query == nil {
		return "", false
	}
	if query.Get("hub.mode") == "subscribe" && query.Get("hub.verify_token") == m.verifyToken {
		return query.Get("hub.challenge"), true
	}
	return "", false
}

// --- Webhook payload types ---

type fbPayload struct {
	Object string    `json:"object"`
	Entry  []fbEntry `json:"entry"`
}

type fbEntry struct {
	ID        string            `json:"id"`
	Time      int64             `json:"time"`
	Messaging []json.RawMessage `json:"messaging"`
}

type fbMessaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"` // milliseconds
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

func (m *Messenger) Parse(body []byte) ([]domain.InboundMessage, error) {
	var payload fbPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	var msgs []domain.InboundMessage
	for _, entry := range payload.Entry {
		for i, raw := range entry.Messaging {
			var ev fbMessaging
			if err := json.Unmarshal(raw, &ev); err != nil {
				m.logger.Warn("skipping malformed messenger event", "entry", entry.ID, "index", i, "err", err)
				continue
			}
			if ev.Message == nil || ev.Sender.ID == "" {
				continue
			}

			msg := domain.InboundMessage{
				ID:           ev.Message.MID,
				Platform:     "messenger",
				UserID:       ev.Sender.ID,
				ReplyContext: ev.Sender.ID,
				ReceivedAt:   time.UnixMilli(ev.Timestamp),
			}

			switch {
			case ev.Message.Text != "":
				msg.Kind = domain.KindText
				msg.Text = ev.Message.Text
			case len(ev.Message.Attachments) > 0 && ev.Message.Attachments[0].Type == "audio":
				media, err := m.downloadAudio(ev.Message.Attachments[0].Payload.URL)
				if err != nil {
					m.logger.Warn("messenger audio download failed", "mid", ev.Message.MID, "err", err)
					msg.Kind = domain.KindUnsupported
				} else {
					msg.Kind = domain.KindAudio
					msg.Media = media
					msg.MediaName = "voice.mp4"
				}
			default:
				msg.Kind = domain.KindUnsupported
			}

			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

func (m *Messenger) Deliver(ctx context.Context, resp domain.OutboundResponse, replyContext string) error {
	if replyContext == "" {
		return fmt.Errorf("%w: missing recipient", domain.ErrDelivery)
	}
	for _, chunk := range splitMessage(resp.Content, messengerMaxMsgLen) {
		if err := m.sendText(ctx, replyContext, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (m *Messenger) sendText(ctx context.Context, recipientID, text string) error {
	payload, err := json.Marshal(map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}

	sendURL := m.apiBase + "/me/messages?access_token=" + url.QueryEscape(m.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: messenger API %d: %s", domain.ErrDelivery, resp.StatusCode, string(respBody))
	}
	return nil
}

// downloadAudio fetches an attachment by its CDN URL.
func (m *Messenger) downloadAudio(mediaURL string) ([]byte, error) {
	if mediaURL == "" {
		return nil, fmt.Errorf("empty attachment url")
	}
	resp, err := m.client.Get(mediaURL)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}
