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
	whatsappAPIBase   = "https://graph.facebook.com/v21.0"
	whatsappMaxMsgLen = 4096
)

// WhatsApp implements domain.PlatformAdapter for the WhatsApp Business
// Cloud API. Signature: X-Hub-Signature-256 ("sha256=<hex>"). Audio arrives
// as a media ID that must be resolved to a download URL first.
type WhatsApp struct {
	appSecret     string
	accessToken   string
	verifyToken   string
	phoneNumberID string
	apiBase       string
	client        *http.Client
	logger        *slog.Logger
}

type WhatsAppConfig struct {
	AppSecret     string
	AccessToken   string
	VerifyToken   string
	PhoneNumberID string
	APIBase       string // override for tests
	Logger        *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.APIBase == "" {
		cfg.APIBase = whatsappAPIBase
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhatsApp{
		appSecret:     cfg.AppSecret,
		accessToken:   cfg.AccessToken,
		verifyToken:   cfg.VerifyToken,
		phoneNumberID: cfg.PhoneNumberID,
		apiBase:       cfg.APIBase,
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        cfg.Logger,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) VerifyWebhook(body []byte, header http.Header) bool {
	return signature.VerifySHA256Hex(body, w.appSecret, header.Get("X-Hub-Signature-256"), "sha256=")
}

// Challenge answers Meta's GET verification handshake.
func (w *WhatsApp) Challenge(query url.Values, _ []byte) (string, bool) {
	if query == nil {
		return "", false
	}
	if query.Get("hub.mode") == "subscribe" && query.Get("hub.verify_token") == w.verifyToken {
		return query.Get("hub.challenge"), true
	}
	return "", false
}

// --- Webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string            `json:"id"`
	Changes []json.RawMessage `json:"changes"`
}

type waChange struct {
	Field string  `json:"field"`
	Value waValue `json:"value"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From      string   `json:"from"`
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`
	Text      *waText  `json:"text,omitempty"`
	Audio     *waMedia `json:"audio,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
}

func (w *WhatsApp) Parse(body []byte) ([]domain.InboundMessage, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}

	var msgs []domain.InboundMessage
	for _, entry := range payload.Entry {
		for i, raw := range entry.Changes {
			var change waChange
			if err := json.Unmarshal(raw, &change); err != nil {
				w.logger.Warn("skipping malformed whatsapp change", "entry", entry.ID, "index", i, "err", err)
				continue
			}

			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, wm := range change.Value.Messages {
				msg := domain.InboundMessage{
					ID:           wm.ID,
					Platform:     "whatsapp",
					UserID:       wm.From,
					DisplayName:  names[wm.From],
					ReplyContext: wm.From,
					ReceivedAt:   time.Now(),
				}

				switch {
				case wm.Type == "text" && wm.Text != nil:
					msg.Kind = domain.KindText
					msg.Text = wm.Text.Body
				case wm.Type == "audio" && wm.Audio != nil:
					media, err := w.downloadMedia(wm.Audio.ID)
					if err != nil {
						w.logger.Warn("whatsapp audio download failed", "media_id", wm.Audio.ID, "err", err)
						msg.Kind = domain.KindUnsupported
					} else {
						msg.Kind = domain.KindAudio
						msg.Media = media
						msg.MediaName = "voice.ogg"
					}
				default:
					msg.Kind = domain.KindUnsupported
				}

				msgs = append(msgs, msg)
			}
		}
	}
	return msgs, nil
}

func (w *WhatsApp) Deliver(ctx context.Context, resp domain.OutboundResponse, replyContext string) error {
	if replyContext == "" {
		return fmt.Errorf("%w: missing recipient", domain.ErrDelivery)
	}
	for _, chunk := range splitMessage(resp.Content, whatsappMaxMsgLen) {
		if err := w.sendText(ctx, replyContext, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (w *WhatsApp) sendText(ctx context.Context, to, text string) error {
	sendURL := fmt.Sprintf("%s/%s/messages", w.apiBase, w.phoneNumberID)

	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: whatsapp API %d: %s", domain.ErrDelivery, resp.StatusCode, string(respBody))
	}
	return nil
}

// downloadMedia resolves a media ID to its download URL, then fetches the
// bytes. Both calls need the bearer token.
func (w *WhatsApp) downloadMedia(mediaID string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, w.apiBase+"/"+url.PathEscape(mediaID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.accessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	meta, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	var info struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(meta, &info); err != nil {
		return nil, fmt.Errorf("media lookup: %w", err)
	}
	if info.URL == "" {
		return nil, fmt.Errorf("media lookup: empty url for %s", mediaID)
	}

	dlReq, err := http.NewRequest(http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, err
	}
	dlReq.Header.Set("Authorization", "Bearer "+w.accessToken)

	dlResp, err := w.client.Do(dlReq)
	if err != nil {
		return nil, err
	}
	return readResponse(dlResp)
}
