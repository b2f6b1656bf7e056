package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/signature"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMsgLen = 4000

// Telegram implements domain.PlatformAdapter for Telegram Bot webhooks.
// Telegram does not HMAC-sign payloads; it echoes back the secret token the
// bot registered with setWebhook in X-Telegram-Bot-Api-Secret-Token, which
// is compared in constant time. One webhook call carries one update.
type Telegram struct {
	secretToken string
	allowFrom   []int64 // empty = allow all
	bot         *tgbotapi.BotAPI
	http        *http.Client
	logger      *slog.Logger
}

type TelegramConfig struct {
	Token       string
	SecretToken string
	AllowFrom   []string // sender IDs as strings
	Logger      *slog.Logger
}

// NewTelegram connects to the Bot API (getMe) and returns the adapter.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	t := newTelegramWithBot(cfg, bot)
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return t, nil
}

func newTelegramWithBot(cfg TelegramConfig, bot *tgbotapi.BotAPI) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	return &Telegram{
		secretToken: cfg.SecretToken,
		allowFrom:   allowed,
		bot:         bot,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// VerifyWebhook compares the echoed secret token. With no secret configured
// there is nothing to check and the update is accepted as-is.
func (t *Telegram) VerifyWebhook(_ []byte, header http.Header) bool {
	if t.secretToken == "" {
		return true
	}
	return signature.ConstantTimeEquals(header.Get("X-Telegram-Bot-Api-Secret-Token"), t.secretToken)
}

func (t *Telegram) Parse(body []byte) ([]domain.InboundMessage, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return nil, nil
	}

	from := update.Message.From
	if !t.isAllowed(from.ID) {
		t.logger.Warn("dropping update from unauthorized telegram user", "user_id", from.ID)
		return nil, nil
	}

	msg := domain.InboundMessage{
		ID:           strconv.Itoa(update.Message.MessageID),
		Platform:     "telegram",
		UserID:       strconv.FormatInt(from.ID, 10),
		DisplayName:  strings.TrimSpace(from.FirstName + " " + from.LastName),
		ReplyContext: strconv.FormatInt(update.Message.Chat.ID, 10),
		ReceivedAt:   time.Unix(int64(update.Message.Date), 0),
	}

	switch {
	case update.Message.Text != "":
		msg.Kind = domain.KindText
		msg.Text = update.Message.Text
	case update.Message.Voice != nil:
		media, err := t.downloadVoice(update.Message.Voice.FileID)
		if err != nil {
			t.logger.Warn("telegram voice download failed", "file_id", update.Message.Voice.FileID, "err", err)
			msg.Kind = domain.KindUnsupported
		} else {
			msg.Kind = domain.KindAudio
			msg.Media = media
			msg.MediaName = "voice.ogg"
		}
	default:
		msg.Kind = domain.KindUnsupported
	}

	return []domain.InboundMessage{msg}, nil
}

func (t *Telegram) Deliver(ctx context.Context, resp domain.OutboundResponse, replyContext string) error {
	chatID, err := strconv.ParseInt(replyContext, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid chat ID %q", domain.ErrDelivery, replyContext)
	}

	for _, chunk := range splitMessage(resp.Content, telegramMaxMsgLen) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
		}
	}
	return nil
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// downloadVoice fetches a voice note through the Bot API file endpoint.
func (t *Telegram) downloadVoice(fileID string) ([]byte, error) {
	fileURL, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	resp, err := t.http.Get(fileURL)
	if err != nil {
		return nil, err
	}
	return readResponse(resp)
}
