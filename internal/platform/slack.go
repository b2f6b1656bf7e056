package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatrelay/internal/domain"
	"chatrelay/internal/signature"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const slackMaxMsgLen = 4000

// Slack implements domain.PlatformAdapter for the Slack Events API.
// Requests are verified with the v0 signing scheme over timestamp and body,
// and the url_verification handshake is answered through Challenge.
type Slack struct {
	signingSecret string
	client        *slack.Client
	botUID        string // the bot's own user ID, to avoid replying to self
	logger        *slog.Logger
	now           func() time.Time
}

type SlackConfig struct {
	SigningSecret string
	BotToken      string
	Logger        *slog.Logger
}

// NewSlack creates the adapter and resolves the bot's own user ID so its
// messages can be filtered out of incoming events.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	s := newSlackWithClient(cfg, slack.New(cfg.BotToken))

	authResp, err := s.client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)
	return s, nil
}

func newSlackWithClient(cfg SlackConfig, client *slack.Client) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		signingSecret: cfg.SigningSecret,
		client:        client,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) VerifyWebhook(body []byte, header http.Header) bool {
	return signature.VerifySlack(
		body,
		s.signingSecret,
		header.Get("X-Slack-Signature"),
		header.Get("X-Slack-Request-Timestamp"),
		s.now(),
	)
}

// Challenge answers the Events API url_verification handshake, which arrives
// as a POST body rather than query parameters.
func (s *Slack) Challenge(_ url.Values, body []byte) (string, bool) {
	var probe struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return "", false
	}
	if probe.Type != "url_verification" || probe.Challenge == "" {
		return "", false
	}
	return probe.Challenge, true
}

func (s *Slack) Parse(body []byte) ([]domain.InboundMessage, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	if event.Type != slackevents.CallbackEvent {
		return nil, nil
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Ignore the bot's own messages and message_changed subtypes.
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" {
			return nil, nil
		}
		return []domain.InboundMessage{s.inbound(ev.TimeStamp, ev.User, ev.Channel, ev.Text)}, nil

	case *slackevents.AppMentionEvent:
		if ev.User == s.botUID || ev.User == "" {
			return nil, nil
		}
		// Strip the leading <@UXXXX> mention.
		content := ev.Text
		if idx := strings.Index(content, ">"); idx >= 0 && strings.HasPrefix(content, "<@") {
			content = strings.TrimSpace(content[idx+1:])
		}
		return []domain.InboundMessage{s.inbound(ev.TimeStamp, ev.User, ev.Channel, content)}, nil
	}

	return nil, nil
}

func (s *Slack) inbound(id, user, channel, text string) domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:           id,
		Platform:     "slack",
		UserID:       user,
		ReplyContext: channel,
		ReceivedAt:   s.now(),
	}
	if text != "" {
		msg.Kind = domain.KindText
		msg.Text = text
	} else {
		msg.Kind = domain.KindUnsupported
	}
	return msg
}

func (s *Slack) Deliver(ctx context.Context, resp domain.OutboundResponse, replyContext string) error {
	for _, chunk := range splitMessage(resp.Content, slackMaxMsgLen) {
		_, _, err := s.client.PostMessageContext(
			ctx,
			replyContext,
			slack.MsgOptionText(chunk, false),
		)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrDelivery, err)
		}
	}
	return nil
}
