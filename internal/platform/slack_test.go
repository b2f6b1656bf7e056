package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"chatrelay/internal/domain"
)

func slackSign(body []byte, secret, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func testSlack(secret string) *Slack {
	s := newSlackWithClient(SlackConfig{SigningSecret: secret}, nil)
	s.botUID = "UBOT"
	return s
}

func TestSlack_VerifyWebhook(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := testSlack("signsecret")
	s.now = func() time.Time { return now }

	body := []byte(`{"type":"event_callback"}`)
	ts := fmt.Sprintf("%d", now.Unix())

	h := http.Header{}
	h.Set("X-Slack-Request-Timestamp", ts)
	h.Set("X-Slack-Signature", slackSign(body, "signsecret", ts))
	if !s.VerifyWebhook(body, h) {
		t.Error("expected valid signature to verify")
	}

	h.Set("X-Slack-Signature", slackSign(body, "othersecret", ts))
	if s.VerifyWebhook(body, h) {
		t.Error("expected signature from wrong secret to fail")
	}

	stale := fmt.Sprintf("%d", now.Add(-10*time.Minute).Unix())
	h.Set("X-Slack-Request-Timestamp", stale)
	h.Set("X-Slack-Signature", slackSign(body, "signsecret", stale))
	if s.VerifyWebhook(body, h) {
		t.Error("expected stale timestamp to fail")
	}
}

func TestSlack_Challenge(t *testing.T) {
	s := testSlack("x")

	got, ok := s.Challenge(nil, []byte(`{"type":"url_verification","challenge":"c123","token":"t"}`))
	if !ok || got != "c123" {
		t.Fatalf("expected challenge echo, got %q ok=%v", got, ok)
	}

	if _, ok := s.Challenge(nil, []byte(`{"type":"event_callback"}`)); ok {
		t.Error("expected non-handshake body to be rejected")
	}
}

func TestSlack_Parse_MessageEvent(t *testing.T) {
	s := testSlack("x")

	body := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "message",
			"user": "U42",
			"channel": "C7",
			"ts": "1700000000.000100",
			"text": "hello bot"
		}
	}`)

	msgs, err := s.Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Kind != domain.KindText || m.Text != "hello bot" {
		t.Errorf("unexpected message: %+v", m)
	}
	if m.UserID != "U42" || m.ReplyContext != "C7" {
		t.Errorf("unexpected routing: %+v", m)
	}
}

func TestSlack_Parse_IgnoresOwnMessages(t *testing.T) {
	s := testSlack("x")

	body := []byte(`{
		"type": "event_callback",
		"event": {"type": "message", "user": "UBOT", "channel": "C7", "text": "echo"}
	}`)

	msgs, err := s.Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected own message to be dropped, got %+v", msgs)
	}
}

func TestSlack_Parse_AppMentionStripsPrefix(t *testing.T) {
	s := testSlack("x")

	body := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "app_mention",
			"user": "U42",
			"channel": "C7",
			"ts": "1700000001.000100",
			"text": "<@UBOT> what time is it"
		}
	}`)

	msgs, err := s.Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Text != "what time is it" {
		t.Errorf("expected mention prefix stripped, got %q", msgs[0].Text)
	}
}
