package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/internal/domain"
)

func metaSign1(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestMessenger_VerifyWebhook(t *testing.T) {
	m := NewMessenger(MessengerConfig{AppSecret: "secret"})
	body := []byte(`{"object":"page","entry":[]}`)

	h := http.Header{}
	h.Set("X-Hub-Signature", metaSign1(body, "secret"))
	if !m.VerifyWebhook(body, h) {
		t.Error("expected valid signature to verify")
	}

	h.Set("X-Hub-Signature", metaSign1(body, "wrong"))
	if m.VerifyWebhook(body, h) {
		t.Error("expected bad signature to fail")
	}
}

func TestMessenger_Parse_Text(t *testing.T) {
	m := NewMessenger(MessengerConfig{})

	body := []byte(`{"object":"page","entry":[{
		"id":"P1","time":1700000000000,
		"messaging":[{
			"sender":{"id":"U9"},
			"timestamp":1700000000000,
			"message":{"mid":"mid.1","text":"hey bot"}
		}]
	}]}`)

	msgs, err := m.Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Kind != domain.KindText || msgs[0].Text != "hey bot" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].UserID != "U9" || msgs[0].ReplyContext != "U9" {
		t.Errorf("unexpected sender: %+v", msgs[0])
	}
}

func TestMessenger_Parse_AudioAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("voice-bytes"))
	}))
	defer srv.Close()

	m := NewMessenger(MessengerConfig{})

	body := []byte(fmt.Sprintf(`{"object":"page","entry":[{
		"id":"P1",
		"messaging":[{
			"sender":{"id":"U9"},
			"timestamp":1700000000000,
			"message":{"mid":"mid.2","attachments":[
				{"type":"audio","payload":{"url":%q}}
			]}
		}]
	}]}`, srv.URL+"/audio"))

	msgs, err := m.Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Kind != domain.KindAudio {
		t.Fatalf("expected audio kind, got %v", msgs[0].Kind)
	}
	if string(msgs[0].Media) != "voice-bytes" {
		t.Errorf("unexpected media: %q", msgs[0].Media)
	}
}

func TestMessenger_Parse_UnsupportedAttachment(t *testing.T) {
	m := NewMessenger(MessengerConfig{})

	body := []byte(`{"object":"page","entry":[{
		"messaging":[{
			"sender":{"id":"U9"},
			"message":{"mid":"mid.3","attachments":[{"type":"image","payload":{"url":"x"}}]}
		}]
	}]}`)

	msgs, err := m.Parse(body)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Kind != domain.KindUnsupported {
		t.Fatalf("expected unsupported message, got %+v", msgs)
	}
}

func TestMessenger_Deliver(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("access_token"); got != "tok" {
			t.Errorf("unexpected access token %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode send body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMessenger(MessengerConfig{AccessToken: "tok", APIBase: srv.URL})

	err := m.Deliver(context.Background(), domain.OutboundResponse{Content: "hi"}, "U9")
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	recipient, _ := captured["recipient"].(map[string]any)
	if recipient["id"] != "U9" {
		t.Errorf("unexpected recipient: %v", captured["recipient"])
	}
}
