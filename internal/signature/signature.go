// Package signature verifies webhook HMAC signatures for the supported
// platform protocols. All comparisons are constant-time; malformed or missing
// input verifies false rather than erroring.
package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SlackTimestampWindow bounds how old a signed Slack request may be before
// it is rejected as a possible replay.
const SlackTimestampWindow = 5 * time.Minute

// VerifySHA256Hex checks a hex-encoded HMAC-SHA256 signature header of the
// form "<prefix><hex digest>", e.g. "sha256=ab12..." for Meta's
// X-Hub-Signature-256. Pass prefix "" when the header carries bare hex.
func VerifySHA256Hex(body []byte, secret, header, prefix string) bool {
	if secret == "" || header == "" {
		return false
	}
	if prefix != "" {
		if !strings.HasPrefix(header, prefix) {
			return false
		}
		header = header[len(prefix):]
	}
	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifySHA256Base64 checks a base64-encoded HMAC-SHA256 signature header,
// the scheme used by LINE's X-Line-Signature.
func VerifySHA256Base64(body []byte, secret, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifySHA1 checks a "sha1=<hex>" signature header, the legacy scheme used
// by Messenger and Instagram webhooks (X-Hub-Signature).
func VerifySHA1(body []byte, secret, header string) bool {
	if secret == "" {
		return false
	}
	const prefix = "sha1="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// VerifySlack checks Slack's versioned signing scheme: "v0=<hex>" over the
// base string "v0:<timestamp>:<body>". Requests timestamped outside
// SlackTimestampWindow of now are rejected.
func VerifySlack(body []byte, secret, sig, timestamp string, now time.Time) bool {
	if secret == "" || sig == "" || timestamp == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > SlackTimestampWindow || reqTime.Sub(now) > SlackTimestampWindow {
		return false
	}
	const prefix = "v0="
	if !strings.HasPrefix(sig, prefix) {
		return false
	}
	got, err := hex.DecodeString(sig[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// ConstantTimeEquals compares two tokens without leaking length-prefix
// timing, for platforms that use a shared secret header instead of an HMAC
// (Telegram's X-Telegram-Bot-Api-Secret-Token).
func ConstantTimeEquals(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}
