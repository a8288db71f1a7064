package verification

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Veriff webhook headers
const (
	HeaderAuthClient    = "X-AUTH-CLIENT"
	HeaderHMACSignature = "X-HMAC-SIGNATURE"
)

// WebhookHeaders are the authentication headers sent along a webhook.
type WebhookHeaders struct {
	AuthClient string
	Signature  string
}

// Sign returns the hex encoded HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckSignature reports whether the headers authenticate body.
func CheckSignature(apiKey, secret string, headers WebhookHeaders, body []byte) bool {
	keyOK := subtle.ConstantTimeCompare([]byte(headers.AuthClient), []byte(apiKey)) == 1
	want := Sign(secret, body)
	got := strings.ToLower(strings.TrimSpace(headers.Signature))
	sigOK := subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
	return keyOK && sigOK && apiKey != ""
}

// Notification is a webhook payload, classified.
type Notification struct {
	Kind              string
	ProviderSessionID string
	AttemptID         string
	VendorData        string
	Code              int
	Action            string // event action or decision status
	Reason            string
	OccurredAt        time.Time
}

// DedupKey identifies a notification across redeliveries.
func (n Notification) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d:%s", n.Kind, n.ProviderSessionID, n.Code, n.AttemptID)
}

// ParseNotification classifies a webhook body.
// Decisions carry `verification.id` and `verification.status`; events carry `id`, `action` and `code`.
// Anything else is of KindUnknown.
func ParseNotification(body []byte) Notification {
	if !gjson.ValidBytes(body) {
		return Notification{Kind: KindUnknown}
	}
	res := gjson.ParseBytes(body)

	verif := res.Get("verification")
	if verif.IsObject() && verif.Get("id").String() != "" && verif.Get("status").String() != "" {
		return Notification{
			Kind:              KindDecision,
			ProviderSessionID: verif.Get("id").String(),
			AttemptID:         verif.Get("attemptId").String(),
			VendorData:        verif.Get("vendorData").String(),
			Code:              int(verif.Get("code").Int()),
			Action:            verif.Get("status").String(),
			Reason:            verif.Get("reason").String(),
			OccurredAt:        parseTime(verif.Get("decisionTime").String()),
		}
	}

	if id := res.Get("id").String(); id != "" && res.Get("action").Exists() && res.Get("code").Exists() {
		return Notification{
			Kind:              KindEvent,
			ProviderSessionID: id,
			AttemptID:         res.Get("attemptId").String(),
			VendorData:        res.Get("vendorData").String(),
			Code:              int(res.Get("code").Int()),
			Action:            res.Get("action").String(),
		}
	}

	return Notification{Kind: KindUnknown}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
