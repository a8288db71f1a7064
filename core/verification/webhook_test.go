package verification

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckSignature(t *testing.T) {
	body := []byte(`{"id":"sess-1","action":"started","code":7001}`)
	valid := WebhookHeaders{AuthClient: "key", Signature: Sign("secret", body)}

	tests := []struct {
		name    string
		apiKey  string
		headers WebhookHeaders
		body    []byte
		want    bool
	}{
		{"valid", "key", valid, body, true},
		{"upper-case signature", "key", WebhookHeaders{AuthClient: "key", Signature: "  " + strings.ToUpper(valid.Signature)}, body, true},
		{"wrong api key", "other", valid, body, false},
		{"no api key configured", "", WebhookHeaders{Signature: valid.Signature}, body, false},
		{"tampered body", "key", valid, []byte(`{"id":"sess-2","action":"started","code":7001}`), false},
		{"missing signature", "key", WebhookHeaders{AuthClient: "key"}, body, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckSignature(tt.apiKey, "secret", tt.headers, tt.body))
		})
	}
}

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  Notification
		dedup string
	}{
		{
			name: "decision",
			body: `{"status":"success","verification":{"id":"sess-1","attemptId":"att-1","code":9001,"status":"approved",` +
				`"reason":null,"vendorData":"u1","decisionTime":"2026-03-02T10:00:00.000Z"}}`,
			want: Notification{
				Kind:              KindDecision,
				ProviderSessionID: "sess-1",
				AttemptID:         "att-1",
				VendorData:        "u1",
				Code:              9001,
				Action:            "approved",
				OccurredAt:        time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			},
			dedup: "decision:sess-1:9001:att-1",
		},
		{
			name: "decision with reason",
			body: `{"verification":{"id":"sess-1","code":9102,"status":"declined","reason":"Document expired"}}`,
			want: Notification{
				Kind:              KindDecision,
				ProviderSessionID: "sess-1",
				Code:              9102,
				Action:            "declined",
				Reason:            "Document expired",
			},
			dedup: "decision:sess-1:9102:",
		},
		{
			name: "event",
			body: `{"id":"sess-1","attemptId":"att-1","feature":"selfid","code":7002,"action":"submitted","vendorData":"u1"}`,
			want: Notification{
				Kind:              KindEvent,
				ProviderSessionID: "sess-1",
				AttemptID:         "att-1",
				VendorData:        "u1",
				Code:              7002,
				Action:            "submitted",
			},
			dedup: "event:sess-1:7002:att-1",
		},
		{"event without code", `{"id":"sess-1","action":"started"}`, Notification{Kind: KindUnknown}, "unknown::0:"},
		{"decision without status", `{"verification":{"id":"sess-1"}}`, Notification{Kind: KindUnknown}, "unknown::0:"},
		{"not json", `id=sess-1`, Notification{Kind: KindUnknown}, "unknown::0:"},
		{"empty", ``, Notification{Kind: KindUnknown}, "unknown::0:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseNotification([]byte(tt.body))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.dedup, got.DedupKey())
		})
	}
}
