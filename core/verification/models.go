package verification

import (
	"time"
)

// Session statuses
const (
	StatusCreated               = "created"
	StatusStarted               = "started"
	StatusSubmitted             = "submitted"
	StatusApproved              = "approved"
	StatusDeclined              = "declined"
	StatusResubmissionRequested = "resubmission_requested"
	StatusExpired               = "expired"
	StatusAbandoned             = "abandoned"
)

// Webhook kinds
const (
	KindEvent    = "event"
	KindDecision = "decision"
	KindUnknown  = "unknown"
)

// Webhook event states
const (
	StateReceived  = "received"
	StateProcessed = "processed"
	StateFailed    = "failed"
	StateIgnored   = "ignored"
)

var (
	Statuses = []string{
		StatusCreated, StatusStarted, StatusSubmitted, StatusApproved, StatusDeclined,
		StatusResubmissionRequested, StatusExpired, StatusAbandoned,
	}
	States = []string{StateReceived, StateProcessed, StateFailed, StateIgnored}
)

// IsTerminal reports whether a session in this status can no longer change.
func IsTerminal(status string) bool {
	switch status {
	case StatusApproved, StatusDeclined, StatusExpired, StatusAbandoned:
		return true
	}
	return false
}

// Session is a Veriff verification session of a User.
type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ProviderSessionID string    `json:"provider_session_id"`
	URL               string    `json:"url"`
	Status            string    `json:"status"`
	DecisionCode      int       `json:"decision_code,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	AttemptID         string    `json:"attempt_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"` // UTC
	UpdatedAt         time.Time `json:"updated_at"` // UTC
	DecidedAt         time.Time `json:"decided_at"` // UTC
}

// WebhookEvent is a received webhook and its processing bookkeeping.
type WebhookEvent struct {
	ID                string    `json:"id"`
	Kind              string    `json:"kind"`
	DedupKey          string    `json:"dedup_key"`
	ProviderSessionID string    `json:"provider_session_id"`
	VendorData        string    `json:"vendor_data"`
	Code              int       `json:"code"`
	Action            string    `json:"action"` // event action or decision status
	Payload           []byte    `json:"-"`
	SignatureValid    bool      `json:"signature_valid"`
	State             string    `json:"state"`
	Attempts          int       `json:"attempts"`
	LastError         string    `json:"last_error,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`  // UTC
	ProcessedAt       time.Time `json:"processed_at"` // UTC
}

// Stats is the monitoring view of webhook ingestion.
type Stats struct {
	EventsByState     map[string]int `json:"events_by_state"`
	SessionsByStatus  map[string]int `json:"sessions_by_status"`
	OldestUnprocessed time.Time      `json:"oldest_unprocessed"`
	LastReceived      time.Time      `json:"last_received"`
	RetryableFailures int            `json:"retryable_failures"`
	ExhaustedFailures int            `json:"exhausted_failures"`
}

// NewStats returns Stats with every state & status present.
func NewStats() Stats {
	st := Stats{
		EventsByState:    make(map[string]int, len(States)),
		SessionsByStatus: make(map[string]int, len(Statuses)),
	}
	for _, s := range States {
		st.EventsByState[s] = 0
	}
	for _, s := range Statuses {
		st.SessionsByStatus[s] = 0
	}
	return st
}

// RetryReport sums up a RetryFailed run.
type RetryReport struct {
	Retried   int `json:"retried"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}
