package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/user"
)

var (
	// errors
	ErrSessionNotFound  = errors.New("verification session not found")
	ErrEventNotFound    = errors.New("webhook event not found")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	errUnmatched        = errors.New("no session or user matches the notification")
)

// user verification statuses, on top of the terminal session statuses
const userStatusPending = "pending"

type (
	Repository interface {
		CreateSession(ctx context.Context, sess Session) (Session, error)
		GetSessionByProviderID(ctx context.Context, providerSessionID string) (Session, error)
		// LatestSession returns the most recently created Session of the user.
		LatestSession(ctx context.Context, userID string) (Session, error)
		UpdateSession(ctx context.Context, sess Session) (Session, error)
		// QueryStaleSessions returns the non-terminal sessions created before `before`.
		QueryStaleSessions(ctx context.Context, before time.Time) ([]Session, error)

		// CreateEvent saves the event unless its DedupKey exists, in which case the stored event is returned
		// with created = false.
		CreateEvent(ctx context.Context, ev WebhookEvent) (_ WebhookEvent, created bool, _ error)
		UpdateEvent(ctx context.Context, ev WebhookEvent) error
		// QueryRetryableEvents returns the failed events with less than maxAttempts attempts, oldest first.
		QueryRetryableEvents(ctx context.Context, maxAttempts int) ([]WebhookEvent, error)
		Stats(ctx context.Context, maxAttempts int) (Stats, error)
	}

	// Provider is the identity verification provider API.
	Provider interface {
		CreateSession(ctx context.Context, req SessionRequest) (ProviderSession, error)
	}

	SessionRequest struct {
		FirstName  string
		LastName   string
		VendorData string
		Callback   string
	}

	ProviderSession struct {
		ID     string
		URL    string
		Status string
	}

	Service interface {
		StartSession(ctx context.Context, usr user.User) (Session, error)
		LatestSession(ctx context.Context, userID string) (Session, error)
		Ingest(ctx context.Context, headers WebhookHeaders, body []byte) (WebhookEvent, error)
		RetryFailed(ctx context.Context) (RetryReport, error)
		ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
		Stats(ctx context.Context) (Stats, error)
	}

	service struct {
		repo     Repository
		provider Provider
		userSvc  user.Service
		mailSvc  core.EmailService
		logger   core.Logger
		conf     core.VeriffConfig
		now      func() time.Time
	}
)

var _ Service = (*service)(nil)

func NewService(
	repo Repository,
	provider Provider,
	userSvc user.Service,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
) Service {
	return &service{
		repo:     repo,
		provider: provider,
		userSvc:  userSvc,
		mailSvc:  mailSvc,
		logger:   logger,
		conf:     conf.Veriff,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (svc *service) StartSession(ctx context.Context, usr user.User) (Session, error) {
	latest, err := svc.repo.LatestSession(ctx, usr.ID)
	switch {
	case err == nil && !IsTerminal(latest.Status):
		return latest, nil
	case err != nil && errors.Cause(err) != ErrSessionNotFound:
		return Session{}, errors.Wrap(err, "finding latest session")
	}

	first, last := splitName(usr.Name)
	ps, err := svc.provider.CreateSession(ctx, SessionRequest{
		FirstName:  first,
		LastName:   last,
		VendorData: usr.ID,
		Callback:   svc.conf.CallbackURL,
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "creating provider session")
	}

	now := svc.now()
	sess, err := svc.repo.CreateSession(ctx, Session{
		UserID:            usr.ID,
		ProviderSessionID: ps.ID,
		URL:               ps.URL,
		Status:            StatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return Session{}, errors.Wrap(err, "saving session")
	}
	if err = svc.userSvc.SetVerificationStatus(ctx, usr.ID, userStatusPending); err != nil {
		return Session{}, errors.Wrap(err, "setting user verification status")
	}
	return sess, nil
}

func (svc *service) LatestSession(ctx context.Context, userID string) (Session, error) {
	return svc.repo.LatestSession(ctx, userID)
}

func (svc *service) Ingest(ctx context.Context, headers WebhookHeaders, body []byte) (WebhookEvent, error) {
	n := ParseNotification(body)
	ev := WebhookEvent{
		Kind:              n.Kind,
		DedupKey:          n.DedupKey(),
		ProviderSessionID: n.ProviderSessionID,
		VendorData:        n.VendorData,
		Code:              n.Code,
		Action:            n.Action,
		Payload:           payloadOf(body),
		SignatureValid:    CheckSignature(svc.conf.APIKey, svc.conf.SharedSecret, headers, body),
		State:             StateReceived,
		ReceivedAt:        svc.now(),
	}

	switch {
	case !ev.SignatureValid:
		// recorded for monitoring only; never deduplicated against genuine deliveries
		ev.DedupKey = fmt.Sprintf("unsigned:%s:%d", Sign("", body)[:16], ev.ReceivedAt.UnixNano())
		ev.State = StateIgnored
	case n.Kind == KindUnknown:
		ev.DedupKey = "unknown:" + Sign("", body)
		ev.State = StateIgnored
	}

	ev, created, err := svc.repo.CreateEvent(ctx, ev)
	if err != nil {
		return WebhookEvent{}, errors.Wrap(err, "saving webhook event")
	}
	if !ev.SignatureValid {
		return ev, ErrInvalidSignature
	}
	if !created || ev.State != StateReceived {
		return ev, nil
	}

	ev = svc.handle(ctx, ev, n)
	if err = svc.repo.UpdateEvent(ctx, ev); err != nil {
		return ev, errors.Wrap(err, "updating webhook event")
	}
	return ev, nil
}

// handle processes the event and records the outcome on it.
func (svc *service) handle(ctx context.Context, ev WebhookEvent, n Notification) WebhookEvent {
	ev.Attempts++
	applied, err := svc.process(ctx, n)
	switch {
	case err != nil:
		ev.State = StateFailed
		ev.LastError = err.Error()
		svc.logger.Warn("processing webhook event", errors.Wrapf(err, "event %s (%s)", ev.ID, ev.DedupKey))
	case applied:
		ev.State = StateProcessed
		ev.LastError = ""
		ev.ProcessedAt = svc.now()
	default:
		ev.State = StateIgnored
		ev.LastError = ""
		ev.ProcessedAt = svc.now()
	}
	return ev
}

// process applies the notification to its session.
// It returns false if the notification is stale or does not change the session.
func (svc *service) process(ctx context.Context, n Notification) (bool, error) {
	sess, err := svc.findOrAdoptSession(ctx, n)
	if err != nil {
		return false, err
	}

	to, ok := TargetStatus(n)
	if !ok || !CanTransition(sess, to, n.AttemptID) {
		return false, nil
	}

	now := svc.now()
	sess.Status = to
	sess.UpdatedAt = now
	if n.AttemptID != "" {
		sess.AttemptID = n.AttemptID
	}
	if n.Kind == KindDecision {
		sess.DecisionCode = n.Code
		sess.Reason = n.Reason
		sess.DecidedAt = now
		if !n.OccurredAt.IsZero() {
			sess.DecidedAt = n.OccurredAt
		}
	}

	// the user is mirrored first: if that fails the session keeps its status and a retry re-applies both
	if err = svc.userSvc.SetVerificationStatus(ctx, sess.UserID, userStatus(sess.Status)); err != nil {
		return false, errors.Wrap(err, "setting user verification status")
	}
	if sess, err = svc.repo.UpdateSession(ctx, sess); err != nil {
		return false, errors.Wrap(err, "updating session")
	}
	if n.Kind == KindDecision {
		svc.sendDecisionMail(ctx, sess)
	}
	return true, nil
}

// findOrAdoptSession finds the session of the notification.
// Sessions created outside of StartSession are adopted through the vendorData (user ID).
func (svc *service) findOrAdoptSession(ctx context.Context, n Notification) (Session, error) {
	sess, err := svc.repo.GetSessionByProviderID(ctx, n.ProviderSessionID)
	if err == nil {
		return sess, nil
	}
	if errors.Cause(err) != ErrSessionNotFound {
		return Session{}, errors.Wrap(err, "finding session")
	}

	if n.VendorData == "" {
		return Session{}, errUnmatched
	}
	usr, err := svc.userSvc.GetByID(ctx, n.VendorData)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return Session{}, errUnmatched
		}
		return Session{}, errors.Wrap(err, "finding vendorData user")
	}

	now := svc.now()
	sess, err = svc.repo.CreateSession(ctx, Session{
		UserID:            usr.ID,
		ProviderSessionID: n.ProviderSessionID,
		Status:            StatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	return sess, errors.Wrap(err, "adopting session")
}

func (svc *service) sendDecisionMail(ctx context.Context, sess Session) {
	usr, err := svc.userSvc.GetByID(ctx, sess.UserID)
	if err != nil || usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Identity Verification",
		TemplateName: "verification_decision",
		TemplateData: map[string]interface{}{
			"Name":   usr.Name,
			"Status": strings.ReplaceAll(sess.Status, "_", " "),
			"Reason": sess.Reason,
			"Retry":  sess.Status == StatusResubmissionRequested,
		},
	})
}

func (svc *service) RetryFailed(ctx context.Context) (RetryReport, error) {
	var report RetryReport
	events, err := svc.repo.QueryRetryableEvents(ctx, svc.conf.MaxAttempts)
	if err != nil {
		return report, errors.Wrap(err, "querying retryable events")
	}

	for _, ev := range events {
		if err = ctx.Err(); err != nil {
			return report, err
		}
		report.Retried++
		ev = svc.handle(ctx, ev, ParseNotification(ev.Payload))
		if err = svc.repo.UpdateEvent(ctx, ev); err != nil {
			return report, errors.Wrap(err, "updating webhook event")
		}
		if ev.State == StateFailed {
			report.Failed++
		} else {
			report.Processed++
		}
	}
	return report, nil
}

func (svc *service) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	now := svc.now()
	stale, err := svc.repo.QueryStaleSessions(ctx, now.Add(-ttl))
	if err != nil {
		return 0, errors.Wrap(err, "querying stale sessions")
	}

	var n int
	for _, sess := range stale {
		sess.Status = StatusExpired
		sess.DecisionCode = CodeExpired
		sess.UpdatedAt = now
		sess.DecidedAt = now
		if err = svc.userSvc.SetVerificationStatus(ctx, sess.UserID, StatusExpired); err != nil {
			return n, errors.Wrap(err, "setting user verification status")
		}
		if _, err = svc.repo.UpdateSession(ctx, sess); err != nil {
			return n, errors.Wrap(err, "expiring session")
		}
		n++
	}
	return n, nil
}

func (svc *service) Stats(ctx context.Context) (Stats, error) {
	st, err := svc.repo.Stats(ctx, svc.conf.MaxAttempts)
	return st, errors.Wrap(err, "computing webhook stats")
}

// userStatus maps a session status onto the user's verification status.
func userStatus(sessStatus string) string {
	switch sessStatus {
	case StatusCreated, StatusStarted, StatusSubmitted:
		return userStatusPending
	}
	return sessStatus
}

func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

// payloadOf returns body if it is valid JSON, or body wrapped as a JSON string otherwise
// (the payload column is JSONB).
func payloadOf(body []byte) []byte {
	if len(body) > 0 && gjson.ValidBytes(body) {
		return body
	}
	data, _ := json.Marshal(string(body))
	return data
}
