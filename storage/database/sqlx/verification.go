package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/aeroschool/core/verification"
)

const (
	sessionColumns = `id, user_id, provider_session_id, url, status, decision_code, reason, attempt_id, ` +
		`created_at, updated_at, decided_at`
	eventColumns = `id, kind, dedup_key, provider_session_id, vendor_data, code, action, payload, signature_valid, ` +
		`state, attempts, last_error, received_at, processed_at`
)

var terminalStatuses = pq.StringArray{
	verification.StatusApproved, verification.StatusDeclined, verification.StatusExpired, verification.StatusAbandoned,
}

type sessionRow struct {
	ID                string      `db:"id"`
	UserID            string      `db:"user_id"`
	ProviderSessionID string      `db:"provider_session_id"`
	URL               string      `db:"url"`
	Status            string      `db:"status"`
	DecisionCode      null.Int    `db:"decision_code"`
	Reason            null.String `db:"reason"`
	AttemptID         null.String `db:"attempt_id"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
	DecidedAt         null.Time   `db:"decided_at"`
}

func newSessionRow(sess verification.Session) sessionRow {
	return sessionRow{
		ID:                sess.ID,
		UserID:            sess.UserID,
		ProviderSessionID: sess.ProviderSessionID,
		URL:               sess.URL,
		Status:            sess.Status,
		DecisionCode:      null.NewInt(sess.DecisionCode, sess.DecisionCode != 0),
		Reason:            null.NewString(sess.Reason, sess.Reason != ""),
		AttemptID:         null.NewString(sess.AttemptID, sess.AttemptID != ""),
		CreatedAt:         sess.CreatedAt.UTC(),
		UpdatedAt:         sess.UpdatedAt.UTC(),
		DecidedAt:         null.NewTime(sess.DecidedAt.UTC(), !sess.DecidedAt.IsZero()),
	}
}

func (row sessionRow) session() verification.Session {
	sess := verification.Session{
		ID:                row.ID,
		UserID:            row.UserID,
		ProviderSessionID: row.ProviderSessionID,
		URL:               row.URL,
		Status:            row.Status,
		DecisionCode:      row.DecisionCode.Int,
		Reason:            row.Reason.String,
		AttemptID:         row.AttemptID.String,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}
	if row.DecidedAt.Valid {
		sess.DecidedAt = row.DecidedAt.Time.UTC()
	}
	return sess
}

type eventRow struct {
	ID                string    `db:"id"`
	Kind              string    `db:"kind"`
	DedupKey          string    `db:"dedup_key"`
	ProviderSessionID string    `db:"provider_session_id"`
	VendorData        string    `db:"vendor_data"`
	Code              int       `db:"code"`
	Action            string    `db:"action"`
	Payload           null.JSON `db:"payload"`
	SignatureValid    bool      `db:"signature_valid"`
	State             string    `db:"state"`
	Attempts          int       `db:"attempts"`
	LastError         string    `db:"last_error"`
	ReceivedAt        time.Time `db:"received_at"`
	ProcessedAt       null.Time `db:"processed_at"`
}

func newEventRow(ev verification.WebhookEvent) eventRow {
	return eventRow{
		ID:                ev.ID,
		Kind:              ev.Kind,
		DedupKey:          ev.DedupKey,
		ProviderSessionID: ev.ProviderSessionID,
		VendorData:        ev.VendorData,
		Code:              ev.Code,
		Action:            ev.Action,
		Payload:           null.JSONFrom(ev.Payload),
		SignatureValid:    ev.SignatureValid,
		State:             ev.State,
		Attempts:          ev.Attempts,
		LastError:         ev.LastError,
		ReceivedAt:        ev.ReceivedAt.UTC(),
		ProcessedAt:       null.NewTime(ev.ProcessedAt.UTC(), !ev.ProcessedAt.IsZero()),
	}
}

func (row eventRow) event() verification.WebhookEvent {
	ev := verification.WebhookEvent{
		ID:                row.ID,
		Kind:              row.Kind,
		DedupKey:          row.DedupKey,
		ProviderSessionID: row.ProviderSessionID,
		VendorData:        row.VendorData,
		Code:              row.Code,
		Action:            row.Action,
		Payload:           row.Payload.JSON,
		SignatureValid:    row.SignatureValid,
		State:             row.State,
		Attempts:          row.Attempts,
		LastError:         row.LastError,
		ReceivedAt:        row.ReceivedAt.UTC(),
	}
	if row.ProcessedAt.Valid {
		ev.ProcessedAt = row.ProcessedAt.Time.UTC()
	}
	return ev
}

type verificationRepository struct {
	db *sqlx.DB
}

var _ verification.Repository = (*verificationRepository)(nil) // interface compliance check

func NewVerificationRepository(db *sqlx.DB) verification.Repository {
	return &verificationRepository{db: db}
}

func (repo verificationRepository) CreateSession(ctx context.Context, sess verification.Session) (verification.Session, error) {
	sess.ID = uuid.New().String()
	row := newSessionRow(sess)
	q := `INSERT INTO verification_session (` + sessionColumns + `) VALUES (:id, :user_id, :provider_session_id, ` +
		`:url, :status, :decision_code, :reason, :attempt_id, :created_at, :updated_at, :decided_at)`
	if _, err := repo.db.NamedExecContext(ctx, q, row); err != nil {
		return verification.Session{}, errors.Wrap(err, "inserting session")
	}
	return row.session(), nil
}

func (repo verificationRepository) GetSessionByProviderID(ctx context.Context, providerSessionID string) (verification.Session, error) {
	var row sessionRow
	q := `SELECT ` + sessionColumns + ` FROM verification_session WHERE provider_session_id = $1`
	if err := repo.db.GetContext(ctx, &row, q, providerSessionID); err != nil {
		return verification.Session{}, trapNoRowsErr(err, verification.ErrSessionNotFound, "finding session")
	}
	return row.session(), nil
}

func (repo verificationRepository) LatestSession(ctx context.Context, userID string) (verification.Session, error) {
	if !isUUID(userID) {
		return verification.Session{}, verification.ErrSessionNotFound
	}
	var row sessionRow
	q := `SELECT ` + sessionColumns + ` FROM verification_session WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`
	if err := repo.db.GetContext(ctx, &row, q, userID); err != nil {
		return verification.Session{}, trapNoRowsErr(err, verification.ErrSessionNotFound, "finding latest session")
	}
	return row.session(), nil
}

func (repo verificationRepository) UpdateSession(ctx context.Context, sess verification.Session) (verification.Session, error) {
	row := newSessionRow(sess)
	q := `UPDATE verification_session SET url = :url, status = :status, decision_code = :decision_code, ` +
		`reason = :reason, attempt_id = :attempt_id, updated_at = :updated_at, decided_at = :decided_at WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return verification.Session{}, errors.Wrap(err, "updating session")
	}
	if err = checkAffected(res, verification.ErrSessionNotFound, "updating session"); err != nil {
		return verification.Session{}, err
	}
	return row.session(), nil
}

func (repo verificationRepository) QueryStaleSessions(ctx context.Context, before time.Time) ([]verification.Session, error) {
	var rows []sessionRow
	q := `SELECT ` + sessionColumns + ` FROM verification_session ` +
		`WHERE NOT (status = ANY($1)) AND created_at < $2 ORDER BY created_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, terminalStatuses, before.UTC()); err != nil {
		return nil, errors.Wrap(err, "querying stale sessions")
	}
	sessions := make([]verification.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.session())
	}
	return sessions, nil
}

func (repo verificationRepository) CreateEvent(ctx context.Context, ev verification.WebhookEvent) (verification.WebhookEvent, bool, error) {
	ev.ID = uuid.New().String()
	row := newEventRow(ev)
	q := `INSERT INTO webhook_event (` + eventColumns + `) VALUES (:id, :kind, :dedup_key, :provider_session_id, ` +
		`:vendor_data, :code, :action, :payload, :signature_valid, :state, :attempts, :last_error, :received_at, ` +
		`:processed_at) ON CONFLICT (dedup_key) DO NOTHING`
	res, err := repo.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return verification.WebhookEvent{}, false, errors.Wrap(err, "inserting webhook event")
	}
	if n, err := res.RowsAffected(); err != nil {
		return verification.WebhookEvent{}, false, errors.Wrap(err, "inserting webhook event")
	} else if n == 1 {
		return row.event(), true, nil
	}

	// duplicate delivery
	var stored eventRow
	if err = repo.db.GetContext(ctx, &stored, `SELECT `+eventColumns+` FROM webhook_event WHERE dedup_key = $1`, ev.DedupKey); err != nil {
		return verification.WebhookEvent{}, false, trapNoRowsErr(err, verification.ErrEventNotFound, "finding webhook event")
	}
	return stored.event(), false, nil
}

func (repo verificationRepository) UpdateEvent(ctx context.Context, ev verification.WebhookEvent) error {
	q := `UPDATE webhook_event SET state = :state, attempts = :attempts, last_error = :last_error, ` +
		`processed_at = :processed_at WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, newEventRow(ev))
	if err != nil {
		return errors.Wrap(err, "updating webhook event")
	}
	return checkAffected(res, verification.ErrEventNotFound, "updating webhook event")
}

func (repo verificationRepository) QueryRetryableEvents(ctx context.Context, maxAttempts int) ([]verification.WebhookEvent, error) {
	var rows []eventRow
	q := `SELECT ` + eventColumns + ` FROM webhook_event WHERE state = $1 AND attempts < $2 ORDER BY received_at ASC`
	if err := repo.db.SelectContext(ctx, &rows, q, verification.StateFailed, maxAttempts); err != nil {
		return nil, errors.Wrap(err, "querying retryable events")
	}
	events := make([]verification.WebhookEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.event())
	}
	return events, nil
}

type countRow struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

type eventSummaryRow struct {
	OldestUnprocessed null.Time `db:"oldest_unprocessed"`
	LastReceived      null.Time `db:"last_received"`
	Retryable         int       `db:"retryable"`
	Exhausted         int       `db:"exhausted"`
}

func (repo verificationRepository) Stats(ctx context.Context, maxAttempts int) (verification.Stats, error) {
	st := verification.NewStats()

	var counts []countRow
	if err := repo.db.SelectContext(ctx, &counts, `SELECT state AS key, COUNT(*) AS count FROM webhook_event GROUP BY state`); err != nil {
		return st, errors.Wrap(err, "counting events by state")
	}
	for _, c := range counts {
		st.EventsByState[c.Key] = c.Count
	}

	counts = counts[:0]
	if err := repo.db.SelectContext(ctx, &counts, `SELECT status AS key, COUNT(*) AS count FROM verification_session GROUP BY status`); err != nil {
		return st, errors.Wrap(err, "counting sessions by status")
	}
	for _, c := range counts {
		st.SessionsByStatus[c.Key] = c.Count
	}

	var sum eventSummaryRow
	q := `SELECT MIN(received_at) FILTER (WHERE state IN ($1, $2)) AS oldest_unprocessed, ` +
		`MAX(received_at) AS last_received, ` +
		`COUNT(*) FILTER (WHERE state = $2 AND attempts < $3) AS retryable, ` +
		`COUNT(*) FILTER (WHERE state = $2 AND attempts >= $3) AS exhausted FROM webhook_event`
	err := repo.db.GetContext(ctx, &sum, q, verification.StateReceived, verification.StateFailed, maxAttempts)
	if err != nil && err != sql.ErrNoRows {
		return st, errors.Wrap(err, "summarizing events")
	}
	if sum.OldestUnprocessed.Valid {
		st.OldestUnprocessed = sum.OldestUnprocessed.Time.UTC()
	}
	if sum.LastReceived.Valid {
		st.LastReceived = sum.LastReceived.Time.UTC()
	}
	st.RetryableFailures = sum.Retryable
	st.ExhaustedFailures = sum.Exhausted
	return st, nil
}
