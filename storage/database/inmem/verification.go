package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/aeroschool/core/verification"
)

type verificationRepository struct {
	db *DB
}

var _ verification.Repository = (*verificationRepository)(nil) // interface compliance check

func NewVerificationRepository(db *DB) verification.Repository {
	return &verificationRepository{db: db}
}

func (repo *verificationRepository) CreateSession(_ context.Context, sess verification.Session) (verification.Session, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	sess.ID = newID()
	repo.db.sessions[sess.ID] = &sess
	return sess, nil
}

func (repo *verificationRepository) GetSessionByProviderID(_ context.Context, providerSessionID string) (verification.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, sess := range repo.db.sessions {
		if sess.ProviderSessionID == providerSessionID {
			return *sess, nil
		}
	}
	return verification.Session{}, verification.ErrSessionNotFound
}

func (repo *verificationRepository) LatestSession(_ context.Context, userID string) (verification.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var latest *verification.Session
	for _, sess := range repo.db.sessions {
		if sess.UserID == userID && (latest == nil || sess.CreatedAt.After(latest.CreatedAt)) {
			latest = sess
		}
	}
	if latest == nil {
		return verification.Session{}, verification.ErrSessionNotFound
	}
	return *latest, nil
}

func (repo *verificationRepository) UpdateSession(_ context.Context, sess verification.Session) (verification.Session, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.sessions[sess.ID]; !ok {
		return verification.Session{}, verification.ErrSessionNotFound
	}
	repo.db.sessions[sess.ID] = &sess
	return sess, nil
}

func (repo *verificationRepository) QueryStaleSessions(_ context.Context, before time.Time) ([]verification.Session, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var stale []verification.Session
	for _, sess := range repo.db.sessions {
		if !verification.IsTerminal(sess.Status) && sess.CreatedAt.Before(before) {
			stale = append(stale, *sess)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	return stale, nil
}

func (repo *verificationRepository) CreateEvent(_ context.Context, ev verification.WebhookEvent) (verification.WebhookEvent, bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, stored := range repo.db.events {
		if stored.DedupKey == ev.DedupKey {
			return *stored, false, nil
		}
	}
	ev.ID = newID()
	repo.db.events[ev.ID] = &ev
	return ev, true, nil
}

func (repo *verificationRepository) UpdateEvent(_ context.Context, ev verification.WebhookEvent) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.events[ev.ID]; !ok {
		return verification.ErrEventNotFound
	}
	repo.db.events[ev.ID] = &ev
	return nil
}

func (repo *verificationRepository) QueryRetryableEvents(_ context.Context, maxAttempts int) ([]verification.WebhookEvent, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	var events []verification.WebhookEvent
	for _, ev := range repo.db.events {
		if ev.State == verification.StateFailed && ev.Attempts < maxAttempts {
			events = append(events, *ev)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ReceivedAt.Before(events[j].ReceivedAt) })
	return events, nil
}

func (repo *verificationRepository) Stats(_ context.Context, maxAttempts int) (verification.Stats, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	st := verification.NewStats()
	for _, ev := range repo.db.events {
		st.EventsByState[ev.State]++
		if ev.ReceivedAt.After(st.LastReceived) {
			st.LastReceived = ev.ReceivedAt
		}
		switch ev.State {
		case verification.StateReceived, verification.StateFailed:
			if st.OldestUnprocessed.IsZero() || ev.ReceivedAt.Before(st.OldestUnprocessed) {
				st.OldestUnprocessed = ev.ReceivedAt
			}
		}
		if ev.State == verification.StateFailed {
			if ev.Attempts < maxAttempts {
				st.RetryableFailures++
			} else {
				st.ExhaustedFailures++
			}
		}
	}
	for _, sess := range repo.db.sessions {
		st.SessionsByStatus[sess.Status]++
	}
	return st, nil
}
