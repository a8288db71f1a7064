// Package testutil holds the fixtures shared by the test suites.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/aircraft"
	"github.com/trezcool/aeroschool/core/user"
	"github.com/trezcool/aeroschool/core/verification"
	logsvc "github.com/trezcool/aeroschool/services/logger"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if roles == nil {
		roles = []string{}
	}
	usr := user.User{
		Name:               name,
		Username:           uname,
		Email:              email,
		Roles:              roles,
		VerificationStatus: user.VerificationUnverified,
		CreatedAt:          tstamp,
		UpdatedAt:          tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func CreateAircraft(t *testing.T, repo aircraft.Repository, registration string, hobbsMinutes int, status string) aircraft.Aircraft {
	t.Helper()
	now := time.Now().UTC()
	if status == "" {
		status = aircraft.StatusActive
	}
	ac, err := repo.CreateAircraft(context.Background(), aircraft.Aircraft{
		Registration:    registration,
		Model:           "Cessna 172S",
		Category:        aircraft.CategorySingleEngine,
		HourlyRateCents: 18000,
		HobbsMinutes:    hobbsMinutes,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		t.Fatalf("createAircraft() failed: %v", err)
	}
	return ac
}

// NewLogger returns a logger writing nowhere.
func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
}

// FakeProvider is a verification.Provider handing out sequential session IDs.
type FakeProvider struct {
	mu       sync.Mutex
	Requests []verification.SessionRequest
	Err      error
}

var _ verification.Provider = (*FakeProvider)(nil)

func (p *FakeProvider) CreateSession(_ context.Context, req verification.SessionRequest) (verification.ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return verification.ProviderSession{}, p.Err
	}
	p.Requests = append(p.Requests, req)
	id := fmt.Sprintf("sess-%d", len(p.Requests))
	return verification.ProviderSession{
		ID:     id,
		URL:    "https://alchemy.veriff.com/v/" + id,
		Status: "created",
	}, nil
}

// SignedHeaders returns valid webhook headers for body.
func SignedHeaders(conf *core.Config, body []byte) verification.WebhookHeaders {
	return verification.WebhookHeaders{
		AuthClient: conf.Veriff.APIKey,
		Signature:  verification.Sign(conf.Veriff.SharedSecret, body),
	}
}

// DecisionPayload builds a decision webhook body.
func DecisionPayload(sessionID, vendorData, status string, code int, attemptID string) []byte {
	return []byte(fmt.Sprintf(`{"status":"success","verification":{"id":%q,"attemptId":%q,"code":%d,`+
		`"status":%q,"reason":null,"vendorData":%q,"decisionTime":"2026-03-02T10:00:00.000Z"}}`,
		sessionID, attemptID, code, status, vendorData))
}

// EventPayload builds an event webhook body.
func EventPayload(sessionID, vendorData, action string, code int, attemptID string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"attemptId":%q,"feature":"selfid","code":%d,"action":%q,"vendorData":%q}`,
		sessionID, attemptID, code, action, vendorData))
}
