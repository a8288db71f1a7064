package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/verification"
	testutil "github.com/trezcool/aeroschool/tests"
)

type verifierStub struct {
	mu       sync.Mutex
	retries  int
	ttl      time.Duration
	retryErr error
}

func (v *verifierStub) RetryFailed(context.Context) (verification.RetryReport, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.retries++
	return verification.RetryReport{Retried: 2, Processed: 1, Failed: 1}, v.retryErr
}

func (v *verifierStub) ExpireStale(_ context.Context, ttl time.Duration) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ttl = ttl
	return 3, nil
}

type run struct {
	job     string
	success bool
}

type observerStub struct {
	mu   sync.Mutex
	runs []run
}

func (o *observerStub) JobRun(job string, success bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, run{job: job, success: success})
}

func TestScheduler_Run(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Jobs.SessionTTL = 48 * time.Hour
	verifier := &verifierStub{}
	observer := &observerStub{}

	s, err := New(verifier, testutil.NewLogger(conf), observer, conf)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)

	require.NoError(t, s.Run(JobSessionExpiry))
	assert.Equal(t, 48*time.Hour, verifier.ttl)

	verifier.retryErr = errors.New("db down")
	err = s.Run(JobWebhookRetry)
	assert.EqualError(t, err, "job webhook_retry: db down")

	assert.EqualError(t, s.Run("nope"), `unknown job "nope"`)
	assert.Equal(t, []run{{JobSessionExpiry, true}, {JobWebhookRetry, false}}, observer.runs)
}

func TestScheduler_Specs(t *testing.T) {
	conf := core.NewTestConfig()
	logger := testutil.NewLogger(conf)

	conf.Jobs.SessionExpirySpec = ""
	s, err := New(&verifierStub{}, logger, nil, conf)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1, "empty specs disable the job")

	conf.Jobs.WebhookRetrySpec = "every now and then"
	_, err = New(&verifierStub{}, logger, nil, conf)
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Jobs.WebhookRetrySpec = "@every 1s"
	conf.Jobs.SessionExpirySpec = ""
	verifier := &verifierStub{}

	s, err := New(verifier, testutil.NewLogger(conf), nil, conf)
	require.NoError(t, err)
	s.Start()

	assert.Eventually(t, func() bool {
		verifier.mu.Lock()
		defer verifier.mu.Unlock()
		return verifier.retries > 0
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
