// Package scheduler runs the periodic maintenance jobs of the API process.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/verification"
)

// Job names
const (
	JobWebhookRetry  = "webhook_retry"
	JobSessionExpiry = "session_expiry"
)

type (
	// Verifier is the part of verification.Service the jobs drive.
	Verifier interface {
		RetryFailed(ctx context.Context) (verification.RetryReport, error)
		ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
	}

	Observer interface {
		JobRun(job string, success bool, duration time.Duration)
	}

	Scheduler struct {
		cron     *cron.Cron
		logger   core.Logger
		observer Observer
		jobs     map[string]func(ctx context.Context) error
		ctx      context.Context
		cancel   context.CancelFunc
	}
)

func New(verifier Verifier, logger core.Logger, observer Observer, conf *core.Config) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		logger:   logger,
		observer: observer,
		ctx:      ctx,
		cancel:   cancel,
	}

	s.jobs = map[string]func(ctx context.Context) error{
		JobWebhookRetry: func(ctx context.Context) error {
			report, err := verifier.RetryFailed(ctx)
			if report.Retried > 0 {
				s.logger.Info(fmt.Sprintf("webhook retry: %d retried, %d processed, %d failed",
					report.Retried, report.Processed, report.Failed))
			}
			return err
		},
		JobSessionExpiry: func(ctx context.Context) error {
			n, err := verifier.ExpireStale(ctx, conf.Jobs.SessionTTL)
			if n > 0 {
				s.logger.Info(fmt.Sprintf("session expiry: %d sessions expired", n))
			}
			return err
		},
	}

	specs := map[string]string{
		JobWebhookRetry:  conf.Jobs.WebhookRetrySpec,
		JobSessionExpiry: conf.Jobs.SessionExpirySpec,
	}
	for name, spec := range specs {
		if spec == "" {
			continue // disabled
		}
		name := name
		if _, err := s.cron.AddFunc(spec, func() { _ = s.Run(name) }); err != nil {
			cancel()
			return nil, errors.Wrapf(err, "scheduling %s (%q)", name, spec)
		}
	}
	return s, nil
}

// Run runs the named job now, and reports it to the observer.
func (s *Scheduler) Run(name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return errors.Errorf("unknown job %q", name)
	}

	start := time.Now()
	err := job(s.ctx)
	if s.observer != nil {
		s.observer.JobRun(name, err == nil, time.Since(start))
	}
	if err != nil {
		err = errors.Wrapf(err, "job %s", name)
		s.logger.Error(err.Error(), err)
	}
	return err
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels the running jobs and waits for them, until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvExtras(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvExtras(keysAndValues))
}

func kvExtras(kv []interface{}) map[string]interface{} {
	extras := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		extras[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return extras
}
