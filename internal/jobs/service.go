// Package jobs holds the job bodies run by the scheduler.
//
// The runner does no real work: each job logs a constant message and returns
// it. One variant sleeps to simulate a slow iteration.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "cronjobs/pkg/logx"
)

const (
	Job1Message = "Cron Job Executed Successfully!!!"
	Job2Message = "Cron Job 2 Executed Successfully!!!"

	DefaultDelay = 2000 * time.Millisecond
)

// ID selects which fixed message a job emits.
type ID string

const (
	JobOne ID = "1"
	JobTwo ID = "2"
)

var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrInterrupted = errors.New("wait interrupted")
)

var messages = map[ID]string{
	JobOne: Job1Message,
	JobTwo: Job2Message,
}

type Service struct {
	log   logx.Logger
	delay time.Duration
}

func New(log logx.Logger, delay time.Duration) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Service{log: log, delay: delay}
}

// Execute logs the message for id and returns it.
func (s *Service) Execute(id ID) (string, error) {
	msg, ok := messages[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownJob, string(id))
	}
	s.log.Info(msg, logx.String("job", string(id)))
	return msg, nil
}

func (s *Service) ExecuteCronJob() string {
	msg, _ := s.Execute(JobOne)
	return msg
}

func (s *Service) ExecuteCronJob2() string {
	msg, _ := s.Execute(JobTwo)
	return msg
}

// Delay is the spacing of the fixed-delay, fixed-rate and dynamic jobs.
func (s *Service) Delay() time.Duration { return s.delay }

// Sleep blocks for d or until ctx is done. Cancellation surfaces as
// ErrInterrupted (wrapping the context error).
func (s *Service) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}
}
