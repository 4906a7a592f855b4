package jobs

import (
	"context"
	"time"

	logx "cronjobs/pkg/logx"
)

// Scheduled bodies. Each logs a task line stamped with Unix seconds and then
// runs its job. The method values are registered directly with the scheduler.

func (s *Service) FixedDelayTask(ctx context.Context) error {
	s.log.Info("fixed delay task", logx.Int64("ts", time.Now().Unix()))
	s.ExecuteCronJob()
	return nil
}

func (s *Service) FixedRateTask(ctx context.Context) error {
	s.log.Info("fixed rate task", logx.Int64("ts", time.Now().Unix()))
	s.ExecuteCronJob2()
	return nil
}

// AsyncRateTask returns the body of the asynchronous fixed-rate job, which
// holds its worker for sleep to simulate a slow iteration.
func (s *Service) AsyncRateTask(sleep time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		s.log.Info("fixed rate task async", logx.Int64("ts", time.Now().Unix()))
		return s.Sleep(ctx, sleep)
	}
}

func (s *Service) CronTask(ctx context.Context) error {
	s.log.Info("cron task", logx.Int64("ts", time.Now().Unix()))
	return nil
}

func (s *Service) DynamicTask(ctx context.Context) error {
	s.ExecuteCronJob()
	return nil
}
