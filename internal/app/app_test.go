package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"cronjobs/internal/config"
	"cronjobs/internal/eventbus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewAppRegistersEnabledJobs(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "logging:\n  level: error\njobs:\n  disabled: [cron]\n")
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	got := strings.Join(a.Scheduler().Names(), ",")
	want := "fixed-delay,fixed-rate,fixed-rate-async,dynamic"
	if got != want {
		t.Fatalf("schedules = %s, want %s", got, want)
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "jobs:\n  cron: \"not a cron\"\n")
	if _, err := NewApp(path); err == nil {
		t.Fatal("expected error for bad cron expression")
	}
	path = writeConfig(t, "task_engine:\n  enabled: false\n")
	if _, err := NewApp(path); err == nil {
		t.Fatal("expected error for engine disabled under enabled scheduler")
	}
}

func TestAppStartRunsJobsAndStops(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "logging:\n  level: error\njobs:\n  async_sleep_ms: 60000\n")
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Fixed-delay and fixed-rate fire immediately.
	waitFor(t, "first runs", func() bool { return a.Scheduler().Snapshot().Completed >= 2 })
	// The async job is mid-sleep.
	waitFor(t, "async run in flight", func() bool { return a.Scheduler().Snapshot().AsyncInFlight >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}

	snap := a.Scheduler().Snapshot()
	if snap.Running {
		t.Fatal("scheduler still running")
	}
	if snap.Interrupted == 0 {
		t.Fatalf("async sleep was not interrupted: %+v", snap)
	}
	if snap.AsyncInFlight != 0 {
		t.Fatalf("AsyncInFlight = %d after Stop", snap.AsyncInFlight)
	}
}

func TestApplyConfigReregistersChangedJobs(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "logging:\n  level: error\n")
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	oldCfg := a.cfgm.Get()
	events, unsub := a.bus.Subscribe("config.", 4)
	defer unsub()

	newCfg := *oldCfg
	newCfg.Jobs.Disabled = []string{config.JobDynamic, config.JobFixedRateAsync}
	a.applyConfig(context.Background(), oldCfg, &newCfg)

	got := strings.Join(a.Scheduler().Names(), ",")
	if got != "fixed-delay,fixed-rate,cron" {
		t.Fatalf("schedules after reload = %s", got)
	}
	select {
	case e := <-events:
		if e.Topic != eventbus.ConfigApplied || e.Config == nil || strings.Join(e.Config.Sections, ",") != "jobs" {
			t.Fatalf("config event = %+v", e)
		}
	default:
		t.Fatal("no config.applied event")
	}

	// Re-enabling restores the job.
	again := newCfg
	again.Jobs.Disabled = nil
	a.applyConfig(context.Background(), &newCfg, &again)
	if n := len(a.Scheduler().Names()); n != len(config.JobNames) {
		t.Fatalf("schedules after re-enable = %d", n)
	}
}

func TestApplyConfigDelayReachesLines(t *testing.T) {
	t.Parallel()
	mock := clock.NewMock()
	path := writeConfig(t, "logging:\n  level: error\njobs:\n  disabled: [cron, fixed-rate, fixed-rate-async]\n")
	a, err := NewApp(path, WithClock(mock))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	}()

	nextOf := func(name string) time.Time {
		for _, si := range a.Scheduler().Snapshot().Schedules {
			if si.Name == name {
				return si.Next
			}
		}
		return time.Time{}
	}
	// The mock clock never moves, so both lines wait at now+delay.
	waitFor(t, "lines at default delay", func() bool {
		want := mock.Now().Add(2 * time.Second)
		return nextOf(config.JobDynamic).Equal(want) && nextOf(config.JobFixedDelay).Equal(want)
	})

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Jobs.DelayMS = 500
	a.applyConfig(context.Background(), oldCfg, &newCfg)

	waitFor(t, "lines at reloaded delay", func() bool {
		want := mock.Now().Add(500 * time.Millisecond)
		return nextOf(config.JobDynamic).Equal(want) && nextOf(config.JobFixedDelay).Equal(want)
	})
}
