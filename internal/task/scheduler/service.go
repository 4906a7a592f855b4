package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"cronjobs/internal/eventbus"
	rtsup "cronjobs/internal/runtime/supervisor"
	"cronjobs/internal/task/engine"
	logx "cronjobs/pkg/logx"
)

// cronParser accepts both 5-field and 6-field (with seconds) specs plus
// descriptors like @daily. "?" is accepted in the day fields.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses expr with the parser RegisterCron uses. Config
// validation calls it so a file that validates also registers.
func ParseCron(expr string) (cron.Schedule, error) {
	return cronParser.Parse(strings.TrimSpace(expr))
}

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		clock:   clock.New(),
		engine:  eng,
		lines:   map[string]*line{},
		enqWarn: map[string]*rate.Sometimes{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change rebuilds the cron entries of a
// running scheduler; timer lines are unaffected.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		<-s.c.Stop().Done()
		s.newCronLocked()
		n := 0
		for i := range s.defs {
			if !s.defs[i].kind.onLine() {
				s.defs[i].entryID = 0
				s.addCronLocked(&s.defs[i])
				n++
			}
		}
		s.c.Start()
		s.log.Info("cron restarted", logx.String("tz", s.loc.String()), logx.Int("entries", n))
	}
}

// Start starts cron triggering and one timer line per fixed-delay or trigger
// schedule. Schedules registered before Start are picked up here.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.newCronLocked()
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	for i := range s.defs {
		s.activateLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops cron triggering and cancels every timer line, waiting for
// lines to return (bounded by ctx). A line in the middle of a run has its
// run context canceled. Definitions are kept so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c, sup := s.c, s.sup
	s.c, s.sup = nil, nil
	s.lines = map[string]*line{}
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
			s.log.Warn("timer lines did not stop in time", logx.Err(err), logx.Int("lines", sup.Running("line.")))
		}
	}

	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Running reports whether Start has been called without a matching Stop.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// newCronLocked replaces s.c with an unstarted cron in the configured
// timezone. An unknown zone falls back to Local.
func (s *Service) newCronLocked() {
	s.loc = time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		} else {
			s.loc = loc
		}
	}
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
}
