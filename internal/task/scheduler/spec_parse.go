package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SpecKind is the kind of schedule a string selects.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecRate
	SpecDelay
)

func (k SpecKind) String() string {
	switch k {
	case SpecCron:
		return "cron"
	case SpecRate:
		return "rate"
	case SpecDelay:
		return "delay"
	}
	return "unknown"
}

// ParsedSpec is a schedule string split into its kind and value.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration

	// Source is "cron", "duration" or "hhmm".
	Source string
}

// specPrefixes force a kind; matched case-insensitively.
var specPrefixes = []struct {
	prefix string
	kind   SpecKind
}{
	{"cron:", SpecCron},
	{"delay:", SpecDelay},
	{"rate:", SpecRate},
	{"every:", SpecRate},
	{"interval:", SpecRate},
	{"@every", SpecRate},
}

// ParseSchedule splits a schedule string into a cron expression, a fixed
// rate or a fixed delay:
//
//	"0 55 23 * * ?", "*/5 * * * *", "@hourly"   cron
//	"2s", "@every 55m", "rate:2s", "00:50"      fixed rate
//	"delay:2s", "delay:00:05"                   fixed delay
//
// HH:MM reads as hours and minutes. Cron expressions are validated when
// registered, not here.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}

	for _, p := range specPrefixes {
		if len(s) < len(p.prefix) || !strings.EqualFold(s[:len(p.prefix)], p.prefix) {
			continue
		}
		v := strings.TrimSpace(s[len(p.prefix):])
		if p.kind != SpecCron {
			return intervalSpec(p.kind, v)
		}
		if v == "" {
			return ParsedSpec{}, errors.New("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: v, Source: "cron"}, nil
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	ps, err := intervalSpec(SpecRate, s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '0 55 23 * * ?', HH:MM like '02:30', or duration like '2s')", raw)
	}
	return ps, nil
}

func intervalSpec(kind SpecKind, v string) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, errors.New("interval required")
	}
	ps := ParsedSpec{Kind: kind, Source: "duration"}
	var err error
	if h, m, ok := splitHHMM(v); ok {
		ps.Source = "hhmm"
		if m > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		ps.Every = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	} else if ps.Every, err = time.ParseDuration(v); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '2s'/'2h30m')", v)
	}
	if ps.Every <= 0 {
		return ParsedSpec{}, errors.New("interval must be > 0")
	}
	return ps, nil
}

// splitHHMM matches 1-3 hour digits, a colon and exactly 2 minute digits.
func splitHHMM(v string) (h, m int, ok bool) {
	hs, ms, found := strings.Cut(v, ":")
	if !found || len(hs) < 1 || len(hs) > 3 || len(ms) != 2 || !digits(hs) || !digits(ms) {
		return 0, 0, false
	}
	h, _ = strconv.Atoi(hs)
	m, _ = strconv.Atoi(ms)
	return h, m, true
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
