package scheduler

import (
	"strconv"
	"strings"
	"time"

	"workhub/internal/errs"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string resolved to a cron expression or a
// fixed interval.
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

// ParseSchedule accepts:
//
//	"*/5 * * * *", "@hourly", "@every 55m"   cron (robfig/cron syntax)
//	"55m", "2h30m"                           interval as a Go duration
//	"02:30"                                  interval as hours:minutes
//
// A "cron:" prefix forces cron, "interval:" or "every:" forces an interval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errs.New("schedule required")
	}

	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		switch strings.ToLower(strings.TrimSpace(prefix)) {
		case "cron":
			if rest = strings.TrimSpace(rest); rest == "" {
				return ParsedSpec{}, errs.New("cron expression required after cron:")
			}
			return ParsedSpec{Kind: SpecCron, Cron: rest}, nil
		case "interval", "every":
			d, err := parseInterval(rest)
			return ParsedSpec{Kind: SpecInterval, Every: d}, err
		}
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return ParsedSpec{Kind: SpecCron, Cron: s}, nil
	}
	d, err := parseInterval(s)
	if err != nil {
		return ParsedSpec{}, errs.WithHint(err, `use cron like "*/5 * * * *", hours:minutes like "02:30" or a duration like "55m"`)
	}
	return ParsedSpec{Kind: SpecInterval, Every: d}, nil
}

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errs.New("interval required")
	}

	var d time.Duration
	if hh, mm, ok := strings.Cut(v, ":"); ok {
		h, herr := strconv.Atoi(hh)
		m, merr := strconv.Atoi(mm)
		if herr != nil || merr != nil || h < 0 || m < 0 || m > 59 || len(mm) != 2 {
			return 0, errs.Newf("invalid hours:minutes interval %q", v)
		}
		d = time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, errs.Newf("invalid interval %q", v)
		}
	}
	if d <= 0 {
		return 0, errs.Newf("interval %q must be positive", v)
	}
	return d, nil
}
