package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Period is a parsed repeat interval.
//
// Supported forms:
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - "@every 55m"
//   - Cron descriptors and expressions with a constant gap between firings:
//     "@hourly", "@daily", "*/5 * * * *", "0 */2 * * *"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
//
// The scheduler only repeats at a fixed period, so cron expressions whose
// firings are unevenly spaced ("0 9 * * 1-5", "@monthly") are rejected. That
// includes daily cron specs in zones with daylight saving time, whose gap is
// 23h or 25h around the offset changes.
type Period struct {
	Every time.Duration
	// First is the first cron-aligned firing after now. Zero for intervals.
	First  time.Time
	Source string // "duration" | "hhmm" | "every" | "cron"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronSamples is how many consecutive gaps must match for a cron spec to
// count as fixed-period.
const cronSamples = 12

// maxEdgeSamples bounds the gap checks around one UTC offset change.
const maxEdgeSamples = 5000

// ParsePeriod parses raw into a fixed repeat period. now anchors cron forms.
func ParsePeriod(raw string, now time.Time) (Period, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Period{}, fmt.Errorf("period required")
	}

	low := strings.ToLower(s)
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			d, src, err := parseInterval(s[len(p):])
			if err != nil {
				return Period{}, err
			}
			return Period{Every: d, Source: src}, nil
		}
	}
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Period{}, fmt.Errorf("cron expression required after 'cron:'")
		}
		return parseCronPeriod(expr, now)
	}

	// Any whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCronPeriod(s, now)
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return Period{}, err
		}
		return Period{Every: d, Source: "hhmm"}, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return Period{}, fmt.Errorf("interval must be > 0")
		}
		return Period{Every: d, Source: "duration"}, nil
	}

	return Period{}, fmt.Errorf(
		"invalid period %q (use duration like '55m', HH:MM like '02:30', '@every 10s' or cron like '*/5 * * * *')",
		raw,
	)
}

func parseCronPeriod(expr string, now time.Time) (Period, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Period{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
		return everyPeriod(expr, cd)
	}

	first := sched.Next(now)
	if first.IsZero() {
		return Period{}, fmt.Errorf("cron %q never fires", expr)
	}
	prev := first
	var every time.Duration
	for i := 0; i < cronSamples; i++ {
		n := sched.Next(prev)
		if n.IsZero() {
			return Period{}, fmt.Errorf("cron %q never repeats", expr)
		}
		gap := n.Sub(prev)
		if every == 0 {
			every = gap
		} else if gap != every {
			return Period{}, fmt.Errorf("cron %q is not a fixed period (%s then %s)", expr, every, gap)
		}
		prev = n
	}

	// Offset changes are rare enough that plain sampling can miss them.
	n := int(72*time.Hour/every) + 2
	if n > maxEdgeSamples {
		n = maxEdgeSamples
	}
	for _, edge := range offsetChanges(first.Location(), first) {
		prev := sched.Next(edge.Add(-every))
		for i := 0; i < n && !prev.IsZero(); i++ {
			next := sched.Next(prev)
			if !next.IsZero() && next.Sub(prev) != every {
				return Period{}, fmt.Errorf("cron %q is not a fixed period around %s (%s then %s)",
					expr, edge.Format("2006-01-02"), every, next.Sub(prev))
			}
			prev = next
		}
	}
	return Period{Every: every, First: first, Source: "cron"}, nil
}

// everyPeriod keeps the exact "@every" duration; cron rounds it down to whole
// seconds.
func everyPeriod(expr string, cd cron.ConstantDelaySchedule) (Period, error) {
	i := strings.Index(expr, "@every")
	if i < 0 {
		return Period{Every: cd.Delay, Source: "every"}, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(expr[i+len("@every"):]))
	if err != nil {
		return Period{}, fmt.Errorf("invalid @every %q: %w", expr, err)
	}
	if d <= 0 {
		return Period{}, fmt.Errorf("interval must be > 0")
	}
	return Period{Every: d, Source: "every"}, nil
}

// offsetChanges returns, for each UTC offset change of loc within a year
// after from, the start of the day before it.
func offsetChanges(loc *time.Location, from time.Time) []time.Time {
	var out []time.Time
	t := from.In(loc)
	_, prev := t.Zone()
	for i := 0; i < 366; i++ {
		n := t.Add(24 * time.Hour)
		if _, off := n.Zone(); off != prev {
			out = append(out, t)
			prev = off
		}
		t = n
	}
	return out
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
