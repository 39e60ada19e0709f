// Package cronparse computes next-fire times for interval and cron
// schedules. One-shot schedules need no next-fire computation; the
// scheduler disables them after they fire (scheduler.AdvanceSchedule).
package cronparse

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard five-field cron expression (minute hour dom
// month dow); seconds are not supported, matching the granularity the
// scheduler actually needs.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextInterval returns max(now, lastFire+interval), the rule for `interval`
// schedules: a schedule that has never fired is due immediately.
func NextInterval(now, lastFire time.Time, interval time.Duration) time.Time {
	next := lastFire.Add(interval)
	if next.Before(now) {
		return now
	}
	return next
}

// NextCron returns the first moment strictly after `from` that satisfies
// expr in the named timezone. The cron expression is re-parsed and
// re-evaluated against the zone on every call, so DST transitions are
// resolved by the expression itself rather than by caching an offset.
func NextCron(expr, tz string, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("cronparse: invalid timezone %q: %w", tz, err)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("cronparse: invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from.In(loc)).UTC(), nil
}
