package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// cronParser accepts five or six fields (seconds optional), "?" in the
// day fields and descriptors such as @daily.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronSteps is a parsed cron expression.
type CronSteps struct {
	schedule cron.Schedule
}

// ParseCron parses the expression in its time zone.
func ParseCron(c *core.CronSchedule) (*CronSteps, error) {
	if c == nil || strings.TrimSpace(c.Expression) == "" {
		return nil, fmt.Errorf("%w: cron expression is required", core.ErrInvalidTrigger)
	}
	expr := strings.TrimSpace(c.Expression)
	if c.TimeZone != "" && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		loc, err := time.LoadLocation(c.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid time zone %q: %v", core.ErrInvalidTrigger, c.TimeZone, err)
		}
		expr = "CRON_TZ=" + loc.String() + " " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cron expression %q: %v", core.ErrInvalidTrigger, c.Expression, err)
	}
	return &CronSteps{schedule: sched}, nil
}

func (c *CronSteps) FireTimeAfter(t *core.Trigger, after time.Time) time.Time {
	if !t.StartTime.IsZero() && after.Before(t.StartTime) {
		after = t.StartTime.Add(-time.Second)
	}
	next := c.schedule.Next(after)
	if next.IsZero() {
		return next
	}
	next = next.UTC()
	if !t.EndTime.IsZero() && next.After(t.EndTime) {
		return time.Time{}
	}
	return next
}

// FinalFireTime is not computed for cron expressions.
func (c *CronSteps) FinalFireTime(*core.Trigger) time.Time {
	return time.Time{}
}
