package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// HolidayData lists whole days to exclude, as YYYY-MM-DD in TimeZone.
type HolidayData struct {
	Dates    []string `json:"dates"`
	TimeZone string   `json:"time_zone,omitempty"`
}

type holidayRule struct {
	days map[string]bool
	loc  *time.Location
}

func decodeHoliday(payload []byte) (Rule, error) {
	var d HolidayData
	if err := unmarshalPayload(payload, &d); err != nil {
		return nil, err
	}
	loc, err := loadLocation(d.TimeZone)
	if err != nil {
		return nil, err
	}
	r := &holidayRule{days: make(map[string]bool, len(d.Dates)), loc: loc}
	for _, s := range d.Dates {
		day, err := time.ParseInLocation(time.DateOnly, s, loc)
		if err != nil {
			return nil, fmt.Errorf("holiday %q: %w", s, err)
		}
		r.days[day.Format(time.DateOnly)] = true
	}
	return r, nil
}

func (r *holidayRule) Excludes(t time.Time) bool {
	return r.days[t.In(r.loc).Format(time.DateOnly)]
}

func (r *holidayRule) Skip(t time.Time) time.Time {
	return startOfNextDay(t, r.loc)
}

// WeeklyData excludes days of the week. 0 is Sunday.
type WeeklyData struct {
	Excluded []time.Weekday `json:"excluded"`
	TimeZone string         `json:"time_zone,omitempty"`
}

type weeklyRule struct {
	excluded [7]bool
	loc      *time.Location
}

func decodeWeekly(payload []byte) (Rule, error) {
	var d WeeklyData
	if err := unmarshalPayload(payload, &d); err != nil {
		return nil, err
	}
	loc, err := loadLocation(d.TimeZone)
	if err != nil {
		return nil, err
	}
	r := &weeklyRule{loc: loc}
	for _, wd := range d.Excluded {
		if wd < time.Sunday || wd > time.Saturday {
			return nil, fmt.Errorf("weekday %d out of range", wd)
		}
		r.excluded[wd] = true
	}
	if r.excluded == [7]bool{true, true, true, true, true, true, true} {
		return nil, fmt.Errorf("weekly calendar excludes every day")
	}
	return r, nil
}

func (r *weeklyRule) Excludes(t time.Time) bool {
	return r.excluded[t.In(r.loc).Weekday()]
}

func (r *weeklyRule) Skip(t time.Time) time.Time {
	return startOfNextDay(t, r.loc)
}

// DailyData excludes the time range [Start, End) of every day, given as
// HH:MM or HH:MM:SS. With Invert the range is the only included time.
type DailyData struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Invert   bool   `json:"invert,omitempty"`
	TimeZone string `json:"time_zone,omitempty"`
}

type dailyRule struct {
	start, end time.Duration
	invert     bool
	loc        *time.Location
}

func parseClock(s string) (time.Duration, error) {
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
}

func decodeDaily(payload []byte) (Rule, error) {
	var d DailyData
	if err := unmarshalPayload(payload, &d); err != nil {
		return nil, err
	}
	start, err := parseClock(d.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseClock(d.End)
	if err != nil {
		return nil, err
	}
	if end <= start {
		return nil, fmt.Errorf("daily range end %s must be after start %s", d.End, d.Start)
	}
	loc, err := loadLocation(d.TimeZone)
	if err != nil {
		return nil, err
	}
	return &dailyRule{start: start, end: end, invert: d.Invert, loc: loc}, nil
}

func (r *dailyRule) midnight(t time.Time) time.Time {
	l := t.In(r.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, r.loc)
}

func (r *dailyRule) Excludes(t time.Time) bool {
	offset := t.Sub(r.midnight(t))
	in := offset >= r.start && offset < r.end
	return in != r.invert
}

func (r *dailyRule) Skip(t time.Time) time.Time {
	m := r.midnight(t)
	offset := t.Sub(m)
	if !r.invert {
		return m.Add(r.end)
	}
	if offset < r.start {
		return m.Add(r.start)
	}
	return startOfNextDay(t, r.loc).Add(r.start)
}

// CronData excludes every second matched by a cron expression.
type CronData struct {
	Expression string `json:"expression"`
	TimeZone   string `json:"time_zone,omitempty"`
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type cronRule struct {
	schedule cron.Schedule
}

func decodeCron(payload []byte) (Rule, error) {
	var d CronData
	if err := unmarshalPayload(payload, &d); err != nil {
		return nil, err
	}
	expr := d.Expression
	if d.TimeZone != "" {
		loc, err := loadLocation(d.TimeZone)
		if err != nil {
			return nil, err
		}
		expr = "CRON_TZ=" + loc.String() + " " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron calendar %q: %w", d.Expression, err)
	}
	return &cronRule{schedule: sched}, nil
}

func (r *cronRule) Excludes(t time.Time) bool {
	sec := t.Truncate(time.Second)
	return r.schedule.Next(sec.Add(-time.Second)).Equal(sec)
}

func (r *cronRule) Skip(t time.Time) time.Time {
	return t.Truncate(time.Second).Add(time.Second)
}
