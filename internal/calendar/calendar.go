// Package calendar evaluates exclusion calendars. A stored calendar names
// a rule type and version; the rule payload is decoded by the codec
// registered for that pair, and calendars chain through their base.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// Built-in rule types. All are at version 1.
const (
	TypeHoliday = "holiday"
	TypeWeekly  = "weekly"
	TypeDaily   = "daily"
	TypeCron    = "cron"
)

// maxChain bounds base-calendar chains so that a cycle cannot loop forever.
const maxChain = 16

// Rule excludes instants. It does not consult a base calendar.
type Rule interface {
	Excludes(t time.Time) bool
	// Skip returns an instant after t to resume searching from when t is
	// excluded. It must make progress.
	Skip(t time.Time) time.Time
}

// Registry decodes calendar payloads by rule type and version.
type Registry struct {
	*codec.Registry[Rule]
}

// NewRegistry returns a registry with the built-in rule types.
func NewRegistry() *Registry {
	r := &Registry{codec.NewRegistry[Rule]()}
	r.Register(TypeHoliday, 1, decodeHoliday)
	r.Register(TypeWeekly, 1, decodeWeekly)
	r.Register(TypeDaily, 1, decodeDaily)
	r.Register(TypeCron, 1, decodeCron)
	return r
}

// Lookup loads a calendar by name; it returns nil when absent.
type Lookup func(ctx context.Context, name string) (*core.Calendar, error)

// Compile builds the evaluated calendar for cal, following its base chain.
func (r *Registry) Compile(ctx context.Context, cal *core.Calendar, lookup Lookup) (core.ExclusionCalendar, error) {
	var chain []Rule
	seen := map[string]bool{}
	for cur := cal; cur != nil; {
		if seen[cur.Name] || len(chain) >= maxChain {
			return nil, fmt.Errorf("%w: calendar %s: base chain too deep or cyclic", core.ErrDecode, cal.Name)
		}
		seen[cur.Name] = true
		rule, err := r.Decode(cur.Type, cur.Version, cur.Payload)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: %w", cur.Name, err)
		}
		chain = append(chain, rule)
		if cur.Base == "" || lookup == nil {
			break
		}
		base, err := lookup(ctx, cur.Base)
		if err != nil {
			return nil, err
		}
		if base == nil {
			return nil, fmt.Errorf("%w: base calendar %q of %s", core.ErrNotFound, cur.Base, cur.Name)
		}
		cur = base
	}
	return &compiled{rules: chain}, nil
}

// compiled is a calendar with its base chain flattened.
type compiled struct {
	rules []Rule
}

func (c *compiled) IsTimeIncluded(t time.Time) bool {
	for _, r := range c.rules {
		if r.Excludes(t) {
			return false
		}
	}
	return true
}

func (c *compiled) NextIncludedTime(t time.Time) time.Time {
	next := t.Add(time.Millisecond)
	for !core.PastMaxYear(next) {
		moved := false
		for _, r := range c.rules {
			if r.Excludes(next) {
				next = r.Skip(next)
				moved = true
			}
		}
		if !moved {
			return next
		}
	}
	return time.Time{}
}

// New encodes rule data into a stored calendar record.
func New(name, ruleType string, data any) (*core.Calendar, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal calendar %s: %w", name, err)
	}
	return &core.Calendar{Name: name, Type: ruleType, Version: 1, Payload: payload}, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

func startOfNextDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, loc)
}

func unmarshalPayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
