package codec

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// Attribute names of persisted items.
const (
	AttrKey                = "key"
	AttrGroup              = "group"
	AttrName               = "name"
	AttrClass              = "class"
	AttrDescription        = "description"
	AttrDurable            = "durable"
	AttrDisallowConcurrent = "disallowConcurrent"
	AttrPersistData        = "persistData"
	AttrRecovery           = "requestsRecovery"
	AttrData               = "data"
	AttrState              = "state"
	AttrJob                = "job"
	AttrPriority           = "priority"
	AttrMisfire            = "misfire"
	AttrCalendar           = "calendar"
	AttrInstance           = "instance"
	AttrStart              = "start"
	AttrEnd                = "end"
	AttrNext               = "next"
	AttrPrev               = "prev"
	AttrFinal              = "final"
	AttrType               = "type"
	AttrCount              = "count"
	AttrInterval           = "interval"
	AttrTimes              = "times"
	AttrCron               = "cron"
	AttrTimeZone           = "timezone"
	AttrCodec              = "codec"
	AttrVersion            = "version"
	AttrBlob               = "blob"
	AttrBase               = "base"
	AttrLocked             = "locked"
	AttrLockedBy           = "lockedBy"
	AttrLockedAt           = "lockedAt"
)

// Codec converts records to items. Opaque trigger blobs and calendar
// payloads are checked against the validators on decode, so a record
// written by an unknown or newer codec fails with an error instead of
// decoding into something half understood.
type Codec struct {
	Opaque    Validator
	Calendars Validator
}

// EncodeJob converts a job to an item.
func (c *Codec) EncodeJob(j *core.JobDetail) Item {
	it := Item{
		AttrKey:                j.Key.String(),
		AttrGroup:              j.Key.Group,
		AttrName:               j.Key.Name,
		AttrDurable:            j.Durable,
		AttrDisallowConcurrent: j.DisallowConcurrent,
		AttrPersistData:        j.PersistData,
	}
	it.setString(AttrClass, j.Class)
	it.setString(AttrDescription, j.Description)
	if j.RequestsRecovery {
		it[AttrRecovery] = true
	}
	if len(j.Data) > 0 {
		it[AttrData] = normalizeMap(j.Data)
	}
	if j.Paused {
		it[AttrState] = string(core.StatePaused)
	}
	encodeLock(it, j.Lock)
	return it
}

// DecodeJob converts an item to a job.
func (c *Codec) DecodeJob(it Item) (*core.JobDetail, error) {
	key, err := decodeKey(it)
	if err != nil {
		return nil, err
	}
	j := &core.JobDetail{
		Key:                key,
		Class:              it.String(AttrClass),
		Description:        it.String(AttrDescription),
		Durable:            it.Bool(AttrDurable),
		DisallowConcurrent: it.Bool(AttrDisallowConcurrent),
		PersistData:        it.Bool(AttrPersistData),
		RequestsRecovery:   it.Bool(AttrRecovery),
		Paused:             it.String(AttrState) == string(core.StatePaused),
		Lock:               decodeLock(it),
	}
	if m := it.Map(AttrData); m != nil {
		j.Data = core.JobDataMap(normalizeMap(m))
	}
	return j, nil
}

// EncodeTrigger converts a trigger to an item.
func (c *Codec) EncodeTrigger(t *core.Trigger) (Item, error) {
	it := Item{
		AttrKey:      t.Key.String(),
		AttrGroup:    t.Key.Group,
		AttrName:     t.Key.Name,
		AttrJob:      t.JobKey.String(),
		AttrPriority: int64(t.Priority),
		AttrMisfire:  int64(t.MisfireInstruction),
		AttrType:     string(t.Type),
	}
	it.setString(AttrDescription, t.Description)
	it.setString(AttrCalendar, t.CalendarName)
	it.setString(AttrState, string(t.State))
	it.setString(AttrInstance, t.FireInstanceID)
	it.setMillis(AttrStart, core.ToMillis(t.StartTime))
	it.setMillis(AttrEnd, core.ToMillis(t.EndTime))
	it.setMillis(AttrNext, core.ToMillis(t.NextFireTime))
	it.setMillis(AttrPrev, core.ToMillis(t.PreviousFireTime))
	it.setMillis(AttrFinal, core.ToMillis(t.FinalFireTime))
	if len(t.Data) > 0 {
		it[AttrData] = normalizeMap(t.Data)
	}

	switch t.Type {
	case core.TriggerSimple:
		if t.Simple == nil {
			return nil, fmt.Errorf("%w: simple trigger %s has no schedule", core.ErrInvalidTrigger, t.Key)
		}
		it[AttrCount] = int64(t.Simple.RepeatCount)
		it[AttrInterval] = t.Simple.RepeatInterval.Milliseconds()
		it[AttrTimes] = int64(t.Simple.TimesTriggered)
	case core.TriggerCron:
		if t.Cron == nil || t.Cron.Expression == "" {
			return nil, fmt.Errorf("%w: cron trigger %s has no expression", core.ErrInvalidTrigger, t.Key)
		}
		it[AttrCron] = t.Cron.Expression
		it.setString(AttrTimeZone, t.Cron.TimeZone)
	case core.TriggerOpaque:
		if t.Opaque == nil || t.Opaque.Codec == "" {
			return nil, fmt.Errorf("%w: opaque trigger %s has no codec", core.ErrInvalidTrigger, t.Key)
		}
		it[AttrCodec] = t.Opaque.Codec
		it[AttrVersion] = int64(t.Opaque.Version)
		it[AttrBlob] = base64.StdEncoding.EncodeToString(t.Opaque.Blob)
	default:
		return nil, fmt.Errorf("%w: trigger type %q", core.ErrUnknownType, t.Type)
	}

	encodeLock(it, t.Lock)
	return it, nil
}

// DecodeTrigger converts an item to a trigger.
func (c *Codec) DecodeTrigger(it Item) (*core.Trigger, error) {
	key, err := decodeKey(it)
	if err != nil {
		return nil, err
	}
	jobKey, err := core.ParseKey(it.String(AttrJob))
	if err != nil {
		return nil, fmt.Errorf("%w: trigger %s job reference: %v", core.ErrDecode, key, err)
	}
	t := &core.Trigger{
		Key:                key,
		JobKey:             jobKey,
		Description:        it.String(AttrDescription),
		Priority:           int(it.Int(AttrPriority)),
		MisfireInstruction: int(it.Int(AttrMisfire)),
		CalendarName:       it.String(AttrCalendar),
		State:              core.TriggerState(it.String(AttrState)),
		FireInstanceID:     it.String(AttrInstance),
		StartTime:          core.FromMillis(it.Int(AttrStart)),
		EndTime:            core.FromMillis(it.Int(AttrEnd)),
		NextFireTime:       core.FromMillis(it.Int(AttrNext)),
		PreviousFireTime:   core.FromMillis(it.Int(AttrPrev)),
		FinalFireTime:      core.FromMillis(it.Int(AttrFinal)),
		Type:               core.TriggerType(it.String(AttrType)),
		Lock:               decodeLock(it),
	}
	if m := it.Map(AttrData); m != nil {
		t.Data = core.JobDataMap(normalizeMap(m))
	}

	switch t.Type {
	case core.TriggerSimple:
		t.Simple = &core.SimpleSchedule{
			RepeatCount:    int(it.Int(AttrCount)),
			RepeatInterval: time.Duration(it.Int(AttrInterval)) * time.Millisecond,
			TimesTriggered: int(it.Int(AttrTimes)),
		}
	case core.TriggerCron:
		expr := it.String(AttrCron)
		if expr == "" {
			return nil, fmt.Errorf("%w: cron trigger %s has no expression", core.ErrDecode, key)
		}
		t.Cron = &core.CronSchedule{Expression: expr, TimeZone: it.String(AttrTimeZone)}
	case core.TriggerOpaque:
		blob, err := base64.StdEncoding.DecodeString(it.String(AttrBlob))
		if err != nil {
			return nil, fmt.Errorf("%w: trigger %s blob: %v", core.ErrDecode, key, err)
		}
		t.Opaque = &core.OpaqueSchedule{
			Codec:   it.String(AttrCodec),
			Version: int(it.Int(AttrVersion)),
			Blob:    blob,
		}
		if c.Opaque != nil {
			if err := c.Opaque.Validate(t.Opaque.Codec, t.Opaque.Version, blob); err != nil {
				return nil, fmt.Errorf("trigger %s: %w", key, err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: trigger %s type %q", core.ErrUnknownType, key, t.Type)
	}
	return t, nil
}

// EncodeCalendar converts a calendar to an item.
func (c *Codec) EncodeCalendar(cal *core.Calendar) Item {
	it := Item{
		AttrKey:     cal.Name,
		AttrName:    cal.Name,
		AttrType:    cal.Type,
		AttrVersion: int64(cal.Version),
	}
	it.setString(AttrDescription, cal.Description)
	it.setString(AttrBase, cal.Base)
	if len(cal.Payload) > 0 {
		it[AttrData] = string(cal.Payload)
	}
	return it
}

// DecodeCalendar converts an item to a calendar.
func (c *Codec) DecodeCalendar(it Item) (*core.Calendar, error) {
	name := it.String(AttrName)
	if name == "" {
		return nil, fmt.Errorf("%w: calendar item has no name", core.ErrDecode)
	}
	cal := &core.Calendar{
		Name:        name,
		Description: it.String(AttrDescription),
		Base:        it.String(AttrBase),
		Type:        it.String(AttrType),
		Version:     int(it.Int(AttrVersion)),
	}
	if s := it.String(AttrData); s != "" {
		cal.Payload = []byte(s)
	}
	if c.Calendars != nil {
		if err := c.Calendars.Validate(cal.Type, cal.Version, cal.Payload); err != nil {
			return nil, fmt.Errorf("calendar %s: %w", name, err)
		}
	}
	return cal, nil
}

func decodeKey(it Item) (core.Key, error) {
	k := core.Key{Group: it.String(AttrGroup), Name: it.String(AttrName)}
	if err := k.Validate(); err != nil {
		return core.Key{}, fmt.Errorf("%w: %v", core.ErrDecode, err)
	}
	return k, nil
}

func encodeLock(it Item, l core.Lock) {
	it[AttrLocked] = l.Locked
	it.setString(AttrLockedBy, l.LockedBy)
	it.setMillis(AttrLockedAt, core.ToMillis(l.LockedAt))
}

func decodeLock(it Item) core.Lock {
	return core.Lock{
		Locked:   it.Bool(AttrLocked),
		LockedBy: it.String(AttrLockedBy),
		LockedAt: core.FromMillis(it.Int(AttrLockedAt)),
	}
}
