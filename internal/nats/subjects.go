package nats

import "fmt"

// Subject and bucket layout for the job store on NATS.
//
//	{prefix}_jobs, {prefix}_triggers, {prefix}_calendars  -- KV buckets, one record per key
//	ojs.jobstore.events.{type}                             -- scheduling events
//	ojs.jobstore.events.>                                  -- all events (stream filter)
const (
	StreamName    = "OJS_JOBSTORE_EVENTS"
	SubjectPrefix = "ojs.jobstore"

	DefaultBucketPrefix = "ojs"
)

// BucketNames names the three KV buckets of a job store.
type BucketNames struct {
	Jobs      string
	Triggers  string
	Calendars string
}

// DefaultBucketNames derives bucket names from a prefix.
// Example: prefix "ojs" gives ojs_jobs, ojs_triggers, ojs_calendars.
func DefaultBucketNames(prefix string) BucketNames {
	if prefix == "" {
		prefix = DefaultBucketPrefix
	}
	return BucketNames{
		Jobs:      prefix + "_jobs",
		Triggers:  prefix + "_triggers",
		Calendars: prefix + "_calendars",
	}
}

// All lists the bucket names in creation order.
func (n BucketNames) All() []string {
	return []string{n.Jobs, n.Triggers, n.Calendars}
}

// EventSubject returns the subject for a scheduling event type.
// Example: ojs.jobstore.events.trigger.misfired
func EventSubject(eventType string) string {
	return fmt.Sprintf("%s.events.%s", SubjectPrefix, eventType)
}

// EventsAllSubject returns the wildcard subject for all events.
func EventsAllSubject() string {
	return fmt.Sprintf("%s.events.>", SubjectPrefix)
}
