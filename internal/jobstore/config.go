package jobstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/store"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultMisfireThreshold = time.Minute
	DefaultLockTimeout      = 10 * time.Minute
	DefaultTriggerEstimate  = 200 * time.Millisecond
)

// AutoInstanceID asks New to generate an instance id.
const AutoInstanceID = "AUTO"

// Config is fixed at construction. Zero fields take their defaults, except
// LockTimeout where zero keeps leases until they are released; use
// DefaultConfig to start from the defaults.
type Config struct {
	// InstanceID identifies this scheduler instance as a lease holder.
	// Empty or AUTO generates a UUIDv7.
	InstanceID   string
	InstanceName string

	MisfireThreshold time.Duration
	// LockTimeout lets another instance take over a lease older than this.
	LockTimeout     time.Duration
	TriggerEstimate time.Duration
	Clustered       bool

	CASRetries   int
	ScanPageSize int

	// Clock defaults to time.Now. Tests replace it.
	Clock func() time.Time
}

// DefaultConfig returns a clustered configuration with every default set.
func DefaultConfig() Config {
	return Config{
		InstanceID:       AutoInstanceID,
		InstanceName:     "ojs-jobstore",
		MisfireThreshold: DefaultMisfireThreshold,
		LockTimeout:      DefaultLockTimeout,
		TriggerEstimate:  DefaultTriggerEstimate,
		Clustered:        true,
		CASRetries:       store.DefaultCASRetries,
		ScanPageSize:     store.DefaultPageSize,
	}
}

func (c Config) withDefaults() (Config, error) {
	if c.InstanceID == "" || strings.EqualFold(c.InstanceID, AutoInstanceID) {
		c.InstanceID = core.NewUUIDv7()
	}
	if c.InstanceName == "" {
		c.InstanceName = c.InstanceID
	}
	if c.MisfireThreshold <= 0 {
		c.MisfireThreshold = DefaultMisfireThreshold
	}
	if c.LockTimeout < 0 {
		return c, fmt.Errorf("lock timeout %s must not be negative", c.LockTimeout)
	}
	if c.TriggerEstimate <= 0 {
		c.TriggerEstimate = DefaultTriggerEstimate
	}
	if c.CASRetries <= 0 {
		c.CASRetries = store.DefaultCASRetries
	}
	if c.ScanPageSize <= 0 {
		c.ScanPageSize = store.DefaultPageSize
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c, nil
}
