package server

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-jobstore-nats/internal/api"
	"github.com/openjobspec/ojs-jobstore-nats/internal/jobstore"
	"github.com/openjobspec/ojs-jobstore-nats/internal/kv"
	natsbackend "github.com/openjobspec/ojs-jobstore-nats/internal/nats"
)

// Runtime is an opened job store with its backend resources.
type Runtime struct {
	Store  *jobstore.Store
	Health api.HealthChecker
	// Broker publishes scheduling events. Nil unless the driver is nats.
	Broker *natsbackend.PubSubBroker
	Driver string

	closers []func()
}

// Close releases the backend resources in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// BucketNames resolves the configured bucket names.
func (c Config) BucketNames() natsbackend.BucketNames {
	names := natsbackend.DefaultBucketNames(c.BucketPrefix)
	names.Jobs = cmp.Or(c.JobsBucket, names.Jobs)
	names.Triggers = cmp.Or(c.TriggersBucket, names.Triggers)
	names.Calendars = cmp.Or(c.CalendarsBucket, names.Calendars)
	return names
}

// StoreConfig maps the server configuration onto the job store's.
func (c Config) StoreConfig() jobstore.Config {
	sc := jobstore.DefaultConfig()
	sc.InstanceID = c.InstanceID
	sc.InstanceName = c.InstanceName
	sc.Clustered = c.Clustered
	sc.MisfireThreshold = c.MisfireThreshold
	sc.LockTimeout = c.LockTimeout
	return sc
}

// Open connects to the configured backend and builds the job store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	names := cfg.BucketNames()
	rt := &Runtime{Driver: cfg.Driver}

	var jobs, triggers, calendars kv.Bucket
	switch cfg.Driver {
	case DriverNATS:
		backend, err := natsbackend.New(natsbackend.Options{
			URL:     cfg.NatsURL,
			Name:    cfg.InstanceName,
			Buckets: names,
			Setup: natsbackend.SetupOptions{
				Storage:        jetstream.FileStorage,
				Replicas:       cfg.KVReplicas,
				EventRetention: cfg.EventRetention,
			},
		})
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = backend.Close() })
		rt.Broker = natsbackend.NewPubSubBroker(backend.Conn())
		rt.closers = append(rt.closers, func() { _ = rt.Broker.Close() })
		rt.Health = backend
		jobs, triggers, calendars = backend.Jobs, backend.Triggers, backend.Calendars
		logger.Info("connected to NATS", "url", cfg.NatsURL, "jobs_bucket", names.Jobs)

	case DriverPostgres:
		pool, err := kv.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		if err := kv.Migrate(ctx, pool); err != nil {
			rt.Close()
			return nil, err
		}
		rt.Health = poolHealth{pool}
		jobs = kv.NewPostgresBucket(pool, names.Jobs)
		triggers = kv.NewPostgresBucket(pool, names.Triggers)
		calendars = kv.NewPostgresBucket(pool, names.Calendars)
		logger.Info("connected to postgres", "jobs_bucket", names.Jobs)

	case DriverMemory:
		jobs = kv.NewMemoryBucket(names.Jobs)
		triggers = kv.NewMemoryBucket(names.Triggers)
		calendars = kv.NewMemoryBucket(names.Calendars)
		logger.Warn("using in-memory job store, nothing is persisted")

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	store, err := jobstore.New(cfg.StoreConfig(), jobs, triggers, calendars, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = store
	return rt, nil
}

type poolHealth struct {
	pool *pgxpool.Pool
}

func (h poolHealth) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := h.pool.Ping(ctx); err != nil {
		return 0, fmt.Errorf("postgres ping: %w", err)
	}
	return time.Since(start), nil
}
