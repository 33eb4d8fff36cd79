// Package nats connects the job store to NATS: KV buckets for the three
// collections and core pub/sub for scheduling events.
package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-jobstore-nats/internal/kv"
)

// Options configures a Backend.
type Options struct {
	URL string
	// Name is reported to the NATS server as the client name.
	Name    string
	Buckets BucketNames
	Setup   SetupOptions
}

// Backend holds the NATS connection and the job store buckets.
type Backend struct {
	nc *nats.Conn
	js jetstream.JetStream

	Jobs      *kv.Store
	Triggers  *kv.Store
	Calendars *kv.Store

	startTime time.Time
}

// New connects to NATS, creates the JetStream resources and opens the
// buckets.
func New(opts Options) (*Backend, error) {
	if opts.Buckets == (BucketNames{}) {
		opts.Buckets = DefaultBucketNames("")
	}
	natsOpts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	if opts.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opts.Name))
	}
	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := SetupJetStream(ctx, js, opts.Buckets, opts.Setup); err != nil {
		nc.Close()
		return nil, fmt.Errorf("setting up JetStream: %w", err)
	}

	openKV := func(name string) (*kv.Store, error) {
		bucket, err := js.KeyValue(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("opening KV bucket %s: %w", name, err)
		}
		return kv.NewStore(bucket), nil
	}

	b := &Backend{nc: nc, js: js, startTime: time.Now()}
	if b.Jobs, err = openKV(opts.Buckets.Jobs); err != nil {
		nc.Close()
		return nil, err
	}
	if b.Triggers, err = openKV(opts.Buckets.Triggers); err != nil {
		nc.Close()
		return nil, err
	}
	if b.Calendars, err = openKV(opts.Buckets.Calendars); err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

// Conn returns the underlying NATS connection for use by auxiliary services (e.g., pub/sub broker).
func (b *Backend) Conn() *nats.Conn {
	return b.nc
}

// JetStream returns the JetStream context.
func (b *Backend) JetStream() jetstream.JetStream {
	return b.js
}

// Uptime returns how long the backend has been connected.
func (b *Backend) Uptime() time.Duration {
	return time.Since(b.startTime)
}

// Ping checks the connection and measures a KV round trip.
func (b *Backend) Ping(ctx context.Context) (time.Duration, error) {
	if status := b.nc.Status(); status != nats.CONNECTED {
		return 0, fmt.Errorf("NATS not connected: %v", status)
	}
	start := time.Now()
	_, _, err := b.Jobs.Get(ctx, "_health_check")
	if err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
		return 0, fmt.Errorf("NATS KV round trip: %w", err)
	}
	return time.Since(start), nil
}

func (b *Backend) Close() error {
	b.nc.Close()
	return nil
}
