package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// SetupOptions tunes the JetStream resources created by SetupJetStream.
type SetupOptions struct {
	Storage  jetstream.StorageType
	Replicas int
	// EventRetention bounds how long scheduling events are kept. Zero
	// skips creating the events stream.
	EventRetention time.Duration
}

// SetupJetStream creates the job store KV buckets and the events stream.
func SetupJetStream(ctx context.Context, js jetstream.JetStream, names BucketNames, opts SetupOptions) error {
	for _, name := range names.All() {
		cfg := jetstream.KeyValueConfig{
			Bucket:   name,
			History:  1,
			Storage:  opts.Storage,
			Replicas: opts.Replicas,
		}
		if _, err := js.CreateOrUpdateKeyValue(ctx, cfg); err != nil {
			return fmt.Errorf("creating KV bucket %s: %w", name, err)
		}
	}

	if opts.EventRetention <= 0 {
		return nil
	}
	// Events are informational: old ones are discarded, nobody acks them.
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{EventsAllSubject()},
		Storage:   opts.Storage,
		Replicas:  opts.Replicas,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    opts.EventRetention,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("creating stream %s: %w", StreamName, err)
	}
	return nil
}

// DeleteBuckets removes the job store KV buckets.
func DeleteBuckets(ctx context.Context, js jetstream.JetStream, names BucketNames) error {
	var firstErr error
	for _, name := range names.All() {
		if err := js.DeleteKeyValue(ctx, name); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("deleting KV bucket %s: %w", name, err)
		}
	}
	return firstErr
}
