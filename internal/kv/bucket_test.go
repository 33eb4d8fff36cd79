package kv

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// runBucketContract checks the CAS semantics every Bucket must provide.
func runBucketContract(t *testing.T, b Bucket) {
	t.Helper()
	ctx := context.Background()

	if _, _, err := b.Get(ctx, "missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrKeyNotFound", err)
	}

	rev1, err := b.Create(ctx, "a", []byte("1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := b.Create(ctx, "a", []byte("x")); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("Create(existing) error = %v, want ErrKeyExists", err)
	}

	rev2, err := b.Update(ctx, "a", []byte("2"), rev1)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if rev2 == rev1 {
		t.Fatalf("Update() revision = %d, want a new revision", rev2)
	}
	if _, err := b.Update(ctx, "a", []byte("3"), rev1); !errors.Is(err, ErrRevisionMismatch) {
		t.Fatalf("Update(stale) error = %v, want ErrRevisionMismatch", err)
	}

	val, rev, err := b.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(val) != "2" || rev != rev2 {
		t.Fatalf("Get() = %q@%d, want %q@%d", val, rev, "2", rev2)
	}

	if err := b.Delete(ctx, "a", rev1); !errors.Is(err, ErrRevisionMismatch) {
		t.Fatalf("Delete(stale) error = %v, want ErrRevisionMismatch", err)
	}
	if err := b.Delete(ctx, "a", rev2); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, _, err := b.Get(ctx, "a"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Get(deleted) error = %v, want ErrKeyNotFound", err)
	}
	if _, err := b.Create(ctx, "a", []byte("again")); err != nil {
		t.Fatalf("Create(after delete) error = %v", err)
	}

	if _, err := b.Put(ctx, "b", []byte("b")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys() = %v, want [a b]", keys)
	}

	if err := b.Delete(ctx, "b", 0); err != nil {
		t.Fatalf("Delete(unconditional) error = %v", err)
	}
}

func TestMemoryBucketContract(t *testing.T) {
	runBucketContract(t, NewMemoryBucket("test"))
}

func TestMemoryBucket_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket("copy")
	v := []byte("abc")
	if _, err := b.Put(ctx, "k", v); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	v[0] = 'z'
	got, _, _ := b.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("Get() = %q, want %q", got, "abc")
	}
}

func TestMemoryBucket_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryBucket("c").Put(ctx, "k", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want context.Canceled", err)
	}
}

func TestNATSStoreContract(t *testing.T) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}
	nc, err := nats.Connect(natsURL, nats.Timeout(time.Second))
	if err != nil {
		t.Skipf("skipping integration test; NATS unavailable at %s: %v", natsURL, err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream.New() error = %v", err)
	}
	ctx := context.Background()
	name := "it-kv-" + core.NewUUIDv7()
	bucket, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: name, Storage: jetstream.MemoryStorage})
	if err != nil {
		t.Skipf("skipping integration test; JetStream unavailable: %v", err)
	}
	t.Cleanup(func() { _ = js.DeleteKeyValue(context.Background(), name) })

	runBucketContract(t, NewStore(bucket))
}

func TestPostgresBucketContract(t *testing.T) {
	dsn := os.Getenv("OJS_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skipping integration test; OJS_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Skipf("skipping integration test; Postgres unavailable: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	name := "it-kv-" + core.NewUUIDv7()
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM ojs_kv WHERE bucket = $1`, name)
	})

	runBucketContract(t, NewPostgresBucket(pool, name))
}
