package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/openjobspec/ojs-jobstore-nats/internal/codec"
	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
	"github.com/openjobspec/ojs-jobstore-nats/internal/kv"
)

func newTestCollection(t *testing.T) *Collection {
	t.Helper()
	return NewCollection("triggers", kv.NewMemoryBucket("triggers"), Options{})
}

func TestEncodeKey_RoundTrip(t *testing.T) {
	for _, k := range []string{"g:j1", "weird group:name with spaces/é", ""} {
		enc := EncodeKey(k)
		got, err := DecodeKey(enc)
		if err != nil {
			t.Fatalf("DecodeKey(%q) error = %v", enc, err)
		}
		if got != k {
			t.Errorf("DecodeKey(EncodeKey(%q)) = %q", k, got)
		}
	}
	if _, err := DecodeKey("!!"); !errors.Is(err, core.ErrDecode) {
		t.Errorf("DecodeKey(!!) error = %v, want ErrDecode", err)
	}
}

func TestPut_ExpectAbsent(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	ok, err := c.Put(ctx, "g:t1", codec.Item{"v": int64(1)}, ExpectAbsent)
	if err != nil || !ok {
		t.Fatalf("Put() = %v, %v; want true, nil", ok, err)
	}
	_, err = c.Put(ctx, "g:t1", codec.Item{"v": int64(2)}, ExpectAbsent)
	if !errors.Is(err, core.ErrAlreadyExists) {
		t.Fatalf("Put(existing) error = %v, want ErrAlreadyExists", err)
	}
	it, _, _ := c.Get(ctx, "g:t1")
	if it.Int("v") != 1 {
		t.Errorf("item overwritten by failed create: %v", it)
	}
}

func TestPut_ExpectPresent(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	ok, err := c.Put(ctx, "g:t1", codec.Item{"v": int64(1)}, ExpectPresent)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if ok {
		t.Fatal("Put(ExpectPresent) on a missing key = true, want false")
	}
	if exists, _ := c.Exists(ctx, "g:t1"); exists {
		t.Fatal("Put(ExpectPresent) created the key")
	}

	_, _ = c.Put(ctx, "g:t1", codec.Item{"v": int64(1)}, ExpectAny)
	ok, err = c.Put(ctx, "g:t1", codec.Item{"v": int64(2)}, ExpectPresent)
	if err != nil || !ok {
		t.Fatalf("Put(ExpectPresent) = %v, %v; want true, nil", ok, err)
	}
	it, _, _ := c.Get(ctx, "g:t1")
	if it.Int("v") != 2 {
		t.Errorf("Get().v = %d, want 2", it.Int("v"))
	}
}

func TestDelete_ExpectPresent(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)

	ok, err := c.Delete(ctx, "g:none", ExpectPresent)
	if err != nil || ok {
		t.Fatalf("Delete(missing) = %v, %v; want false, nil", ok, err)
	}
	_, _ = c.Put(ctx, "g:t1", codec.Item{}, ExpectAny)
	ok, err = c.Delete(ctx, "g:t1", ExpectPresent)
	if err != nil || !ok {
		t.Fatalf("Delete() = %v, %v; want true, nil", ok, err)
	}
}

func TestDeleteIf(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)
	_, _ = c.Put(ctx, "g:t1", codec.Item{"state": "PAUSED"}, ExpectAny)

	isNormal := func(it codec.Item) bool { return it.String("state") == "NORMAL" }
	ok, err := c.DeleteIf(ctx, "g:t1", isNormal)
	if err != nil || ok {
		t.Fatalf("DeleteIf(rejected) = %v, %v; want false, nil", ok, err)
	}
	if exists, _ := c.Exists(ctx, "g:t1"); !exists {
		t.Fatal("DeleteIf removed an item the predicate rejected")
	}

	_, _ = c.Put(ctx, "g:t1", codec.Item{"state": "NORMAL"}, ExpectAny)
	ok, err = c.DeleteIf(ctx, "g:t1", isNormal)
	if err != nil || !ok {
		t.Fatalf("DeleteIf() = %v, %v; want true, nil", ok, err)
	}
	if ok, _ := c.DeleteIf(ctx, "g:t1", isNormal); ok {
		t.Error("DeleteIf(missing) = true, want false")
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)
	_, _ = c.Put(ctx, "g:t1", codec.Item{"n": int64(1)}, ExpectAny)

	inc := func(it codec.Item) (codec.Item, error) {
		it["n"] = it.Int("n") + 1
		return it, nil
	}
	if ok, err := c.Update(ctx, "g:t1", inc); err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}
	it, _, _ := c.Get(ctx, "g:t1")
	if it.Int("n") != 2 {
		t.Errorf("n = %d, want 2", it.Int("n"))
	}

	reject := func(codec.Item) (codec.Item, error) { return nil, ErrPreconditionFailed }
	if ok, err := c.Update(ctx, "g:t1", reject); err != nil || ok {
		t.Errorf("Update(reject) = %v, %v; want false, nil", ok, err)
	}
	same := func(codec.Item) (codec.Item, error) { return nil, ErrNoChange }
	if ok, err := c.Update(ctx, "g:t1", same); err != nil || !ok {
		t.Errorf("Update(no change) = %v, %v; want true, nil", ok, err)
	}
	if ok, err := c.Update(ctx, "g:missing", inc); err != nil || ok {
		t.Errorf("Update(missing) = %v, %v; want false, nil", ok, err)
	}
	boom := errors.New("boom")
	if _, err := c.Update(ctx, "g:t1", func(codec.Item) (codec.Item, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Errorf("Update(error) = %v, want boom", err)
	}
}

func TestUpdate_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)
	_, _ = c.Put(ctx, "g:t1", codec.Item{"n": int64(0)}, ExpectAny)

	calls := 0
	ok, err := c.Update(ctx, "g:t1", func(it codec.Item) (codec.Item, error) {
		calls++
		if calls == 1 {
			// A concurrent writer gets in between read and write.
			_, _ = c.Put(ctx, "g:t1", codec.Item{"n": int64(10)}, ExpectAny)
		}
		it["n"] = it.Int("n") + 1
		return it, nil
	})
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}
	if calls != 2 {
		t.Errorf("update function ran %d times, want 2", calls)
	}
	it, _, _ := c.Get(ctx, "g:t1")
	if it.Int("n") != 11 {
		t.Errorf("n = %d, want 11", it.Int("n"))
	}
}

func TestUpdate_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	c := NewCollection("t", kv.NewMemoryBucket("t"), Options{CASRetries: 2})
	_, _ = c.Put(ctx, "k", codec.Item{}, ExpectAny)

	ok, err := c.Update(ctx, "k", func(it codec.Item) (codec.Item, error) {
		_, _ = c.Put(ctx, "k", codec.Item{}, ExpectAny)
		return it, nil
	})
	if err != nil || ok {
		t.Errorf("Update() under constant contention = %v, %v; want false, nil", ok, err)
	}
}

func TestScan_FilterAndPagination(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)
	for i := 0; i < 25; i++ {
		state := "NORMAL"
		if i%5 == 0 {
			state = "PAUSED"
		}
		_, _ = c.Put(ctx, fmt.Sprintf("g:t%02d", i), codec.Item{
			"state": state,
			"next":  int64(1000 + i),
		}, ExpectAny)
	}

	filter := Filter{Eq("state", "NORMAL"), Le("next", int64(1019))}
	var got []string
	token := ""
	pages := 0
	for {
		page, err := c.Scan(ctx, filter, token, 7)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		pages++
		for _, r := range page.Records {
			got = append(got, r.Key)
		}
		if page.Next == "" {
			break
		}
		token = page.Next
	}
	if pages != 4 {
		t.Errorf("pages = %d, want 4", pages)
	}
	// t00..t19 minus the paused t00, t05, t10, t15
	if len(got) != 16 {
		t.Errorf("matched %d items, want 16: %v", len(got), got)
	}

	var all int
	for _, err := range c.All(ctx, filter, 3) {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		all++
	}
	if all != 16 {
		t.Errorf("All() yielded %d items, want 16", all)
	}
}

func TestScan_SkipsCorruptItems(t *testing.T) {
	ctx := context.Background()
	b := kv.NewMemoryBucket("jobs")
	c := NewCollection("jobs", b, Options{})
	_, _ = c.Put(ctx, "g:good", codec.Item{"x": int64(1)}, ExpectAny)
	_, _ = b.Put(ctx, EncodeKey("g:bad"), []byte("{not json"))

	page, err := c.Scan(ctx, nil, "", 0)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Key != "g:good" {
		t.Errorf("Scan() = %v, want only g:good", page.Records)
	}
}

func TestConditions(t *testing.T) {
	it := codec.Item{"s": "reports", "n": int64(5), "b": true}
	tests := []struct {
		c    Condition
		want bool
	}{
		{Eq("s", "reports"), true},
		{Eq("n", 5), true},
		{Ne("b", true), false},
		{Ne("missing", true), true},
		{Lt("n", int64(6)), true},
		{Le("n", int64(5)), true},
		{Gt("n", int64(5)), false},
		{Ge("n", 5.0), true},
		{Le("missing", int64(5)), false},
		{BeginsWith("s", "rep"), true},
		{EndsWith("s", "orts"), true},
		{Contains("s", "por"), true},
		{Contains("n", "5"), false},
		{Exists("b"), true},
		{NotExists("b"), false},
		{Lt("s", int64(1)), false},
	}
	for _, tt := range tests {
		if got := (Filter{tt.c}).Match(it); got != tt.want {
			t.Errorf("%+v.Match() = %v, want %v", tt.c, got, tt.want)
		}
	}
}

func TestGroupFilter(t *testing.T) {
	it := codec.Item{codec.AttrGroup: "reports"}
	if !GroupFilter(core.GroupEquals("reports")).Match(it) {
		t.Error("equals matcher did not match")
	}
	if GroupFilter(core.GroupStartsWith("x")).Match(it) {
		t.Error("starts-with matcher matched")
	}
	if !GroupFilter(core.AnyGroup()).Match(it) {
		t.Error("anything matcher did not match")
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection(t)
	for i := 0; i < 3; i++ {
		_, _ = c.Put(ctx, fmt.Sprintf("g:%d", i), codec.Item{}, ExpectAny)
	}
	n, err := c.Clear(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Clear() = %d, %v; want 3, nil", n, err)
	}
	if count, _ := c.Count(ctx); count != 0 {
		t.Errorf("Count() after Clear = %d, want 0", count)
	}
}
