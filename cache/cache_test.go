package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestKeyIgnoresParamOrder(t *testing.T) {
	a := Key("videos.list", map[string]string{"id": "a,b", "part": "snippet"})
	b := Key("videos.list", map[string]string{"part": "snippet", "id": "a,b"})
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if a != "videos.list|id=a,b|part=snippet" {
		t.Errorf("unexpected key %q", a)
	}
	if Key("channels.list", nil) != "channels.list" {
		t.Error("key without params should be the endpoint")
	}
}

func TestRevalidateMissThenHit(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, nil)

	calls := 0
	var sentValidators []string
	fetch := func(ctx context.Context, validator string) ([]byte, string, error) {
		calls++
		sentValidators = append(sentValidators, validator)
		if validator == `"etag-1"` {
			return nil, "", ErrNotModified
		}
		return []byte(`{"items":[1]}`), `"etag-1"`, nil
	}

	p1, hit, err := c.Revalidate(ctx, "k", fetch)
	if err != nil || hit {
		t.Fatalf("first call: hit=%v err=%v", hit, err)
	}
	p2, hit, err := c.Revalidate(ctx, "k", fetch)
	if err != nil || !hit {
		t.Fatalf("second call: hit=%v err=%v", hit, err)
	}
	if !bytes.Equal(p1, p2) {
		t.Errorf("payload changed on not-modified: %s vs %s", p1, p2)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if sentValidators[0] != "" || sentValidators[1] != `"etag-1"` {
		t.Errorf("validators = %v", sentValidators)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("stats = %+v", st)
	}
	if c.HitRate() != 0.5 {
		t.Errorf("hit rate = %v", c.HitRate())
	}
}

func TestRevalidateChangedOverwrites(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, nil)
	if err := c.Put(ctx, "k", []byte(`"old"`), "v1"); err != nil {
		t.Fatal(err)
	}

	got, hit, err := c.Revalidate(ctx, "k", func(ctx context.Context, v string) ([]byte, string, error) {
		return []byte(`"new"`), "v2", nil
	})
	if err != nil || hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if string(got) != `"new"` {
		t.Errorf("payload = %s", got)
	}
	e, _ := c.Get("k")
	if e.Validator != "v2" || string(e.Payload) != `"new"` {
		t.Errorf("entry not replaced: %+v", e)
	}
}

func TestRevalidateNotModifiedWithoutEntry(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, nil)
	_, _, err := c.Revalidate(ctx, "k", func(ctx context.Context, v string) ([]byte, string, error) {
		return nil, "", ErrNotModified
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRevalidateFetchErrorLeavesStats(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, nil)
	boom := errors.New("boom")
	_, _, err := c.Revalidate(ctx, "k", func(ctx context.Context, v string) ([]byte, string, error) {
		return nil, "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if st := c.Stats(); st.Hits != 0 || st.Misses != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestHitRateEmpty(t *testing.T) {
	if (Stats{}).HitRate() != 0 {
		t.Error("empty hit rate should be 0")
	}
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	var hits, misses int
	c := New(ctx, nil, WithHooks(func() { hits++ }, func() { misses++ }))
	fetch := func(ctx context.Context, v string) ([]byte, string, error) {
		if v != "" {
			return nil, "", ErrNotModified
		}
		return []byte("1"), "e", nil
	}
	c.Revalidate(ctx, "k", fetch)
	c.Revalidate(ctx, "k", fetch)
	c.Revalidate(ctx, "k", fetch)
	if hits != 2 || misses != 1 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}
}

func TestFileBackendPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")

	b, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	c := New(ctx, b)
	if err := c.Put(ctx, "channels.list|id=UC1", []byte(`{"a":1}`), `"x"`); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b2.Close()
	c2 := New(ctx, b2)
	e, ok := c2.Get("channels.list|id=UC1")
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if e.Validator != `"x"` || string(e.Payload) != `{"a":1}` {
		t.Errorf("entry = %+v", e)
	}
}

func TestFileBackendNotModifiedAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	body := []byte(`{"etag":"e1","items":[{"id":"v1"}]}`)

	b, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	c := New(ctx, b)
	_, _, err = c.Revalidate(ctx, "videos.list|id=v1", func(ctx context.Context, v string) ([]byte, string, error) {
		return body, `"e1"`, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	c2 := New(ctx, b2)
	defer c2.Close()

	got, hit, err := c2.Revalidate(ctx, "videos.list|id=v1", func(ctx context.Context, v string) ([]byte, string, error) {
		if v != `"e1"` {
			t.Errorf("validator sent = %q", v)
		}
		return nil, "", ErrNotModified
	})
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Error("expected a hit")
	}
	if !bytes.Equal(got, body) {
		t.Errorf("payload changed across reopen:\n got %q\nwant %q", got, body)
	}
	if s := c2.Stats(); s.Misses != 0 {
		t.Errorf("misses = %d, want 0", s.Misses)
	}
}

func TestFileBackendCorruptStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := OpenFile(path)
	if err != nil {
		t.Fatalf("corrupt cache should not be fatal: %v", err)
	}
	defer b.Close()
	if b.Recovered() == nil {
		t.Error("expected Recovered to report corruption")
	}
	c := New(ctx, b)
	if c.Stats().Entries != 0 {
		t.Error("expected empty cache")
	}
}

type failingBackend struct{}

func (failingBackend) Load(context.Context) (map[string]Entry, error) {
	return nil, errors.New("unreadable")
}
func (failingBackend) Store(context.Context, Entry) error { return errors.New("read-only") }
func (failingBackend) Close() error                       { return nil }

func TestUnreadableBackendNotFatal(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, failingBackend{})
	if c.Stats().Entries != 0 {
		t.Fatal("expected empty cache")
	}
	// Write-through failure is logged; the fresh payload is still returned.
	got, _, err := c.Revalidate(ctx, "k", func(ctx context.Context, v string) ([]byte, string, error) {
		return []byte("1"), "e", nil
	})
	if err != nil || string(got) != "1" {
		t.Fatalf("got=%s err=%v", got, err)
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	b := &RedisBackend{prefix: DefaultRedisPrefix}
	rk := b.redisKey("videos.list|id=a")
	if rk != "ytsheets:cache:videos.list|id=a" {
		t.Errorf("redis key = %q", rk)
	}
	if b.cacheKey(rk) != "videos.list|id=a" {
		t.Errorf("round trip = %q", b.cacheKey(rk))
	}
}

func TestOpenRedisInvalidURL(t *testing.T) {
	if _, err := OpenRedis(context.Background(), "not a url", ""); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}
