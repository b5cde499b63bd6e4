package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/lycheefs/lycheefs/pkg/models"
)

// fakeClock advances one second on every reading.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func key(id string) Key {
	return Key{PhotoID: id, Quality: models.QualityMedium}
}

func newTestLRU(maxSize int64, ttl time.Duration) (*LRU, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRU(maxSize, ttl, nil)
	c.now = clock.now
	return c, clock
}

func TestLRUGetPut(t *testing.T) {
	c, _ := newTestLRU(100, 0)

	if _, ok := c.Get(key("a")); ok {
		t.Fatal("empty cache returned an entry")
	}
	data := []byte("hello")
	if !c.Put(key("a"), data) {
		t.Fatal("Put rejected small entry")
	}
	got, ok := c.Get(key("a"))
	if !ok || !bytes.Equal(got, data) {
		t.Errorf("Get = %q, %v", got, ok)
	}
	if _, ok := c.Get(Key{PhotoID: "a", Quality: models.QualityOriginal}); ok {
		t.Error("quality must be part of the key")
	}

	st := c.Stats()
	if st.Entries != 1 || st.Bytes != 5 || st.Hits != 1 || st.Misses != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestLRU(30, 0)
	c.Put(key("a"), make([]byte, 10))
	c.Put(key("b"), make([]byte, 10))
	c.Put(key("c"), make([]byte, 10))

	// touch a so b becomes the oldest
	if _, ok := c.Get(key("a")); !ok {
		t.Fatal("a missing")
	}
	c.Put(key("d"), make([]byte, 10))

	if _, ok := c.Get(key("b")); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key(k)); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	st := c.Stats()
	if st.Bytes != 30 || st.Evictions != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestLRURejectsOversized(t *testing.T) {
	c, _ := newTestLRU(10, 0)
	if c.Put(key("big"), make([]byte, 11)) {
		t.Error("entry larger than the cache should be rejected")
	}
	if c.Stats().Bytes != 0 {
		t.Error("rejected entry counted")
	}
}

func TestLRUReplaceKeepsSizeAccurate(t *testing.T) {
	c, _ := newTestLRU(100, 0)
	c.Put(key("a"), make([]byte, 40))
	c.Put(key("a"), make([]byte, 20))
	if st := c.Stats(); st.Bytes != 20 || st.Entries != 1 {
		t.Errorf("stats = %+v", st)
	}
	c.Evict(key("a"))
	if st := c.Stats(); st.Bytes != 0 || st.Entries != 0 {
		t.Errorf("after evict stats = %+v", st)
	}
}

func TestLRUTTL(t *testing.T) {
	c, clock := newTestLRU(100, 10*time.Second)
	c.Put(key("a"), []byte("x"))
	if _, ok := c.Get(key("a")); !ok {
		t.Fatal("fresh entry missing")
	}
	clock.t = clock.t.Add(time.Minute)
	if _, ok := c.Get(key("a")); ok {
		t.Error("expired entry returned")
	}
	if c.Stats().Entries != 0 {
		t.Error("expired entry not removed")
	}
}

func TestTinyLFU(t *testing.T) {
	s, err := NewTinyLFU(1<<20, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	data := bytes.Repeat([]byte("x"), 1024)
	if !s.Put(key("a"), data) {
		t.Skip("ristretto dropped the set under contention")
	}
	got, ok := s.Get(key("a"))
	if !ok || !bytes.Equal(got, data) {
		t.Fatalf("Get = %d bytes, %v", len(got), ok)
	}
	if s.Put(key("huge"), make([]byte, 2<<20)) {
		t.Error("entry larger than MaxCost should be rejected")
	}
	s.Evict(key("a"))
	if _, ok := s.Get(key("a")); ok {
		t.Error("evicted entry returned")
	}
	if st := s.Stats(); st.Policy != PolicyTinyLFU || st.MaxBytes != 1<<20 || st.Hits == 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		policy  Policy
		want    Policy
		wantErr bool
	}{
		{"", PolicyLRU, false},
		{PolicyLRU, PolicyLRU, false},
		{PolicyTinyLFU, PolicyTinyLFU, false},
		{PolicyNone, PolicyNone, false},
		{"fifo", "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			s, err := New(Config{Policy: tt.policy, MaxBytes: 1 << 20})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New err = %v", err)
			}
			if err != nil {
				return
			}
			defer s.Close()
			if got := s.Stats().Policy; got != tt.want {
				t.Errorf("policy = %q, want %q", got, tt.want)
			}
		})
	}
	if _, err := New(Config{TTL: -time.Second}); err == nil {
		t.Error("negative ttl accepted")
	}
}

func TestDisabled(t *testing.T) {
	var s Store = Disabled{}
	if s.Put(key("a"), []byte("x")) {
		t.Error("disabled store admitted an entry")
	}
	if _, ok := s.Get(key("a")); ok {
		t.Error("disabled store returned an entry")
	}
	if !IsDisabled(s) || IsDisabled(NewLRU(1, 0, nil)) {
		t.Error("IsDisabled wrong")
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("TinyLFU"); err != nil || p != PolicyTinyLFU {
		t.Errorf("ParsePolicy = %q, %v", p, err)
	}
	if _, err := ParsePolicy("arc"); err == nil {
		t.Error("expected error")
	}
	if k := key("p1"); k.String() != "p1@medium" {
		t.Errorf("Key.String = %q", k.String())
	}
}
