package cache

import (
	"testing"
	"time"

	"github.com/conduit-ai/conduit/internal/provider"
)

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	c, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testRequest(content string) provider.Request {
	return provider.Request{
		Model: "gpt-4o-mini",
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "be brief"},
			{Role: provider.RoleUser, Content: content},
		},
	}
}

func TestFingerprint(t *testing.T) {
	req := testRequest("hello")

	if Fingerprint(req) != Fingerprint(req) {
		t.Error("same request should produce same fingerprint")
	}

	other := testRequest("hello")
	other.Model = "gpt-4o"
	if Fingerprint(req) == Fingerprint(other) {
		t.Error("different model should produce different fingerprint")
	}

	reordered := testRequest("hello")
	reordered.Messages[0], reordered.Messages[1] = reordered.Messages[1], reordered.Messages[0]
	if Fingerprint(req) == Fingerprint(reordered) {
		t.Error("reordered messages should produce different fingerprint")
	}

	padded := testRequest("hello ")
	if Fingerprint(req) == Fingerprint(padded) {
		t.Error("whitespace is significant; padded content should key differently")
	}
}

func TestLookupStoreRoundTrip(t *testing.T) {
	c := newTestCache(t, Options{})
	req := testRequest("what is 2+2")

	if got := c.Lookup(req); got != nil {
		t.Fatalf("expected miss before store, got %+v", got)
	}

	c.Store(req, &provider.Response{
		Content: "4",
		Model:   "gpt-4o-mini",
		Usage:   &provider.Usage{PromptTokens: 12, CompletionTokens: 1, TotalTokens: 13},
	})

	got := c.Lookup(req)
	if got == nil {
		t.Fatal("expected hit after store")
	}
	if got.Content != "4" {
		t.Errorf("Content = %q, want %q", got.Content, "4")
	}
	if got.Usage == nil || got.Usage.TotalTokens != 13 {
		t.Errorf("Usage = %+v, want total 13", got.Usage)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %d hits / %d misses, want 1/1", stats.Hits, stats.Misses)
	}
	if rate := stats.HitRate(); rate != 0.5 {
		t.Errorf("HitRate = %f, want 0.5", rate)
	}
}

func TestSlowTierHitPromotes(t *testing.T) {
	c := newTestCache(t, Options{})
	req := testRequest("promote me")
	c.Store(req, &provider.Response{Content: "promoted"})

	c.ClearFast()
	fp := Fingerprint(req)
	if c.fast.get(fp) != nil {
		t.Fatal("fast tier should be empty after ClearFast")
	}

	got := c.Lookup(req)
	if got == nil || got.Content != "promoted" {
		t.Fatalf("expected slow-tier hit, got %+v", got)
	}
	if c.fast.get(fp) == nil {
		t.Error("slow-tier hit should promote the entry into the fast tier")
	}
}

func TestLookupDegradesToMissOnTierFailure(t *testing.T) {
	var logged int
	c := newTestCache(t, Options{Logf: func(string, ...any) { logged++ }})
	req := testRequest("resilient")
	c.Store(req, &provider.Response{Content: "x"})
	c.ClearFast()

	// Break the slow tier underneath the cache.
	c.slow.db.Close()

	if got := c.Lookup(req); got != nil {
		t.Fatalf("expected degraded miss, got %+v", got)
	}
	if logged == 0 {
		t.Error("tier failure should be logged")
	}
	if stats := c.Stats(); stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
}

func TestExpiredEntryMisses(t *testing.T) {
	c := newTestCache(t, Options{})
	req := testRequest("stale")
	fp := Fingerprint(req)

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	if err := c.slow.putAt(fp, provider.Response{Content: "old"}, old); err != nil {
		t.Fatal(err)
	}

	if got := c.Lookup(req); got != nil {
		t.Fatalf("expected miss for expired entry, got %+v", got)
	}
}

func TestSweepExpired(t *testing.T) {
	c := newTestCache(t, Options{})

	old := time.Now().UTC().Add(-8 * 24 * time.Hour)
	if err := c.slow.putAt("stale-fp", provider.Response{Content: "old"}, old); err != nil {
		t.Fatal(err)
	}
	c.Store(testRequest("fresh"), &provider.Response{Content: "new"})

	if n := c.SweepExpired(); n != 1 {
		t.Errorf("SweepExpired = %d, want 1", n)
	}
	if stats := c.Stats(); stats.SlowEntries != 1 {
		t.Errorf("SlowEntries = %d, want 1 after sweep", stats.SlowEntries)
	}
}

func TestInvalidateAll(t *testing.T) {
	c := newTestCache(t, Options{})
	c.Store(testRequest("a"), &provider.Response{Content: "1"})
	c.Store(testRequest("b"), &provider.Response{Content: "2"})

	c.InvalidateAll()

	if got := c.Lookup(testRequest("a")); got != nil {
		t.Errorf("expected miss after InvalidateAll, got %+v", got)
	}
	stats := c.Stats()
	if stats.FastEntries != 0 || stats.SlowEntries != 0 {
		t.Errorf("stats = %d fast / %d slow entries, want 0/0", stats.FastEntries, stats.SlowEntries)
	}
}

func TestOversizedResponseStaysInSlowTier(t *testing.T) {
	c := newTestCache(t, Options{FastMaxBytes: 512, FastMaxEntries: 10})
	req := testRequest("big")
	big := make([]byte, 2048)
	for i := range big {
		big[i] = 'x'
	}
	c.Store(req, &provider.Response{Content: string(big)})

	if entries, _ := c.fast.stats(); entries != 0 {
		t.Errorf("fast tier holds %d entries, oversized response should not fit", entries)
	}
	if got := c.Lookup(req); got == nil || len(got.Content) != 2048 {
		t.Error("oversized response should still be served from the slow tier")
	}
}
