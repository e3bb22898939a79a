package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mapCounter is an in-test Counter tracking counts per key.
type mapCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMapCounter() *mapCounter {
	return &mapCounter{counts: make(map[string]int64)}
}

func (c *mapCounter) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

type errorCounter struct{}

func (errorCounter) Increment(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("both cache tiers down")
}

func limitExchange(client string) *Exchange {
	r := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	return &Exchange{Request: r, ClientID: client}
}

func TestRateLimitAllowsUpToMax(t *testing.T) {
	stage := NewRateLimitStage(newMapCounter(), time.Minute, 3, discardLogger())
	stage.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	for i := 1; i <= 3; i++ {
		res, err := stage.Process(context.Background(), limitExchange("1.2.3.4"))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if res.Action != ActionAllow {
			t.Fatalf("request %d: expected allow, got %s", i, res.Action)
		}
		if got := res.Header.Get("X-RateLimit-Limit"); got != "3" {
			t.Errorf("request %d: limit header = %q, want 3", i, got)
		}
	}

	res, err := stage.Process(context.Background(), limitExchange("1.2.3.4"))
	if err != nil {
		t.Fatalf("request 4: %v", err)
	}
	if res.Action != ActionDeny {
		t.Fatalf("request 4: expected deny, got %s", res.Action)
	}
	if res.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", res.Status)
	}
	if res.Outcome != OutcomeRateLimited {
		t.Errorf("outcome = %s, want %s", res.Outcome, OutcomeRateLimited)
	}
	if got := res.Header.Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("remaining header = %q, want 0", got)
	}
	if res.Header.Get("Retry-After") == "" {
		t.Error("deny response should carry Retry-After")
	}
}

func TestRateLimitNewWindowResetsCount(t *testing.T) {
	counter := newMapCounter()
	stage := NewRateLimitStage(counter, time.Minute, 1, discardLogger())

	base := time.Unix(1_700_000_000, 0)
	stage.now = func() time.Time { return base }

	if res, _ := stage.Process(context.Background(), limitExchange("1.2.3.4")); res.Action != ActionAllow {
		t.Fatal("first request should be allowed")
	}
	if res, _ := stage.Process(context.Background(), limitExchange("1.2.3.4")); res.Action != ActionDeny {
		t.Fatal("second request in window should be denied")
	}

	// Advance past the window boundary: a fresh counter key applies.
	stage.now = func() time.Time { return base.Add(time.Minute) }
	if res, _ := stage.Process(context.Background(), limitExchange("1.2.3.4")); res.Action != ActionAllow {
		t.Fatal("request in new window should be allowed")
	}
}

func TestRateLimitIsolatesClients(t *testing.T) {
	stage := NewRateLimitStage(newMapCounter(), time.Minute, 1, discardLogger())
	stage.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	if res, _ := stage.Process(context.Background(), limitExchange("1.2.3.4")); res.Action != ActionAllow {
		t.Fatal("first client should be allowed")
	}
	if res, _ := stage.Process(context.Background(), limitExchange("1.2.3.4")); res.Action != ActionDeny {
		t.Fatal("first client second request should be denied")
	}
	if res, _ := stage.Process(context.Background(), limitExchange("5.6.7.8")); res.Action != ActionAllow {
		t.Fatal("second client should have its own budget")
	}
}

func TestRateLimitFailsOpenOnCacheOutage(t *testing.T) {
	stage := NewRateLimitStage(errorCounter{}, time.Minute, 1, discardLogger())

	for i := 0; i < 5; i++ {
		res, err := stage.Process(context.Background(), limitExchange("1.2.3.4"))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if res.Action != ActionAllow {
			t.Fatalf("expected fail-open allow, got %s", res.Action)
		}
	}
}

func TestRateLimitRemainingHeaderCountsDown(t *testing.T) {
	stage := NewRateLimitStage(newMapCounter(), time.Minute, 2, discardLogger())
	stage.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	want := []string{"1", "0"}
	for i, w := range want {
		res, err := stage.Process(context.Background(), limitExchange("1.2.3.4"))
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if got := res.Header.Get("X-RateLimit-Remaining"); got != w {
			t.Errorf("request %d: remaining = %q, want %q", i+1, got, w)
		}
	}
}
