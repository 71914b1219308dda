// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheckAndIncrementFixedWindow(t *testing.T) {
	store := NewMemoryCounterStore()
	defer store.Close()

	ctx := context.Background()
	limit := Limit{MaxRequests: 3, WindowSeconds: 60}

	for i := 1; i <= 3; i++ {
		state, allowed, err := store.CheckAndIncrement(ctx, "ip:1.2.3.4:login", limit)
		if err != nil {
			t.Fatal(err)
		}
		if !allowed {
			t.Fatalf("check %d should be allowed", i)
		}
		if state.Count != i {
			t.Errorf("count after check %d = %d", i, state.Count)
		}
	}

	// Fourth check is denied and must not mutate the count.
	state, allowed, err := store.CheckAndIncrement(ctx, "ip:1.2.3.4:login", limit)
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Error("check beyond limit should be denied")
	}
	if state.Count != 3 {
		t.Errorf("denied check mutated count to %d", state.Count)
	}
}

func TestWindowReset(t *testing.T) {
	store := NewMemoryCounterStore()
	defer store.Close()

	ctx := context.Background()
	limit := Limit{MaxRequests: 1, WindowSeconds: 1}

	if _, allowed, _ := store.CheckAndIncrement(ctx, "k", limit); !allowed {
		t.Fatal("first check should pass")
	}
	if _, allowed, _ := store.CheckAndIncrement(ctx, "k", limit); allowed {
		t.Fatal("second check in window should be denied")
	}

	time.Sleep(1100 * time.Millisecond)

	state, allowed, err := store.CheckAndIncrement(ctx, "k", limit)
	if err != nil {
		t.Fatal(err)
	}
	if !allowed {
		t.Error("check after window reset should be allowed")
	}
	if state.Count != 1 {
		t.Errorf("count after reset = %d, want 1", state.Count)
	}
}

func TestConcurrentChecksNoLostUpdates(t *testing.T) {
	store := NewMemoryCounterStore()
	defer store.Close()

	ctx := context.Background()
	limit := Limit{MaxRequests: 50, WindowSeconds: 60}

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if _, ok, err := store.CheckAndIncrement(ctx, "hot", limit); err == nil && ok {
					atomic.AddInt64(&allowed, 1)
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed %d checks, want exactly %d", allowed, limit.MaxRequests)
	}
}

func TestLimiterUserScopeFirst(t *testing.T) {
	store := NewMemoryCounterStore()
	defer store.Close()

	l := NewLimiter(store, map[string]Policy{
		"login": {
			IP:   Limit{MaxRequests: 10, WindowSeconds: 60},
			User: Limit{MaxRequests: 2, WindowSeconds: 60},
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if r := l.Check(ctx, "1.2.3.4", "login", 42); !r.Allowed {
			t.Fatalf("check %d should pass", i)
		}
	}

	// User limit exhausted: denial must not consume the IP counter.
	r := l.Check(ctx, "1.2.3.4", "login", 42)
	if r.Allowed {
		t.Fatal("user-scope limit should deny")
	}
	if r.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", r.Remaining)
	}

	ipState, err := store.Peek(ctx, ScopeKey(ScopeIP, "1.2.3.4", "login"))
	if err != nil {
		t.Fatal(err)
	}
	if ipState == nil || ipState.Count != 2 {
		t.Errorf("IP counter = %+v, want count 2 (user denial must not consume it)", ipState)
	}
}

func TestLimiterAnonymousUsesIPScope(t *testing.T) {
	store := NewMemoryCounterStore()
	defer store.Close()

	l := NewLimiter(store, map[string]Policy{
		"register": {
			IP:   Limit{MaxRequests: 1, WindowSeconds: 60},
			User: Limit{MaxRequests: 100, WindowSeconds: 60},
		},
	})
	ctx := context.Background()

	if r := l.Check(ctx, "9.9.9.9", "register", 0); !r.Allowed {
		t.Fatal("first anonymous check should pass")
	}
	if r := l.Check(ctx, "9.9.9.9", "register", 0); r.Allowed {
		t.Error("second anonymous check should hit the IP limit")
	}
}

func TestUnsetScopeIsUnenforced(t *testing.T) {
	store := NewMemoryCounterStore()
	defer store.Close()

	l := NewLimiter(store, map[string]Policy{
		"health": {IP: Limit{MaxRequests: 0, WindowSeconds: 0}},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if r := l.Check(ctx, "9.9.9.9", "health", 7); !r.Allowed {
			t.Fatalf("check %d: unset limits must not deny", i+1)
		}
	}
}

func TestPolicyFallbackToDefault(t *testing.T) {
	l := NewLimiter(NewMemoryCounterStore(), nil)

	p := l.PolicyFor("some_unconfigured_action")
	def := DefaultPolicies()[DefaultPolicyName]
	if p != def {
		t.Errorf("PolicyFor fallback = %+v, want default %+v", p, def)
	}

	custom := Policy{IP: Limit{1, 1}, User: Limit{1, 1}}
	l.SetPolicy("custom", custom)
	if got := l.PolicyFor("custom"); got != custom {
		t.Errorf("PolicyFor(custom) = %+v", got)
	}
}

type downCounterStore struct{}

func (downCounterStore) CheckAndIncrement(context.Context, string, Limit) (WindowState, bool, error) {
	return WindowState{}, false, ErrStoreUnavailable
}
func (downCounterStore) Peek(context.Context, string) (*WindowState, error) {
	return nil, ErrStoreUnavailable
}
func (downCounterStore) Reset(context.Context, string) error { return ErrStoreUnavailable }
func (downCounterStore) Close() error                        { return nil }

func TestCheckFailsOpenOnStoreOutage(t *testing.T) {
	l := NewLimiter(downCounterStore{}, nil)

	// Repeated failures eventually trip the breaker; every outcome must
	// still be an allowed, flagged result.
	for i := 0; i < 10; i++ {
		r := l.Check(context.Background(), "1.2.3.4", "login", 7)
		if !r.Allowed {
			t.Fatalf("check %d: store outage must fail open", i)
		}
		if !r.FailedOpen {
			t.Fatalf("check %d: expected FailedOpen flag", i)
		}
	}
}

func TestClearAndStatus(t *testing.T) {
	store := NewMemoryCounterStore()
	defer store.Close()

	l := NewLimiter(store, nil)
	ctx := context.Background()

	// No live window yet: Status reports nil, not a synthesized result.
	if st, err := l.Status(ctx, ScopeIP, "5.5.5.5", "download"); err != nil || st != nil {
		t.Fatalf("Status before any check = %+v, %v, want nil", st, err)
	}

	l.Check(ctx, "5.5.5.5", "download", 0)
	l.Check(ctx, "5.5.5.5", "download", 0)

	st, err := l.Status(ctx, ScopeIP, "5.5.5.5", "download")
	if err != nil {
		t.Fatal(err)
	}
	if st == nil {
		t.Fatal("Status after checks = nil, want a live window")
	}
	wantRemaining := DefaultPolicies()["download"].IP.MaxRequests - 2
	if st.Remaining != wantRemaining {
		t.Errorf("Status remaining = %d, want %d", st.Remaining, wantRemaining)
	}

	// Status must not consume a slot.
	st2, _ := l.Status(ctx, ScopeIP, "5.5.5.5", "download")
	if st2.Remaining != wantRemaining {
		t.Errorf("Status consumed a slot: %d", st2.Remaining)
	}

	if err := l.Clear(ctx, ScopeIP, "5.5.5.5", "download"); err != nil {
		t.Fatal(err)
	}
	if st3, _ := l.Status(ctx, ScopeIP, "5.5.5.5", "download"); st3 != nil {
		t.Errorf("Clear did not reset the window: %+v", st3)
	}
}

func TestStatusUnavailableStore(t *testing.T) {
	l := NewLimiter(downCounterStore{}, nil)

	if _, err := l.Status(context.Background(), ScopeIP, "1.1.1.1", "login"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Status err = %v, want ErrStoreUnavailable", err)
	}
}
