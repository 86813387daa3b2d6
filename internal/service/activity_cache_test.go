package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"commonwealth/internal/domain"
)

type mockActivityRepo struct {
	mu    sync.Mutex
	items []domain.ActivityItem
	err   error
	calls int
	limit int
}

func (m *mockActivityRepo) GlobalActivity(_ context.Context, limit int) ([]domain.ActivityItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.limit = limit
	if m.err != nil {
		return nil, m.err
	}
	return append([]domain.ActivityItem(nil), m.items...), nil
}

func (m *mockActivityRepo) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockActivityRedis struct {
	mu       sync.Mutex
	values   map[string]string
	getErr   error
	lockTTL  time.Duration
	released int
}

func newMockActivityRedis() *mockActivityRedis {
	return &mockActivityRedis{values: make(map[string]string)}
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func (m *mockActivityRedis) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *mockActivityRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	v, ok := m.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (m *mockActivityRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = toString(value)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (m *mockActivityRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockTTL = expiration
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := m.values[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	m.values[key] = toString(value)
	cmd.SetVal(true)
	return cmd
}

func (m *mockActivityRedis) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := redis.NewCmd(ctx)
	if len(keys) == 1 && len(args) == 1 && m.values[keys[0]] == toString(args[0]) {
		delete(m.values, keys[0])
		m.released++
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func sampleActivity() []domain.ActivityItem {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []domain.ActivityItem{
		{Kind: domain.ActivityThread, ID: 1, ThreadID: 1, CommunityID: "ethereum", Title: "Gas", AuthorAddress: "0xabc", CreatedAt: at},
		{Kind: domain.ActivityComment, ID: 5, ThreadID: 1, CommunityID: "ethereum", Title: "Gas", Body: "+1", AuthorAddress: "0xdef", CreatedAt: at.Add(-time.Minute)},
	}
}

func sameActivityIDs(t *testing.T, got, want []domain.ActivityItem) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Kind != want[i].Kind || got[i].ID != want[i].ID || !got[i].CreatedAt.Equal(want[i].CreatedAt) {
			t.Fatalf("item %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestActivityCache_MissFallsBackToLiveQuery(t *testing.T) {
	repo := &mockActivityRepo{items: sampleActivity()}
	cache := NewActivityCache(zap.NewNop(), repo, newMockActivityRedis(), ActivityCacheConfig{Limit: 20})

	live, err := repo.GlobalActivity(context.Background(), 20)
	if err != nil {
		t.Fatalf("live query: %v", err)
	}
	got, err := cache.GetGlobalActivity(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sameActivityIDs(t, got, live)
	if repo.limit != 20 {
		t.Fatalf("expected limit 20, got %d", repo.limit)
	}
}

func TestActivityCache_RefreshServesCachedFeed(t *testing.T) {
	repo := &mockActivityRepo{items: sampleActivity()}
	rdb := newMockActivityRedis()
	cache := NewActivityCache(zap.NewNop(), repo, rdb, ActivityCacheConfig{})

	cache.Refresh(context.Background())
	if _, ok := rdb.value(globalActivityKey); !ok {
		t.Fatalf("expected feed written to cache")
	}
	if _, ok := rdb.value(globalActivityLockKey); ok {
		t.Fatalf("expected lock released after refresh")
	}

	repo.items = nil
	got, err := cache.GetGlobalActivity(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sameActivityIDs(t, got, sampleActivity())
	if repo.callCount() != 1 {
		t.Fatalf("cached read must not query, calls=%d", repo.callCount())
	}
}

func TestActivityCache_RefreshSkipsWhenLockHeld(t *testing.T) {
	repo := &mockActivityRepo{items: sampleActivity()}
	rdb := newMockActivityRedis()
	rdb.values[globalActivityLockKey] = "other-instance"
	cache := NewActivityCache(zap.NewNop(), repo, rdb, ActivityCacheConfig{})

	cache.Refresh(context.Background())
	if repo.callCount() != 0 {
		t.Fatalf("refresh must not query while another instance holds the lock")
	}
	if v, _ := rdb.value(globalActivityLockKey); v != "other-instance" {
		t.Fatalf("foreign lock must not be released, got %q", v)
	}
}

func TestActivityCache_RefreshQueryErrorKeepsCache(t *testing.T) {
	repo := &mockActivityRepo{err: errors.New("db down")}
	rdb := newMockActivityRedis()
	cache := NewActivityCache(zap.NewNop(), repo, rdb, ActivityCacheConfig{})

	cache.Refresh(context.Background())
	if _, ok := rdb.value(globalActivityKey); ok {
		t.Fatalf("failed refresh must not write the feed")
	}
	if rdb.released != 1 {
		t.Fatalf("expected lock released, got %d", rdb.released)
	}
}

func TestActivityCache_ReadFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *mockActivityRedis)
	}{
		{name: "backend error", setup: func(r *mockActivityRedis) { r.getErr = errors.New("connection refused") }},
		{name: "corrupt payload", setup: func(r *mockActivityRedis) { r.values[globalActivityKey] = "{not json" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockActivityRepo{items: sampleActivity()}
			rdb := newMockActivityRedis()
			tt.setup(rdb)
			cache := NewActivityCache(zap.NewNop(), repo, rdb, ActivityCacheConfig{})

			got, err := cache.GetGlobalActivity(context.Background())
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			sameActivityIDs(t, got, sampleActivity())
			if repo.callCount() != 1 {
				t.Fatalf("expected live query, calls=%d", repo.callCount())
			}
		})
	}
}

func TestActivityCache_LockTTLClampedBelowInterval(t *testing.T) {
	rdb := newMockActivityRedis()
	cache := NewActivityCache(zap.NewNop(), &mockActivityRepo{}, rdb, ActivityCacheConfig{
		RefreshInterval: 4 * time.Minute,
		LockTTL:         10 * time.Minute,
	})
	cache.Refresh(context.Background())
	if rdb.lockTTL != 2*time.Minute {
		t.Fatalf("expected lock ttl 2m, got %s", rdb.lockTTL)
	}
}

func TestActivityCache_StartRefreshesImmediately(t *testing.T) {
	repo := &mockActivityRepo{items: sampleActivity()}
	rdb := newMockActivityRedis()
	cache := NewActivityCache(zap.NewNop(), repo, rdb, ActivityCacheConfig{RefreshInterval: time.Hour})

	cache.Start(context.Background())
	cache.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := rdb.value(globalActivityKey); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected initial refresh to populate the cache")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cache.Stop()
	cache.Stop()

	if repo.callCount() != 1 {
		t.Fatalf("expected a single refresh, got %d", repo.callCount())
	}
}
