package kvstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. It
// honors TTLs lazily: expired entries are dropped when touched.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	kv    map[string]memoryValue
	zsets map[string]map[string]float64
	sets  map[string]map[string]struct{}
	ttl   map[string]time.Time
}

type memoryValue struct {
	data    []byte
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{
		now:   time.Now,
		kv:    make(map[string]memoryValue),
		zsets: make(map[string]map[string]float64),
		sets:  make(map[string]map[string]struct{}),
		ttl:   make(map[string]time.Time),
	}
}

// SetClock overrides the time source, letting tests drive TTL expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok || (!v.expires.IsZero() && m.now().After(v.expires)) {
		delete(m.kv, key)
		return nil, ErrNotFound
	}
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := memoryValue{data: append([]byte(nil), value...)}
	if ttl > 0 {
		v.expires = m.now().Add(ttl)
	}
	m.kv[key] = v
	return nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.kv, key)
		delete(m.zsets, key)
		delete(m.sets, key)
		delete(m.ttl, key)
	}
	return nil
}

func (m *Memory) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl[key] = m.now().Add(ttl)
	if v, ok := m.kv[key]; ok {
		v.expires = m.now().Add(ttl)
		m.kv[key] = v
	}
	return nil
}

func (m *Memory) PruneAndCount(ctx context.Context, key string, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCollections(key)
	zs := m.zsets[key]
	for member, score := range zs {
		if score <= max {
			delete(zs, member)
		}
	}
	return int64(len(zs)), nil
}

func (m *Memory) AddToWindow(ctx context.Context, key string, score float64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	zs, ok := m.zsets[key]
	if !ok {
		zs = make(map[string]float64)
		m.zsets[key] = zs
	}
	zs[memberFor(score)] = score
	m.ttl[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCollections(key)
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
	m.ttl[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) SRem(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.sets[key]; ok {
		delete(set, member)
	}
	return nil
}

func (m *Memory) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCollections(key)
	return int64(len(m.sets[key])), nil
}

func (m *Memory) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCollections(key)
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) Close() error { return nil }

// expireCollections drops a set or sorted set whose TTL has passed. Callers
// hold the mutex.
func (m *Memory) expireCollections(key string) {
	deadline, ok := m.ttl[key]
	if ok && m.now().After(deadline) {
		delete(m.zsets, key)
		delete(m.sets, key)
		delete(m.ttl, key)
	}
}

func memberFor(score float64) string {
	// Same member encoding as the Redis adapter.
	return strconv.FormatFloat(score, 'f', 6, 64)
}
