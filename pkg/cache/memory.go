package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"
)

var _ Service = (*MemoryCache)(nil)

type memItem struct {
	key      string
	data     []byte
	expireAt time.Time // zero never expires
}

// MemoryCache is an in-process Service with LRU eviction. Expired keys are
// dropped lazily on access.
type MemoryCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	now     func() time.Time
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 10000, Now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	return &MemoryCache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: cfg.MaxSize,
		now:     cfg.Now,
	}
}

func (mc *MemoryCache) Close() error { return nil }

func (mc *MemoryCache) expiry(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return mc.now().Add(d)
}

// lookup returns the live item for key. Callers hold mu.
func (mc *MemoryCache) lookup(key string) (*memItem, bool) {
	el, ok := mc.items[key]
	if !ok {
		return nil, false
	}
	it := el.Value.(*memItem)
	if !it.expireAt.IsZero() && !mc.now().Before(it.expireAt) {
		mc.lru.Remove(el)
		delete(mc.items, key)
		return nil, false
	}
	mc.lru.MoveToFront(el)
	return it, true
}

func (mc *MemoryCache) put(key string, data []byte, expireAt time.Time) {
	if el, ok := mc.items[key]; ok {
		it := el.Value.(*memItem)
		it.data, it.expireAt = data, expireAt
		mc.lru.MoveToFront(el)
		return
	}
	mc.items[key] = mc.lru.PushFront(&memItem{key: key, data: data, expireAt: expireAt})
	for len(mc.items) > mc.maxSize {
		oldest := mc.lru.Back()
		mc.lru.Remove(oldest)
		delete(mc.items, oldest.Value.(*memItem).key)
	}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, data, mc.expiry(expiration))
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	it, ok := mc.lookup(key)
	var data []byte
	if ok {
		data = append([]byte(nil), it.data...)
	}
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, k := range keys {
		if el, ok := mc.items[k]; ok {
			mc.lru.Remove(el)
			delete(mc.items, k)
		}
	}
	return nil
}

func (mc *MemoryCache) MSet(ctx context.Context, values map[string]interface{}, expiration time.Duration) error {
	for k, v := range values {
		if err := mc.Set(ctx, k, v, expiration); err != nil {
			return err
		}
	}
	return nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if it, ok := mc.lookup(k); ok {
			out[k] = string(it.data)
		}
	}
	return out, nil
}

// Increment keeps the key's expiry, like Redis INCR.
func (mc *MemoryCache) Increment(_ context.Context, key string) (int64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	var n int64
	var expireAt time.Time
	if it, ok := mc.lookup(key); ok {
		v, err := strconv.ParseInt(string(it.data), 10, 64)
		if err != nil {
			return 0, err
		}
		n, expireAt = v, it.expireAt
	}
	n++
	mc.put(key, []byte(strconv.FormatInt(n, 10)), expireAt)
	return n, nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	it, ok := mc.lookup(key)
	if !ok {
		return false, nil
	}
	it.expireAt = mc.expiry(expiration)
	return true, nil
}
