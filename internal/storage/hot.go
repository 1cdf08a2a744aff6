package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
)

// HotCache holds the latest sample per (asset, metric) with a short TTL. It
// serves the monitor's low-latency reads and is advisory only: dedup
// decisions never consult it.
type HotCache interface {
	PutSample(ctx context.Context, sample model.MetricSample, ttl time.Duration) error
	GetLatest(ctx context.Context, assetID, metricKey string) (model.MetricSample, bool, error)
	Healthy(ctx context.Context) bool
	Close() error
}

func sampleKey(assetID, metricKey string) string {
	return fmt.Sprintf("sample:%s:%s", assetID, metricKey)
}

// RedisCache backs the hot tier with Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr string) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) PutSample(ctx context.Context, sample model.MetricSample, ttl time.Duration) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshalling sample: %w", err)
	}
	if err := r.client.Set(ctx, sampleKey(sample.AssetID, sample.MetricKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("caching sample: %w", err)
	}
	return nil
}

func (r *RedisCache) GetLatest(ctx context.Context, assetID, metricKey string) (model.MetricSample, bool, error) {
	data, err := r.client.Get(ctx, sampleKey(assetID, metricKey)).Result()
	if err == redis.Nil {
		return model.MetricSample{}, false, nil
	}
	if err != nil {
		return model.MetricSample{}, false, fmt.Errorf("reading cached sample: %w", err)
	}
	var sample model.MetricSample
	if err := json.Unmarshal([]byte(data), &sample); err != nil {
		return model.MetricSample{}, false, fmt.Errorf("decoding cached sample: %w", err)
	}
	return sample, true, nil
}

func (r *RedisCache) Healthy(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

func (r *RedisCache) Close() error { return r.client.Close() }

// MemoryCache is the in-process hot tier used when Redis is not configured
// and as the test double. Entries expire lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	sample    model.MetricSample
	expiresAt time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (m *MemoryCache) PutSample(_ context.Context, sample model.MetricSample, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sampleKey(sample.AssetID, sample.MetricKey)] = memoryEntry{
		sample:    sample,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryCache) GetLatest(_ context.Context, assetID, metricKey string) (model.MetricSample, bool, error) {
	key := sampleKey(assetID, metricKey)
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return model.MetricSample{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return model.MetricSample{}, false, nil
	}
	return entry.sample, true, nil
}

func (m *MemoryCache) Healthy(context.Context) bool { return true }

func (m *MemoryCache) Close() error { return nil }
