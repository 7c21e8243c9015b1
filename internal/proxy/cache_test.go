package proxy

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/notecrawler/internal/crawler"
)

// fakeRedis stores values in memory and records TTLs.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return redis.NewScanCmdResult(keys, 0, f.err)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	rdb := newFakeRedis()
	cache := NewRedisCacheWithClient(rdb, "test:proxy", time.Minute)
	cache.now = func() time.Time { return now }

	ids := []crawler.ProxyIdentity{
		{IP: "1.1.1.1", Port: 80, Protocol: "http://", ExpiresAt: now.Add(30 * time.Second)},
		{IP: "2.2.2.2", Port: 81, Protocol: "http://"},
		{IP: "3.3.3.3", Port: 82, ExpiresAt: now.Add(-time.Second)},
	}
	require.NoError(t, cache.Store(context.Background(), ids))
	require.Len(t, rdb.data, 2, "already expired identities are not cached")
	require.Equal(t, 30*time.Second, rdb.ttls["test:proxy:1.1.1.1:80"])
	require.Equal(t, time.Minute, rdb.ttls["test:proxy:2.2.2.2:81"])

	rdb.data["test:proxy:garbage"] = "{not json"
	loaded, err := cache.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	cache.now = func() time.Time { return now.Add(time.Hour) }
	loaded, err = cache.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1, "lease-bound identities expire")
	require.Equal(t, "2.2.2.2", loaded[0].IP)
}

func TestRedisCacheErrors(t *testing.T) {
	t.Parallel()

	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	cache := NewRedisCacheWithClient(rdb, "", 0)

	_, err := cache.Load(context.Background())
	require.ErrorContains(t, err, "connection refused")
	err = cache.Store(context.Background(), []crawler.ProxyIdentity{{IP: "1.1.1.1", Port: 80}})
	require.ErrorContains(t, err, "connection refused")
}
