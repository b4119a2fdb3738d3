package sigstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory list store that can fail the first N commands
type fakeRedis struct {
	mu       sync.Mutex
	lists    map[string][]string
	failures int
	calls    int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{lists: make(map[string][]string)}
}

func (f *fakeRedis) fail() error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return redis.NewStatusResult("PONG", f.fail())
}

func (f *fakeRedis) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return redis.NewIntResult(0, err)
	}
	for _, v := range values {
		f.lists[key] = append(f.lists[key], v.(string))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LLen(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return redis.NewIntResult(0, err)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return redis.NewStringSliceResult(nil, err)
	}
	out := append([]string(nil), f.lists[key]...)
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return redis.NewIntResult(0, err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.lists[k]; ok {
			delete(f.lists, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Close() error { return nil }

func fastPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{RetryDelay: time.Millisecond, MaxDelay: 3 * time.Millisecond, MaxRetries: maxRetries}
}

func TestStore_AppendCountRangeDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeRedis(), fastPolicy(0), zerolog.Nop())

	n, err := store.Append(ctx, "42", "0xsig1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Append(ctx, "42", "0xsig2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := store.Count(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	sigs, err := store.Range(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xsig1", "0xsig2"}, sigs)

	require.NoError(t, store.Delete(ctx, "42"))

	sigs, err = store.Range(ctx, "42")
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestStore_DuplicateAppendsAreKept(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeRedis(), fastPolicy(0), zerolog.Nop())

	_, _ = store.Append(ctx, "7", "0xsame")
	_, _ = store.Append(ctx, "7", "0xsame")

	count, err := store.Count(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestStore_RetriesTransientErrors(t *testing.T) {
	fake := newFakeRedis()
	fake.failures = 2
	store := NewStore(fake, fastPolicy(3), zerolog.Nop())

	n, err := store.Append(context.Background(), "1", "0xsig")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 3, fake.calls)
}

func TestStore_GivesUpAfterMaxRetries(t *testing.T) {
	fake := newFakeRedis()
	fake.failures = 10
	store := NewStore(fake, fastPolicy(2), zerolog.Nop())

	_, err := store.Count(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 3, fake.calls, "one attempt plus two retries")
}

func TestRetryPolicy_Schedule(t *testing.T) {
	policy := RetryPolicy{RetryDelay: 5 * time.Second, MaxDelay: 12 * time.Second, MaxRetries: 4}
	b := policy.New()

	assert.Equal(t, 5*time.Second, b.NextBackOff())
	assert.Equal(t, 10*time.Second, b.NextBackOff())
	assert.Equal(t, 12*time.Second, b.NextBackOff())
	assert.Equal(t, 12*time.Second, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 5*time.Second, b.NextBackOff())
}
