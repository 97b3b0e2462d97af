package storage

import (
	"context"
	"math"
	"strconv"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"counterd/observability"
)

func newTestStore(t *testing.T, initial int64) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr()}, initial, observability.TestLogger(t))
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestNewRedisStoreDisabledWithoutAddr(t *testing.T) {
	store, err := NewRedisStore(context.Background(), RedisConfig{}, 0, observability.TestLogger(t))
	assert.NoError(t, err)
	assert.Nil(t, store)
	assert.NoError(t, store.Close())
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr}, 0, observability.TestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}

func TestRedisStoreSeedsInitialValue(t *testing.T) {
	store, mr := newTestStore(t, 5)

	v, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	got, err := mr.Get(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "5", got)
}

func TestRedisStoreKeepsExistingValue(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("shared:counter", "10"))

	store, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr(), Key: "shared:counter"}, 0, observability.TestLogger(t))
	require.NoError(t, err)
	defer store.Close()

	v, err := store.Increment(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)
}

func TestRedisStoreOperations(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 0)

	for i := 0; i < 3; i++ {
		_, err := store.Increment(ctx)
		require.NoError(t, err)
	}
	v, err := store.Decrement(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	for i := 0; i < 3; i++ {
		v, err = store.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	}
}

func TestRedisStoreConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = store.Increment(ctx)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = store.Decrement(ctx)
			}
		}()
	}
	wg.Wait()

	v, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8*50-8*20), v)
}

func TestRedisStoreReadMissingKeyReseedsInitial(t *testing.T) {
	store, mr := newTestStore(t, 3)
	mr.Del(DefaultKey)

	v, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	got, err := mr.Get(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestRedisStoreMutationAfterEvictionStartsFromInitial(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 3)

	mr.Del(DefaultKey)
	v, err := store.Increment(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	mr.Del(DefaultKey)
	v, err = store.Decrement(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestRedisStoreSaturatesAtBounds(t *testing.T) {
	tests := []struct {
		name  string
		bound int64
		apply func(*RedisStore, context.Context) (int64, error)
		back  func(*RedisStore, context.Context) (int64, error)
	}{
		{name: "increment at max", bound: math.MaxInt64, apply: (*RedisStore).Increment, back: (*RedisStore).Decrement},
		{name: "decrement at min", bound: math.MinInt64, apply: (*RedisStore).Decrement, back: (*RedisStore).Increment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, mr := newTestStore(t, 0)
			require.NoError(t, mr.Set(DefaultKey, strconv.FormatInt(tt.bound, 10)))

			for i := 0; i < 2; i++ {
				v, err := tt.apply(store, ctx)
				require.NoError(t, err)
				assert.Equal(t, tt.bound, v)
			}

			got, err := mr.Get(DefaultKey)
			require.NoError(t, err)
			assert.Equal(t, strconv.FormatInt(tt.bound, 10), got)

			// the opposite step moves off the bound again
			v, err := tt.back(store, ctx)
			require.NoError(t, err)
			assert.NotEqual(t, tt.bound, v)
		})
	}
}

func TestRedisStoreSaturationUnderContention(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t, 0)
	require.NoError(t, mr.Set(DefaultKey, strconv.FormatInt(math.MaxInt64-5, 10)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen []int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := store.Increment(ctx)
			assert.NoError(t, err)
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// five increments climb to the bound, the rest report it
	maxCount := 0
	for _, v := range seen {
		assert.Greater(t, v, int64(math.MaxInt64-5))
		if v == math.MaxInt64 {
			maxCount++
		}
	}
	assert.Equal(t, 16, maxCount)
}

func TestRedisStoreNonIntegerValueFails(t *testing.T) {
	store, mr := newTestStore(t, 0)
	require.NoError(t, mr.Set(DefaultKey, "not-a-number"))

	_, err := store.Increment(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "increment")
}

func TestRedisStoreConnectionLoss(t *testing.T) {
	store, mr := newTestStore(t, 0)
	mr.Close()

	_, err := store.Increment(context.Background())
	assert.Error(t, err)
	_, err = store.Read(context.Background())
	assert.Error(t, err)
}
