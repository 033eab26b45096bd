package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/course-data-layer/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStorageGetSetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewStorage()

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "k", "v"))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	assert.Equal(t, 0, s.Len())
}

func TestResponseCacheExpiresAtTTLBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewResponseCache(clock)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))

	clock.Advance(time.Second - time.Millisecond)
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	clock.Advance(time.Millisecond)
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
	assert.Equal(t, 0, c.Len())
}

func TestResponseCacheNeverStoresZeroTTL(t *testing.T) {
	t.Parallel()

	c := NewResponseCache(nil)
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 0))

	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestResponseCacheCopiesInput(t *testing.T) {
	t.Parallel()

	c := NewResponseCache(nil)
	data := []byte("abc")
	require.NoError(t, c.Set(context.Background(), "k", data, time.Minute))
	data[0] = 'z'

	got, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestBusDeliversToEveryTabUntilClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bus := NewBus()
	tabA, tabB := bus.NewBroadcaster(), bus.NewBroadcaster()

	var mu sync.Mutex
	received := map[string]int{}
	record := func(name string) domain.SessionSignalHandler {
		return func(_ context.Context, _ domain.SessionSignal) error {
			mu.Lock()
			defer mu.Unlock()
			received[name]++
			return nil
		}
	}
	require.NoError(t, tabA.Subscribe(ctx, record("a")))
	require.NoError(t, tabB.Subscribe(ctx, record("b")))

	signal := domain.SessionSignal{Kind: domain.SignalLogout, Origin: "a", At: time.Now()}
	require.NoError(t, tabA.Publish(ctx, signal))
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, received)

	require.NoError(t, tabB.Close())
	require.NoError(t, tabA.Publish(ctx, signal))
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, received)

	assert.Error(t, tabB.Publish(ctx, signal))
	assert.Error(t, tabB.Subscribe(ctx, record("b")))
}

func TestBusJoinsHandlerErrors(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	tab := bus.NewBroadcaster()
	boom := errors.New("boom")
	require.NoError(t, tab.Subscribe(context.Background(), func(context.Context, domain.SessionSignal) error { return boom }))

	err := tab.Publish(context.Background(), domain.SessionSignal{Kind: domain.SignalLogin})
	assert.ErrorIs(t, err, boom)
}
