package publisher_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-bridge/internal/publisher"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func drain(t *testing.T, sub *publisher.Subscription[string]) ([]string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var out []string
	for {
		v, err := sub.Next(ctx)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

func TestPublisher_PreservesOrder(t *testing.T) {
	p := publisher.New[string]()
	sub, err := p.Subscribe()
	require.NoError(t, err)

	var want []string
	for i := 0; i < 100; i++ {
		v := fmt.Sprintf("msg-%d", i)
		want = append(want, v)
		require.NoError(t, p.Enqueue(v))
	}
	p.Complete()

	got, err := drain(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, want, got)
}

func TestPublisher_ReplaysItemsEnqueuedBeforeSubscribe(t *testing.T) {
	p := publisher.New[string]()
	require.NoError(t, p.Enqueue("first"))
	require.NoError(t, p.Enqueue("second"))

	sub, err := p.Subscribe()
	require.NoError(t, err)
	p.Complete()

	got, err := drain(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestPublisher_SingleSubscriber(t *testing.T) {
	p := publisher.New[string]()
	_, err := p.Subscribe()
	require.NoError(t, err)

	_, err = p.Subscribe()
	assert.ErrorIs(t, err, publisher.ErrAlreadySubscribed)
}

func TestPublisher_DropsExpiredItems(t *testing.T) {
	clock := newFakeClock()
	dropped := 0
	p := publisher.New[string](
		publisher.WithRetention(time.Minute),
		publisher.WithClock(clock.Now),
		publisher.WithDropHook(func(n int) { dropped += n }),
	)

	require.NoError(t, p.Enqueue("stale-1"))
	require.NoError(t, p.Enqueue("stale-2"))
	clock.Advance(time.Minute + time.Second)
	require.NoError(t, p.Enqueue("fresh"))

	sub, err := p.Subscribe()
	require.NoError(t, err)
	p.Complete()

	got, err := drain(t, sub)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"fresh"}, got)
	assert.Equal(t, 2, dropped)
}

func TestPublisher_ExpiryIsMeasuredPerItem(t *testing.T) {
	clock := newFakeClock()
	p := publisher.New[string](publisher.WithRetention(time.Minute), publisher.WithClock(clock.Now))

	require.NoError(t, p.Enqueue("a"))
	clock.Advance(40 * time.Second)
	require.NoError(t, p.Enqueue("b"))
	clock.Advance(30 * time.Second)

	sub, err := p.Subscribe()
	require.NoError(t, err)
	v, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestPublisher_LateSubscriberSeesNothingAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	p := publisher.New[string](publisher.WithRetention(time.Minute), publisher.WithClock(clock.Now))

	require.NoError(t, p.Enqueue("old"))
	clock.Advance(2 * time.Minute)
	p.Complete()

	sub, err := p.Subscribe()
	require.NoError(t, err)
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, p.Len())
}

func TestPublisher_EnqueueAfterCloseIsRejected(t *testing.T) {
	p := publisher.New[string]()
	p.Complete()

	assert.ErrorIs(t, p.Enqueue("late"), publisher.ErrClosed)
	assert.Zero(t, p.Len())
}

func TestPublisher_ErrorIsDeliveredAfterDrain(t *testing.T) {
	p := publisher.New[string]()
	sub, err := p.Subscribe()
	require.NoError(t, err)
	boom := errors.New("boom")

	require.NoError(t, p.Enqueue("x"))
	p.Error(boom)
	p.Complete()

	got, err := drain(t, sub)
	assert.Equal(t, []string{"x"}, got)
	assert.ErrorIs(t, err, boom)
}

func TestPublisher_NextWaitsForEnqueue(t *testing.T) {
	p := publisher.New[string]()
	sub, err := p.Subscribe()
	require.NoError(t, err)

	got := make(chan string, 1)
	go func() {
		v, err := sub.Next(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Enqueue("late"))

	select {
	case v := <-got:
		assert.Equal(t, "late", v)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Enqueue")
	}
}

func TestPublisher_NextHonoursContext(t *testing.T) {
	p := publisher.New[string]()
	sub, err := p.Subscribe()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublisher_ConcurrentProducerKeepsOrder(t *testing.T) {
	p := publisher.New[int]()
	sub, err := p.Subscribe()
	require.NoError(t, err)

	const n = 1000
	go func() {
		for i := 0; i < n; i++ {
			_ = p.Enqueue(i)
		}
		p.Complete()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for want := 0; want < n; want++ {
		v, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
