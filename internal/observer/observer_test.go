package observer_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/realtime-bridge/internal/observer"
)

type recorder struct {
	mu        sync.Mutex
	values    []string
	errs      []error
	completes int
}

func (r *recorder) OnNext(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnComplete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes++
}

func TestGuard_DropsEverythingAfterComplete(t *testing.T) {
	rec := &recorder{}
	o := observer.Guard[string](rec)

	o.OnNext("a")
	o.OnComplete()
	o.OnNext("b")
	o.OnError(errors.New("late"))
	o.OnComplete()

	assert.Equal(t, []string{"a"}, rec.values)
	assert.Empty(t, rec.errs)
	assert.Equal(t, 1, rec.completes)
	assert.True(t, observer.Terminated(o))
}

func TestGuard_DropsEverythingAfterError(t *testing.T) {
	rec := &recorder{}
	o := observer.Guard[string](rec)
	boom := errors.New("boom")

	o.OnError(boom)
	o.OnError(errors.New("second"))
	o.OnComplete()
	o.OnNext("x")

	require.Len(t, rec.errs, 1)
	assert.Same(t, boom, rec.errs[0])
	assert.Zero(t, rec.completes)
	assert.Empty(t, rec.values)
}

func TestGuard_ConcurrentTerminalsHaveSingleWinner(t *testing.T) {
	for i := 0; i < 50; i++ {
		rec := &recorder{}
		o := observer.Guard[string](rec)

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				o.OnError(errors.New("e"))
			}()
			go func() {
				defer wg.Done()
				o.OnComplete()
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, len(rec.errs)+rec.completes)
	}
}

func TestGuard_IsIdempotent(t *testing.T) {
	rec := &recorder{}
	o := observer.Guard[string](rec)
	assert.Same(t, o, observer.Guard(o))
}

func TestTerminated_UnguardedObserver(t *testing.T) {
	assert.False(t, observer.Terminated[string](&recorder{}))
}

func TestTap(t *testing.T) {
	rec := &recorder{}
	var seen []string
	o := observer.Tap[string](rec, func(v string) { seen = append(seen, v) })

	o.OnNext("a")
	o.OnNext("b")
	o.OnComplete()

	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, []string{"a", "b"}, rec.values)
	assert.Equal(t, 1, rec.completes)
}

func TestFuncs_NilCallbacksAreSkipped(t *testing.T) {
	var o observer.Observer[int] = observer.Funcs[int]{}
	o.OnNext(1)
	o.OnError(errors.New("x"))
	o.OnComplete()
}
