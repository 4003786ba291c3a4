package sink

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](t *testing.T, ch <-chan T, n int) []T {
	t.Helper()
	out := make([]T, 0, n)
	for len(out) < n {
		select {
		case v := <-ch:
			out = append(out, v)
		case <-time.After(time.Second):
			t.Fatalf("timeout after receiving %d of %d items", len(out), n)
		}
	}
	return out
}

func chanSink[T any](size int) (Sink[T], chan T) {
	ch := make(chan T, size)
	return Func[T](func(v T) { ch <- v }), ch
}

func TestDispatchWithoutConsumer(t *testing.T) {
	r := NewRegistry[int]()
	defer r.Close()

	assert.False(t, r.Dispatch(0, 1))
	assert.Equal(t, 0, r.Broadcast(1))
	_, ok := r.Stats(0)
	assert.False(t, ok)
}

func TestDispatchPreservesOrder(t *testing.T) {
	r := NewRegistry[[]byte]()
	defer r.Close()

	s, ch := chanSink[[]byte](8)
	r.Register(0, s)

	payloads := [][]byte{{1, 2}, {3}, {4, 5, 6}}
	for _, p := range payloads {
		require.True(t, r.Dispatch(0, p))
	}

	assert.Equal(t, payloads, collect(t, ch, len(payloads)))
}

func TestDispatchOrderUnderLoad(t *testing.T) {
	r := NewRegistry[int]()
	defer r.Close()

	s, ch := chanSink[int](1024)
	r.Register(7, s)

	const n = 1000
	for i := 0; i < n; i++ {
		r.Dispatch(7, i)
	}

	got := collect(t, ch, n)
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d: expected %d, got %d", i, i, v)
		}
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry[int]()
	defer r.Close()

	first, firstCh := chanSink[int](16)
	second, secondCh := chanSink[int](16)
	third, thirdCh := chanSink[int](16)

	r.Register(0, first)
	r.Dispatch(0, 1)
	assert.Equal(t, []int{1}, collect(t, firstCh, 1))

	r.Register(0, second)
	r.Register(0, third)
	r.Dispatch(0, 2)
	r.Dispatch(0, 3)

	assert.Equal(t, []int{2, 3}, collect(t, thirdCh, 2))
	assert.Equal(t, 1, r.Len())

	select {
	case v := <-firstCh:
		t.Fatalf("replaced consumer received %d", v)
	case v := <-secondCh:
		t.Fatalf("replaced consumer received %d", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDispatchDoesNotBlockOnSlowConsumer(t *testing.T) {
	r := NewRegistry[int]()
	defer r.Close()

	release := make(chan struct{})
	defer close(release)
	r.Register(0, Func[int](func(int) { <-release }))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Dispatch(0, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Dispatch blocked on a slow consumer")
	}
}

func TestBoundedMailboxDropsOldest(t *testing.T) {
	r := NewRegistry[int](WithCapacity(2))
	defer r.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	got := make(chan int, 8)
	var once sync.Once
	r.Register(0, Func[int](func(v int) {
		once.Do(func() {
			close(started)
			<-release
		})
		got <- v
	}))

	r.Dispatch(0, 0)
	<-started
	for i := 1; i <= 4; i++ {
		r.Dispatch(0, i)
	}

	stats, ok := r.Stats(0)
	require.True(t, ok)
	assert.Equal(t, uint64(2), stats.Dropped)
	assert.Equal(t, 2, stats.Queued)

	close(release)
	assert.Equal(t, []int{0, 3, 4}, collect(t, got, 3))
}

func TestBroadcastReachesEveryConsumer(t *testing.T) {
	r := NewRegistry[string]()
	defer r.Close()

	a, aCh := chanSink[string](1)
	b, bCh := chanSink[string](1)
	r.Register(0, a)
	r.Register(1, b)

	assert.Equal(t, 2, r.Broadcast("frame"))
	assert.Equal(t, []string{"frame"}, collect(t, aCh, 1))
	assert.Equal(t, []string{"frame"}, collect(t, bCh, 1))
}

func TestConsumerPanicIsContained(t *testing.T) {
	r := NewRegistry[int]()
	defer r.Close()

	ch := make(chan int, 2)
	r.Register(0, Func[int](func(v int) {
		if v == 0 {
			panic("boom")
		}
		ch <- v
	}))

	r.Dispatch(0, 0)
	r.Dispatch(0, 1)
	assert.Equal(t, []int{1}, collect(t, ch, 1))
}

func TestUnregisterAndClose(t *testing.T) {
	r := NewRegistry[int]()

	s, _ := chanSink[int](1)
	r.Register(3, s)
	r.Unregister(3)
	assert.False(t, r.Dispatch(3, 1))

	r.Register(4, s)
	r.Close()
	assert.False(t, r.Dispatch(4, 1))

	r.Register(5, s)
	assert.Equal(t, 0, r.Len())
	r.Close()
}

func TestConcurrentRegisterAndDispatch(t *testing.T) {
	r := NewRegistry[int](WithCapacity(8))
	defer r.Close()

	var received atomic.Int64
	s := Func[int](func(int) { received.Add(1) })

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Register(uint32(i%3), s)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Dispatch(uint32(i%3), i)
				r.Broadcast(i)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 3)
}
