// ABOUTME: Tests for the dedupe window
// ABOUTME: Validates expiry, eviction at capacity, forgetting and concurrency safety

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time by hand.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestWindow(ttl time.Duration, maxKeys int) (*Window, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := NewWindow(ttl, maxKeys)
	w.now = clock.now
	return w, clock
}

func TestWindow_AdmitOncePerWindow(t *testing.T) {
	w, clock := newTestWindow(3*time.Second, 0)

	assert.True(t, w.Admit("res-1"))
	assert.False(t, w.Admit("res-1"))
	assert.True(t, w.Admit("res-2"), "keys are independent")

	clock.advance(2 * time.Second)
	assert.False(t, w.Admit("res-1"))

	clock.advance(time.Second)
	assert.True(t, w.Admit("res-1"), "admitted again once the window passed")
}

func TestWindow_RepeatsDoNotExtendWindow(t *testing.T) {
	w, clock := newTestWindow(time.Second, 0)

	assert.True(t, w.Admit("res-1"))
	for i := 0; i < 3; i++ {
		clock.advance(300 * time.Millisecond)
		assert.False(t, w.Admit("res-1"))
	}
	clock.advance(200 * time.Millisecond)
	assert.True(t, w.Admit("res-1"))
}

func TestWindow_ZeroTTLAdmitsEverything(t *testing.T) {
	w := NewWindow(0, 0)
	assert.True(t, w.Admit("res-1"))
	assert.True(t, w.Admit("res-1"))
	assert.Equal(t, 0, w.Len())
}

func TestWindow_EvictsOldestAtCapacity(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 2)

	assert.True(t, w.Admit("a"))
	clock.advance(time.Millisecond)
	assert.True(t, w.Admit("b"))
	clock.advance(time.Millisecond)
	assert.True(t, w.Admit("c"))

	assert.Equal(t, 2, w.Len())
	assert.True(t, w.Admit("a"), "oldest key was evicted")
	assert.False(t, w.Admit("c"))
}

func TestWindow_Forget(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 0)

	assert.True(t, w.Admit("res-1"))
	w.Forget("res-1")
	w.Forget("never-seen")
	assert.True(t, w.Admit("res-1"))
}

func TestWindow_LenDropsExpired(t *testing.T) {
	w, clock := newTestWindow(time.Second, 0)

	w.Admit("a")
	w.Admit("b")
	assert.Equal(t, 2, w.Len())

	clock.advance(time.Second)
	assert.Equal(t, 0, w.Len())
}

func TestWindow_ConcurrentAdmitIsAtomic(t *testing.T) {
	w := NewWindow(time.Minute, 0)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Admit("res-1") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}
