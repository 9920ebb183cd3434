// ABOUTME: Thread-safe TTL window for suppressing repeated keys
// ABOUTME: Expired entries are dropped lazily and the oldest is evicted at capacity

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxKeys bounds a Window created with maxKeys <= 0.
const DefaultMaxKeys = 1024

type entry struct {
	key    string
	seenAt time.Time
}

// Window remembers keys for ttl after they were last admitted.
type Window struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxKeys int
	seen    map[string]*list.Element
	order   *list.List // oldest admission at the front
	now     func() time.Time
}

// NewWindow creates a window. A ttl <= 0 admits every key.
func NewWindow(ttl time.Duration, maxKeys int) *Window {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	return &Window{
		ttl:     ttl,
		maxKeys: maxKeys,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Admit reports whether key is new within the window and, if so, records
// it. Check and record happen atomically.
func (w *Window) Admit(key string) bool {
	if w.ttl <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expireLocked(now)

	if _, ok := w.seen[key]; ok {
		return false
	}

	if w.order.Len() >= w.maxKeys {
		w.removeLocked(w.order.Front())
	}
	w.seen[key] = w.order.PushBack(&entry{key: key, seenAt: now})
	return true
}

// Forget drops key so the next Admit succeeds.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if el, ok := w.seen[key]; ok {
		w.removeLocked(el)
	}
}

// Len returns the number of keys currently held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(w.now())
	return w.order.Len()
}

// expireLocked drops entries older than ttl. Admissions are appended in
// time order, so it stops at the first live entry.
func (w *Window) expireLocked(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(*entry).seenAt) < w.ttl {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) removeLocked(el *list.Element) {
	e := w.order.Remove(el).(*entry)
	delete(w.seen, e.key)
}
