// Package watch provides current-value streams. A subscriber receives the
// last published value immediately and then every later value, with
// intermediate values dropped when it falls behind.
package watch

import "sync"

// Value holds the current value of a stream and its subscribers.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	set    bool
	subs   map[int]chan T
	next   int
	closed bool
}

// New returns an empty Value.
func New[T any]() *Value[T] {
	return &Value[T]{subs: make(map[int]chan T)}
}

// Get returns the last published value and whether one exists.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur, v.set
}

// Publish replaces the current value and offers it to every subscriber.
func (v *Value[T]) Publish(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.cur, v.set = x, true
	for _, ch := range v.subs {
		offer(ch, x)
	}
}

// Subscribe returns a channel of values and a cancel func that closes it.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	ch := make(chan T, 1)
	if v.closed {
		close(ch)
		return ch, func() {}
	}
	if v.set {
		ch <- v.cur
	}
	n := v.next
	v.next++
	v.subs[n] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if c, ok := v.subs[n]; ok {
				delete(v.subs, n)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of open subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// Close closes every subscription. Later publishes are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for n, ch := range v.subs {
		delete(v.subs, n)
		close(ch)
	}
}

// offer replaces any undelivered value in ch with x.
func offer[T any](ch chan T, x T) {
	select {
	case <-ch:
	default:
	}
	ch <- x
}
