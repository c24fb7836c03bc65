package authsession

import "sync"

type listenerEntry[T any] struct {
	id uint64
	fn func(T)
}

// broadcaster fans values out to subscribers in publish order. Delivery runs
// on a publishing goroutine, one value at a time, with no lock held, so
// handlers may subscribe, unsubscribe or publish again. A value published
// from inside a handler is delivered after the current one.
type broadcaster[T any] struct {
	mu        sync.Mutex
	listeners []listenerEntry[T]
	nextID    uint64
	pending   []T
	flushing  bool
}

func (b *broadcaster[T]) subscribe(fn func(T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listenerEntry[T]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, l := range b.listeners {
				if l.id == id {
					b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// enqueue queues v. Callers enqueue while holding their own state lock, so
// the queue follows commit order, and call flush once that lock is released.
func (b *broadcaster[T]) enqueue(v T) {
	b.mu.Lock()
	b.pending = append(b.pending, v)
	b.mu.Unlock()
}

// flush delivers queued values unless another goroutine already is; that
// goroutine picks up whatever was queued meanwhile.
func (b *broadcaster[T]) flush() {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return
	}
	b.flushing = true
	defer func() {
		b.flushing = false
		b.mu.Unlock()
	}()
	for len(b.pending) > 0 {
		v := b.pending[0]
		b.pending = b.pending[1:]
		listeners := append([]listenerEntry[T](nil), b.listeners...)
		b.mu.Unlock()
		for _, l := range listeners {
			l.fn(v)
		}
		b.mu.Lock()
	}
}
