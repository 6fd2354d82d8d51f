package shmring

import (
	"context"
	"sync/atomic"
)

// Ring is a single-producer, single-consumer ring of T over fixed storage.
//
// Capacity is C slots of which C-1 are usable: push == pop means empty and
// (push+1) mod C == pop means full. The push index is written only through
// the Producer view and the pop index only through the Consumer view.
type Ring[T any] struct {
	buf  []T
	size uint32
	push atomic.Uint32 // next slot to write, in [0, size)
	pop  atomic.Uint32 // next slot to read, in [0, size)

	readable chan struct{} // empty -> non-empty edge
	writable chan struct{} // full -> non-full edge
}

// New returns an unregistered ring with size slots (size-1 usable).
func New[T any](size int) *Ring[T] {
	if size < 2 {
		panic("shmring: size must be >= 2")
	}
	return &Ring[T]{
		buf:      make([]T, size),
		size:     uint32(size),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

// Cap returns the slot count C. At most C-1 entries are held at once.
func (r *Ring[T]) Cap() int { return int(r.size) }

// Used returns the current occupancy.
func (r *Ring[T]) Used() int { return int(r.used(r.push.Load(), r.pop.Load())) }

// Indices returns the raw push and pop indices. A push index taken here is
// a valid mark for Consumer.DiscardTo.
func (r *Ring[T]) Indices() (push, pop uint32) { return r.push.Load(), r.pop.Load() }

func (r *Ring[T]) Readable() <-chan struct{} { return r.readable }
func (r *Ring[T]) Writable() <-chan struct{} { return r.writable }

func (r *Ring[T]) Producer() Producer[T] { return Producer[T]{r} }
func (r *Ring[T]) Consumer() Consumer[T] { return Consumer[T]{r} }

func (r *Ring[T]) used(push, pop uint32) uint32 {
	return (push + r.size - pop) % r.size
}

func (r *Ring[T]) next(i uint32) uint32 {
	i++
	if i == r.size {
		return 0
	}
	return i
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ---- Producer ----

// Producer is the write side of a Ring. Hold exactly one per ring.
type Producer[T any] struct{ r *Ring[T] }

// Valid reports whether the view is bound to a ring.
func (p Producer[T]) Valid() bool { return p.r != nil }

// Push stores v and publishes it. ok is false, and nothing is written, when
// the ring is full. used is the occupancy after the push, computed from the
// single pop index sample that decided fullness.
func (p Producer[T]) Push(v T) (used int, ok bool) {
	r := p.r
	push := r.push.Load()
	pop := r.pop.Load() // acquire
	next := r.next(push)
	if next == pop {
		return int(r.used(push, pop)), false
	}
	r.buf[push] = v
	r.push.Store(next) // release
	if push == pop {
		signal(r.readable)
	}
	return int(r.used(next, pop)), true
}

// Space returns how many more entries fit.
func (p Producer[T]) Space() int {
	r := p.r
	return int(r.size - 1 - r.used(r.push.Load(), r.pop.Load()))
}

// WaitSpace blocks until at least one entry fits or ctx ends. Space is
// re-read before every wait: a pop that overlapped the last WriteFrom frees
// a slot without raising Writable.
func (p Producer[T]) WaitSpace(ctx context.Context) error {
	for p.Space() == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.r.writable:
		}
	}
	return nil
}

func (p Producer[T]) Used() int { return p.r.Used() }
func (p Producer[T]) Cap() int  { return p.r.Cap() }

// WriteFrom pushes as many entries of src as fit and returns the count.
func (p Producer[T]) WriteFrom(src []T) int {
	r := p.r
	push := r.push.Load()
	pop := r.pop.Load()
	was := push == pop
	n := 0
	for n < len(src) {
		next := r.next(push)
		if next == pop {
			break
		}
		r.buf[push] = src[n]
		push = next
		n++
	}
	if n == 0 {
		return 0
	}
	r.push.Store(push)
	if was {
		signal(r.readable)
	}
	return n
}

// ---- Consumer ----

// Consumer is the read side of a Ring. Hold exactly one per ring.
type Consumer[T any] struct{ r *Ring[T] }

func (c Consumer[T]) Valid() bool { return c.r != nil }

func (c Consumer[T]) Empty() bool {
	return c.r.push.Load() == c.r.pop.Load()
}

func (c Consumer[T]) Used() int { return c.r.Used() }
func (c Consumer[T]) Cap() int  { return c.r.Cap() }

// Pop removes the head entry. used is the occupancy after the pop, computed
// from the single push index sample that decided emptiness.
func (c Consumer[T]) Pop() (v T, used int, ok bool) {
	r := c.r
	pop := r.pop.Load()
	push := r.push.Load() // acquire
	if push == pop {
		return v, 0, false
	}
	v = r.buf[pop]
	next := r.next(pop)
	r.pop.Store(next) // release
	if r.next(push) == pop {
		signal(r.writable)
	}
	return v, int(r.used(push, next)), true
}

// ReadInto pops up to len(dst) entries and returns the count.
func (c Consumer[T]) ReadInto(dst []T) int {
	r := c.r
	pop := r.pop.Load()
	push := r.push.Load()
	wasFull := r.next(push) == pop
	n := 0
	for n < len(dst) && pop != push {
		dst[n] = r.buf[pop]
		pop = r.next(pop)
		n++
	}
	if n == 0 {
		return 0
	}
	r.pop.Store(pop)
	if wasFull {
		signal(r.writable)
	}
	return n
}

// Discard drops everything queued. Only the pop index moves, so a producer
// may keep pushing; entries published after the push sample survive.
func (c Consumer[T]) Discard() int {
	return c.DiscardTo(c.r.push.Load())
}

// DiscardTo drops entries up to mark, a push index sampled earlier, and
// returns how many went. It is a no-op once the consumer has read past mark.
func (c Consumer[T]) DiscardTo(mark uint32) int {
	r := c.r
	if mark >= r.size {
		return 0
	}
	pop := r.pop.Load()
	push := r.push.Load()
	n := r.used(mark, pop)
	if n == 0 || n > r.used(push, pop) {
		return 0
	}
	r.pop.Store(mark)
	if r.next(push) == pop {
		signal(r.writable)
	}
	return int(n)
}
