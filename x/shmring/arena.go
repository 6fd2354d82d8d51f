package shmring

import (
	"strconv"
	"sync"

	"softuart-go/errcode"
)

// Handle is an opaque identifier for a ring allocated from an Arena.
// The zero handle is invalid.
type Handle uint32

// Arena hands out rings against a fixed slot budget and accounts for them
// by Handle. A zero budget is unbounded.
type Arena struct {
	mu     sync.RWMutex
	budget int
	inUse  int
	next   Handle
	slots  map[Handle]int
}

// Default is the process-wide unbounded arena.
var Default = NewArena(0)

func NewArena(slots int) *Arena {
	return &Arena{budget: slots, next: 1, slots: map[Handle]int{}}
}

// Free returns the remaining slot budget, or -1 when unbounded.
func (a *Arena) Free() int {
	if a.budget == 0 {
		return -1
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.budget - a.inUse
}

// Alloc creates a ring with size slots and registers it.
func Alloc[T any](a *Arena, size int) (Handle, *Ring[T], error) {
	if size < 2 {
		return 0, nil, &errcode.E{C: errcode.InvalidParams, Op: "alloc", Msg: "size " + strconv.Itoa(size) + " < 2"}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.budget > 0 && a.inUse+size > a.budget {
		return 0, nil, &errcode.E{C: errcode.AllocFailed, Op: "alloc",
			Msg: strconv.Itoa(size) + " slots requested, " + strconv.Itoa(a.budget-a.inUse) + " free"}
	}
	r := New[T](size)
	h := a.next
	a.next++
	a.slots[h] = size
	a.inUse += size
	return h, r, nil
}

// Release drops h and returns its slots to the budget. Existing pointers to
// the ring stay valid.
func (a *Arena) Release(h Handle) {
	a.mu.Lock()
	if n, ok := a.slots[h]; ok {
		a.inUse -= n
		delete(a.slots, h)
	}
	a.mu.Unlock()
}
