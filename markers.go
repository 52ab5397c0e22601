package undotree

import (
	"sync"
	"weak"
)

// Liveness tells the tree whether an external marker referenced by an
// EditMarker record still exists. Records for dead markers are removed
// before a changeset is replayed.
type Liveness interface {
	Live(id MarkerID) bool
}

// Pool maps stable marker IDs to host objects without keeping them alive.
// Once the host drops its last reference to an object, its ID stops being
// live. The zero value is ready to use.
type Pool[T any] struct {
	mu     sync.Mutex
	next   MarkerID
	refs   map[MarkerID]weak.Pointer[T]
	byAddr map[weak.Pointer[T]]MarkerID
}

var _ Liveness = (*Pool[int])(nil)

// Register returns the ID for obj, allocating one on first use.
func (p *Pool[T]) Register(obj *T) MarkerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs == nil {
		p.refs = make(map[MarkerID]weak.Pointer[T])
		p.byAddr = make(map[weak.Pointer[T]]MarkerID)
	}
	wp := weak.Make(obj)
	if id, ok := p.byAddr[wp]; ok {
		return id
	}
	p.next++
	id := p.next
	p.refs[id] = wp
	p.byAddr[wp] = id
	return id
}

// Resolve returns the object bound to id, or false if it has been collected
// or was never registered.
func (p *Pool[T]) Resolve(id MarkerID) (*T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wp, ok := p.refs[id]
	if !ok {
		return nil, false
	}
	obj := wp.Value()
	return obj, obj != nil
}

func (p *Pool[T]) Live(id MarkerID) bool {
	_, ok := p.Resolve(id)
	return ok
}

// Forget drops id from the pool regardless of liveness.
func (p *Pool[T]) Forget(id MarkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if wp, ok := p.refs[id]; ok {
		delete(p.refs, id)
		delete(p.byAddr, wp)
	}
}

// Sweep removes every dead entry and returns how many were removed.
func (p *Pool[T]) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for id, wp := range p.refs {
		if wp.Value() == nil {
			delete(p.refs, id)
			delete(p.byAddr, wp)
			n++
		}
	}
	return n
}

func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refs)
}
