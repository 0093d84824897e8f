// ABOUTME: TTL cache guarding against client request retries
// ABOUTME: A replayed request id is rejected before it can consume quota

// Package dedupe rejects replayed request ids so a client retry never
// consumes a second quota slot.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Guard is a thread-safe, size-bounded TTL set of request ids. Insertion
// order is kept in a linked list so eviction at capacity is O(1).
type Guard struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest id at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a Guard. A background goroutine sweeps expired ids each
// minute; Close stops it.
func New(ttl time.Duration, maxSize int) *Guard {
	g := &Guard{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go g.sweep()
	return g
}

// Seen atomically reports whether id was admitted within the TTL and, when
// it was not, admits it. The check and the mark are one operation so two
// concurrent retries cannot both pass.
func (g *Guard) Seen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.seen[id]; ok && time.Since(e.seenAt) < g.ttl {
		return true
	}

	now := time.Now()
	if e, ok := g.seen[id]; ok {
		// Expired but not yet swept; refresh in place.
		e.seenAt = now
		g.order.MoveToBack(e.element)
		return false
	}

	if len(g.seen) >= g.maxSize {
		g.evictOldest()
	}
	g.seen[id] = &entry{seenAt: now, element: g.order.PushBack(id)}
	return false
}

// evictOldest must be called with mu held.
func (g *Guard) evictOldest() {
	front := g.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	g.order.Remove(front)
	delete(g.seen, id)
}

func (g *Guard) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.removeExpired()
		case <-g.done:
			return
		}
	}
}

func (g *Guard) removeExpired() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for id, e := range g.seen {
		if now.Sub(e.seenAt) > g.ttl {
			g.order.Remove(e.element)
			delete(g.seen, id)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
