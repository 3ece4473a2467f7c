// Copyright 2024 The Brisk Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the reference-counted, TTL-evicted content
// cache: a concurrent map from path to artifact where lookups under
// contention never block, falling back to a "floating" artifact owned
// solely by the caller when the write lock is unavailable.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jacobsa/timeutil"

	"github.com/nmarsh/brisk/task"
)

// Reason names why Get did not return a shared cache entry.
type Reason int

const (
	// ReasonNone means Get succeeded; see the returned entry instead.
	ReasonNone Reason = iota
	// ReasonWouldBlock means the exclusive lock needed to create a missing
	// entry was unavailable without blocking.
	ReasonWouldBlock
	// ReasonCreateFailed means the create collaborator returned an error.
	ReasonCreateFailed
)

// Entry is any cached value the cache can refcount and expire. Concrete
// artifacts (artifact.Small/Large/Dir) satisfy this trivially alongside
// their own Artifact interface.
type Entry interface{}

// CreateFunc constructs the value for key, or returns an error if the
// underlying resource does not exist or cannot be built.
type CreateFunc[V Entry] func(key string) (V, error)

// DestroyFunc releases a value's resources. Called exactly once per
// created value, after its refcount has reached zero.
type DestroyFunc[V Entry] func(V)

type record[V Entry] struct {
	value      V
	refcount   int
	ttlDeadline int64
	floating   bool
}

// Cache is a concurrent, refcounted, TTL-evicted map from string key to V.
//
// INVARIANT: refcount never drops below 0.
// INVARIANT: an entry referenced by at least one caller (refcount > 0) is
// never destroyed.
// INVARIANT: floating entries are never inserted into entries and so are
// never visible to other lookups.
type Cache[V Entry] struct {
	create  CreateFunc[V]
	destroy DestroyFunc[V]
	ttl     int64 // seconds
	clk     timeutil.Clock

	mu      sync.RWMutex
	entries map[string]*record[V]

	// orphaned holds records DestroyAll removed from entries while still
	// referenced: DestroyAll cannot destroy them (a caller still holds a
	// ref), but once gone from entries a later Unref would no longer find
	// them by key. Keeping them here until their refcount drains is what
	// makes "destroyed by their eventual Unref" (see DestroyAll) true
	// instead of a silent leak.
	orphaned map[string]*record[V]

	// recency optionally bounds the number of non-floating entries kept
	// alive past their natural refcount=0 moment, a SUPPLEMENTED
	// bounded-size eviction mode layered on top of (never instead of) the
	// required TTL/refcount machinery. Nil when MaxEntries is unset.
	recency *lru.Cache[string, struct{}]
}

// New constructs a Cache. maxEntries <= 0 disables the bounded-size
// eviction mode (TTL/refcount eviction still applies).
func New[V Entry](create CreateFunc[V], destroy DestroyFunc[V], ttlSeconds int64, clk timeutil.Clock, maxEntries int) *Cache[V] {
	c := &Cache[V]{
		create:   create,
		destroy:  destroy,
		ttl:      ttlSeconds,
		clk:      clk,
		entries:  make(map[string]*record[V]),
		orphaned: make(map[string]*record[V]),
	}
	if maxEntries > 0 {
		l, err := lru.NewWithEvict[string, struct{}](maxEntries, func(key string, _ struct{}) {
			c.evictIfUnreferenced(key)
		})
		if err == nil {
			c.recency = l
		}
	}
	return c
}

func (c *Cache[V]) now() int64 { return c.clk.Now().Unix() }

// checkInvariants mirrors the teacher's cachingfs.checkInvariants
// discipline: called while still holding the lock that protects the state
// being checked (after GetAndRef inserts a new entry), rather than wrapped in a second
// lock type — jacobsa/syncutil.InvariantMutex's Lock/Unlock pair has no
// non-blocking TryLock, which the contention contract below requires, so
// the invariant check is inlined at that call site instead of layering a
// second incompatible lock.
func (c *Cache[V]) checkInvariants() {
	for _, r := range c.entries {
		if r.refcount < 0 {
			panic("cache: negative refcount")
		}
		if r.floating {
			panic("cache: floating entry visible in map")
		}
	}
}

// GetAndRef looks up key. If present and not expired, its refcount is
// incremented and it is returned. If absent (or expired), the exclusive
// lock is acquired without blocking to create it; if that would block,
// ReasonWouldBlock is returned instead of waiting.
func (c *Cache[V]) GetAndRef(key string) (V, Reason) {
	c.mu.RLock()
	if r, ok := c.entries[key]; ok && !c.expired(r) {
		r.refcount++
		c.mu.RUnlock()
		c.touchRecency(key)
		return r.value, ReasonNone
	}
	c.mu.RUnlock()

	if !c.mu.TryLock() {
		var zero V
		return zero, ReasonWouldBlock
	}

	// Re-check: another writer may have inserted while we were waiting to
	// acquire the exclusive lock.
	if r, ok := c.entries[key]; ok && !c.expired(r) {
		r.refcount++
		c.mu.Unlock()
		c.touchRecency(key)
		return r.value, ReasonNone
	}

	// stale is the expired record (if any) this call is about to replace.
	// It may still be referenced by an earlier caller (eviction is lazy:
	// an expired entry with refcount > 0 lives on until its last Unref),
	// so it must not simply be clobbered — that would leave its holder's
	// eventual Unref(key, ...) decrementing the *new* record instead,
	// corrupting both entries' refcounts.
	stale, hadStale := c.entries[key]

	value, err := c.create(key)
	if err != nil {
		c.mu.Unlock()
		var zero V
		return zero, ReasonCreateFailed
	}

	if hadStale && stale.refcount > 0 {
		c.orphaned[key] = stale
	}
	c.entries[key] = &record[V]{value: value, refcount: 1, ttlDeadline: c.now() + c.ttl}
	c.checkInvariants()
	c.mu.Unlock()

	// A stale record with no remaining references is destroyed here,
	// outside the lock, the same as every other destroy call site.
	if hadStale && stale.refcount == 0 {
		c.destroy(stale.value)
	}

	// touchRecency is deliberately called after releasing c.mu: the LRU's
	// eviction callback (evictIfUnreferenced) takes c.mu itself, and this
	// goroutine's write lock above is not reentrant.
	c.touchRecency(key)
	return value, ReasonNone
}

// TaskScopedGetAndRef behaves like GetAndRef, but on success registers an
// Unref cleanup with t so the entry is released automatically when the
// task is freed. On WouldBlock, it calls create directly, marks the
// result floating (never inserted into the map, owned solely by the
// caller), registers its drop with t, and returns it — bounding
// request-serving latency even while a background writer holds the
// exclusive lock.
func (c *Cache[V]) TaskScopedGetAndRef(t *task.Task, key string) (V, Reason) {
	value, reason := c.GetAndRef(key)
	if reason == ReasonNone {
		t.Defer(func() { c.Unref(key, value) })
		return value, reason
	}
	if reason != ReasonWouldBlock {
		return value, reason
	}

	floatingValue, err := c.create(key)
	if err != nil {
		var zero V
		return zero, ReasonCreateFailed
	}
	t.Defer(func() { c.destroy(floatingValue) })
	return floatingValue, ReasonNone
}

// Unref decrements key's refcount. If it reaches zero and the entry is
// expired, it is destroyed and removed. value must be the value
// previously returned for key: when an older generation of key sits in
// orphaned (replaced after expiry, or cleared by DestroyAll, while still
// referenced) and holds this value, that record is the one released.
func (c *Cache[V]) Unref(key string, value V) {
	c.mu.Lock()
	r, fromOrphaned := c.orphaned[key]
	if fromOrphaned && any(r.value) != any(value) {
		r, fromOrphaned = nil, false
	}
	ok := fromOrphaned
	if !ok {
		r, ok = c.entries[key]
	}
	if !ok {
		// Either a floating entry (never inserted) or already fully
		// destroyed; a floating entry's drop cleanup calls destroy
		// directly instead of going through Unref, so reaching here for a
		// genuinely floating value would be a caller bug.
		c.mu.Unlock()
		return
	}

	r.refcount--
	if r.refcount < 0 {
		c.mu.Unlock()
		panic("cache: refcount underflow")
	}

	if fromOrphaned {
		if r.refcount == 0 {
			delete(c.orphaned, key)
			c.mu.Unlock()
			c.destroy(r.value)
			return
		}
		c.mu.Unlock()
		return
	}

	if r.refcount == 0 && c.expired(r) {
		delete(c.entries, key)
		c.mu.Unlock()
		c.destroy(r.value)
		return
	}
	c.mu.Unlock()
}

// DestroyAll snapshots the map, clears it, and destroys every entry with
// refcount 0 immediately. Entries still referenced by an in-flight
// request are moved to orphaned and destroyed as soon as their last
// Unref arrives.
func (c *Cache[V]) DestroyAll() {
	c.mu.Lock()
	var unreferenced []V
	for key, r := range c.entries {
		if r.refcount == 0 {
			unreferenced = append(unreferenced, r.value)
			continue
		}
		// Still referenced: move to orphaned so the holder's eventual
		// Unref can find it by key and destroy it once the refcount
		// drains, rather than the entry becoming unreachable.
		c.orphaned[key] = r
	}
	c.entries = make(map[string]*record[V])
	c.mu.Unlock()

	for _, v := range unreferenced {
		c.destroy(v)
	}
}

func (c *Cache[V]) expired(r *record[V]) bool {
	return c.now() >= r.ttlDeadline
}

func (c *Cache[V]) touchRecency(key string) {
	if c.recency == nil {
		return
	}
	c.recency.Add(key, struct{}{})
}

// evictIfUnreferenced is the bounded-size eviction callback: when the LRU
// tracker drops key for being least-recently-used, the underlying entry is
// destroyed immediately if unreferenced. A referenced entry stays in the
// map and leaves by the normal TTL path (destroyed by its last Unref once
// expired) — eviction never destroys a referenced entry out from under a
// caller.
func (c *Cache[V]) evictIfUnreferenced(key string) {
	c.mu.Lock()
	r, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if r.refcount > 0 {
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	c.mu.Unlock()
	c.destroy(r.value)
}

// Len reports the number of non-floating entries currently tracked.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
