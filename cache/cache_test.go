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

package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nmarsh/brisk/cache"
	"github.com/nmarsh/brisk/task"

	"github.com/stretchr/testify/require"
)

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time { return c.now }

func newIntCache(t *testing.T, created *int32, destroyed *int32, ttl int64, clk *stubClock) *cache.Cache[int] {
	create := func(key string) (int, error) {
		atomic.AddInt32(created, 1)
		return len(key), nil
	}
	destroy := func(v int) {
		atomic.AddInt32(destroyed, 1)
	}
	return cache.New[int](create, destroy, ttl, clk, 0)
}

func TestGetAndRefCreatesOnMiss(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 60, clk)

	v, reason := c.GetAndRef("abc")
	require.Equal(t, cache.ReasonNone, reason)
	require.Equal(t, 3, v)
	require.Equal(t, int32(1), created)
}

func TestGetAndRefSharesLiveEntry(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 60, clk)

	_, _ = c.GetAndRef("abc")
	_, _ = c.GetAndRef("abc")

	require.Equal(t, int32(1), created)
}

func TestUnrefDestroysExpiredZeroRefcountEntry(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 1, clk)

	v, _ := c.GetAndRef("abc")
	clk.now = time.Unix(10, 0) // well past ttl
	c.Unref("abc", v)

	require.Equal(t, int32(1), destroyed)
}

func TestUnrefKeepsLiveUnexpiredEntry(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 60, clk)

	v, _ := c.GetAndRef("abc")
	c.Unref("abc", v)

	require.Equal(t, int32(0), destroyed)
	require.Equal(t, 1, c.Len())
}

func TestExpiredEntryStillServedUntilLastUnref(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 1, clk)

	v1, _ := c.GetAndRef("abc")
	clk.now = time.Unix(10, 0)

	// A fresh lookup after expiry re-creates rather than returning the
	// stale entry sitting at refcount=1. The old record is still
	// referenced by v1's caller, so it must be orphaned rather than
	// clobbered in place: v1's eventual Unref must account against the
	// old record, never the new one, or refcount bookkeeping corrupts
	// across the two generations.
	v2, _ := c.GetAndRef("abc")
	require.Equal(t, int32(2), created)

	c.Unref("abc", v1)
	require.Equal(t, int32(1), destroyed, "old generation destroyed once its last ref drops")

	c.Unref("abc", v2)
	require.Equal(t, int32(1), destroyed, "new generation still live (unexpired), must not be destroyed")
	require.Equal(t, 1, c.Len())
}

func TestTaskScopedGetAndRefUnrefsOnFree(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 1, clk)

	tk := task.Create("owner", func(tk *task.Task, data interface{}) {
		_, reason := c.TaskScopedGetAndRef(tk, "abc")
		if reason != cache.ReasonNone {
			panic("unexpected reason")
		}
		tk.Yield(task.ReasonYield)
	}, nil)

	require.True(t, tk.Resume("owner"))
	require.Equal(t, int32(1), created)

	clk.now = time.Unix(10, 0)
	tk.Free("owner")

	require.Equal(t, int32(1), destroyed)
}

func TestDestroyAllDestroysUnreferencedEntries(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 60, clk)

	_, _ = c.GetAndRef("a")
	_, _ = c.GetAndRef("bb")
	c.Unref("a", 1)
	c.Unref("bb", 2)

	c.DestroyAll()
	require.Equal(t, int32(2), destroyed)
	require.Equal(t, 0, c.Len())
}

func TestDestroyAllDestroysReferencedEntryOnLastUnref(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 60, clk)

	v, _ := c.GetAndRef("abc")

	c.DestroyAll()
	require.Equal(t, int32(0), destroyed, "still referenced, must not be destroyed yet")

	c.Unref("abc", v)
	require.Equal(t, int32(1), destroyed, "last unref after DestroyAll must still destroy")
}

func TestCreateFailurePropagatesReason(t *testing.T) {
	create := func(key string) (int, error) { return 0, errors.New("boom") }
	destroy := func(v int) {}
	clk := &stubClock{now: time.Unix(0, 0)}
	c := cache.New[int](create, destroy, 60, clk, 0)

	_, reason := c.GetAndRef("x")
	require.Equal(t, cache.ReasonCreateFailed, reason)
}

func TestBoundedEvictionDestroysLeastRecentlyUsedUnreferencedEntry(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	create := func(key string) (int, error) {
		atomic.AddInt32(&created, 1)
		return len(key), nil
	}
	destroy := func(v int) { atomic.AddInt32(&destroyed, 1) }
	c := cache.New[int](create, destroy, 60, clk, 2)

	va, _ := c.GetAndRef("a")
	c.Unref("a", va)
	vb, _ := c.GetAndRef("bb")
	c.Unref("bb", vb)

	// Pushes the cache past its 2-entry bound; "a" is least recently used
	// and unreferenced, so the LRU's eviction callback destroys it
	// immediately rather than waiting for TTL.
	vc, _ := c.GetAndRef("ccc")
	c.Unref("ccc", vc)

	require.Equal(t, int32(1), destroyed)
	require.Equal(t, 2, c.Len())
}

func TestConcurrentGetAndRefCreatesOnlyOnce(t *testing.T) {
	var created, destroyed int32
	clk := &stubClock{now: time.Unix(0, 0)}
	c := newIntCache(t, &created, &destroyed, 60, clk)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetAndRef("shared")
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), created)
}
