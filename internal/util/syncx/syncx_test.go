// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package syncx

import (
	"sync/atomic"
	"testing"
)

func TestProtected(t *testing.T) {
	t.Parallel()

	p := Protect(map[string]int{})
	p.WriteAccess(func(m map[string]int) { m["a"] = 1 })

	var got int
	p.ReadAccess(func(m map[string]int) { got = m["a"] })
	if got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
}

func TestLazy(t *testing.T) {
	t.Parallel()

	var calls int
	var l Lazy[int]
	for range 3 {
		if got := l.Get(func() int { calls++; return 42 }); got != 42 {
			t.Fatalf("got %d, want 42", got)
		}
	}
	if calls != 1 {
		t.Fatalf("f called %d times, want 1", calls)
	}
}

func TestLimitedWaitGroup(t *testing.T) {
	t.Parallel()

	const limit = 3

	var active, peak atomic.Int64
	lwg := NewLimitedWaitGroup(limit)
	for range 20 {
		lwg.Go(func() {
			n := active.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			active.Add(-1)
		})
	}
	lwg.Wait()

	if p := peak.Load(); p > limit {
		t.Fatalf("peak concurrency %d exceeds limit %d", p, limit)
	}
}
